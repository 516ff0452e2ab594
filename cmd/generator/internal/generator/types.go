package generator

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

// Clock lets tests drive emission and topic polling without real sleeps
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// Rand is satisfied by *rand.Rand
type Rand interface {
	Float64() float64
}

type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TopicAdmin is the part of a broker connection TopicCreator uses; *kafka.Conn satisfies it
type TopicAdmin interface {
	Controller() (kafka.Broker, error)
	CreateTopics(topics ...kafka.TopicConfig) error
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	Close() error
}

// AdminDialer opens a TopicAdmin to one broker address
type AdminDialer func(ctx context.Context, addr string) (TopicAdmin, error)

var _ TopicAdmin = (*kafka.Conn)(nil)

// BrokerDialer dials plain TCP broker connections with the given timeout
func BrokerDialer(timeout time.Duration) AdminDialer {
	d := &kafka.Dialer{Timeout: timeout}
	return func(ctx context.Context, addr string) (TopicAdmin, error) {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// SystemClock is the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time        { return time.Now().UTC() }
func (SystemClock) Sleep(d time.Duration) { time.Sleep(d) }
