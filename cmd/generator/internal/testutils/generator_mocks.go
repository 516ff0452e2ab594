package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/paulofpaiva/realtime-trading-simulator/cmd/generator/internal/generator"
)

type MockKafkaWriter struct {
	Messages   []kafka.Message
	Mu         sync.Mutex
	ShouldFail bool
	Calls      int
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Calls++
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error { return nil }

// MockClock advances instantly on Sleep
type MockClock struct {
	Mu          sync.Mutex
	CurrentTime time.Time
}

func (m *MockClock) Now() time.Time {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.CurrentTime
}

func (m *MockClock) Sleep(d time.Duration) {
	m.Mu.Lock()
	m.CurrentTime = m.CurrentTime.Add(d)
	m.Mu.Unlock()
	// Yield so a cancelled context is observed promptly
	time.Sleep(time.Microsecond)
}

type MockRand struct {
	ValFloat float64
}

func (m *MockRand) Float64() float64 { return m.ValFloat }

// MockTopicAdmin records CreateTopics and reports every topic as ready
type MockTopicAdmin struct {
	CreatedTopics []string
	Closed        bool
}

func (m *MockTopicAdmin) Controller() (kafka.Broker, error) {
	return kafka.Broker{Host: "localhost", Port: 9092}, nil
}

func (m *MockTopicAdmin) CreateTopics(topics ...kafka.TopicConfig) error {
	for _, t := range topics {
		m.CreatedTopics = append(m.CreatedTopics, t.Topic)
	}
	return nil
}

func (m *MockTopicAdmin) ReadPartitions(topics ...string) ([]kafka.Partition, error) {
	return []kafka.Partition{{ID: 0}}, nil
}

func (m *MockTopicAdmin) Close() error {
	m.Closed = true
	return nil
}

// MockBrokers hands out one shared MockTopicAdmin and remembers every dialed address
type MockBrokers struct {
	Admin  *MockTopicAdmin
	Dialed []string
	Fail   bool
}

func (m *MockBrokers) Dial(ctx context.Context, addr string) (generator.TopicAdmin, error) {
	m.Dialed = append(m.Dialed, addr)
	if m.Fail {
		return nil, errors.New("dial refused")
	}
	if m.Admin == nil {
		m.Admin = &MockTopicAdmin{}
	}
	return m.Admin, nil
}
