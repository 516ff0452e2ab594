package testutils

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type MockKafkaReader struct {
	Messages []kafka.Message
	Index    int
	Mu       sync.Mutex
	// Errors are returned, one per call, before any message is served
	Errors []error
	Closed bool
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.Mu.Lock()

	if m.Closed {
		m.Mu.Unlock()
		return kafka.Message{}, io.EOF
	}

	if len(m.Errors) > 0 {
		err := m.Errors[0]
		m.Errors = m.Errors[1:]
		m.Mu.Unlock()
		return kafka.Message{}, err
	}

	if m.Index >= len(m.Messages) {
		m.Mu.Unlock()
		// Stream exhausted: behave like a real reader waiting for data
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}

	msg := m.Messages[m.Index]
	m.Index++
	m.Mu.Unlock()
	return msg, nil
}

func (m *MockKafkaReader) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

func (m *MockKafkaReader) IsClosed() bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.Closed
}

type MockKafkaWriter struct {
	Messages   []kafka.Message
	Mu         sync.Mutex
	ShouldFail bool
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("kafka error")
	}
	m.Messages = append(m.Messages, msgs...)
	return nil
}

func (m *MockKafkaWriter) Close() error { return nil }

// ByKey returns the written values for one key, in write order
func (m *MockKafkaWriter) ByKey(key string) [][]byte {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out [][]byte
	for _, msg := range m.Messages {
		if string(msg.Key) == key {
			out = append(out, msg.Value)
		}
	}
	return out
}

func (m *MockKafkaWriter) Count() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Messages)
}

type MockClock struct {
	Mu          sync.Mutex
	CurrentTime time.Time
}

func (m *MockClock) Now() time.Time {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return m.CurrentTime
}

func (m *MockClock) Advance(d time.Duration) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.CurrentTime = m.CurrentTime.Add(d)
}
