package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/paulofpaiva/realtime-trading-simulator/cmd/gateway/internal/protocol"
	"github.com/paulofpaiva/realtime-trading-simulator/pkg/models"
)

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	Messages []protocol.WSResponse // Stores SendJSON responses
	RawBytes []string              // Stores pushed frames
	Capacity int                   // zero means unbounded
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id, Messages: make([]protocol.WSResponse, 0)}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if resp, ok := v.(protocol.WSResponse); ok {
		m.Messages = append(m.Messages, resp)
	}
}

func (m *MockClient) SendBytes(b []byte) bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Capacity > 0 && len(m.RawBytes) >= m.Capacity {
		return false
	}
	m.RawBytes = append(m.RawBytes, string(b))
	return true
}

func (m *MockClient) LastMsgType() string {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if len(m.Messages) == 0 {
		return ""
	}
	return m.Messages[len(m.Messages)-1].Type
}

// Pushed decodes every frame received through SendBytes into its snapshot
func (m *MockClient) Pushed(t *testing.T) []models.Snapshot {
	t.Helper()
	m.Mu.Lock()
	defer m.Mu.Unlock()

	out := make([]models.Snapshot, 0, len(m.RawBytes))
	for _, raw := range m.RawBytes {
		var frame struct {
			Type  string          `json:"type"`
			Event string          `json:"event"`
			Data  models.Snapshot `json:"data"`
		}
		if err := json.Unmarshal([]byte(raw), &frame); err != nil {
			t.Fatalf("Pushed frame is not JSON: %v", err)
		}
		if frame.Type != protocol.TypeEvent || frame.Event != protocol.EventPriceUpdate {
			t.Fatalf("Unexpected frame %s", raw)
		}
		out = append(out, frame.Data)
	}
	return out
}

// BlockedClient never accepts a frame, like a subscriber whose send buffer is full
type BlockedClient struct {
	MockClient
}

func (b *BlockedClient) SendBytes([]byte) bool { return false }

// MockStore is an append-only LatestStore
type MockStore struct {
	Mu        sync.Mutex
	Snapshots []models.Snapshot
}

func (m *MockStore) Set(snap models.Snapshot) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Snapshots = append(m.Snapshots, snap)
}

func (m *MockStore) List() []models.Snapshot {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	out := make([]models.Snapshot, len(m.Snapshots))
	copy(out, m.Snapshots)
	return out
}

// MockMirror simulates the Redis snapshot mirror; Delay stalls every Save like an unreachable server
type MockMirror struct {
	Mu         sync.Mutex
	Saved      []models.Snapshot
	ShouldFail bool
	Delay      time.Duration
}

func (m *MockMirror) Save(ctx context.Context, snap models.Snapshot) error {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.ShouldFail {
		return errors.New("redis down")
	}
	m.Saved = append(m.Saved, snap)
	return nil
}

func (m *MockMirror) LoadAll(ctx context.Context) ([]models.Snapshot, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	out := make([]models.Snapshot, len(m.Saved))
	copy(out, m.Saved)
	return out, nil
}

func (m *MockMirror) Close() error { return nil }

func (m *MockMirror) Count() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Saved)
}

// MockRecorder collects snapshots handed to the history recorder
type MockRecorder struct {
	Mu       sync.Mutex
	Recorded []models.Snapshot
}

func (m *MockRecorder) Record(snap models.Snapshot) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Recorded = append(m.Recorded, snap)
}

// MockPublisher stands in for the hub
type MockPublisher struct {
	Mu        sync.Mutex
	Published []models.Snapshot
}

func (m *MockPublisher) Publish(snap models.Snapshot) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Published = append(m.Published, snap)
}

func (m *MockPublisher) Count() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Published)
}

// MockKafkaReader replays Messages, then blocks until ctx is cancelled
type MockKafkaReader struct {
	Messages []kafka.Message
	Errors   []error
	Index    int
	Mu       sync.Mutex
	Closed   bool
}

func (m *MockKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	m.Mu.Lock()
	if len(m.Errors) > 0 {
		err := m.Errors[0]
		m.Errors = m.Errors[1:]
		m.Mu.Unlock()
		return kafka.Message{}, err
	}
	if m.Index < len(m.Messages) {
		msg := m.Messages[m.Index]
		m.Index++
		m.Mu.Unlock()
		return msg, nil
	}
	m.Mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (m *MockKafkaReader) Close() error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
	return nil
}

func AssertTrue(t *testing.T, condition bool, msg string) {
	if !condition {
		t.Errorf("Assertion failed: %s", msg)
	}
}
