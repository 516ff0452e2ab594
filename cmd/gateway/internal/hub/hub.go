package hub

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/paulofpaiva/realtime-trading-simulator/cmd/gateway/internal/protocol"
	"github.com/paulofpaiva/realtime-trading-simulator/pkg/models"
)

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	// SendBytes reports false when the frame could not be queued
	SendBytes(b []byte) bool
	Close()
}

// LatestStore is the latest-value cache. Only the dispatcher writes to it.
type LatestStore interface {
	Set(snap models.Snapshot)
	List() []models.Snapshot
}

type Hub struct {
	clients map[ClientInterface]bool
	store   LatestStore
	bus     chan models.Snapshot
	logger  *zap.Logger
	mu      sync.RWMutex
}

func NewHub(store LatestStore, logger *zap.Logger, busSize int) *Hub {
	if busSize <= 0 {
		busSize = 1024
	}
	return &Hub{
		clients: make(map[ClientInterface]bool),
		store:   store,
		bus:     make(chan models.Snapshot, busSize),
		logger:  logger,
	}
}

// Register sends the cached state to the new client and only then adds it to the registry.
// The dispatcher writes the cache and fans out under the same lock, so every snapshot
// reaches the client exactly once: either in the burst or live, never both.
func (h *Hub) Register(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	burst := h.store.List()
	dropped := 0
	for _, snap := range burst {
		b, err := json.Marshal(protocol.PriceUpdate(snap))
		if err != nil {
			h.logger.Error("Failed to encode snapshot", zap.String("instrument", snap.Instrument), zap.Error(err))
			continue
		}
		if !client.SendBytes(b) {
			dropped++
		}
	}
	h.clients[client] = true

	if dropped > 0 {
		h.logger.Warn("Initial burst truncated, send buffer too small",
			zap.String("client", client.ID()),
			zap.Int("burst", len(burst)),
			zap.Int("dropped", dropped))
	}
	h.logger.Debug("Client registered", zap.String("client", client.ID()), zap.Int("burst", len(burst)))
}

func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	client.Close()
}

// Publish never blocks the caller; a full bus drops the snapshot
func (h *Hub) Publish(snap models.Snapshot) {
	select {
	case h.bus <- snap:
	default:
		h.logger.Warn("Dropping snapshot, broadcast bus full", zap.String("instrument", snap.Instrument))
	}
}

// Run drains the bus in order until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-h.bus:
			h.dispatch(snap)
		}
	}
}

// dispatch commits snap to the cache and fans it out as one step
func (h *Hub) dispatch(snap models.Snapshot) {
	msg, err := json.Marshal(protocol.PriceUpdate(snap))
	if err != nil {
		h.logger.Error("Failed to encode snapshot", zap.String("instrument", snap.Instrument), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.store.Set(snap)
	for client := range h.clients {
		client.SendBytes(msg)
	}
}

// Instruments is the size of the initial burst a new client would receive
func (h *Hub) Instruments() int {
	return len(h.store.List())
}

func (h *Hub) GetLatestAll() []models.Snapshot {
	return h.store.List()
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) HandleCommand(client ClientInterface, req protocol.WSRequest) {
	switch req.Action {
	case protocol.ActionGetLatest:
		client.SendJSON(protocol.WSResponse{Type: protocol.TypeLatest, ID: req.ID, Data: h.GetLatestAll()})
	case protocol.ActionPing:
		h.sendAck(client, req.ID, "success", "pong")
	default:
		h.sendError(client, req.ID, "Unknown action: "+req.Action)
	}
}

func (h *Hub) sendAck(c ClientInterface, id, status, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeAck, ID: id, Status: status, Message: msg})
}

func (h *Hub) sendError(c ClientInterface, id, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeError, ID: id, Message: msg})
}
