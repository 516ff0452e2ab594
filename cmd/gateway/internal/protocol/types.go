package protocol

import "github.com/paulofpaiva/realtime-trading-simulator/pkg/models"

const (
	ActionGetLatest = "get_latest"
	ActionPing      = "ping"
)

const (
	TypeAck    = "ack"
	TypeError  = "error"
	TypeLatest = "latest"
	TypeEvent  = "event"
)

// EventPriceUpdate is the only server-pushed event name
const EventPriceUpdate = "priceUpdate"

type WSRequest struct {
	Action string `json:"action"`
	ID     string `json:"id,omitempty"`
}

type WSResponse struct {
	Type    string      `json:"type"`             // "ack", "error", "latest", "event"
	ID      string      `json:"id,omitempty"`     // Matches request ID
	Status  string      `json:"status,omitempty"` // "success", "error"
	Event   string      `json:"event,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// PriceUpdate wraps a snapshot in the push frame every subscriber receives
func PriceUpdate(s models.Snapshot) WSResponse {
	return WSResponse{Type: TypeEvent, Event: EventPriceUpdate, Data: s}
}
