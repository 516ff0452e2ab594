package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("session closed")

type SessionConfig struct {
	URL                  string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	HandshakeTimeout     time.Duration
	// ReadTimeout is how long the connection may stay silent, pings included, before it is treated as lost
	ReadTimeout time.Duration
}

// Session keeps a Reconciler fed from one gateway websocket, reconnecting on drops.
// Every entry into Connected sends a get_latest request so gaps are filled from the cache.
type Session struct {
	cfg    SessionConfig
	rec    *Reconciler
	conn   *Conn
	dialer *websocket.Dialer
	logger *zap.Logger

	mu      sync.Mutex
	ws      *websocket.Conn
	closed  bool
	writeMu sync.Mutex
}

func NewSession(cfg SessionConfig, rec *Reconciler, logger *zap.Logger) *Session {
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 5
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}

	s := &Session{
		cfg:    cfg,
		rec:    rec,
		conn:   NewConn(),
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		logger: logger,
	}
	s.conn.OnTransition(func(from, to State) {
		logger.Info("Connection state", zap.Stringer("from", from), zap.Stringer("to", to))
		if to == Connected {
			if err := s.Resync(); err != nil {
				logger.Warn("Resync request failed", zap.Error(err))
			}
		}
	})
	return s
}

func (s *Session) Conn() *Conn { return s.conn }

func (s *Session) Reconciler() *Reconciler { return s.rec }

// Run connects and merges frames until ctx is cancelled, Close is called or reconnecting gives up
func (s *Session) Run(ctx context.Context) error {
	if s.isClosed() {
		return ErrClosed
	}
	if err := s.conn.Transition(Connecting); err != nil {
		return err
	}
	if err := s.dial(ctx); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		s.conn.Transition(Disconnected)
		return fmt.Errorf("connect %s: %w", s.cfg.URL, err)
	}
	if err := s.conn.Transition(Connected); err != nil {
		return err
	}

	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	for {
		s.readLoop()

		if s.isClosed() {
			return nil
		}
		if err := s.conn.Transition(Reconnecting); err != nil {
			// Close raced us into Disconnecting
			return nil
		}
		if err := s.reconnect(ctx); err != nil {
			if s.isClosed() {
				return nil
			}
			s.conn.Transition(Disconnected)
			return err
		}
		if err := s.conn.Transition(Connected); err != nil {
			return nil
		}
	}
}

func (s *Session) readLoop() {
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return
	}

	extend := func() error {
		return ws.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	ws.SetPongHandler(func(string) error { return extend() })
	ws.SetPingHandler(func(data string) error {
		if err := extend(); err != nil {
			return err
		}
		// WriteControl may run concurrently with WriteMessage
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			s.logger.Debug("Failed to answer ping", zap.Error(err))
		}
		return nil
	})
	extend()

	for {
		_, msg, err := ws.ReadMessage()
		if err == nil {
			err = extend()
		}
		if err != nil {
			if !s.isClosed() {
				s.logger.Warn("Connection lost", zap.Error(err))
			}
			ws.Close()
			return
		}
		if _, err := s.rec.Merge(msg); err != nil {
			s.logger.Warn("Discarding malformed frame", zap.Error(err))
		}
	}
}

func (s *Session) reconnect(ctx context.Context) error {
	var err error
	for attempt := 1; attempt <= s.cfg.MaxReconnectAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ReconnectDelay):
		}
		if s.isClosed() {
			return ErrClosed
		}
		if err = s.dial(ctx); err == nil {
			return nil
		}
		s.logger.Warn("Reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	return fmt.Errorf("giving up after %d attempts: %w", s.cfg.MaxReconnectAttempts, err)
}

func (s *Session) dial(ctx context.Context) error {
	ws, _, err := s.dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		ws.Close()
		return ErrClosed
	}
	s.ws = ws
	return nil
}

// Resync asks the gateway for every cached snapshot
func (s *Session) Resync() error {
	req, err := json.Marshal(map[string]string{"action": "get_latest", "id": uuid.NewString()})
	if err != nil {
		return err
	}
	return s.write(websocket.TextMessage, req)
}

func (s *Session) write(messageType int, data []byte) error {
	s.mu.Lock()
	ws := s.ws
	s.mu.Unlock()
	if ws == nil {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(s.cfg.HandshakeTimeout))
	return ws.WriteMessage(messageType, data)
}

// Close stops the session; a second call returns ErrClosed
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	ws := s.ws
	s.mu.Unlock()

	if err := s.conn.Transition(Disconnecting); err != nil {
		s.logger.Debug("Close transition", zap.Error(err))
	}
	if ws != nil {
		s.writeMu.Lock()
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		ws.Close()
	}
	if err := s.conn.Transition(Disconnected); err != nil {
		s.logger.Debug("Close transition", zap.Error(err))
	}
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
