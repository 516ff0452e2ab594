package reconciler

import (
	"errors"
	"fmt"
	"sync"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Reconnecting:
		return "Reconnecting"
	case Disconnecting:
		return "Disconnecting"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var ErrInvalidTransition = errors.New("invalid state transition")

// Disconnecting is reachable from every state except itself
var transitions = map[State]map[State]bool{
	Disconnected:  {Connecting: true, Disconnecting: true},
	Connecting:    {Connected: true, Disconnected: true, Disconnecting: true},
	Connected:     {Reconnecting: true, Disconnecting: true},
	Reconnecting:  {Connected: true, Disconnected: true, Disconnecting: true},
	Disconnecting: {Disconnected: true},
}

type Listener func(from, to State)

// Conn is the connection lifecycle state machine
type Conn struct {
	mu        sync.Mutex
	state     State
	listeners []Listener
}

func NewConn() *Conn {
	return &Conn{state: Disconnected}
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnTransition registers l; listeners run synchronously, in registration order, outside the lock
func (c *Conn) OnTransition(l Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, l)
	c.mu.Unlock()
}

func (c *Conn) Transition(to State) error {
	c.mu.Lock()
	from := c.state
	if !transitions[from][to] {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	c.state = to
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.Unlock()

	for _, l := range listeners {
		l(from, to)
	}
	return nil
}
