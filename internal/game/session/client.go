// Package session tracks live battle sessions and the connections that
// receive their events.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrClientClosed is returned when pushing to a closed connection.
	ErrClientClosed = errors.New("client closed")
	// ErrClientBehind is returned when a connection's queue is full. The
	// payload is dropped and counted.
	ErrClientBehind = errors.New("client queue full")
)

// Client is one live connection's outbound queue. Transports drain Events
// and write each payload to the wire. A reader that falls behind loses
// payloads instead of blocking the battle that produced them.
type Client struct {
	id       string
	playerID int64
	name     string

	mu     sync.Mutex // guards queue sends against close
	queue  chan []byte
	closed bool

	dropped atomic.Uint64
}

// NewClient creates a Client with a fresh connection id and room for
// capacity queued payloads (64 when capacity is not positive).
//
// Precondition: playerID must be positive.
func NewClient(playerID int64, name string, capacity int) *Client {
	if capacity <= 0 {
		capacity = 64
	}
	return &Client{
		id:       uuid.NewString(),
		playerID: playerID,
		name:     name,
		queue:    make(chan []byte, capacity),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// PlayerID returns the authenticated identity.
func (c *Client) PlayerID() int64 { return c.playerID }

// Name returns the display name carried by the identity token.
func (c *Client) Name() string { return c.name }

// Push queues data without blocking.
//
// Postcondition: Returns ErrClientClosed after Close, or ErrClientBehind
// when the queue is full; in the latter case Dropped grows by one.
func (c *Client) Push(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("conn %s: %w", c.id, ErrClientClosed)
	}
	select {
	case c.queue <- data:
		return nil
	default:
		n := c.dropped.Add(1)
		return fmt.Errorf("conn %s (%d dropped): %w", c.id, n, ErrClientBehind)
	}
}

// Dropped returns how many payloads were discarded because the queue was full.
func (c *Client) Dropped() uint64 { return c.dropped.Load() }

// Events returns the queue for the transport to drain. It is closed by Close.
func (c *Client) Events() <-chan []byte { return c.queue }

// Close stops the queue. Payloads already queued stay readable. Close is
// idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.queue)
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
