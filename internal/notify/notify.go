// Package notify delivers personal events to players wherever they are
// connected.
package notify

import "context"

// Deliverer hands a payload to the player's connection in this process.
type Deliverer interface {
	Deliver(playerID int64, payload []byte)
}

// Notifier routes a personal event to one player.
type Notifier interface {
	Notify(ctx context.Context, playerID int64, payload []byte) error
}

// Local delivers personal events in-process. It is used when no Redis is
// configured.
type Local struct {
	target Deliverer
}

// NewLocal creates a Local notifier.
//
// Precondition: target must be non-nil.
func NewLocal(target Deliverer) *Local {
	return &Local{target: target}
}

// Notify delivers payload directly.
func (l *Local) Notify(_ context.Context, playerID int64, payload []byte) error {
	l.target.Deliver(playerID, payload)
	return nil
}
