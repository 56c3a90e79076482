// Package transport carries replication messages over a reliable, ordered,
// bidirectional connection.
package transport

import (
	"context"
	"errors"

	"github.com/danmuck/replica/internal/protocol/session"
)

var ErrClosed = errors.New("transport: closed")

// Transport sends and receives whole replication messages. Send may be
// called from one goroutine at a time and Receive from one (other) goroutine;
// Close may be called from anywhere and unblocks a pending Receive.
//
// Send does not abandon a write when ctx ends; callers check ctx before
// sending and implementations bound writes with their own timeout.
type Transport interface {
	Send(ctx context.Context, msg session.Message) error
	Receive() (session.Message, error)
	Close() error
}
