// Package fakeauthority is a scripted server end of a replication session
// for tests. It speaks the real frame codec over net.Pipe.
package fakeauthority

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/danmuck/replica/internal/protocol/session"
	"github.com/danmuck/replica/internal/transport"
)

const defaultWait = 2 * time.Second

// Authority records what the client sends and lets a test script replies.
type Authority struct {
	t      testing.TB
	server *transport.Stream
	inbox  chan session.Message
	closed chan struct{}
}

// New returns the authority and the client end of the connection.
func New(t testing.TB) (*Authority, *transport.Stream) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	a := &Authority{
		t:      t,
		server: transport.NewStream(serverConn, transport.StreamOptions{}),
		inbox:  make(chan session.Message, 64),
		closed: make(chan struct{}),
	}
	go a.read()
	t.Cleanup(func() { _ = a.Close() })
	return a, transport.NewStream(clientConn, transport.StreamOptions{})
}

func (a *Authority) read() {
	defer close(a.closed)
	for {
		msg, err := a.server.Receive()
		if err != nil {
			return
		}
		a.inbox <- msg
	}
}

// Expect waits for the next client message and checks its kind.
func (a *Authority) Expect(kind session.Kind) session.Message {
	a.t.Helper()
	select {
	case msg := <-a.inbox:
		if msg.Kind != kind {
			a.t.Fatalf("fakeauthority: expected %s, got %s", kind, msg.Kind)
		}
		return msg
	case <-time.After(defaultWait):
		a.t.Fatalf("fakeauthority: timed out waiting for %s", kind)
		return session.Message{}
	}
}

// ExpectNothing fails if the client sends anything within d.
func (a *Authority) ExpectNothing(d time.Duration) {
	a.t.Helper()
	select {
	case msg := <-a.inbox:
		a.t.Fatalf("fakeauthority: unexpected %s from client", msg.Kind)
	case <-time.After(d):
	}
}

// Send writes msgs to the client in order.
func (a *Authority) Send(msgs ...session.Message) {
	a.t.Helper()
	for _, msg := range msgs {
		if err := a.server.Send(context.Background(), msg); err != nil {
			a.t.Fatalf("fakeauthority: send %s: %v", msg.Kind, err)
		}
	}
}

// Close drops the connection from the server side.
func (a *Authority) Close() error {
	return a.server.Close()
}

// Disconnected is closed once the client end has gone away.
func (a *Authority) Disconnected() <-chan struct{} {
	return a.closed
}
