package replication

import (
	"errors"
	"fmt"

	"github.com/danmuck/replica/internal/protocol/session"
)

var (
	ErrNilSubscriber          = errors.New("replication: nil subscriber")
	ErrAlreadySubscribed      = errors.New("replication: already subscribed; only one subscriber is supported")
	ErrUnsubscribeUnsupported = errors.New("replication: removing subscribers is not supported")
	ErrNoSubscriber           = errors.New("replication: submit needs a registered subscriber")

	ErrConnectionLost   = errors.New("replication: connection lost")
	ErrConnectionClosed = errors.New("replication: connection closed")

	ErrServerRecoverable = errors.New("replication: server reported recoverable error")
	ErrServerFatal       = errors.New("replication: server reported fatal error")

	ErrUnexpectedMessage  = errors.New("replication: unexpected message from server")
	ErrUnexpectedEcho     = errors.New("replication: echo marker with no outstanding submission")
	ErrSequenceRegression = errors.New("replication: sequence number did not increase")
)

// ServerError is an error object the authority attached to a submission.
// It unwraps to ErrServerRecoverable or ErrServerFatal.
type ServerError struct {
	Class   session.ErrorClass
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("replication: server %s error: %s", e.Class, e.Message)
}

func (e *ServerError) Unwrap() error {
	if e.Fatal() {
		return ErrServerFatal
	}
	return ErrServerRecoverable
}

// Fatal reports whether the caller should treat application state as
// compromised.
func (e *ServerError) Fatal() bool {
	return e.Class == session.ErrorFatal
}
