package replication

import (
	"errors"
	"fmt"

	"github.com/danmuck/replica/internal/capsule"
	"github.com/danmuck/replica/internal/observability"
	"github.com/danmuck/replica/internal/protocol/session"
)

// receiveLoop owns every read from the transport. It exits on the first
// receive or dispatch error; closing the transport is how it is stopped.
func (c *Client) receiveLoop() {
	defer close(c.done)
	defer observability.RecordReceiveLoop(c.name, false)

	for {
		msg, err := c.transport.Receive()
		if err == nil {
			err = c.dispatch(msg)
		}
		if err != nil {
			c.stopLoop(err)
			return
		}
	}
}

func (c *Client) stopLoop(cause error) {
	c.markTerminal(fmt.Errorf("%w: %w", ErrConnectionLost, cause))
	_ = c.transport.Close()

	terminal := c.terminalErr()
	if errors.Is(terminal, ErrConnectionClosed) {
		c.logger.Debug().Err(cause).Msg("replication receive loop stopped after close")
		return
	}
	c.loopErr = terminal
	c.logger.Error().Err(cause).Msg("replication receive loop failed")
}

// dispatch routes one message. The order of checks matters: control
// messages carry no timestamp, and the clock moves before any delivery that
// depends on it.
func (c *Client) dispatch(msg session.Message) error {
	observability.RecordMessage(c.name, msg.Kind.String())

	switch msg.Kind {
	case session.KindCaughtUp:
		c.onCaughtUp()
		return nil
	case session.KindError:
		c.onServerError(msg)
		return nil
	}
	if !msg.Timestamped() {
		return fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Kind)
	}

	c.clock.AdvanceTo(msg.Timestamp)
	observability.RecordClock(c.name, msg.Timestamp)

	if !msg.Sequenced() {
		return nil
	}

	if c.sequenced && msg.Sequence <= c.lastSequence {
		return fmt.Errorf("%w: got %d after %d", ErrSequenceRegression, msg.Sequence, c.lastSequence)
	}
	c.lastSequence = msg.Sequence
	c.sequenced = true

	if msg.Kind == session.KindEcho {
		return c.onEcho(msg)
	}
	return c.onForeign(msg)
}

func (c *Client) onCaughtUp() {
	c.stateMu.Lock()
	waiter := c.waiter
	c.stateMu.Unlock()
	if waiter == nil || !waiter.resolve(nil) {
		c.logger.Warn().Msg("replication caught-up signal with no handshake waiting")
		return
	}
	c.logger.Debug().Uint64("starting_sequence", waiter.startingSequence).Msg("replication caught up")
}

func (c *Client) onServerError(msg session.Message) {
	serverErr := &ServerError{Class: msg.ErrorClass, Message: msg.ErrorMessage}
	p := c.takePending()
	if p == nil {
		c.logger.Warn().Err(serverErr).Msg("replication server error with no outstanding submission; dropped")
		return
	}
	c.logger.Warn().Err(serverErr).Msg("replication submission failed on server")
	p.resolve(serverErr)
}

// onEcho confirms the outstanding submission. The echo carries no payload:
// the delivered capsule is the one this client sent.
func (c *Client) onEcho(msg session.Message) error {
	p := c.takePending()
	if p == nil {
		return fmt.Errorf("%w: sequence=%d", ErrUnexpectedEcho, msg.Sequence)
	}
	if err := c.deliver("echo", capsule.TransactionTimestamp{
		Capsule:   p.capsule,
		Sequence:  msg.Sequence,
		Timestamp: msg.Timestamp,
	}); err != nil {
		p.resolve(err)
		return err
	}
	p.resolve(nil)
	return nil
}

func (c *Client) onForeign(msg session.Message) error {
	return c.deliver("foreign", capsule.TransactionTimestamp{
		Capsule:   capsule.New(msg.Capsule).WithSerializer(c.serializer),
		Sequence:  msg.Sequence,
		Timestamp: msg.Timestamp,
	})
}

func (c *Client) deliver(origin string, tt capsule.TransactionTimestamp) error {
	c.stateMu.Lock()
	sub := c.subscriber
	c.stateMu.Unlock()
	if sub == nil {
		return fmt.Errorf("%w: %s transaction before subscription", ErrUnexpectedMessage, origin)
	}
	sub.Receive(tt)
	observability.RecordDelivery(c.name, origin, tt.Sequence)
	c.logger.Trace().Str("origin", origin).Uint64("sequence", tt.Sequence).Time("timestamp", tt.Timestamp).Msg("replication delivered")
	return nil
}
