package replication

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/replica/internal/capsule"
	"github.com/danmuck/replica/internal/observability"
	"github.com/danmuck/replica/internal/protocol/session"
	"github.com/danmuck/replica/internal/transport"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Subscriber receives every transaction the client learns about, in order.
// Receive runs on the receive goroutine; a slow subscriber stalls the stream.
type Subscriber interface {
	Receive(capsule.TransactionTimestamp)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(capsule.TransactionTimestamp)

func (f SubscriberFunc) Receive(tt capsule.TransactionTimestamp) {
	f(tt)
}

// Option configures a Client.
type Option func(*Client)

// WithSerializer sets the serializer attached to foreign capsules before
// delivery. Defaults to capsule.Msgpack.
func WithSerializer(s capsule.Serializer) Option {
	return func(c *Client) {
		c.serializer = s
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithName sets the client label used in metrics.
func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

// Client is the protocol engine for one replication connection.
type Client struct {
	transport  transport.Transport
	serializer capsule.Serializer
	logger     zerolog.Logger
	name       string
	connID     string
	clock      *Clock

	// writeMu keeps handshake and submission frames from interleaving.
	writeMu sync.Mutex
	// gate holds one token from the moment a submission is recorded until
	// the receive loop resolves it.
	gate chan struct{}

	// stateMu guards the fields below it.
	stateMu    sync.Mutex
	subscriber Subscriber
	waiter     *syncWaiter
	pending    *pendingSubmission
	terminal   error

	// Receive goroutine only.
	lastSequence uint64
	sequenced    bool

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
	loopErr   error
}

// New starts a Client on an established transport. The receive loop runs
// until the transport fails or Close is called.
func New(t transport.Transport, opts ...Option) *Client {
	observability.RegisterMetrics()
	c := &Client{
		transport:  t,
		serializer: capsule.Msgpack{},
		logger:     log.Logger,
		name:       "replica",
		connID:     uuid.NewString(),
		clock:      NewClock(),
		gate:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("conn_id", c.connID).Logger()
	observability.RecordReceiveLoop(c.name, true)
	go c.receiveLoop()
	return c
}

func (c *Client) ConnID() string {
	return c.connID
}

// Clock returns the logical clock mirrored from the authority.
func (c *Client) Clock() *Clock {
	return c.clock
}

// Subscribe registers the only subscriber this client will ever have, asks
// the authority for every transaction from startingSequence on, and blocks
// until the authority reports the subscriber caught up.
//
// A ctx that has already ended registers nothing. Cancelling ctx later
// abandons the wait only; the subscriber stays registered and the handshake
// continues in the background.
func (c *Client) Subscribe(ctx context.Context, sub Subscriber, startingSequence uint64) error {
	if sub == nil {
		return ErrNilSubscriber
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.stateMu.Lock()
	if c.subscriber != nil {
		c.stateMu.Unlock()
		return ErrAlreadySubscribed
	}
	if c.terminal != nil {
		err := c.terminal
		c.stateMu.Unlock()
		return err
	}
	waiter := newSyncWaiter(startingSequence)
	c.subscriber = sub
	c.waiter = waiter
	c.stateMu.Unlock()

	c.logger.Info().Uint64("starting_sequence", startingSequence).Msg("replication.Subscribe handshake")
	if err := c.send(ctx, session.Handshake(startingSequence)); err != nil {
		return c.fail(err)
	}
	if err := waiter.wait(ctx); err != nil {
		return err
	}
	c.logger.Info().Uint64("starting_sequence", startingSequence).Msg("replication.Subscribe caught up")
	return nil
}

// Unsubscribe is not supported and always fails.
func (c *Client) Unsubscribe(Subscriber) error {
	return ErrUnsubscribeUnsupported
}

// Submit sends one transaction and blocks until the authority has applied
// it. The echoed transaction reaches the subscriber before Submit returns.
// A server error attached to this submission is returned exactly once.
//
// If ctx has ended before the transaction is sent, nothing is sent. If it
// ends while waiting for the acknowledgment Submit returns ctx.Err(), but the
// transaction remains in flight and later submissions wait for it.
func (c *Client) Submit(ctx context.Context, tx capsule.Capsule) error {
	c.stateMu.Lock()
	sub, waiter, terminal := c.subscriber, c.waiter, c.terminal
	c.stateMu.Unlock()
	if sub == nil {
		return ErrNoSubscriber
	}
	if terminal != nil {
		return terminal
	}
	if err := waiter.wait(ctx); err != nil {
		return err
	}

	select {
	case c.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.terminalErr()
	}
	// select picks at random among ready cases; an expired ctx must not
	// reach the wire.
	if err := ctx.Err(); err != nil {
		c.releaseGate()
		return err
	}

	p := newPendingSubmission(tx, c.releaseGate)
	c.stateMu.Lock()
	if c.terminal != nil {
		err := c.terminal
		c.stateMu.Unlock()
		c.releaseGate()
		return err
	}
	c.pending = p
	c.stateMu.Unlock()

	start := time.Now()
	if err := c.send(ctx, session.Submission(tx.Bytes())); err != nil {
		c.clearPending(p)
		err = c.fail(err)
		p.resolve(err)
		observability.RecordSubmit(c.name, observability.SubmitResultLost, time.Since(start))
		return err
	}

	if waitErr := p.wait(ctx); !p.resolved() {
		c.logger.Warn().Err(waitErr).Msg("replication.Submit abandoned; submission stays in flight")
		observability.RecordSubmit(c.name, observability.SubmitResultCanceled, time.Since(start))
		return waitErr
	}
	err := p.err
	observability.RecordSubmit(c.name, submitResult(err), time.Since(start))
	return err
}

// Close shuts the transport. Outstanding Subscribe and Submit calls return
// ErrConnectionClosed. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.markTerminal(ErrConnectionClosed)
		c.closeErr = c.transport.Close()
		c.logger.Info().Msg("replication.Close")
	})
	return c.closeErr
}

// Done is closed when the receive loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the receive loop stopped: nil after Close, the failure
// otherwise. It returns nil while the loop is running.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.loopErr
	default:
		return nil
	}
}

func (c *Client) send(ctx context.Context, msg session.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.transport.Send(ctx, msg)
}

// fail handles a send failure: the connection is treated as lost and the
// client stops. It returns the error the caller should see.
func (c *Client) fail(cause error) error {
	err := fmt.Errorf("%w: %w", ErrConnectionLost, cause)
	c.logger.Error().Err(cause).Msg("replication send failed; closing connection")
	c.markTerminal(err)
	_ = c.transport.Close()
	return c.terminalErr()
}

// markTerminal records why the client stopped and releases every waiter.
// The first caller wins.
func (c *Client) markTerminal(err error) {
	c.stateMu.Lock()
	if c.terminal != nil {
		c.stateMu.Unlock()
		return
	}
	c.terminal = err
	pending, waiter := c.pending, c.waiter
	c.pending = nil
	c.stateMu.Unlock()

	if pending != nil {
		pending.resolve(err)
	}
	if waiter != nil {
		waiter.resolve(err)
	}
}

func (c *Client) terminalErr() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.terminal == nil {
		return ErrConnectionClosed
	}
	return c.terminal
}

func (c *Client) takePending() *pendingSubmission {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	p := c.pending
	c.pending = nil
	return p
}

func (c *Client) clearPending(p *pendingSubmission) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.pending == p {
		c.pending = nil
	}
}

func (c *Client) releaseGate() {
	<-c.gate
}

func submitResult(err error) string {
	switch {
	case err == nil:
		return observability.SubmitResultOK
	case errors.Is(err, ErrServerFatal):
		return observability.SubmitResultFatal
	case errors.Is(err, ErrServerRecoverable):
		return observability.SubmitResultRecoverable
	default:
		return observability.SubmitResultLost
	}
}
