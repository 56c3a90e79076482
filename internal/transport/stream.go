package transport

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/replica/internal/protocol/frame"
	"github.com/danmuck/replica/internal/protocol/session"
)

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// StreamOptions tunes a Stream.
type StreamOptions struct {
	WriteTimeout time.Duration
	Limits       frame.Limits
}

// Stream frames messages onto a byte stream such as a TCP or TLS connection.
type Stream struct {
	rwc    io.ReadWriteCloser
	reader *bufio.Reader
	opts   StreamOptions

	nextMessageID atomic.Uint64
	closed        atomic.Bool
	closeOnce     sync.Once
	closeErr      error
}

func NewStream(rwc io.ReadWriteCloser, opts StreamOptions) *Stream {
	if opts.Limits.MaxPayloadBytes == 0 {
		opts.Limits = frame.DefaultLimits()
	}
	return &Stream{
		rwc:    rwc,
		reader: bufio.NewReader(rwc),
		opts:   opts,
	}
}

// Send writes one frame. ctx is not consulted: a frame write that has
// started must finish or the stream is corrupt, so writes are bounded by
// StreamOptions.WriteTimeout alone.
func (s *Stream) Send(_ context.Context, msg session.Message) error {
	if s.closed.Load() {
		return ErrClosed
	}
	f, err := session.EncodeFrame(s.nextMessageID.Add(1), msg)
	if err != nil {
		return err
	}
	b, err := frame.Marshal(f, s.opts.Limits)
	if err != nil {
		return err
	}
	if err := s.setWriteDeadline(); err != nil {
		return err
	}
	if _, err := s.rwc.Write(b); err != nil {
		return s.mapErr(err)
	}
	return nil
}

func (s *Stream) Receive() (session.Message, error) {
	f, err := frame.ReadFrame(s.reader, s.opts.Limits)
	if err != nil {
		return session.Message{}, s.mapErr(err)
	}
	return session.DecodeFrame(f)
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.rwc.Close()
	})
	return s.closeErr
}

func (s *Stream) setWriteDeadline() error {
	conn, ok := s.rwc.(writeDeadliner)
	if !ok {
		return nil
	}
	var deadline time.Time
	if s.opts.WriteTimeout > 0 {
		deadline = time.Now().Add(s.opts.WriteTimeout)
	}
	return conn.SetWriteDeadline(deadline)
}

// mapErr reports failures caused by a local Close as ErrClosed.
func (s *Stream) mapErr(err error) error {
	if s.closed.Load() || errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}
