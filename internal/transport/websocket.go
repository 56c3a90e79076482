package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/replica/internal/protocol/frame"
	"github.com/danmuck/replica/internal/protocol/session"
	"github.com/gorilla/websocket"
)

var ErrUnexpectedMessageType = errors.New("transport: unexpected websocket message type")

// WebSocket carries one frame per binary websocket message.
type WebSocket struct {
	conn *websocket.Conn
	opts StreamOptions

	writeMu       sync.Mutex
	nextMessageID atomic.Uint64
	closed        atomic.Bool
	closeOnce     sync.Once
	closeErr      error
}

func NewWebSocket(conn *websocket.Conn, opts StreamOptions) *WebSocket {
	if opts.Limits.MaxPayloadBytes == 0 {
		opts.Limits = frame.DefaultLimits()
	}
	conn.SetReadLimit(int64(opts.Limits.MaxPayloadBytes) + int64(frame.FixedHeaderLen))
	return &WebSocket{conn: conn, opts: opts}
}

// Send writes one frame as a binary message. As with Stream, ctx is not
// consulted and WriteTimeout bounds the write.
func (w *WebSocket) Send(_ context.Context, msg session.Message) error {
	if w.closed.Load() {
		return ErrClosed
	}
	f, err := session.EncodeFrame(w.nextMessageID.Add(1), msg)
	if err != nil {
		return err
	}
	b, err := frame.Marshal(f, w.opts.Limits)
	if err != nil {
		return err
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	var deadline time.Time
	if w.opts.WriteTimeout > 0 {
		deadline = time.Now().Add(w.opts.WriteTimeout)
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return w.mapErr(err)
	}
	if err := w.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return w.mapErr(err)
	}
	return nil
}

func (w *WebSocket) Receive() (session.Message, error) {
	messageType, b, err := w.conn.ReadMessage()
	if err != nil {
		return session.Message{}, w.mapErr(err)
	}
	if messageType != websocket.BinaryMessage {
		return session.Message{}, fmt.Errorf("%w: %d", ErrUnexpectedMessageType, messageType)
	}
	f, err := frame.Unmarshal(b, w.opts.Limits)
	if err != nil {
		return session.Message{}, err
	}
	return session.DecodeFrame(f)
}

// Close sends a best-effort close frame and closes the connection. The
// close frame is skipped while a Send is mid-write; closing the connection
// unblocks that write.
func (w *WebSocket) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		if w.writeMu.TryLock() {
			_ = w.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			w.writeMu.Unlock()
		}
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

func (w *WebSocket) mapErr(err error) error {
	if w.closed.Load() {
		return ErrClosed
	}
	return err
}
