// Package capsule holds the opaque transaction payloads exchanged with the
// authority and the pluggable serializers that rehydrate them.
package capsule

import (
	"errors"
	"time"
)

var ErrNoSerializer = errors.New("capsule: no serializer attached")

// Serializer encodes and decodes application transactions.
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Capsule is one transaction in its raw encoded form, optionally paired with
// the serializer that can rehydrate it. Capsules are values; the raw bytes
// are never shared with callers.
type Capsule struct {
	raw        []byte
	serializer Serializer
}

// New wraps already-encoded bytes. The slice is copied.
func New(raw []byte) Capsule {
	return Capsule{raw: clone(raw)}
}

// Encode serializes v with s and keeps s attached for later decoding.
func Encode(s Serializer, v any) (Capsule, error) {
	raw, err := s.Marshal(v)
	if err != nil {
		return Capsule{}, err
	}
	return Capsule{raw: raw, serializer: s}, nil
}

// WithSerializer returns a copy of c that decodes with s.
func (c Capsule) WithSerializer(s Serializer) Capsule {
	c.serializer = s
	return c
}

func (c Capsule) Serializer() Serializer {
	return c.serializer
}

func (c Capsule) Bytes() []byte {
	return clone(c.raw)
}

func (c Capsule) Len() int {
	return len(c.raw)
}

// Decode rehydrates the transaction into v.
func (c Capsule) Decode(v any) error {
	if c.serializer == nil {
		return ErrNoSerializer
	}
	return c.serializer.Unmarshal(c.raw, v)
}

// TransactionTimestamp is one delivered transaction with the sequence number
// and timestamp the authority assigned to it.
type TransactionTimestamp struct {
	Capsule   Capsule
	Sequence  uint64
	Timestamp time.Time
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
