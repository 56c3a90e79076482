package session

import (
	"fmt"
	"time"
)

// Kind tags one replication message shape.
type Kind uint8

const (
	KindHandshake Kind = iota + 1
	KindSubmission
	KindCaughtUp
	KindError
	KindHeartbeat
	KindEcho
	KindForeign
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindSubmission:
		return "submission"
	case KindCaughtUp:
		return "caught_up"
	case KindError:
		return "error"
	case KindHeartbeat:
		return "heartbeat"
	case KindEcho:
		return "echo"
	case KindForeign:
		return "foreign"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ErrorClass distinguishes the two server error reports.
type ErrorClass uint8

const (
	ErrorRecoverable ErrorClass = 1
	ErrorFatal       ErrorClass = 2
)

func (c ErrorClass) String() string {
	switch c {
	case ErrorRecoverable:
		return "recoverable"
	case ErrorFatal:
		return "fatal"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// Message is the decoded form of every frame on a replication session.
// Which fields are meaningful depends on Kind:
//
//	handshake   StartingSequence
//	submission  Capsule
//	caught_up   -
//	error       ErrorClass, ErrorMessage
//	heartbeat   Timestamp
//	echo        Timestamp, Sequence
//	foreign     Capsule, Timestamp, Sequence
type Message struct {
	Kind             Kind
	StartingSequence uint64
	Capsule          []byte
	ErrorClass       ErrorClass
	ErrorMessage     string
	Timestamp        time.Time
	Sequence         uint64
}

func Handshake(startingSequence uint64) Message {
	return Message{Kind: KindHandshake, StartingSequence: startingSequence}
}

func Submission(raw []byte) Message {
	return Message{Kind: KindSubmission, Capsule: raw}
}

func CaughtUp() Message {
	return Message{Kind: KindCaughtUp}
}

func ErrorReport(class ErrorClass, message string) Message {
	return Message{Kind: KindError, ErrorClass: class, ErrorMessage: message}
}

func Heartbeat(ts time.Time) Message {
	return Message{Kind: KindHeartbeat, Timestamp: ts}
}

func Echo(ts time.Time, sequence uint64) Message {
	return Message{Kind: KindEcho, Timestamp: ts, Sequence: sequence}
}

func Foreign(raw []byte, ts time.Time, sequence uint64) Message {
	return Message{Kind: KindForeign, Capsule: raw, Timestamp: ts, Sequence: sequence}
}

// Sequenced reports whether the message carries a sequence number.
func (m Message) Sequenced() bool {
	return m.Kind == KindEcho || m.Kind == KindForeign
}

// Timestamped reports whether the message carries a timestamp.
func (m Message) Timestamped() bool {
	return m.Kind == KindHeartbeat || m.Sequenced()
}
