package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/replica/internal/protocol/frame"
	"github.com/danmuck/replica/internal/protocol/schema"
	"github.com/danmuck/replica/internal/protocol/tlv"
)

var (
	ErrUnknownKind       = errors.New("session: unknown message kind")
	ErrUnknownErrorClass = errors.New("session: unknown error class")
	ErrFlagMismatch      = errors.New("session: frame flags do not match message type")
)

var kindToType = map[Kind]uint32{
	KindHandshake:  schema.MsgHandshake,
	KindSubmission: schema.MsgSubmission,
	KindCaughtUp:   schema.MsgCaughtUp,
	KindError:      schema.MsgError,
	KindHeartbeat:  schema.MsgHeartbeat,
	KindEcho:       schema.MsgEcho,
	KindForeign:    schema.MsgForeign,
}

var typeToKind = func() map[uint32]Kind {
	out := make(map[uint32]Kind, len(kindToType))
	for k, t := range kindToType {
		out[t] = k
	}
	return out
}()

// EncodeFrame renders msg as a frame with the given message id.
func EncodeFrame(messageID uint64, msg Message) (frame.Frame, error) {
	msgType, ok := kindToType[msg.Kind]
	if !ok {
		return frame.Frame{}, fmt.Errorf("%w: %s", ErrUnknownKind, msg.Kind)
	}

	var flags uint32
	var fields []tlv.Field
	switch msg.Kind {
	case KindHandshake:
		fields = append(fields, tlv.U64Field(schema.FieldStartingSequence, msg.StartingSequence))
	case KindSubmission:
		fields = append(fields, tlv.BytesField(schema.FieldCapsule, msg.Capsule))
	case KindCaughtUp:
	case KindError:
		if msg.ErrorClass != ErrorRecoverable && msg.ErrorClass != ErrorFatal {
			return frame.Frame{}, fmt.Errorf("%w: %d", ErrUnknownErrorClass, msg.ErrorClass)
		}
		flags |= frame.FlagIsError
		fields = append(fields,
			tlv.U8Field(schema.FieldErrorClass, uint8(msg.ErrorClass)),
			tlv.StringField(schema.FieldErrorMessage, msg.ErrorMessage),
		)
	case KindHeartbeat:
		fields = append(fields, timestampField(msg.Timestamp))
	case KindEcho:
		flags |= frame.FlagIsResponse
		fields = append(fields,
			timestampField(msg.Timestamp),
			tlv.U64Field(schema.FieldSequence, msg.Sequence),
		)
	case KindForeign:
		fields = append(fields,
			tlv.BytesField(schema.FieldCapsule, msg.Capsule),
			timestampField(msg.Timestamp),
			tlv.U64Field(schema.FieldSequence, msg.Sequence),
		)
	}
	if err := schema.Validate(msgType, fields); err != nil {
		return frame.Frame{}, err
	}
	return frame.Frame{
		Header: frame.Header{
			MessageID:   messageID,
			MessageType: msgType,
			Flags:       flags,
		},
		Payload: tlv.EncodeFields(fields),
	}, nil
}

// DecodeFrame turns one frame into its tagged message. Unknown message types,
// missing fields and inconsistent flags are errors, never a partial Message.
func DecodeFrame(f frame.Frame) (Message, error) {
	kind, ok := typeToKind[f.Header.MessageType]
	if !ok {
		return Message{}, fmt.Errorf("%w: message_type=%d", ErrUnknownKind, f.Header.MessageType)
	}
	isError := f.Header.Flags&frame.FlagIsError != 0
	if isError != (kind == KindError) {
		return Message{}, fmt.Errorf("%w: message_type=%d flags=%#x", ErrFlagMismatch, f.Header.MessageType, f.Header.Flags)
	}

	fields, err := tlv.DecodeFields(f.Payload)
	if err != nil {
		return Message{}, err
	}
	if err := schema.Validate(f.Header.MessageType, fields); err != nil {
		return Message{}, err
	}

	msg := Message{Kind: kind}
	switch kind {
	case KindHandshake:
		msg.StartingSequence, err = u64Field(fields, schema.FieldStartingSequence)
	case KindSubmission:
		msg.Capsule = bytesField(fields, schema.FieldCapsule)
	case KindCaughtUp:
	case KindError:
		var class uint8
		class, err = u8Field(fields, schema.FieldErrorClass)
		msg.ErrorClass = ErrorClass(class)
		if err == nil && msg.ErrorClass != ErrorRecoverable && msg.ErrorClass != ErrorFatal {
			err = fmt.Errorf("%w: %d", ErrUnknownErrorClass, class)
		}
		msg.ErrorMessage = string(bytesField(fields, schema.FieldErrorMessage))
	case KindHeartbeat:
		msg.Timestamp, err = timestampFrom(fields)
	case KindEcho:
		if msg.Timestamp, err = timestampFrom(fields); err == nil {
			msg.Sequence, err = u64Field(fields, schema.FieldSequence)
		}
	case KindForeign:
		msg.Capsule = bytesField(fields, schema.FieldCapsule)
		if msg.Timestamp, err = timestampFrom(fields); err == nil {
			msg.Sequence, err = u64Field(fields, schema.FieldSequence)
		}
	}
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

func timestampField(ts time.Time) tlv.Field {
	return tlv.U64Field(schema.FieldTimestampNS, uint64(ts.UnixNano()))
}

func timestampFrom(fields []tlv.Field) (time.Time, error) {
	ns, err := u64Field(fields, schema.FieldTimestampNS)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, int64(ns)).UTC(), nil
}

func u64Field(fields []tlv.Field, id uint16) (uint64, error) {
	f, _ := tlv.GetField(fields, id)
	return tlv.U64FromBytes(f.Value)
}

func u8Field(fields []tlv.Field, id uint16) (uint8, error) {
	f, _ := tlv.GetField(fields, id)
	return tlv.U8FromBytes(f.Value)
}

func bytesField(fields []tlv.Field, id uint16) []byte {
	f, _ := tlv.GetField(fields, id)
	return f.Value
}
