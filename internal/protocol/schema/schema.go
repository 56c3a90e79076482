package schema

import (
	"fmt"

	"github.com/danmuck/replica/internal/protocol/tlv"
	"github.com/rs/zerolog/log"
)

// Message type IDs from the replication contract.
const (
	MsgHandshake  uint32 = 1
	MsgSubmission uint32 = 2
	MsgCaughtUp   uint32 = 3
	MsgError      uint32 = 4
	MsgHeartbeat  uint32 = 5
	MsgEcho       uint32 = 6
	MsgForeign    uint32 = 7
)

// Field IDs from the replication contract.
const (
	FieldStartingSequence uint16 = 1
	FieldSequence         uint16 = 2
	FieldTimestampNS      uint16 = 3

	FieldCapsule uint16 = 100

	FieldErrorClass   uint16 = 200
	FieldErrorMessage uint16 = 201
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var requirements = map[uint32][]Requirement{
	MsgHandshake: {
		{FieldStartingSequence, tlv.TypeU64},
	},
	MsgSubmission: {
		{FieldCapsule, tlv.TypeBytes},
	},
	MsgCaughtUp: {},
	MsgError: {
		{FieldErrorClass, tlv.TypeU8},
		{FieldErrorMessage, tlv.TypeString},
	},
	MsgHeartbeat: {
		{FieldTimestampNS, tlv.TypeU64},
	},
	MsgEcho: {
		{FieldTimestampNS, tlv.TypeU64},
		{FieldSequence, tlv.TypeU64},
	},
	MsgForeign: {
		{FieldCapsule, tlv.TypeBytes},
		{FieldTimestampNS, tlv.TypeU64},
		{FieldSequence, tlv.TypeU64},
	},
}

// Known reports whether messageType is part of the contract.
func Known(messageType uint32) bool {
	_, ok := requirements[messageType]
	return ok
}

// Validate enforces required fields and required field types for a message type.
// Unknown fields are ignored.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		log.Error().Uint32("message_type", messageType).Msg("schema.Validate unknown message_type")
		return ValidationError{MessageType: messageType, Reason: "unknown message_type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Msg("schema.Validate missing field")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			log.Error().
				Uint32("message_type", messageType).
				Uint16("field_id", req.ID).
				Uint8("got", f.Type).
				Uint8("want", req.Type).
				Msg("schema.Validate type mismatch")
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "type mismatch"}
		}
	}
	log.Trace().Uint32("message_type", messageType).Int("fields", len(fields)).Msg("schema.Validate ok")
	return nil
}
