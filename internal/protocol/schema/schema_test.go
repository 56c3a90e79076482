package schema

import (
	"testing"

	"github.com/danmuck/replica/internal/protocol/tlv"
	"github.com/danmuck/replica/internal/testutil/testlog"
)

func TestValidateForeignRequiredFields(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.BytesField(FieldCapsule, []byte{0x01}),
		tlv.U64Field(FieldTimestampNS, 1700000000000000000),
		tlv.U64Field(FieldSequence, 5),
	}
	if err := Validate(MsgForeign, fields); err != nil {
		t.Fatalf("validate foreign: %v", err)
	}
}

func TestValidateCaughtUpHasNoFields(t *testing.T) {
	testlog.Start(t)
	if err := Validate(MsgCaughtUp, nil); err != nil {
		t.Fatalf("validate caught-up: %v", err)
	}
}

func TestValidateUnknownFieldsIgnored(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.U64Field(FieldTimestampNS, 1),
		{ID: 9999, Type: tlv.TypeBytes, Value: []byte{0x01}},
	}
	if err := Validate(MsgHeartbeat, fields); err != nil {
		t.Fatalf("validate with unknown field: %v", err)
	}
}

func TestValidateMissingRequiredDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{tlv.U64Field(FieldTimestampNS, 1)}
	err := Validate(MsgEcho, fields)
	if err == nil {
		t.Fatalf("expected error")
	}
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if ve.FieldID != FieldSequence || ve.Reason != "missing required field" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateTypeMismatchDeterministic(t *testing.T) {
	testlog.Start(t)
	fields := []tlv.Field{
		tlv.StringField(FieldErrorClass, "fatal"),
		tlv.StringField(FieldErrorMessage, "boom"),
	}
	err := Validate(MsgError, fields)
	ve, ok := err.(ValidationError)
	if !ok {
		t.Fatalf("expected ValidationError, got %T (%v)", err, err)
	}
	if ve.FieldID != FieldErrorClass || ve.Reason != "type mismatch" {
		t.Fatalf("unexpected validation error: %+v", ve)
	}
}

func TestValidateUnknownMessageType(t *testing.T) {
	testlog.Start(t)
	if Known(99) {
		t.Fatalf("type 99 should be unknown")
	}
	err := Validate(99, nil)
	ve, ok := err.(ValidationError)
	if !ok || ve.Reason != "unknown message_type" {
		t.Fatalf("unexpected error: %v", err)
	}
}
