package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/replica/internal/protocol/tlv"
	"github.com/danmuck/replica/internal/testutil/testlog"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	testlog.Start(t)
	payload := tlv.EncodeFields([]tlv.Field{tlv.U64Field(1, 42)})
	in := Frame{
		Header:  Header{MessageID: 7, MessageType: 6, Flags: FlagIsResponse},
		Payload: payload,
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.Magic != Magic || out.Header.Version != Version {
		t.Fatalf("magic/version not stamped: %+v", out.Header)
	}
	if out.Header.MessageType != 6 || out.Header.MessageID != 7 || out.Header.Flags != FlagIsResponse {
		t.Fatalf("header mismatch: %+v", out.Header)
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	testlog.Start(t)
	b, err := Marshal(Frame{Header: Header{MessageType: 3}}, DefaultLimits())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if len(b) != int(FixedHeaderLen) {
		t.Fatalf("unexpected length: %d", len(b))
	}
	f, err := Unmarshal(b, DefaultLimits())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if f.Header.MessageType != 3 || len(f.Payload) != 0 {
		t.Fatalf("unexpected frame: %+v", f)
	}
}

func TestReadFrameCleanEOF(t *testing.T) {
	testlog.Start(t)
	_, err := ReadFrame(bytes.NewReader(nil), DefaultLimits())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadFrameMalformedHeaderIsDeterministic(t *testing.T) {
	testlog.Start(t)
	_, err := ReadFrame(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadFrameInvalidMagic(t *testing.T) {
	testlog.Start(t)
	buf := EncodeHeader(Header{Magic: 0xDEADBEEF, Version: Version, HeaderLen: FixedHeaderLen})
	_, err := ReadFrame(bytes.NewReader(buf), DefaultLimits())
	if !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestReadFrameUnsupportedVersion(t *testing.T) {
	testlog.Start(t)
	buf := EncodeHeader(Header{Magic: Magic, Version: 9, HeaderLen: FixedHeaderLen})
	_, err := ReadFrame(bytes.NewReader(buf), DefaultLimits())
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestReadFramePayloadLimit(t *testing.T) {
	testlog.Start(t)
	buf := EncodeHeader(Header{Magic: Magic, Version: Version, HeaderLen: FixedHeaderLen, PayloadLen: 1024})
	_, err := ReadFrame(bytes.NewReader(buf), Limits{MaxPayloadBytes: 16})
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestReadFrameTruncatedPayload(t *testing.T) {
	testlog.Start(t)
	b, err := Marshal(Frame{Header: Header{MessageType: 7}, Payload: []byte("abcdef")}, DefaultLimits())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	_, err = ReadFrame(bytes.NewReader(b[:len(b)-2]), DefaultLimits())
	if !errors.Is(err, ErrTruncatedPayload) {
		t.Fatalf("expected ErrTruncatedPayload, got %v", err)
	}
}
