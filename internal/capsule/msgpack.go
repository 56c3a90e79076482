package capsule

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack encodes transactions with MessagePack. With JSONTags set, struct
// fields are named by their `json` tags so existing DTOs need no new tags.
type Msgpack struct {
	JSONTags bool
}

func (m Msgpack) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if m.JSONTags {
		enc.SetCustomStructTag("json")
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m Msgpack) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	if m.JSONTags {
		dec.SetCustomStructTag("json")
	}
	return dec.Decode(v)
}
