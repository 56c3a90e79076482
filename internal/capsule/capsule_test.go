package capsule

import (
	"errors"
	"testing"

	"github.com/danmuck/replica/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deposit struct {
	Account string `json:"account"`
	Amount  int64  `json:"amount"`
}

func TestEncodeDecodeWithMsgpack(t *testing.T) {
	testlog.Start(t)
	c, err := Encode(Msgpack{}, deposit{Account: "acct-1", Amount: 250})
	require.NoError(t, err)
	assert.Positive(t, c.Len())

	var got deposit
	require.NoError(t, c.Decode(&got))
	assert.Equal(t, deposit{Account: "acct-1", Amount: 250}, got)
}

func TestJSONTagsAreHonored(t *testing.T) {
	testlog.Start(t)
	c, err := Encode(Msgpack{JSONTags: true}, deposit{Account: "acct-2", Amount: 7})
	require.NoError(t, err)

	var asMap map[string]any
	require.NoError(t, Msgpack{}.Unmarshal(c.Bytes(), &asMap))
	assert.Contains(t, asMap, "account")
	assert.Contains(t, asMap, "amount")
}

func TestRawCapsuleNeedsSerializer(t *testing.T) {
	testlog.Start(t)
	encoded, err := Msgpack{}.Marshal(deposit{Account: "acct-3", Amount: 1})
	require.NoError(t, err)

	raw := New(encoded)
	var got deposit
	assert.True(t, errors.Is(raw.Decode(&got), ErrNoSerializer))

	rehydrated := raw.WithSerializer(Msgpack{})
	require.NoError(t, rehydrated.Decode(&got))
	assert.Equal(t, "acct-3", got.Account)
	assert.Nil(t, raw.Serializer(), "WithSerializer must not mutate the original")
}

func TestCapsuleDoesNotAliasCallerBytes(t *testing.T) {
	testlog.Start(t)
	src := []byte{1, 2, 3}
	c := New(src)
	src[0] = 9
	out := c.Bytes()
	assert.Equal(t, byte(1), out[0])
	out[1] = 9
	assert.Equal(t, byte(2), c.Bytes()[1])
}
