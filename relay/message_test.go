package relay

import (
	"testing"

	"github.com/nostr-git/gitrepublic/nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelopeEvent(t *testing.T) {
	raw := []byte(`["EVENT","sub1",{"id":"abc","pubkey":"pk","created_at":1,"kind":1,"tags":[],"content":"hi","sig":"s"}]`)
	msgType, env, err := decodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, "EVENT", msgType)
	require.Len(t, env, 3)
	assert.Equal(t, "sub1", decodeStr(env[1]))
}

func TestDecodeEnvelopeRejectsEmpty(t *testing.T) {
	_, _, err := decodeEnvelope([]byte(`[]`))
	assert.Error(t, err)
}

func TestDecodeEnvelopeRejectsMalformed(t *testing.T) {
	_, _, err := decodeEnvelope([]byte(`not json`))
	assert.Error(t, err)
}

func TestDecodeBoolAndStr(t *testing.T) {
	assert.True(t, decodeBool([]byte(`true`)))
	assert.False(t, decodeBool([]byte(`false`)))
	assert.Equal(t, "auth", decodeStr([]byte(`"auth"`)))
}

func TestEncodeREQIncludesFilters(t *testing.T) {
	filters := nostr.Filters{{Kinds: []int{1}, Limit: 10}}
	b, err := encodeREQ("sub1", filters)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"REQ"`)
	assert.Contains(t, string(b), `"sub1"`)
	assert.Contains(t, string(b), `"kinds":[1]`)
}

func TestEncodeCLOSE(t *testing.T) {
	b, err := encodeCLOSE("sub1")
	require.NoError(t, err)
	assert.Equal(t, `["CLOSE","sub1"]`, string(b))
}

func TestEncodeEVENTAndAUTH(t *testing.T) {
	e := &nostr.Event{ID: "abc", Kind: 1}
	b, err := encodeEVENT(e)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"EVENT"`)

	b, err = encodeAUTH(e)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"AUTH"`)
}
