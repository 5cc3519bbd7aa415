package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexEntry_RoundTrip(t *testing.T) {
	e := indexEntry{relativeOffset: 7, position: 1024, size: 256}
	got := decodeIndexEntry(encodeIndexEntry(e))
	assert.Equal(t, e, got)
	assert.Len(t, encodeIndexEntry(e), indexEntrySize)
}

func TestTimeIndexEntry_RoundTrip(t *testing.T) {
	e := timeIndexEntry{relativeOffset: 3, timestampNs: 1732999999000000000}
	got := decodeTimeIndexEntry(encodeTimeIndexEntry(e))
	assert.Equal(t, e, got)
	assert.Len(t, encodeTimeIndexEntry(e), timeIndexEntrySize)
}

func TestMessage_RoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox")
	encoded := encodeMessage(payload)

	decoded, consumed, ok := decodeMessage(encoded)
	require.True(t, ok)
	assert.Equal(t, payload, decoded)
	assert.Equal(t, len(encoded), consumed)
}

func TestMessage_DecodeIncomplete(t *testing.T) {
	encoded := encodeMessage([]byte("hello"))
	_, _, ok := decodeMessage(encoded[:len(encoded)-1])
	assert.False(t, ok)
}
