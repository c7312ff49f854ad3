package chainhash

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashStringRoundTrip(t *testing.T) {
	var h Hash
	for i := range h {
		h[i] = byte(i)
	}

	parsed, err := NewHashFromStr(h.String())
	require.NoError(t, err)
	require.Equal(t, h, parsed)
}

func TestNewHashInvalidLength(t *testing.T) {
	_, err := NewHash([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestZeroHash(t *testing.T) {
	var h Hash
	require.True(t, h.IsZero())
	h[0] = 1
	require.False(t, h.IsZero())
}
