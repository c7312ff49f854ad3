package peer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddAndContains(t *testing.T) {
	r := New()
	require.False(t, r.Contains("a:1"))
	r.Add("a:1")
	require.True(t, r.Contains("a:1"))
	require.Equal(t, 1, r.Len())
}

func TestAddManyDeduplicates(t *testing.T) {
	r := New()
	r.Add("a:1")
	r.AddMany([]string{"a:1", "b:2", "c:3"})
	require.Equal(t, 3, r.Len())
}

func TestSnapshotReturnsAllKnownPeers(t *testing.T) {
	r := New()
	r.AddMany([]string{"a:1", "b:2"})
	snap := r.Snapshot()
	require.ElementsMatch(t, []string{"a:1", "b:2"}, snap)
}
