package storage

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Version uint64            `json:"version"`
	Days    map[string][]int  `json:"days"`
	Labels  map[string]string `json:"labels,omitempty"`
}

func TestSnapshotSaveLoad(t *testing.T) {
	dir := t.TempDir()
	snap, err := NewSnapshotFile(dir, "schedule.snap.zst")
	require.NoError(t, err)

	in := sample{Version: 3, Days: map[string][]int{"2025-01-06": {360, 410}}}
	require.NoError(t, snap.Save(in))

	var out sample
	require.NoError(t, snap.Load(&out))
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestSnapshotMissing(t *testing.T) {
	snap, err := NewSnapshotFile(t.TempDir(), "none.snap.zst")
	require.NoError(t, err)

	var out sample
	assert.ErrorIs(t, snap.Load(&out), ErrNoSnapshot)
}

func TestSnapshotOverwrite(t *testing.T) {
	snap, err := NewSnapshotFile(t.TempDir(), "s.snap.zst")
	require.NoError(t, err)

	require.NoError(t, snap.Save(sample{Version: 1}))
	require.NoError(t, snap.Save(sample{Version: 2}))

	var out sample
	require.NoError(t, snap.Load(&out))
	assert.Equal(t, uint64(2), out.Version)
}

func TestSnapshotCorrupt(t *testing.T) {
	dir := t.TempDir()
	snap, err := NewSnapshotFile(dir, "bad.snap.zst")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(snap.Path(), []byte("not zstd"), 0o644))

	var out sample
	assert.Error(t, snap.Load(&out))
}
