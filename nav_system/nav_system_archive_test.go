package nav_system

import (
	"testing"

	"github.com/gorustyt/navtile/config"
	"github.com/gorustyt/navtile/detour"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestArchive(t *testing.T) *TileArchive {
	t.Helper()
	a, err := OpenArchive(config.ArchiveConfig{InMemory: true}, nil)
	require.NoError(t, err)
	require.NotNil(t, a)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestArchiveDisabled(t *testing.T) {
	a, err := OpenArchive(config.ArchiveConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestArchivePutGet(t *testing.T) {
	a := openTestArchive(t)
	k := detour.TileKey{X: -3, Y: 7, Layer: 1}

	_, ok, err := a.Get(k)
	require.NoError(t, err)
	assert.False(t, ok)

	want := detour.TileData{Mesh: []byte("mesh"), Cache: []byte("layer")}
	require.NoError(t, a.Put(k, want))
	got, ok, err := a.Get(k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, a.Put(k, detour.TileData{Mesh: []byte("newer")}))
	got, _, err = a.Get(k)
	require.NoError(t, err)
	assert.Equal(t, []byte("newer"), got.Mesh)
	assert.Empty(t, got.Cache)

	require.NoError(t, a.Delete(k))
	_, ok, err = a.Get(k)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArchiveKeysSorted(t *testing.T) {
	a := openTestArchive(t)
	keys := []detour.TileKey{{X: 2}, {X: -1, Y: 5}, {X: -1, Y: -5}, {X: 0, Layer: 2}, {X: 0}}
	for _, k := range keys {
		require.NoError(t, a.Put(k, detour.TileData{Mesh: []byte{1}}))
	}
	got, err := a.Keys()
	require.NoError(t, err)
	assert.Equal(t, []detour.TileKey{{X: -1, Y: -5}, {X: -1, Y: 5}, {X: 0}, {X: 0, Layer: 2}, {X: 2}}, got)
}

func TestArchiveKeyRoundTrip(t *testing.T) {
	for _, k := range []detour.TileKey{{}, {X: -2147483648, Y: 2147483647, Layer: 255}, {X: 12, Y: -40}} {
		got, ok := parseArchiveKey(archiveKey(k))
		require.True(t, ok)
		assert.Equal(t, k, got)
	}
	_, ok := parseArchiveKey([]byte("tile/short"))
	assert.False(t, ok)
}

func TestArchiveRejectsTruncatedRecord(t *testing.T) {
	b, err := encodeTileData(detour.TileData{Mesh: []byte("mesh"), Cache: []byte("cache")})
	require.NoError(t, err)
	_, err = decodeTileData(b[:len(b)-2])
	assert.Error(t, err)
}
