package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorustyt/navtile/detour"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, time.Second, c.Tiles.UpdateInterval)
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
navmesh:
  origin: [0, 0, -100]
  tile_size: 16
tiles:
  update_interval: 250ms
  add_radius: 20
  remove_radius: 30
areas:
  - name: Water
    cost: 4
    fixed_cost: 1
    flags: 1
`))
	require.NoError(t, err)
	assert.EqualValues(t, 16, c.NavMesh.TileSize)
	assert.EqualValues(t, 1024, c.NavMesh.MaxTiles, "defaults kept")
	assert.Equal(t, 250*time.Millisecond, c.Tiles.UpdateInterval)
	require.Len(t, c.Areas, 1)

	p := c.NavMeshParams()
	assert.EqualValues(t, -100, p.Orig[2])
	require.NoError(t, p.Validate())
}

func TestValidateReportsFields(t *testing.T) {
	_, err := Parse([]byte(`
navmesh:
  tile_size: 0
query:
  max_search_nodes: 0
tiles:
  add_radius: 50
  remove_radius: 40
areas:
  - name: ""
    cost: -1
`))
	require.Error(t, err)
	assert.ErrorIs(t, err, detour.ErrConfig)

	fields := map[string]bool{}
	for _, e := range multierr.Errors(err) {
		var cerr *detour.ConfigError
		require.True(t, errors.As(e, &cerr))
		fields[cerr.Field] = true
	}
	assert.True(t, fields["navmesh.tile_size"])
	assert.True(t, fields["query.max_search_nodes"])
	assert.True(t, fields["tiles.remove_radius"])
	assert.True(t, fields["areas[0].name"])
	assert.True(t, fields["areas[0].cost"])
}

func TestValidateDuplicateAreas(t *testing.T) {
	c := Default()
	c.Areas = []AreaConfig{{Name: "Mud", Cost: 2}, {Name: "Mud", Cost: 3}}
	err := c.Validate()
	assert.ErrorIs(t, err, detour.ErrConfig)
	assert.ErrorContains(t, err, `duplicate area "Mud"`)

	// alongside a field error both are reported
	c.Query.MaxSearchNodes = 0
	assert.Len(t, multierr.Errors(c.Validate()), 2)
}

func TestApplyAreasAndFilter(t *testing.T) {
	c := Default()
	c.Areas = []AreaConfig{{Name: "Water", Cost: 4, FixedCost: 1}, {Name: "Default", Cost: 2}}
	table := detour.NewDefaultAreaTable(nil)
	ids, err := c.ApplyAreas(table)
	require.NoError(t, err)
	assert.EqualValues(t, 3, ids["Water"])
	assert.Equal(t, detour.AREA_DEFAULT, ids["Default"])

	f, err := c.Filter(table)
	require.NoError(t, err)
	assert.EqualValues(t, 4, f.GetAreaCost(ids["Water"]))
	assert.EqualValues(t, 2, f.GetAreaCost(detour.AREA_DEFAULT))
	assert.Equal(t, c.Query.MaxSearchNodes, f.GetMaxSearchNodes())
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nav.yaml")
	require.NoError(t, os.WriteFile(path, []byte("navmesh:\n  tile_size: 16\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var tileSize atomic.Value
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(c Config) { tileSize.Store(c.NavMesh.TileSize) })
	}()

	// Give the watcher time to register before changing the file.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("navmesh:\n  tile_size: 0\n"), 0o644))
	time.Sleep(300 * time.Millisecond)
	assert.Nil(t, tileSize.Load(), "invalid file is skipped")

	require.NoError(t, os.WriteFile(path, []byte("navmesh:\n  tile_size: 24\n"), 0o644))
	require.Eventually(t, func() bool {
		v, _ := tileSize.Load().(float32)
		return v == 24
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
