package detour_path

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/detour"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tileSize = 10

// quadTile covers tile (x, 0) with 2x2 square polys.
func quadTile(t *testing.T, x int32) detour.TileData {
	t.Helper()
	x0 := float32(x) * tileSize
	p := &detour.NavMeshCreateParams{
		TileX:          x,
		Bmin:           common.Vec3{x0, 0, 0},
		Bmax:           common.Vec3{x0 + tileSize, 1, tileSize},
		WalkableHeight: 2,
		WalkableRadius: 0.5,
		WalkableClimb:  0.5,
	}
	const n = 2
	cell := float32(tileSize) / n
	for i := 0; i <= n; i++ {
		for j := 0; j <= n; j++ {
			p.Verts = append(p.Verts, common.Vec3{x0 + float32(i)*cell, 0, float32(j) * cell})
		}
	}
	vi := func(i, j int) uint16 { return uint16(i*(n+1) + j) }
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p.Polys = append(p.Polys, []uint16{vi(i, j), vi(i, j+1), vi(i+1, j+1), vi(i+1, j)})
		}
	}
	blob, err := detour.CreateNavMeshData(p)
	require.NoError(t, err)
	return detour.TileData{Mesh: blob}
}

type fixture struct {
	mesh   *detour.DtNavMesh
	query  *detour.DtNavMeshQuery
	filter *detour.DtQueryFilter
	reg    *Registry
}

func newFixture(t *testing.T, tiles ...int32) *fixture {
	t.Helper()
	mesh, err := detour.NewDtNavMesh(detour.NavMeshParams{TileWidth: tileSize, TileHeight: tileSize, MaxTiles: 16, MaxPolys: 64}, nil)
	require.NoError(t, err)
	for _, x := range tiles {
		_, err := mesh.Attach(quadTile(t, x))
		require.NoError(t, err)
	}
	filter, err := detour.NewDtQueryFilter()
	require.NoError(t, err)
	reg := NewRegistry(mesh, nil)
	reg.SetClock(func() time.Time { return time.Unix(1000, 0) })
	return &fixture{mesh: mesh, query: detour.NewDtNavMeshQuery(mesh, 512), filter: filter, reg: reg}
}

type owner struct{ alive bool }

func (o *owner) Alive() bool { return o.alive }

func (f *fixture) path(t *testing.T, o Owner) *NavPath {
	t.Helper()
	req := Request{Start: common.Vec3{2, 0, 5}, End: common.Vec3{25, 0, 5}, Filter: f.filter, Owner: o}
	res := f.query.FindPath(req.Start, req.End, req.Filter, false)
	require.Equal(t, detour.PathSuccess, res.Status)
	p := NewNavPath(req, res, time.Unix(0, 0))
	require.Equal(t, PathReady, p.State())
	return p
}

func key(x int32) detour.TileKey { return detour.TileKey{X: x} }

func TestRegisterIndexesCorridorTiles(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	p := f.path(t, nil)
	require.NoError(t, f.reg.Register(p))

	assert.True(t, f.reg.IsRegistered(p.ID))
	for x := int32(0); x < 3; x++ {
		assert.Equal(t, 1, f.reg.PathsOnTile(key(x)), "tile %d", x)
	}
	assert.Zero(t, f.reg.PathsOnTile(key(3)))

	// registering again replaces the index entries
	require.NoError(t, f.reg.Register(p))
	assert.Equal(t, 1, f.reg.PathsOnTile(key(1)))
	assert.Equal(t, 1, f.reg.Stats().Active)
}

func TestRegisterRejects(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	p := f.path(t, nil)
	_, ok := f.mesh.Detach(1, 0, 0)
	require.True(t, ok)
	assert.ErrorIs(t, f.reg.Register(p), detour.ErrStaleReference)

	failed := NewNavPath(Request{}, detour.PathResult{Status: detour.PathFail}, time.Now())
	assert.Equal(t, PathFailed, failed.State())
	assert.ErrorIs(t, f.reg.Register(failed), detour.ErrInvalidParam)
}

func TestTileChangeInvalidatesOnce(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	o := &owner{alive: true}
	p := f.path(t, o)
	require.NoError(t, f.reg.Register(p))

	assert.Zero(t, f.reg.OnTilesChanged([]detour.TileKey{key(7)}))
	assert.Equal(t, PathReady, p.State())

	assert.Equal(t, 1, f.reg.OnTilesChanged([]detour.TileKey{key(1), key(2)}))
	assert.Equal(t, PathInvalid, p.State())
	assert.False(t, f.reg.IsRegistered(p.ID))
	assert.True(t, f.reg.IsQueued(p.ID))

	assert.Zero(t, f.reg.OnTilesChanged([]detour.TileKey{key(1)}))
	assert.Zero(t, f.reg.OnTilesChanged([]detour.TileKey{key(0)}))
	s := f.reg.Stats()
	assert.Equal(t, uint64(1), s.Invalidated)
	assert.Equal(t, 1, s.Queued)

	n, err := f.reg.ProcessRepaths(context.Background(), f.query, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, PathReady, p.State())
	assert.Equal(t, uint32(2), p.Generation())
	assert.Equal(t, time.Unix(1000, 0), p.Timestamp())
	assert.True(t, f.reg.IsRegistered(p.ID))
	assert.Equal(t, uint64(1), f.reg.Stats().Repathed)
}

func TestDetachEventInvalidates(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	cancel := f.mesh.Subscribe(f.reg.OnTileEvent)
	defer cancel()
	p := f.path(t, nil)
	require.NoError(t, f.reg.Register(p))

	_, ok := f.mesh.Detach(1, 0, 0)
	require.True(t, ok)
	assert.Equal(t, PathInvalid, p.State())
	assert.False(t, p.IsValid(f.mesh, f.filter, 0))
	assert.Less(t, p.ValidPrefix(f.mesh, f.filter), len(p.Corridor()))

	// the gap cannot be crossed: the repath fails for good
	n, err := f.reg.ProcessRepaths(context.Background(), f.query, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, PathFailed, p.State())
	assert.Empty(t, p.Corridor())
	assert.False(t, f.reg.IsRegistered(p.ID))
	assert.Equal(t, uint64(1), f.reg.Stats().Failed)

	_, err = f.mesh.Attach(quadTile(t, 1))
	require.NoError(t, err)
	assert.Equal(t, PathFailed, p.State())
	assert.Zero(t, f.reg.Stats().Queued)
}

func TestDeadOwnerDiscarded(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	o := &owner{alive: true}
	p := f.path(t, o)
	require.NoError(t, f.reg.Register(p))

	o.alive = false
	assert.Zero(t, f.reg.OnTilesChanged([]detour.TileKey{key(0)}))
	assert.False(t, f.reg.IsQueued(p.ID))
	assert.Equal(t, uint64(1), f.reg.Stats().Discarded)

	// owner dies while queued
	o2 := &owner{alive: true}
	p2 := f.path(t, o2)
	require.NoError(t, f.reg.Register(p2))
	require.Equal(t, 1, f.reg.OnTilesChanged([]detour.TileKey{key(0)}))
	o2.alive = false
	n, err := f.reg.ProcessRepaths(context.Background(), f.query, 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, PathInvalid, p2.State())
}

//go:noinline
func registerAbandoned(t *testing.T, f *fixture) uuid.UUID {
	p := f.path(t, nil)
	require.NoError(t, f.reg.Register(p))
	return p.ID
}

func TestCollectedPathsPruned(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	id := registerAbandoned(t, f)
	require.True(t, f.reg.IsRegistered(id))

	runtime.GC()
	runtime.GC()
	assert.Equal(t, 1, f.reg.Prune())
	assert.False(t, f.reg.IsRegistered(id))
	assert.Zero(t, f.reg.PathsOnTile(key(1)))
}

func TestProcessRepathsLimits(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	paths := make([]*NavPath, 3)
	for i := range paths {
		paths[i] = f.path(t, nil)
		require.NoError(t, f.reg.Register(paths[i]))
	}
	require.Equal(t, 3, f.reg.OnTilesChanged([]detour.TileKey{key(2)}))

	n, err := f.reg.ProcessRepaths(context.Background(), f.query, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, f.reg.Stats().Queued)
	assert.Equal(t, PathReady, paths[0].State(), "repaths run in registration order")
	assert.Equal(t, PathReady, paths[1].State())
	assert.True(t, f.reg.IsQueued(paths[2].ID))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err = f.reg.ProcessRepaths(ctx, f.query, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)
	assert.Equal(t, PathInvalid, paths[2].State())
}

func TestUnregister(t *testing.T) {
	f := newFixture(t, 0, 1, 2)
	p := f.path(t, nil)
	require.NoError(t, f.reg.Register(p))
	assert.True(t, f.reg.Unregister(p.ID))
	assert.False(t, f.reg.Unregister(p.ID))
	assert.Zero(t, f.reg.OnTilesChanged([]detour.TileKey{key(1)}))
	assert.Equal(t, PathReady, p.State())
}

func TestTileIndex(t *testing.T) {
	idx := newTileIndex(4)
	a, b := uuid.New(), uuid.New()
	idx.add(a, []detour.TileKey{key(0), key(1)})
	idx.add(b, []detour.TileKey{key(1), {X: 1, Layer: 1}})

	assert.ElementsMatch(t, []uuid.UUID{a, b}, idx.query(key(1), nil))
	assert.Equal(t, []uuid.UUID{a}, idx.query(key(1), []uuid.UUID{a})[:1])
	assert.Len(t, idx.query(key(1), []uuid.UUID{a}), 2, "no duplicates")
	assert.Equal(t, []uuid.UUID{b}, idx.query(detour.TileKey{X: 1, Layer: 1}, nil))

	idx.remove(a, []detour.TileKey{key(0), key(1)})
	assert.Equal(t, 2, idx.size)
	assert.Empty(t, idx.query(key(0), nil))
	assert.Equal(t, []uuid.UUID{b}, idx.query(key(1), nil))

	pool := len(idx.pool)
	idx.add(a, []detour.TileKey{key(5)})
	assert.Equal(t, pool, len(idx.pool), "free items reused")
	assert.Equal(t, 1, idx.countAt(key(5)))
}
