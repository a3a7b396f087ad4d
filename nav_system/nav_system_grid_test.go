package nav_system

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/detour"
	dtc "github.com/gorustyt/navtile/detour_tile_cache"
	"github.com/gorustyt/navtile/nav_octree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTileSize = 10

func testGrid() detour.NavMeshParams {
	return detour.NavMeshParams{TileWidth: testTileSize, TileHeight: testTileSize, MaxTiles: 64, MaxPolys: 1024}
}

func newGridGenerator(t *testing.T) *GridGenerator {
	t.Helper()
	comp, err := dtc.NewZstdCompressor()
	require.NoError(t, err)
	t.Cleanup(func() { _ = comp.Close() })
	return &GridGenerator{
		Grid:           testGrid(),
		CellsPerTile:   10,
		Areas:          detour.NewDefaultAreaTable(nil),
		Compressor:     comp,
		WalkableHeight: 2,
		WalkableRadius: 0.5,
		WalkableClimb:  0.5,
	}
}

func ground(min, max common.Vec3, mods ...detour.AreaModifier) nav_octree.Element {
	return nav_octree.Element{
		Owner:     uuid.New(),
		Bounds:    common.NewAABB(min, max),
		Geometry:  [][]byte{EncodeSlabs(Slab{Min: min, Max: max})},
		Modifiers: nav_octree.ModifierSet{Areas: mods},
	}
}

func decodeMesh(t *testing.T, data detour.TileData) *detour.NavMeshData {
	t.Helper()
	d, err := detour.DecodeNavMeshData(data.Mesh)
	require.NoError(t, err)
	return d
}

func countArea(d *detour.NavMeshData, area uint8) int {
	n := 0
	for i := range d.Polys {
		if d.Polys[i].GetType() == detour.DT_POLYTYPE_GROUND && d.Polys[i].GetArea() == area {
			n++
		}
	}
	return n
}

func TestSlabsEncoding(t *testing.T) {
	in := []Slab{{Min: common.Vec3{0, -1, 0}, Max: common.Vec3{4, 0, 4}}, {Min: common.Vec3{5, 1, 5}, Max: common.Vec3{2, 0, 2}}}
	out, err := DecodeSlabs(EncodeSlabs(in...))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, in[0], out[0])
	assert.Equal(t, Slab{Min: common.Vec3{2, 0, 2}, Max: common.Vec3{5, 1, 5}}, out[1], "corners normalized")

	_, err = DecodeSlabs([]byte("junkjunk"))
	assert.ErrorIs(t, err, detour.ErrWrongMagic)
	b := EncodeSlabs(in...)
	_, err = DecodeSlabs(b[:len(b)-4])
	assert.Error(t, err)
}

func TestGridGeneratorFlatTile(t *testing.T) {
	g := newGridGenerator(t)
	req := TileBuildRequest{
		Key:      detour.TileKey{X: 1},
		Seq:      7,
		Elements: []nav_octree.Element{ground(common.Vec3{0, -1, 0}, common.Vec3{30, 0, 10})},
	}
	res, err := g.Generate(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.Empty)
	assert.Equal(t, uint64(7), res.Seq)

	d := decodeMesh(t, res.Data)
	assert.Equal(t, detour.TileKey{X: 1}, d.Header.Key())
	assert.Equal(t, 100, countArea(d, detour.AREA_DEFAULT))
	assert.EqualValues(t, 11*11, d.Header.VertCount, "corners are shared")
	for i := range d.Polys {
		assert.Equal(t, detour.POLYFLAG_WALK, d.Polys[i].Flags)
	}

	layer, err := dtc.DecompressTileCacheLayer(g.Compressor, res.Data.Cache)
	require.NoError(t, err)
	assert.Equal(t, detour.TileKey{X: 1}, layer.Header.Key())
	assert.Equal(t, detour.AREA_DEFAULT, layer.CellArea(9, 9))
}

func TestGridGeneratorTilesConnect(t *testing.T) {
	g := newGridGenerator(t)
	elems := []nav_octree.Element{ground(common.Vec3{0, -1, 0}, common.Vec3{20, 0, 10})}
	mesh, err := detour.NewDtNavMesh(testGrid(), nil)
	require.NoError(t, err)
	for x := int32(0); x < 2; x++ {
		res, err := g.Generate(context.Background(), TileBuildRequest{Key: detour.TileKey{X: x}, Elements: elems})
		require.NoError(t, err)
		_, err = mesh.Attach(res.Data)
		require.NoError(t, err)
	}
	filter, err := detour.FilterFromAreaTable(g.Areas, 2048)
	require.NoError(t, err)
	res := detour.NewDtNavMeshQuery(mesh, 2048).FindPath(common.Vec3{1, 0, 5}, common.Vec3{19, 0, 5}, filter, false)
	require.Equal(t, detour.PathSuccess, res.Status)
	assert.InDelta(t, 18, detour.PathLength(res.Path.Waypoints), 1e-3, "straight across the border")
}

func TestGridGeneratorPartialCoverage(t *testing.T) {
	g := newGridGenerator(t)
	res, err := g.Generate(context.Background(), TileBuildRequest{
		Elements: []nav_octree.Element{ground(common.Vec3{0, -1, 0}, common.Vec3{4, 0, 10})},
	})
	require.NoError(t, err)
	assert.Equal(t, 40, countArea(decodeMesh(t, res.Data), detour.AREA_DEFAULT))
}

func TestGridGeneratorAreaModifiers(t *testing.T) {
	g := newGridGenerator(t)
	water, err := g.Areas.RegisterArea(detour.AreaDescriptor{Name: "Water", DefaultCost: 5, Flags: 0x10})
	require.NoError(t, err)

	elem := ground(common.Vec3{0, -1, 0}, common.Vec3{10, 0, 10},
		detour.AreaModifier{Bounds: common.NewAABB(common.Vec3{0, -1, 0}, common.Vec3{2.5, 1, 9.5}), Area: detour.AREA_NULL},
		detour.AreaModifier{Bounds: common.NewAABB(common.Vec3{6.5, -1, 0}, common.Vec3{9.5, 1, 9.5}), Area: water},
	)
	res, err := g.Generate(context.Background(), TileBuildRequest{Elements: []nav_octree.Element{elem}})
	require.NoError(t, err)
	d := decodeMesh(t, res.Data)
	assert.Equal(t, 30, countArea(d, detour.AREA_NULL), "null cells still get polys")
	assert.Equal(t, 40, countArea(d, water))
	assert.Equal(t, 30, countArea(d, detour.AREA_DEFAULT))
	for i := range d.Polys {
		switch d.Polys[i].GetArea() {
		case water:
			assert.Equal(t, uint16(0x10), d.Polys[i].Flags)
		default:
			assert.Equal(t, detour.POLYFLAG_WALK, d.Polys[i].Flags)
		}
	}
}

func TestGridGeneratorObstacles(t *testing.T) {
	g := newGridGenerator(t)
	elems := []nav_octree.Element{ground(common.Vec3{0, -1, 0}, common.Vec3{10, 0, 10})}
	wall := dtc.Obstacle{Type: dtc.DT_OBSTACLE_BOX, Box: dtc.DtObstacleBox{Bmin: common.Vec3{4, -1, -1}, Bmax: common.Vec3{5.5, 1, 11}}}

	res, err := g.Generate(context.Background(), TileBuildRequest{Elements: elems, Obstacles: []dtc.Obstacle{wall}})
	require.NoError(t, err)
	assert.Equal(t, 80, countArea(decodeMesh(t, res.Data), detour.AREA_DEFAULT))

	layer, err := dtc.DecompressTileCacheLayer(g.Compressor, res.Data.Cache)
	require.NoError(t, err)
	assert.Equal(t, detour.AREA_DEFAULT, layer.CellArea(4, 4), "cache layer is kept without obstacles")

	// rebuilt from the cache layer alone, as streamed tiles are
	res, err = g.Generate(context.Background(), TileBuildRequest{Cache: res.Data.Cache})
	require.NoError(t, err)
	assert.Equal(t, 100, countArea(decodeMesh(t, res.Data), detour.AREA_DEFAULT))

	cover := dtc.Obstacle{Type: dtc.DT_OBSTACLE_BOX, Box: dtc.DtObstacleBox{Bmin: common.Vec3{-1, -1, -1}, Bmax: common.Vec3{11, 1, 11}}}
	res, err = g.Generate(context.Background(), TileBuildRequest{Elements: elems, Obstacles: []dtc.Obstacle{cover}})
	require.NoError(t, err)
	assert.True(t, res.Empty)
	assert.Empty(t, res.Data.Mesh)
	assert.NotEmpty(t, res.Data.Cache)
}

func TestGridGeneratorOffMeshLinks(t *testing.T) {
	g := newGridGenerator(t)
	elem := ground(common.Vec3{0, -1, 0}, common.Vec3{10, 0, 10})
	elem.Modifiers.Links = []detour.OffMeshConParams{
		{Start: common.Vec3{2, 0, 2}, End: common.Vec3{8, 0, 8}, Rad: 0.5, Bidir: true},
		{Start: common.Vec3{12, 0, 2}, End: common.Vec3{8, 0, 8}, Rad: 0.5},
	}
	res, err := g.Generate(context.Background(), TileBuildRequest{Elements: []nav_octree.Element{elem}})
	require.NoError(t, err)
	d := decodeMesh(t, res.Data)
	require.Len(t, d.OffMeshCons, 1, "only links starting in the tile")
	assert.Equal(t, common.Vec3{2, 0, 2}, d.OffMeshCons[0].Pos[0])
}

func TestGridGeneratorEmptyAndErrors(t *testing.T) {
	g := newGridGenerator(t)
	res, err := g.Generate(context.Background(), TileBuildRequest{Key: detour.TileKey{X: 4}})
	require.NoError(t, err)
	assert.True(t, res.Empty)
	assert.Empty(t, res.Data.Cache)

	bad := nav_octree.Element{Geometry: [][]byte{[]byte("not slabs at all")}}
	_, err = g.Generate(context.Background(), TileBuildRequest{Elements: []nav_octree.Element{bad}})
	assert.ErrorIs(t, err, detour.ErrWrongMagic)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = g.Generate(ctx, TileBuildRequest{Elements: []nav_octree.Element{ground(common.Vec3{0, -1, 0}, common.Vec3{10, 0, 10})}})
	assert.ErrorIs(t, err, context.Canceled)

	g.CellsPerTile = 0
	_, err = g.Generate(context.Background(), TileBuildRequest{})
	assert.ErrorIs(t, err, detour.ErrConfig)
}
