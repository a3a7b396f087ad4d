package detour

import (
	"testing"

	"github.com/gorustyt/navtile/common"
	"github.com/stretchr/testify/require"
)

const testTileSize = 10

func testParams() NavMeshParams {
	return NavMeshParams{TileWidth: testTileSize, TileHeight: testTileSize, MaxTiles: 16, MaxPolys: 256}
}

type tileOpt func(*NavMeshCreateParams)

func withArea(area uint8) tileOpt {
	return func(p *NavMeshCreateParams) {
		for i := range p.PolyAreas {
			p.PolyAreas[i] = area
		}
	}
}

func withFlags(flags uint16) tileOpt {
	return func(p *NavMeshCreateParams) {
		for i := range p.PolyFlags {
			p.PolyFlags[i] = flags
		}
	}
}

func withLayer(layer uint8) tileOpt {
	return func(p *NavMeshCreateParams) { p.TileLayer = layer }
}

func withOffMesh(c OffMeshConParams) tileOpt {
	return func(p *NavMeshCreateParams) { p.OffMeshCons = append(p.OffMeshCons, c) }
}

// gridParams covers tile (x, y) with n by n square polys at height 0.
func gridParams(x, y int32, n int, opts ...tileOpt) *NavMeshCreateParams {
	cell := float32(testTileSize) / float32(n)
	x0 := float32(x) * testTileSize
	z0 := float32(y) * testTileSize
	p := &NavMeshCreateParams{
		TileX:          x,
		TileY:          y,
		Bmin:           common.Vec3{x0, 0, z0},
		Bmax:           common.Vec3{x0 + testTileSize, 1, z0 + testTileSize},
		WalkableHeight: 2,
		WalkableRadius: 0.5,
		WalkableClimb:  0.5,
	}
	vi := func(i, j int) uint16 { return uint16(i*(n+1) + j) }
	for i := 0; i <= n; i++ {
		for j := 0; j <= n; j++ {
			p.Verts = append(p.Verts, common.Vec3{x0 + float32(i)*cell, 0, z0 + float32(j)*cell})
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p.Polys = append(p.Polys, []uint16{vi(i, j), vi(i, j+1), vi(i+1, j+1), vi(i+1, j)})
			p.PolyAreas = append(p.PolyAreas, AREA_DEFAULT)
			p.PolyFlags = append(p.PolyFlags, POLYFLAG_WALK)
		}
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func gridTile(t testing.TB, x, y int32, n int, opts ...tileOpt) TileData {
	t.Helper()
	blob, err := CreateNavMeshData(gridParams(x, y, n, opts...))
	require.NoError(t, err)
	return TileData{Mesh: blob}
}

func newTestMesh(t testing.TB, tiles ...TileData) *DtNavMesh {
	t.Helper()
	mesh, err := NewDtNavMesh(testParams(), nil)
	require.NoError(t, err)
	for _, td := range tiles {
		_, err := mesh.Attach(td)
		require.NoError(t, err)
	}
	return mesh
}

func defaultTestFilter(t testing.TB, opts ...FilterOption) *DtQueryFilter {
	t.Helper()
	f, err := NewDtQueryFilter(opts...)
	require.NoError(t, err)
	return f
}

// withoutPolys removes grid cells by poly index (i*n + j for cell i along x,
// j along z).
func withoutPolys(idx ...int) tileOpt {
	return func(p *NavMeshCreateParams) {
		drop := make(map[int]bool, len(idx))
		for _, i := range idx {
			drop[i] = true
		}
		var polys [][]uint16
		var areas []uint8
		var flags []uint16
		for i := range p.Polys {
			if drop[i] {
				continue
			}
			polys = append(polys, p.Polys[i])
			areas = append(areas, p.PolyAreas[i])
			flags = append(flags, p.PolyFlags[i])
		}
		p.Polys, p.PolyAreas, p.PolyFlags = polys, areas, flags
	}
}
