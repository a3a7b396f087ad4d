package nav_system

import (
	"bytes"
	"context"
	"fmt"
	"math"

	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/common/rw"
	"github.com/gorustyt/navtile/detour"
	dtc "github.com/gorustyt/navtile/detour_tile_cache"
)

const slabMagic = 'S'<<24 | 'L'<<16 | 'A'<<8 | 'B'

// Slab is a walkable box. Its top face is ground.
type Slab struct {
	Min, Max common.Vec3
}

// EncodeSlabs packs slabs into the geometry blob stored by the octree.
func EncodeSlabs(slabs ...Slab) []byte {
	var buf bytes.Buffer
	w := rw.NewWriter(&buf)
	w.WriteUInt32(slabMagic)
	w.WriteUInt32(uint32(len(slabs)))
	for _, s := range slabs {
		w.WriteFloat32s(s.Min[:])
		w.WriteFloat32s(s.Max[:])
	}
	return buf.Bytes()
}

func DecodeSlabs(b []byte) ([]Slab, error) {
	r := rw.NewNavMeshDataBinReader(b)
	if m := r.ReadUInt32(); r.Err() == nil && m != slabMagic {
		return nil, fmt.Errorf("%w: geometry magic %#x", detour.ErrWrongMagic, m)
	}
	n := r.ReadUInt32()
	if r.Err() == nil && int(n) > len(b)/24 {
		return nil, fmt.Errorf("%w: %d slabs in %d bytes", detour.ErrInvalidParam, n, len(b))
	}
	slabs := make([]Slab, 0, n)
	for i := uint32(0); i < n && r.Err() == nil; i++ {
		var s Slab
		r.ReadFloat32s(s.Min[:])
		r.ReadFloat32s(s.Max[:])
		bb := common.NewAABB(s.Min, s.Max)
		slabs = append(slabs, Slab{Min: bb.Min, Max: bb.Max})
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return slabs, nil
}

// GridGenerator builds tiles from slab geometry on a regular cell grid: one
// square poly per walkable cell. Area modifiers are stamped into the cell grid,
// which is kept as the tile's compressed cache layer; obstacles are stamped on
// top before polys are emitted. A request without geometry but with a cache
// layer is rebuilt from that layer.
type GridGenerator struct {
	Grid         detour.NavMeshParams
	CellsPerTile int
	Areas        *detour.DtAreaTable
	Compressor   dtc.DtTileCacheCompressor

	WalkableHeight float32
	WalkableRadius float32
	WalkableClimb  float32
}

func (g *GridGenerator) validate() error {
	if g.CellsPerTile <= 0 || g.CellsPerTile > math.MaxUint8 {
		return &detour.ConfigError{Field: "cells_per_tile", Reason: "must be in [1,255]"}
	}
	if g.Areas == nil || g.Compressor == nil {
		return fmt.Errorf("%w: grid generator needs an area table and a compressor", detour.ErrInvalidParam)
	}
	return nil
}

func (g *GridGenerator) Generate(ctx context.Context, req TileBuildRequest) (TileBuildResult, error) {
	res := TileBuildResult{Key: req.Key, Seq: req.Seq}
	if err := g.validate(); err != nil {
		return res, err
	}
	var (
		slabs []Slab
		mods  []detour.AreaModifier
		links []detour.OffMeshConParams
	)
	for i := range req.Elements {
		e := &req.Elements[i]
		for _, blob := range e.Geometry {
			s, err := DecodeSlabs(blob)
			if err != nil {
				return res, fmt.Errorf("element %v: %w", e.ID, err)
			}
			slabs = append(slabs, s...)
		}
		mods = append(mods, e.Modifiers.Areas...)
		links = append(links, e.Modifiers.Links...)
	}
	var (
		layer *dtc.DtTileCacheLayer
		cache []byte
		err   error
	)
	switch {
	case len(slabs) > 0:
		layer = g.rasterize(req.Key, slabs)
		g.Areas.SortModifiersForGenerator(mods)
		for _, m := range mods {
			dtc.DtMarkAreaModifier(layer, m)
		}
		_, ch := layer.Header.CellSize()
		climb := uint8(common.Clamp(math.Floor(float64(g.WalkableClimb/ch)), 0, 255))
		if cache, err = layer.Compress(g.Compressor, climb); err != nil {
			return res, err
		}
	case len(req.Cache) > 0:
		if layer, err = dtc.DecompressTileCacheLayer(g.Compressor, req.Cache); err != nil {
			return res, fmt.Errorf("tile %v: %w", req.Key, err)
		}
		cache = req.Cache
	default:
		res.Empty = true
		return res, nil
	}
	// The cache keeps the layer without obstacles so removing one restores
	// the cells it covered.
	for i := range req.Obstacles {
		req.Obstacles[i].Mark(layer, dtc.DT_TILECACHE_NULL_AREA)
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	params := g.meshParams(layer, links)
	if len(params.Polys) == 0 {
		res.Empty = true
		res.Data.Cache = cache
		return res, nil
	}
	mesh, err := detour.CreateNavMeshData(params)
	if err != nil {
		return res, fmt.Errorf("tile %v: %w", req.Key, err)
	}
	res.Data = detour.TileData{Mesh: mesh, Cache: cache}
	return res, nil
}

// rasterize marks every cell whose center lies under a slab as walkable, at
// the height of the highest such slab.
func (g *GridGenerator) rasterize(key detour.TileKey, slabs []Slab) *dtc.DtTileCacheLayer {
	tb := g.Grid.TileBounds(key.X, key.Y)
	miny, maxy := float32(math.MaxFloat32), float32(-math.MaxFloat32)
	for _, s := range slabs {
		miny = min(miny, s.Max[1])
		maxy = max(maxy, s.Max[1])
	}
	n := uint8(g.CellsPerTile)
	bmin := common.Vec3{tb.Min[0], miny, tb.Min[2]}
	bmax := common.Vec3{tb.Max[0], max(maxy, miny+1), tb.Max[2]}
	layer := dtc.NewDtTileCacheLayer(key, bmin, bmax, n, n, dtc.DT_TILECACHE_NULL_AREA)
	cs, _ := layer.Header.CellSize()
	for z := 0; z < int(n); z++ {
		for x := 0; x < int(n); x++ {
			cx := bmin[0] + (float32(x)+0.5)*cs
			cz := bmin[2] + (float32(z)+0.5)*cs
			top, found := float32(0), false
			for _, s := range slabs {
				if cx < s.Min[0] || cx > s.Max[0] || cz < s.Min[2] || cz > s.Max[2] {
					continue
				}
				if !found || s.Max[1] > top {
					top, found = s.Max[1], true
				}
			}
			if !found {
				continue
			}
			layer.SetHeight(x, z, top)
			layer.Areas[x+z*int(n)] = detour.AREA_DEFAULT
		}
	}
	return layer
}

// meshParams emits one quad per walkable cell. Corners are shared between
// neighbouring cells and take the height of the highest cell touching them.
func (g *GridGenerator) meshParams(layer *dtc.DtTileCacheLayer, links []detour.OffMeshConParams) *detour.NavMeshCreateParams {
	h := layer.Header
	n := int(h.Width)
	walkable := func(x, z int) bool {
		return x >= 0 && z >= 0 && x < n && z < n && layer.CellArea(x, z) != dtc.DT_TILECACHE_NULL_AREA
	}
	p := &detour.NavMeshCreateParams{
		TileX:          h.Tx,
		TileY:          h.Ty,
		TileLayer:      h.Tlayer,
		Bmin:           h.Bmin,
		Bmax:           h.Bmax,
		WalkableHeight: g.WalkableHeight,
		WalkableRadius: g.WalkableRadius,
		WalkableClimb:  g.WalkableClimb,
	}
	cs, _ := h.CellSize()
	corner := make(map[int]uint16)
	vert := func(x, z int) uint16 {
		id := x + z*(n+1)
		if v, ok := corner[id]; ok {
			return v
		}
		y := float32(-math.MaxFloat32)
		for _, c := range [4][2]int{{x - 1, z - 1}, {x, z - 1}, {x - 1, z}, {x, z}} {
			if walkable(c[0], c[1]) {
				y = max(y, layer.CellCorner(c[0], c[1])[1])
			}
		}
		v := uint16(len(p.Verts))
		p.Verts = append(p.Verts, common.Vec3{h.Bmin[0] + float32(x)*cs, y, h.Bmin[2] + float32(z)*cs})
		corner[id] = v
		return v
	}
	for z := 0; z < n; z++ {
		for x := 0; x < n; x++ {
			if !walkable(x, z) {
				continue
			}
			area := layer.CellArea(x, z)
			p.Polys = append(p.Polys, []uint16{vert(x, z), vert(x, z+1), vert(x+1, z+1), vert(x+1, z)})
			p.PolyAreas = append(p.PolyAreas, area)
			p.PolyFlags = append(p.PolyFlags, g.polyFlags(area))
		}
	}
	if len(p.Polys) == 0 {
		return p
	}
	for _, l := range links {
		if l.Start[0] < h.Bmin[0] || l.Start[0] >= h.Bmax[0] || l.Start[2] < h.Bmin[2] || l.Start[2] >= h.Bmax[2] {
			continue
		}
		if l.Flags == 0 {
			l.Flags = g.polyFlags(l.Area)
		}
		p.OffMeshCons = append(p.OffMeshCons, l)
	}
	return p
}

// polyFlags are the area's flags, or walk when the area defines none, so
// every emitted poly passes the default include mask.
func (g *GridGenerator) polyFlags(area uint8) uint16 {
	if d, ok := g.Areas.Area(area); ok && d.Flags != 0 {
		return d.Flags
	}
	return detour.POLYFLAG_WALK
}

var _ TileGenerator = (*GridGenerator)(nil)
