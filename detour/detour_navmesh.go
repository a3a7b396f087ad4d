package detour

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/gorustyt/navtile/common"
	"go.uber.org/zap"
)

type TileEventType uint8

const (
	TileAttached TileEventType = iota
	TileDetached
)

func (t TileEventType) String() string {
	if t == TileAttached {
		return "attached"
	}
	return "detached"
}

// TileEvent is emitted after a tile was attached or detached.
type TileEvent struct {
	Type TileEventType
	Key  TileKey
	Ref  DtTileRef
}

type columnKey struct{ x, y int32 }

// DtNavMesh owns the resident tiles. Attach and Detach must come from a single
// owning goroutine; queries may run from any goroutine inside a batch scope.
type DtNavMesh struct {
	m_params NavMeshParams
	logger   *zap.Logger
	gate     *batchGate

	m_tiles     []*DtMeshTile ///< Slots, indexed by DtTileRef.Index.
	m_salts     []uint32      ///< Salt of the last occupant of each slot.
	m_nextFree  []int32       ///< Free slots, reused last in first out.
	m_posLookup map[TileKey]int32
	m_columns   map[columnKey][]int32

	evMu         sync.Mutex
	listeners    map[int]func(TileEvent)
	nextListener int

	dirtyMu      sync.Mutex
	needsRebuild bool
	rebuildKeys  []TileKey
}

func NewDtNavMesh(params NavMeshParams, logger *zap.Logger) (*DtNavMesh, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	mesh := &DtNavMesh{
		m_params:    params,
		logger:      logger.Named("navmesh"),
		gate:        newBatchGate(),
		m_tiles:     make([]*DtMeshTile, params.MaxTiles),
		m_salts:     make([]uint32, params.MaxTiles),
		m_nextFree:  make([]int32, 0, params.MaxTiles),
		m_posLookup: make(map[TileKey]int32),
		m_columns:   make(map[columnKey][]int32),
		listeners:   make(map[int]func(TileEvent)),
	}
	for i := params.MaxTiles - 1; i >= 0; i-- {
		mesh.m_nextFree = append(mesh.m_nextFree, i)
	}
	return mesh, nil
}

func (mesh *DtNavMesh) GetParams() NavMeshParams { return mesh.m_params }

// BeginBatchQuery opens a read scope. Attach and Detach wait until every
// scope is finished. Scopes nest.
func (mesh *DtNavMesh) BeginBatchQuery() { mesh.gate.beginRead() }

func (mesh *DtNavMesh) FinishBatchQuery() { mesh.gate.endRead() }

// ActiveBatchQueries is the number of open read scopes.
func (mesh *DtNavMesh) ActiveBatchQueries() int { return mesh.gate.activeReaders() }

// Subscribe registers fn for tile events and returns a function removing it.
// Events are delivered on the goroutine that mutated the mesh.
func (mesh *DtNavMesh) Subscribe(fn func(TileEvent)) (cancel func()) {
	mesh.evMu.Lock()
	id := mesh.nextListener
	mesh.nextListener++
	mesh.listeners[id] = fn
	mesh.evMu.Unlock()
	return func() {
		mesh.evMu.Lock()
		delete(mesh.listeners, id)
		mesh.evMu.Unlock()
	}
}

func (mesh *DtNavMesh) emit(ev TileEvent) {
	mesh.evMu.Lock()
	ids := make([]int, 0, len(mesh.listeners))
	for id := range mesh.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(TileEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, mesh.listeners[id])
	}
	mesh.evMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Attach adds a tile built by CreateNavMeshData. The key comes from the blob
// header; an occupied key fails with ErrSlotOccupied and leaves the resident
// tile untouched.
func (mesh *DtNavMesh) Attach(data TileData) (DtTileRef, error) {
	nav, err := DecodeNavMeshData(data.Mesh)
	if err != nil {
		key, _ := data.Key()
		return 0, &AttachError{Key: key, Err: err}
	}
	key := nav.Header.Key()
	if nav.Header.PolyCount > mesh.m_params.MaxPolys {
		return 0, &AttachError{Key: key, Err: fmt.Errorf("%w: %d polys, limit %d", ErrInvalidParam, nav.Header.PolyCount, mesh.m_params.MaxPolys)}
	}

	mesh.gate.beginWrite()
	if _, ok := mesh.m_posLookup[key]; ok {
		mesh.gate.endWrite()
		return 0, &AttachError{Key: key, Err: ErrSlotOccupied}
	}
	if len(mesh.m_nextFree) == 0 {
		mesh.gate.endWrite()
		return 0, &AttachError{Key: key, Err: fmt.Errorf("%w: all %d tile slots in use", ErrInvalidParam, mesh.m_params.MaxTiles)}
	}
	slot := mesh.m_nextFree[len(mesh.m_nextFree)-1]
	mesh.m_nextFree = mesh.m_nextFree[:len(mesh.m_nextFree)-1]

	salt := mesh.m_salts[slot] + 1
	if salt >= 1<<DT_SALT_BITS {
		salt = 1
	}
	mesh.m_salts[slot] = salt

	tile := &DtMeshTile{
		salt:        salt,
		Header:      nav.Header,
		Polys:       nav.Polys,
		Verts:       nav.Verts,
		OffMeshCons: nav.OffMeshCons,
		Links:       make([][]DtLink, len(nav.Polys)),
		Data:        &data,
		ref:         EncodeTileRef(salt, uint32(slot)),
	}
	mesh.m_tiles[slot] = tile
	mesh.m_posLookup[key] = slot
	col := columnKey{key.X, key.Y}
	mesh.m_columns[col] = append(mesh.m_columns[col], slot)

	mesh.connectIntLinks(tile)
	mesh.baseOffMeshLinks(tile)
	for side := 0; side < 8; side += 2 {
		for _, nei := range mesh.getNeighbourTilesAt(key.X, key.Y, side) {
			mesh.connectExtLinks(tile, nei, side)
			mesh.connectExtLinks(nei, tile, dtOppositeTile(side))
		}
	}
	mesh.gate.endWrite()

	mesh.logger.Debug("tile attached",
		zap.Stringer("key", key),
		zap.Uint32("ref", uint32(tile.ref)),
		zap.Int32("polys", nav.Header.PolyCount))
	mesh.emit(TileEvent{Type: TileAttached, Key: key, Ref: tile.ref})
	return tile.ref, nil
}

// Detach removes the tile at the key and hands its bytes back to the caller.
func (mesh *DtNavMesh) Detach(x, y int32, layer uint8) (*TileData, bool) {
	key := TileKey{X: x, Y: y, Layer: layer}
	mesh.gate.beginWrite()
	slot, ok := mesh.m_posLookup[key]
	if !ok {
		mesh.gate.endWrite()
		return nil, false
	}
	tile := mesh.m_tiles[slot]
	for side := 0; side < 8; side += 2 {
		for _, nei := range mesh.getNeighbourTilesAt(x, y, side) {
			mesh.unconnectLinks(nei, tile.ref)
		}
	}
	delete(mesh.m_posLookup, key)
	col := columnKey{x, y}
	mesh.m_columns[col] = slices.DeleteFunc(mesh.m_columns[col], func(s int32) bool { return s == slot })
	if len(mesh.m_columns[col]) == 0 {
		delete(mesh.m_columns, col)
	}
	mesh.m_tiles[slot] = nil
	mesh.m_nextFree = append(mesh.m_nextFree, slot)
	mesh.gate.endWrite()

	mesh.logger.Debug("tile detached", zap.Stringer("key", key), zap.Uint32("ref", uint32(tile.ref)))
	mesh.emit(TileEvent{Type: TileDetached, Key: key, Ref: tile.ref})
	return tile.Data, true
}

func (mesh *DtNavMesh) getTilesAt(x, y int32) []*DtMeshTile {
	slots := mesh.m_columns[columnKey{x, y}]
	res := make([]*DtMeshTile, 0, len(slots))
	for _, s := range slots {
		res = append(res, mesh.m_tiles[s])
	}
	return res
}

func (mesh *DtNavMesh) getNeighbourTilesAt(x, y int32, side int) []*DtMeshTile {
	dx, dy := dtNeighbourOffset(side)
	return mesh.getTilesAt(x+dx, y+dy)
}

func (mesh *DtNavMesh) getTileAt(key TileKey) *DtMeshTile {
	if slot, ok := mesh.m_posLookup[key]; ok {
		return mesh.m_tiles[slot]
	}
	return nil
}

// TileAt returns the resident tile at key, or nil.
func (mesh *DtNavMesh) TileAt(key TileKey) *DtMeshTile {
	mesh.gate.beginRead()
	defer mesh.gate.endRead()
	return mesh.getTileAt(key)
}

// TileRefAt returns the ref of the tile at key, or 0 if there is none.
func (mesh *DtNavMesh) TileRefAt(key TileKey) DtTileRef {
	if t := mesh.TileAt(key); t != nil {
		return t.ref
	}
	return 0
}

func (mesh *DtNavMesh) getTileByRef(ref DtTileRef) (*DtMeshTile, error) {
	if ref == 0 {
		return nil, ErrInvalidParam
	}
	idx := ref.Index()
	if int(idx) >= len(mesh.m_tiles) {
		return nil, ErrInvalidParam
	}
	tile := mesh.m_tiles[idx]
	if tile == nil || tile.salt != ref.Salt() {
		return nil, ErrStaleReference
	}
	return tile, nil
}

// TileByRef fails with ErrStaleReference when the slot was emptied or reused.
func (mesh *DtNavMesh) TileByRef(ref DtTileRef) (*DtMeshTile, error) {
	mesh.gate.beginRead()
	defer mesh.gate.endRead()
	return mesh.getTileByRef(ref)
}

// TileKeys returns the resident keys in key order.
func (mesh *DtNavMesh) TileKeys() []TileKey {
	mesh.gate.beginRead()
	defer mesh.gate.endRead()
	return mesh.tileKeys()
}

func (mesh *DtNavMesh) tileKeys() []TileKey {
	keys := make([]TileKey, 0, len(mesh.m_posLookup))
	for k := range mesh.m_posLookup {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, CompareTileKeys)
	return keys
}

func (mesh *DtNavMesh) TileCount() int {
	mesh.gate.beginRead()
	defer mesh.gate.endRead()
	return len(mesh.m_posLookup)
}

// TilesIn returns the refs of resident tiles whose bounds overlap region.
func (mesh *DtNavMesh) TilesIn(region common.AABB) []DtTileRef {
	mesh.gate.beginRead()
	defer mesh.gate.endRead()
	return mesh.tilesIn(region)
}

func (mesh *DtNavMesh) tilesIn(region common.AABB) []DtTileRef {
	minx, miny := mesh.m_params.CalcTileLoc(region.Min)
	maxx, maxy := mesh.m_params.CalcTileLoc(region.Max)
	var res []*DtMeshTile
	if int64(maxx-minx+1)*int64(maxy-miny+1) > int64(len(mesh.m_posLookup)) {
		for _, slot := range mesh.m_posLookup {
			res = append(res, mesh.m_tiles[slot])
		}
	} else {
		for y := miny; y <= maxy; y++ {
			for x := minx; x <= maxx; x++ {
				res = append(res, mesh.getTilesAt(x, y)...)
			}
		}
	}
	res = slices.DeleteFunc(res, func(t *DtMeshTile) bool { return !t.Header.Bounds().Overlaps(region) })
	slices.SortFunc(res, func(a, b *DtMeshTile) int {
		if a.Key().Less(b.Key()) {
			return -1
		}
		return 1
	})
	refs := make([]DtTileRef, len(res))
	for i, t := range res {
		refs[i] = t.ref
	}
	return refs
}

// / Gets the polygon reference for the tile's base polygon.
func (mesh *DtNavMesh) GetPolyRefBase(tile *DtMeshTile) DtPolyRef {
	if tile == nil {
		return 0
	}
	return EncodePolyRef(tile.ref, 0)
}

func (mesh *DtNavMesh) getTileAndPolyByRef(ref DtPolyRef) (*DtMeshTile, *DtPoly, error) {
	if ref == 0 {
		return nil, nil, ErrInvalidParam
	}
	tile, err := mesh.getTileByRef(ref.Tile())
	if err != nil {
		return nil, nil, err
	}
	ip := ref.Poly()
	if int(ip) >= len(tile.Polys) {
		return nil, nil, ErrInvalidParam
	}
	return tile, &tile.Polys[ip], nil
}

// GetTileAndPolyByRef resolves a poly ref, rejecting refs into a detached or
// replaced tile with ErrStaleReference.
func (mesh *DtNavMesh) GetTileAndPolyByRef(ref DtPolyRef) (*DtMeshTile, *DtPoly, error) {
	mesh.gate.beginRead()
	defer mesh.gate.endRead()
	return mesh.getTileAndPolyByRef(ref)
}

// getTileAndPolyByRefUnsafe is for refs already validated in the same batch.
func (mesh *DtNavMesh) getTileAndPolyByRefUnsafe(ref DtPolyRef) (*DtMeshTile, *DtPoly) {
	tile := mesh.m_tiles[ref.Tile().Index()]
	return tile, &tile.Polys[ref.Poly()]
}

func (mesh *DtNavMesh) IsValidPolyRef(ref DtPolyRef) bool {
	_, _, err := mesh.GetTileAndPolyByRef(ref)
	return err == nil
}

func (mesh *DtNavMesh) isValidPolyRef(ref DtPolyRef) bool {
	_, _, err := mesh.getTileAndPolyByRef(ref)
	return err == nil
}

// NeedsRebuild reports whether a load skipped data that has to be regenerated.
func (mesh *DtNavMesh) NeedsRebuild() bool {
	mesh.dirtyMu.Lock()
	defer mesh.dirtyMu.Unlock()
	return mesh.needsRebuild
}

// ConsumeRebuildKeys returns and clears the keys of tiles discarded on load.
// The rebuild flag is cleared with them.
func (mesh *DtNavMesh) ConsumeRebuildKeys() []TileKey {
	mesh.dirtyMu.Lock()
	defer mesh.dirtyMu.Unlock()
	keys := mesh.rebuildKeys
	mesh.rebuildKeys = nil
	mesh.needsRebuild = false
	return keys
}

func (mesh *DtNavMesh) markForRebuild(keys ...TileKey) {
	mesh.dirtyMu.Lock()
	mesh.needsRebuild = true
	mesh.rebuildKeys = append(mesh.rebuildKeys, keys...)
	mesh.dirtyMu.Unlock()
}

func (mesh *DtNavMesh) connectIntLinks(tile *DtMeshTile) {
	base := mesh.GetPolyRefBase(tile)
	for i := range tile.Polys {
		poly := &tile.Polys[i]
		if poly.GetType() != DT_POLYTYPE_GROUND {
			continue
		}
		for j := 0; j < int(poly.VertCount); j++ {
			// Skip hard and non-internal edges.
			if poly.Neis[j] == 0 || (poly.Neis[j]&DT_EXT_LINK) != 0 {
				continue
			}
			tile.Links[i] = append(tile.Links[i], DtLink{
				Ref:  base | DtPolyRef(poly.Neis[j]-1),
				Edge: uint8(j),
				Side: DT_LINK_INTERNAL,
			})
		}
	}
}

// baseOffMeshLinks connects both ends of every off-mesh connection to the
// nearest ground poly of the same tile, snapping the end points onto it.
func (mesh *DtNavMesh) baseOffMeshLinks(tile *DtMeshTile) {
	base := mesh.GetPolyRefBase(tile)
	for i := range tile.OffMeshCons {
		con := &tile.OffMeshCons[i]
		poly := &tile.Polys[con.Poly]
		halfExtents := common.Vec3{con.Rad, tile.Header.WalkableClimb, con.Rad}
		for end := 0; end < 2; end++ {
			p := con.Pos[end]
			ref, nearestPt := mesh.findNearestPolyInTile(tile, p, halfExtents)
			if ref == 0 {
				continue
			}
			// findNearestPoly may return too optimistic results, further check to make sure.
			if common.Sqr(nearestPt[0]-p[0])+common.Sqr(nearestPt[2]-p[2]) > common.Sqr(con.Rad) {
				continue
			}
			tile.Verts[poly.Verts[end]] = nearestPt
			tile.Links[con.Poly] = append(tile.Links[con.Poly], DtLink{
				Ref:  ref,
				Edge: uint8(end),
				Side: DT_LINK_INTERNAL,
			})
			if end == 0 || con.Flags&DT_OFFMESH_CON_BIDIR != 0 {
				land := ref.Poly()
				tile.Links[land] = append(tile.Links[land], DtLink{
					Ref:  base | DtPolyRef(con.Poly),
					Edge: 0xff,
					Side: DT_LINK_INTERNAL,
				})
			}
		}
	}
}

func (mesh *DtNavMesh) findConnectingPolys(va, vb common.Vec3, tile *DtMeshTile, side int) (con []DtPolyRef, conarea []common.Vec2) {
	amin, amax := calcSlabEndPoints(va, vb, side)
	apos := getSlabCoord(va, side)

	m := uint16(DT_EXT_LINK | side)
	base := mesh.GetPolyRefBase(tile)
	for i := range tile.Polys {
		poly := &tile.Polys[i]
		nv := int(poly.VertCount)
		for j := 0; j < nv; j++ {
			// Skip edges which do not point to the right side.
			if poly.Neis[j] != m {
				continue
			}
			vc := tile.Verts[poly.Verts[j]]
			vd := tile.Verts[poly.Verts[(j+1)%nv]]
			bpos := getSlabCoord(vc, side)

			// Segments are not close enough.
			if common.Abs(apos-bpos) > 0.01 {
				continue
			}

			// Check if the segments touch.
			bmin, bmax := calcSlabEndPoints(vc, vd, side)
			if !overlapSlabs(amin, amax, bmin, bmax, 0.01, tile.Header.WalkableClimb) {
				continue
			}
			con = append(con, base|DtPolyRef(i))
			conarea = append(conarea, common.Vec2{max(amin[0], bmin[0]), min(amax[0], bmax[0])})
			break
		}
	}
	return con, conarea
}

func (mesh *DtNavMesh) connectExtLinks(tile, target *DtMeshTile, side int) {
	for i := range tile.Polys {
		poly := &tile.Polys[i]
		nv := int(poly.VertCount)
		for j := 0; j < nv; j++ {
			// Skip non-portal edges.
			if (poly.Neis[j] & DT_EXT_LINK) == 0 {
				continue
			}
			dir := int(poly.Neis[j] & 0xff)
			if dir != side {
				continue
			}
			va := tile.Verts[poly.Verts[j]]
			vb := tile.Verts[poly.Verts[(j+1)%nv]]
			nei, neia := mesh.findConnectingPolys(va, vb, target, dtOppositeTile(dir))
			for k := range nei {
				link := DtLink{Ref: nei[k], Edge: uint8(j), Side: uint8(dir)}
				// Compress portal limits to a byte value.
				axis := 0
				if dir == 0 || dir == 4 {
					axis = 2
				}
				tmin := (neia[k][0] - va[axis]) / (vb[axis] - va[axis])
				tmax := (neia[k][1] - va[axis]) / (vb[axis] - va[axis])
				if tmin > tmax {
					tmin, tmax = tmax, tmin
				}
				link.Bmin = uint8(math.Round(float64(common.Clamp(tmin, 0, 1) * 255)))
				link.Bmax = uint8(math.Round(float64(common.Clamp(tmax, 0, 1) * 255)))
				tile.Links[i] = append(tile.Links[i], link)
			}
		}
	}
}

// unconnectLinks drops every link of tile pointing into target.
func (mesh *DtNavMesh) unconnectLinks(tile *DtMeshTile, target DtTileRef) {
	for i := range tile.Links {
		tile.Links[i] = slices.DeleteFunc(tile.Links[i], func(l DtLink) bool {
			return l.Ref.Tile() == target
		})
	}
}

// findNearestPolyInTile favors a poly directly under center within climb
// height over a poly that is closer in a straight line.
func (mesh *DtNavMesh) findNearestPolyInTile(tile *DtMeshTile, center, halfExtents common.Vec3) (DtPolyRef, common.Vec3) {
	box := common.AABBFromCenter(center, halfExtents)
	base := mesh.GetPolyRefBase(tile)
	var nearest DtPolyRef
	var nearestPt common.Vec3
	nearestDistanceSqr := float32(math.MaxFloat32)
	for i := range tile.Polys {
		poly := &tile.Polys[i]
		if poly.GetType() == DT_POLYTYPE_OFFMESH_CONNECTION {
			continue
		}
		if !polyBounds(tile, poly).Overlaps(box) {
			continue
		}
		closest, posOverPoly := common.ClosestPointOnPolygon(center, tile.PolyVerts(poly))
		diff := center.Sub(closest)
		var d float32
		if posOverPoly {
			d = common.Abs(diff[1]) - tile.Header.WalkableClimb
			if d > 0 {
				d = d * d
			} else {
				d = 0
			}
		} else {
			d = diff.Dot(diff)
		}
		if d < nearestDistanceSqr {
			nearestPt = closest
			nearestDistanceSqr = d
			nearest = base | DtPolyRef(i)
		}
	}
	return nearest, nearestPt
}
