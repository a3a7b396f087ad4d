// Package detour_tile_cache keeps the compressed cache layers of resident
// tiles and the temporary obstacles stamped into them. It decides which tiles
// an obstacle change dirties; rebuilding them is left to the tile generator.
package detour_tile_cache

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/common/logs"
	"github.com/gorustyt/navtile/detour"
	"go.uber.org/zap"
)

var (
	ErrRequestsFull  = errors.New("tilecache: obstacle request queue full")
	ErrObstaclesFull = errors.New("tilecache: no free obstacle slot")
)

type DtObstacleRef uint32

type ObstacleState uint8

const (
	DT_OBSTACLE_EMPTY ObstacleState = iota
	DT_OBSTACLE_PROCESSING
	DT_OBSTACLE_PROCESSED
	DT_OBSTACLE_REMOVING
)

func (s ObstacleState) String() string {
	switch s {
	case DT_OBSTACLE_EMPTY:
		return "empty"
	case DT_OBSTACLE_PROCESSING:
		return "processing"
	case DT_OBSTACLE_PROCESSED:
		return "processed"
	case DT_OBSTACLE_REMOVING:
		return "removing"
	}
	return fmt.Sprintf("ObstacleState(%d)", uint8(s))
}

type ObstacleType uint8

const (
	DT_OBSTACLE_CYLINDER     ObstacleType = iota
	DT_OBSTACLE_BOX                       // AABB
	DT_OBSTACLE_ORIENTED_BOX              // OBB
)

type DtObstacleCylinder struct {
	Pos    common.Vec3
	Radius float32
	Height float32
}

type DtObstacleBox struct {
	Bmin common.Vec3
	Bmax common.Vec3
}

type DtObstacleOrientedBox struct {
	Center      common.Vec3
	HalfExtents common.Vec3
	RotAux      [2]float32 //{ cos(0.5f*angle)*sin(-0.5f*angle); cos(0.5f*angle)*cos(0.5f*angle) - 0.5 }
}

// Obstacle is a snapshot of one obstacle's shape, handed to generators.
type Obstacle struct {
	Ref         DtObstacleRef
	Type        ObstacleType
	State       ObstacleState
	Cylinder    DtObstacleCylinder
	Box         DtObstacleBox
	OrientedBox DtObstacleOrientedBox
}

// Bounds is the world box the obstacle can touch.
func (o *Obstacle) Bounds() common.AABB {
	switch o.Type {
	case DT_OBSTACLE_CYLINDER:
		cl := o.Cylinder
		return common.AABB{
			Min: common.Vec3{cl.Pos[0] - cl.Radius, cl.Pos[1], cl.Pos[2] - cl.Radius},
			Max: common.Vec3{cl.Pos[0] + cl.Radius, cl.Pos[1] + cl.Height, cl.Pos[2] + cl.Radius},
		}
	case DT_OBSTACLE_BOX:
		return common.AABB{Min: o.Box.Bmin, Max: o.Box.Bmax}
	default:
		ob := o.OrientedBox
		maxr := 1.41 * max(ob.HalfExtents[0], ob.HalfExtents[2])
		return common.AABB{
			Min: common.Vec3{ob.Center[0] - maxr, ob.Center[1] - ob.HalfExtents[1], ob.Center[2] - maxr},
			Max: common.Vec3{ob.Center[0] + maxr, ob.Center[1] + ob.HalfExtents[1], ob.Center[2] + maxr},
		}
	}
}

// Mark stamps the obstacle into layer with areaId.
func (o *Obstacle) Mark(layer *DtTileCacheLayer, areaId uint8) {
	switch o.Type {
	case DT_OBSTACLE_CYLINDER:
		DtMarkCylinderArea(layer, o.Cylinder.Pos, o.Cylinder.Radius, o.Cylinder.Height, areaId)
	case DT_OBSTACLE_BOX:
		DtMarkBoxArea(layer, o.Box.Bmin, o.Box.Bmax, areaId)
	case DT_OBSTACLE_ORIENTED_BOX:
		DtMarkOrientedBoxArea(layer, o.OrientedBox.Center, o.OrientedBox.HalfExtents, o.OrientedBox.RotAux, areaId)
	}
}

const (
	MAX_REQUESTS         = 64
	DT_MAX_TOUCHED_TILES = 8
)

type obstacleAction uint8

const (
	REQUEST_ADD obstacleAction = iota
	REQUEST_REMOVE
)

type obstacleRequest struct {
	action obstacleAction
	ref    DtObstacleRef
}

type dtTileCacheObstacle struct {
	Obstacle
	touched []detour.TileKey
	pending []detour.TileKey
	salt    uint16
	next    *dtTileCacheObstacle
}

type dtCompressedTile struct {
	header *DtTileCacheLayerHeader // nil when the tile has no cache layer
	data   []byte
}

type DtTileCacheParams struct {
	Grid         detour.NavMeshParams
	MaxObstacles int
}

type DtTileCache struct {
	m_params DtTileCacheParams
	m_tcomp  DtTileCacheCompressor
	logger   *zap.Logger

	m_tiles map[detour.TileKey]*dtCompressedTile

	m_obstacles        []*dtTileCacheObstacle
	m_nextFreeObstacle *dtTileCacheObstacle
	m_reqs             []obstacleRequest

	m_update []detour.TileKey
}

func NewDtTileCache(params DtTileCacheParams, tcomp DtTileCacheCompressor, logger *zap.Logger) (*DtTileCache, error) {
	if err := params.Grid.Validate(); err != nil {
		return nil, err
	}
	if params.MaxObstacles <= 0 || params.MaxObstacles >= 1<<16 {
		return nil, &detour.ConfigError{Field: "max_obstacles", Reason: "must be in [1,65535]"}
	}
	d := &DtTileCache{
		m_params:    params,
		m_tcomp:     tcomp,
		logger:      logs.OrNop(logger).Named("tilecache"),
		m_tiles:     make(map[detour.TileKey]*dtCompressedTile),
		m_obstacles: make([]*dtTileCacheObstacle, params.MaxObstacles),
		m_reqs:      make([]obstacleRequest, 0, MAX_REQUESTS),
	}
	for i := params.MaxObstacles - 1; i >= 0; i-- {
		d.m_obstacles[i] = &dtTileCacheObstacle{salt: 1, next: d.m_nextFreeObstacle}
		d.m_nextFreeObstacle = d.m_obstacles[i]
	}
	return d, nil
}

func (d *DtTileCache) GetCompressor() DtTileCacheCompressor { return d.m_tcomp }
func (d *DtTileCache) GetParams() DtTileCacheParams         { return d.m_params }
func (d *DtTileCache) GetTileCount() int                    { return len(d.m_tiles) }

func encodeObstacleId(salt uint16, it int) DtObstacleRef {
	return DtObstacleRef(uint32(salt)<<16 | uint32(it))
}

func decodeObstacleIdSalt(ref DtObstacleRef) uint16 { return uint16(ref >> 16) }

func decodeObstacleIdObstacle(ref DtObstacleRef) int { return int(ref & 0xffff) }

// AddTile registers a resident tile. data is its compressed cache layer and
// may be empty, in which case obstacles are matched against the tile footprint.
func (d *DtTileCache) AddTile(key detour.TileKey, data []byte) error {
	if _, ok := d.m_tiles[key]; ok {
		return &detour.AttachError{Key: key, Err: detour.ErrSlotOccupied}
	}
	tile := &dtCompressedTile{data: data}
	if len(data) > 0 {
		header, err := DecodeTileCacheLayerHeader(data)
		if err != nil {
			return &detour.AttachError{Key: key, Err: err}
		}
		if header.Key() != key {
			return &detour.AttachError{Key: key, Err: fmt.Errorf("%w: cache layer is for tile %v", detour.ErrInvalidParam, header.Key())}
		}
		tile.header = header
	}
	d.m_tiles[key] = tile
	return nil
}

// RemoveTile forgets a tile and returns its cache layer.
func (d *DtTileCache) RemoveTile(key detour.TileKey) ([]byte, bool) {
	tile, ok := d.m_tiles[key]
	if !ok {
		return nil, false
	}
	delete(d.m_tiles, key)
	// Nothing left to rebuild there.
	d.TileBuilt(key)
	return tile.data, true
}

func (d *DtTileCache) GetTile(key detour.TileKey) ([]byte, bool) {
	tile, ok := d.m_tiles[key]
	if !ok {
		return nil, false
	}
	return tile.data, true
}

// DecompressTile returns the cache layer of a resident tile, or nil if the
// tile has none.
func (d *DtTileCache) DecompressTile(key detour.TileKey) (*DtTileCacheLayer, error) {
	tile, ok := d.m_tiles[key]
	if !ok || len(tile.data) == 0 {
		return nil, nil
	}
	return DecompressTileCacheLayer(d.m_tcomp, tile.data)
}

func (d *DtTileCache) allocObstacle() (*dtTileCacheObstacle, error) {
	if len(d.m_reqs) >= MAX_REQUESTS {
		return nil, ErrRequestsFull
	}
	ob := d.m_nextFreeObstacle
	if ob == nil {
		return nil, ErrObstaclesFull
	}
	d.m_nextFreeObstacle = ob.next
	salt := ob.salt
	*ob = dtTileCacheObstacle{salt: salt}
	ob.State = DT_OBSTACLE_PROCESSING
	return ob, nil
}

func (d *DtTileCache) queueAdd(ob *dtTileCacheObstacle) DtObstacleRef {
	ob.Ref = encodeObstacleId(ob.salt, slices.Index(d.m_obstacles, ob))
	d.m_reqs = append(d.m_reqs, obstacleRequest{action: REQUEST_ADD, ref: ob.Ref})
	return ob.Ref
}

func (d *DtTileCache) AddObstacle(pos common.Vec3, radius, height float32) (DtObstacleRef, error) {
	ob, err := d.allocObstacle()
	if err != nil {
		return 0, err
	}
	ob.Type = DT_OBSTACLE_CYLINDER
	ob.Cylinder = DtObstacleCylinder{Pos: pos, Radius: radius, Height: height}
	return d.queueAdd(ob), nil
}

func (d *DtTileCache) AddBoxObstacle(bmin, bmax common.Vec3) (DtObstacleRef, error) {
	ob, err := d.allocObstacle()
	if err != nil {
		return 0, err
	}
	ob.Type = DT_OBSTACLE_BOX
	ob.Box = DtObstacleBox{Bmin: common.Vmin(bmin, bmax), Bmax: common.Vmax(bmin, bmax)}
	return d.queueAdd(ob), nil
}

// AddOrientedBoxObstacle adds a box rotated by yRadians about the y axis.
func (d *DtTileCache) AddOrientedBoxObstacle(center, halfExtents common.Vec3, yRadians float32) (DtObstacleRef, error) {
	ob, err := d.allocObstacle()
	if err != nil {
		return 0, err
	}
	ob.Type = DT_OBSTACLE_ORIENTED_BOX
	coshalf := math.Cos(0.5 * float64(yRadians))
	sinhalf := math.Sin(-0.5 * float64(yRadians))
	ob.OrientedBox = DtObstacleOrientedBox{
		Center:      center,
		HalfExtents: halfExtents,
		RotAux:      [2]float32{float32(coshalf * sinhalf), float32(coshalf*coshalf) - 0.5},
	}
	return d.queueAdd(ob), nil
}

func (d *DtTileCache) getObstacleByRef(ref DtObstacleRef) *dtTileCacheObstacle {
	if ref == 0 {
		return nil
	}
	idx := decodeObstacleIdObstacle(ref)
	if idx >= len(d.m_obstacles) {
		return nil
	}
	ob := d.m_obstacles[idx]
	if ob.salt != decodeObstacleIdSalt(ref) || ob.State == DT_OBSTACLE_EMPTY {
		return nil
	}
	return ob
}

// GetObstacle returns a snapshot of a live obstacle.
func (d *DtTileCache) GetObstacle(ref DtObstacleRef) (Obstacle, error) {
	ob := d.getObstacleByRef(ref)
	if ob == nil {
		return Obstacle{}, fmt.Errorf("%w: obstacle %#x", detour.ErrStaleReference, uint32(ref))
	}
	return ob.Obstacle, nil
}

func (d *DtTileCache) RemoveObstacle(ref DtObstacleRef) error {
	if ref == 0 {
		return nil
	}
	if d.getObstacleByRef(ref) == nil {
		return fmt.Errorf("%w: obstacle %#x", detour.ErrStaleReference, uint32(ref))
	}
	if len(d.m_reqs) >= MAX_REQUESTS {
		return ErrRequestsFull
	}
	d.m_reqs = append(d.m_reqs, obstacleRequest{action: REQUEST_REMOVE, ref: ref})
	return nil
}

// queryTiles returns the resident tiles whose bounds overlap the box.
func (d *DtTileCache) queryTiles(bounds common.AABB) []detour.TileKey {
	grid := &d.m_params.Grid
	tx0, ty0 := grid.CalcTileLoc(bounds.Min)
	tx1, ty1 := grid.CalcTileLoc(bounds.Max)
	var out []detour.TileKey
	for key, tile := range d.m_tiles {
		if key.X < tx0 || key.X > tx1 || key.Y < ty0 || key.Y > ty1 {
			continue
		}
		tb := grid.TileBounds(key.X, key.Y)
		if tile.header != nil {
			tb = tile.header.TightBounds()
		}
		if tb.Overlaps(bounds) {
			out = append(out, key)
		}
	}
	slices.SortFunc(out, detour.CompareTileKeys)
	return out
}

func (d *DtTileCache) queueUpdate(ob *dtTileCacheObstacle) {
	ob.pending = ob.pending[:0]
	for _, key := range ob.touched {
		if !slices.Contains(d.m_update, key) {
			d.m_update = append(d.m_update, key)
		}
		ob.pending = append(ob.pending, key)
	}
}

// Update processes queued obstacle requests and returns the tiles that must
// be rebuilt. Call TileBuilt for each of them once the rebuilt tile is in
// place; the returned keys stay pending until then.
func (d *DtTileCache) Update() []detour.TileKey {
	for _, req := range d.m_reqs {
		ob := d.getObstacleByRef(req.ref)
		if ob == nil {
			continue
		}
		switch req.action {
		case REQUEST_ADD:
			ob.touched = d.queryTiles(ob.Bounds())
			if len(ob.touched) > DT_MAX_TOUCHED_TILES {
				d.logger.Warn("obstacle touches too many tiles, extra tiles ignored",
					zap.Uint32("ref", uint32(ob.Ref)), zap.Int("touched", len(ob.touched)))
				ob.touched = ob.touched[:DT_MAX_TOUCHED_TILES]
			}
			d.queueUpdate(ob)
		case REQUEST_REMOVE:
			ob.State = DT_OBSTACLE_REMOVING
			d.queueUpdate(ob)
		}
		if len(ob.pending) == 0 {
			d.settle(ob)
		}
	}
	d.m_reqs = d.m_reqs[:0]
	return slices.Clone(d.m_update)
}

// TileBuilt records that key has been rebuilt with the current obstacles.
func (d *DtTileCache) TileBuilt(key detour.TileKey) {
	d.m_update = slices.DeleteFunc(d.m_update, func(k detour.TileKey) bool { return k == key })
	for _, ob := range d.m_obstacles {
		if ob.State != DT_OBSTACLE_PROCESSING && ob.State != DT_OBSTACLE_REMOVING {
			continue
		}
		if i := slices.Index(ob.pending, key); i >= 0 {
			ob.pending = slices.Delete(ob.pending, i, i+1)
			if len(ob.pending) == 0 {
				d.settle(ob)
			}
		}
	}
}

// settle moves an obstacle out of its transitional state once all its tiles
// are rebuilt.
func (d *DtTileCache) settle(ob *dtTileCacheObstacle) {
	switch ob.State {
	case DT_OBSTACLE_PROCESSING:
		ob.State = DT_OBSTACLE_PROCESSED
	case DT_OBSTACLE_REMOVING:
		ob.State = DT_OBSTACLE_EMPTY
		// Update salt, salt should never be zero.
		ob.salt++
		if ob.salt == 0 {
			ob.salt++
		}
		ob.touched = nil
		ob.next = d.m_nextFreeObstacle
		d.m_nextFreeObstacle = ob
	}
}

// Pending reports whether requests or rebuilds are outstanding.
func (d *DtTileCache) Pending() bool {
	return len(d.m_reqs) > 0 || len(d.m_update) > 0
}

// ObstaclesOverlapping returns live obstacles whose bounds overlap region,
// for tiles that are not resident yet.
func (d *DtTileCache) ObstaclesOverlapping(region common.AABB) []Obstacle {
	var out []Obstacle
	for _, ob := range d.m_obstacles {
		if ob.State != DT_OBSTACLE_PROCESSING && ob.State != DT_OBSTACLE_PROCESSED {
			continue
		}
		if ob.Bounds().Overlaps(region) {
			out = append(out, ob.Obstacle)
		}
	}
	return out
}

// ObstacleCount is the number of live obstacles.
func (d *DtTileCache) ObstacleCount() int {
	n := 0
	for _, ob := range d.m_obstacles {
		if ob.State != DT_OBSTACLE_EMPTY {
			n++
		}
	}
	return n
}
