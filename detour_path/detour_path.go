// Package detour_path keeps computed paths in step with the navmesh: paths
// crossing a tile that changes are invalidated and queued for a repath.
package detour_path

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/detour"
)

type PathState uint8

const (
	PathReady PathState = iota
	PathInvalid
	PathFailed
)

func (s PathState) String() string {
	switch s {
	case PathReady:
		return "ready"
	case PathInvalid:
		return "invalid"
	default:
		return "failed"
	}
}

// Owner is whoever requested the path. A path whose owner is no longer alive
// is dropped instead of being recomputed.
type Owner interface {
	Alive() bool
}

// Request holds what is needed to compute a path again.
type Request struct {
	Start, End   common.Vec3
	Filter       *detour.DtQueryFilter
	AllowPartial bool
	Owner        Owner
}

// NavMesh is the part of the navmesh a path needs to check its corridor.
type NavMesh interface {
	TileByRef(ref detour.DtTileRef) (*detour.DtMeshTile, error)
	GetTileAndPolyByRef(ref detour.DtPolyRef) (*detour.DtMeshTile, *detour.DtPoly, error)
}

// NavPath is a path shared between its requester and the Registry. The
// registry only holds it weakly.
type NavPath struct {
	ID uuid.UUID

	mu         sync.RWMutex
	req        Request
	state      PathState
	waypoints  []common.Vec3
	corridor   []detour.DtPolyRef
	partial    bool
	cost       float32
	timestamp  time.Time
	generation uint32
}

// NewNavPath wraps the result of a path query. A result that is not OK gives
// a Failed path.
func NewNavPath(req Request, res detour.PathResult, now time.Time) *NavPath {
	p := &NavPath{ID: uuid.New(), req: req}
	p.apply(res, now)
	return p
}

func (p *NavPath) apply(res detour.PathResult, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timestamp = now
	p.generation++
	if !res.OK() {
		p.state = PathFailed
		p.waypoints, p.corridor = nil, nil
		return
	}
	p.state = PathReady
	p.waypoints = slices.Clone(res.Path.Waypoints)
	p.corridor = slices.Clone(res.Path.Corridor)
	p.partial = res.Path.Partial
	p.cost = res.Path.Cost
}

func (p *NavPath) setState(s PathState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *NavPath) Request() Request {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.req
}

func (p *NavPath) State() PathState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *NavPath) Waypoints() []common.Vec3 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.waypoints)
}

func (p *NavPath) Corridor() []detour.DtPolyRef {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.corridor)
}

func (p *NavPath) IsPartial() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.partial
}

func (p *NavPath) Cost() float32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cost
}

// Timestamp is when the path was last computed.
func (p *NavPath) Timestamp() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.timestamp
}

// Generation counts how many times the path was computed. Followers compare
// it to notice a repath.
func (p *NavPath) Generation() uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation
}

func (p *NavPath) ownerAlive() bool {
	o := p.Request().Owner
	return o == nil || o.Alive()
}

// FirstPoly is the poly containing the start, or 0 without a corridor.
func (p *NavPath) FirstPoly() detour.DtPolyRef {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.corridor) == 0 {
		return 0
	}
	return p.corridor[0]
}

func (p *NavPath) LastPoly() detour.DtPolyRef {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.corridor) == 0 {
		return 0
	}
	return p.corridor[len(p.corridor)-1]
}

// ValidPrefix returns how many corridor polys, from the start, still resolve
// and pass filter.
func (p *NavPath) ValidPrefix(nav NavMesh, filter *detour.DtQueryFilter) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, ref := range p.corridor {
		_, poly, err := nav.GetTileAndPolyByRef(ref)
		if err != nil || (filter != nil && !filter.PassFilter(poly)) {
			break
		}
		n++
	}
	return n
}

// IsValid checks the first maxLookAhead corridor polys, all of them when
// maxLookAhead <= 0.
func (p *NavPath) IsValid(nav NavMesh, filter *detour.DtQueryFilter, maxLookAhead int) bool {
	n := len(p.Corridor())
	if maxLookAhead > 0 {
		n = min(n, maxLookAhead)
	}
	return p.State() == PathReady && p.ValidPrefix(nav, filter) >= n
}

// corridorTiles resolves the distinct tile keys the corridor crosses.
func (p *NavPath) corridorTiles(nav NavMesh) ([]detour.TileKey, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var keys []detour.TileKey
	var last detour.DtTileRef
	for _, ref := range p.corridor {
		tref := ref.Tile()
		if tref == last {
			continue
		}
		last = tref
		tile, err := nav.TileByRef(tref)
		if err != nil {
			return nil, err
		}
		if k := tile.Key(); !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
