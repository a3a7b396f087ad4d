package detour_path

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
	"weak"

	"github.com/google/uuid"
	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/common/logs"
	"github.com/gorustyt/navtile/detour"
	"go.uber.org/zap"
)

// PathFinder computes paths for repath requests. *detour.DtNavMeshQuery
// implements it.
type PathFinder interface {
	FindPath(start, end common.Vec3, filter *detour.DtQueryFilter, allowPartial bool) detour.PathResult
}

type Stats struct {
	Active      int
	Queued      int
	Invalidated uint64
	Discarded   uint64
	Repathed    uint64
	Failed      uint64
}

type entry struct {
	id    uuid.UUID
	seq   uint64
	path  weak.Pointer[NavPath]
	tiles []detour.TileKey
}

// Registry observes live paths and invalidates those crossing changed tiles.
// An invalidated path leaves the registry until its repath succeeds, so it
// is invalidated once per change however much churn follows.
type Registry struct {
	mu      sync.Mutex
	nav     NavMesh
	logger  *zap.Logger
	now     func() time.Time
	active  map[uuid.UUID]*entry
	index   *tileIndex
	repaths *repathQueue
	seq     uint64
	stats   Stats
}

func NewRegistry(nav NavMesh, logger *zap.Logger) *Registry {
	return &Registry{
		nav:     nav,
		logger:  logs.OrNop(logger).Named("paths"),
		now:     time.Now,
		active:  make(map[uuid.UUID]*entry),
		index:   newTileIndex(256),
		repaths: newRepathQueue(),
	}
}

// SetClock replaces the time source used to stamp recomputed paths.
func (r *Registry) SetClock(now func() time.Time) { r.now = now }

// Register starts observing p. p must be Ready and every poly of its
// corridor must still be resident, otherwise ErrStaleReference is returned.
func (r *Registry) Register(p *NavPath) error {
	if s := p.State(); s != PathReady {
		return fmt.Errorf("%w: path %s is %s", detour.ErrInvalidParam, p.ID, s)
	}
	tiles, err := p.corridorTiles(r.nav)
	if err != nil {
		return fmt.Errorf("path %s: %w", p.ID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.active[p.ID]; ok {
		r.index.remove(p.ID, old.tiles)
	}
	r.seq++
	r.active[p.ID] = &entry{id: p.ID, seq: r.seq, path: weak.Make(p), tiles: tiles}
	r.index.add(p.ID, tiles)
	return nil
}

func (r *Registry) Unregister(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropLocked(id) != nil
}

func (r *Registry) dropLocked(id uuid.UUID) *entry {
	e, ok := r.active[id]
	if !ok {
		return nil
	}
	delete(r.active, id)
	r.index.remove(id, e.tiles)
	return e
}

// OnTilesChanged invalidates every registered path whose corridor crosses
// one of keys and queues it for a repath, oldest registration first. Paths
// whose owner is gone are discarded instead. It returns the number of paths
// queued.
func (r *Registry) OnTilesChanged(keys []detour.TileKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []uuid.UUID
	for _, k := range keys {
		ids = r.index.query(k, ids)
	}
	hit := make([]*entry, 0, len(ids))
	for _, id := range ids {
		if e := r.dropLocked(id); e != nil {
			hit = append(hit, e)
		}
	}
	slices.SortFunc(hit, func(a, b *entry) int { return cmp.Compare(a.seq, b.seq) })
	queued := 0
	for _, e := range hit {
		p := e.path.Value()
		if p == nil {
			r.stats.Discarded++
			continue
		}
		p.setState(PathInvalid)
		if !p.ownerAlive() {
			r.stats.Discarded++
			r.logger.Debug("discarding path of dead owner", zap.Stringer("path", e.id))
			continue
		}
		if r.repaths.push(p) {
			queued++
			r.stats.Invalidated++
		}
	}
	if queued > 0 {
		r.logger.Debug("paths invalidated", zap.Int("queued", queued), zap.Int("tiles", len(keys)))
	}
	return queued
}

// OnTileEvent adapts OnTilesChanged to detour.DtNavMesh.Subscribe.
func (r *Registry) OnTileEvent(ev detour.TileEvent) {
	r.OnTilesChanged([]detour.TileKey{ev.Key})
}

// ProcessRepaths recomputes up to maxRequests queued paths, all of them when
// maxRequests <= 0. A failed repath leaves the path Failed for good; a
// successful one registers it again. It stops early when ctx is done.
func (r *Registry) ProcessRepaths(ctx context.Context, finder PathFinder, maxRequests int) (int, error) {
	done := 0
	for maxRequests <= 0 || done < maxRequests {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		r.mu.Lock()
		req, ok := r.repaths.pop()
		r.mu.Unlock()
		if !ok {
			break
		}
		p := req.path.Value()
		if p == nil || !p.ownerAlive() {
			r.count(func(s *Stats) { s.Discarded++ })
			continue
		}
		if p.State() != PathInvalid {
			continue
		}
		q := p.Request()
		res := finder.FindPath(q.Start, q.End, q.Filter, q.AllowPartial)
		p.apply(res, r.now())
		done++
		if !res.OK() {
			r.count(func(s *Stats) { s.Failed++ })
			r.logger.Info("repath failed", zap.Stringer("path", p.ID), zap.Stringer("status", res.Status), zap.Error(res.Err))
			continue
		}
		if err := r.Register(p); err != nil {
			p.setState(PathFailed)
			r.count(func(s *Stats) { s.Failed++ })
			r.logger.Warn("repath register failed", zap.Stringer("path", p.ID), zap.Error(err))
			continue
		}
		r.count(func(s *Stats) { s.Repathed++ })
	}
	return done, nil
}

func (r *Registry) count(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

// Prune forgets paths that were garbage collected and returns how many.
func (r *Registry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.active {
		if e.path.Value() == nil {
			r.dropLocked(id)
			n++
		}
	}
	r.stats.Discarded += uint64(n)
	return n
}

func (r *Registry) IsRegistered(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

func (r *Registry) IsQueued(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.repaths.contains(id)
}

// PathsOnTile counts the registered paths crossing k.
func (r *Registry) PathsOnTile(k detour.TileKey) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.index.countAt(k)
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats
	s.Active = len(r.active)
	s.Queued = r.repaths.len()
	return s
}
