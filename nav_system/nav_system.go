// Package nav_system ties the navigation packages into one runtime: it keeps
// the tiles around the invokers resident, rebuilds tiles when world geometry
// or obstacles change, and keeps observed paths valid across those changes.
//
// A System is driven by Tick from a single world goroutine. The query methods
// (FindPath, Raycast, ProjectPoint, ...) may be called from any goroutine.
package nav_system

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync/atomic"
	"time"

	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/common/logs"
	"github.com/gorustyt/navtile/common/message"
	"github.com/gorustyt/navtile/config"
	"github.com/gorustyt/navtile/detour"
	"github.com/gorustyt/navtile/detour_path"
	dtc "github.com/gorustyt/navtile/detour_tile_cache"
	"github.com/gorustyt/navtile/nav_octree"
	"github.com/gorustyt/navtile/tile_manager"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// octreeTiles is the half size of the octree root, in tiles. Elements outside
// it are still indexed, in the root node.
const octreeTiles = 64

const elementFlags = nav_octree.HasGeometry | nav_octree.HasOffMeshLinks | nav_octree.HasAreaModifiers

type Option func(*System)

func WithLogger(l *zap.Logger) Option { return func(s *System) { s.logger = l } }

// WithRegisterer registers the metrics with reg instead of leaving them
// unregistered.
func WithRegisterer(reg prometheus.Registerer) Option { return func(s *System) { s.reg = reg } }

// WithTileGenerator replaces the default GridGenerator.
func WithTileGenerator(g TileGenerator) Option { return func(s *System) { s.tileGen = g } }

// WithClock sets the time source stamping paths.
func WithClock(now func() time.Time) Option { return func(s *System) { s.now = now } }

type TickReport struct {
	Delta     tile_manager.TileDelta
	Scheduled int
	Attached  int
	Detached  int
	Restored  int
	Repathed  int
}

type System struct {
	cfg     config.Config
	logger  *zap.Logger
	reg     prometheus.Registerer
	tileGen TileGenerator
	now     func() time.Time

	areas   *detour.DtAreaTable
	areaIDs map[string]uint8
	filter  atomic.Pointer[detour.DtQueryFilter]

	mesh    *detour.DtNavMesh
	queries *detour.QueryPool
	octree  *nav_octree.Octree
	comp    *dtc.ZstdCompressor
	cache   *dtc.DtTileCache
	tiles   *tile_manager.Manager
	paths   *detour_path.Registry
	gen     *Generator
	archive *TileArchive
	metrics *Metrics

	seq              uint64
	inflight         map[detour.TileKey]uint64
	redo             map[detour.TileKey]bool
	backlog          []detour.TileKey
	pinned           map[detour.TileKey]bool
	obstaclesChanged bool
	pathStats        detour_path.Stats
	report           TickReport

	reloads     chan config.Config
	unsubscribe func()
}

// New builds a system from cfg. Call Start before the first Tick and Close
// when done.
func New(cfg config.Config, opts ...Option) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &System{
		cfg:      cfg,
		now:      time.Now,
		inflight: make(map[detour.TileKey]uint64),
		redo:     make(map[detour.TileKey]bool),
		pinned:   make(map[detour.TileKey]bool),
		reloads:  make(chan config.Config, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = logs.OrNop(s.logger).Named("nav")

	var err error
	s.areas = detour.NewDefaultAreaTable(s.logger)
	if s.areaIDs, err = cfg.ApplyAreas(s.areas); err != nil {
		return nil, err
	}
	if err := s.rebuildFilter(); err != nil {
		return nil, err
	}
	s.areas.Subscribe(func(detour.AreaEvent) {
		if err := s.rebuildFilter(); err != nil {
			s.logger.Error("default filter not rebuilt", zap.Error(err))
		}
	})

	grid := cfg.NavMeshParams()
	if s.mesh, err = detour.NewDtNavMesh(grid, s.logger); err != nil {
		return nil, err
	}
	s.queries = detour.NewQueryPool(s.mesh, cfg.Query.MaxSearchNodes)
	if s.octree, err = nav_octree.NewOctree(grid.Orig, cfg.NavMesh.TileSize*octreeTiles, s.logger); err != nil {
		return nil, err
	}
	if s.comp, err = dtc.NewZstdCompressor(); err != nil {
		return nil, err
	}
	if s.cache, err = dtc.NewDtTileCache(dtc.DtTileCacheParams{Grid: grid, MaxObstacles: cfg.Generator.MaxObstacles}, s.comp, s.logger); err != nil {
		return nil, multierr.Append(err, s.comp.Close())
	}
	s.tiles, err = tile_manager.New(tile_manager.Options{
		Grid:                grid,
		DefaultRadiusAdd:    cfg.Tiles.AddRadius,
		DefaultRadiusRemove: cfg.Tiles.RemoveRadius,
		UpdateInterval:      cfg.Tiles.UpdateInterval,
	}, s.logger)
	if err != nil {
		return nil, multierr.Append(err, s.comp.Close())
	}
	s.paths = detour_path.NewRegistry(s.mesh, s.logger)
	s.paths.SetClock(s.now)
	s.unsubscribe = s.mesh.Subscribe(s.paths.OnTileEvent)

	if s.tileGen == nil {
		s.tileGen = &GridGenerator{
			Grid:           grid,
			CellsPerTile:   cfg.Generator.CellsPerTile,
			Areas:          s.areas,
			Compressor:     s.comp,
			WalkableHeight: cfg.Generator.WalkableHeight,
			WalkableRadius: cfg.Generator.WalkableRadius,
			WalkableClimb:  cfg.Generator.WalkableClimb,
		}
	}
	if s.gen, err = NewGenerator(s.tileGen, cfg.Generator.Workers, cfg.Generator.QueueSize, s.logger); err != nil {
		return nil, multierr.Append(err, s.comp.Close())
	}
	if s.archive, err = OpenArchive(cfg.Archive, s.logger); err != nil {
		return nil, multierr.Append(err, s.comp.Close())
	}
	s.metrics = NewMetrics(s.reg, cfg.Metrics.Namespace)
	return s, nil
}

func (s *System) rebuildFilter() error {
	f, err := s.cfg.Filter(s.areas)
	if err != nil {
		return err
	}
	s.filter.Store(f)
	return nil
}

// Start launches the tile build workers.
func (s *System) Start(ctx context.Context) { s.gen.Start(ctx) }

func (s *System) Close() error {
	s.unsubscribe()
	err := s.gen.Stop()
	if s.archive != nil {
		err = multierr.Append(err, s.archive.Close())
	}
	return multierr.Append(err, s.comp.Close())
}

func (s *System) NavMesh() *detour.DtNavMesh         { return s.mesh }
func (s *System) Areas() *detour.DtAreaTable         { return s.areas }
func (s *System) Paths() *detour_path.Registry       { return s.paths }
func (s *System) Metrics() *Metrics                  { return s.metrics }
func (s *System) Archive() *TileArchive              { return s.archive }
func (s *System) TileCache() *dtc.DtTileCache        { return s.cache }
func (s *System) TileManager() *tile_manager.Manager { return s.tiles }

// Filter is the default query filter, rebuilt whenever the area table changes.
func (s *System) Filter() *detour.DtQueryFilter { return s.filter.Load() }

// AreaID returns the id of a configured area.
func (s *System) AreaID(name string) (uint8, bool) {
	id, ok := s.areaIDs[name]
	return id, ok
}

// Tick advances the system: it refreshes the active tile set when due,
// schedules rebuilds for changed geometry and obstacles, attaches finished
// builds and recomputes invalidated paths.
func (s *System) Tick(ctx context.Context, now time.Time, invokers []tile_manager.Invoker) (TickReport, error) {
	s.report = TickReport{}
	select {
	case cfg := <-s.reloads:
		if err := s.ApplyConfig(cfg); err != nil {
			s.logger.Warn("config not applied", zap.Error(err))
		}
	default:
	}
	// Dirty areas first: tiles added below snapshot the octree anyway.
	errs := s.scheduleDirty()
	if s.tiles.Due(now) {
		s.report.Delta = s.tiles.Update(invokers)
		errs = multierr.Append(errs, s.applyDelta(s.report.Delta))
	}
	s.scheduleObstacles()
	s.retryBacklog()
	s.drain()
	n, err := s.repath(ctx)
	s.report.Repathed = n
	errs = multierr.Append(errs, err)
	s.paths.Prune()
	s.updateGauges()
	return s.report, errs
}

// WaitIdle blocks until every scheduled build is attached and the repath
// queue is empty.
func (s *System) WaitIdle(ctx context.Context) error {
	for s.Building() {
		s.retryBacklog()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-s.gen.Results():
			s.apply(res)
		}
	}
	_, err := s.repath(ctx)
	s.updateGauges()
	return err
}

func (s *System) applyDelta(delta tile_manager.TileDelta) error {
	var errs error
	for _, k := range delta.ToRemove {
		if s.pinned[k] {
			s.tiles.MarkResident(k)
			continue
		}
		errs = multierr.Append(errs, s.release(k, true))
	}
	for _, k := range delta.ToAdd {
		if s.mesh.TileAt(k) != nil {
			continue
		}
		if s.archive != nil {
			data, ok, err := s.archive.Get(k)
			if err != nil {
				errs = multierr.Append(errs, err)
			} else if ok {
				if err := s.attach(k, data); err == nil {
					s.report.Restored++
					s.metrics.TilesRestored.Inc()
					continue
				}
				s.logger.Warn("archived tile rejected, rebuilding", zap.Stringer("tile", k))
			}
		}
		s.schedule(k)
	}
	return errs
}

// release detaches k and forgets any build in flight for it.
func (s *System) release(k detour.TileKey, archive bool) error {
	delete(s.inflight, k)
	delete(s.redo, k)
	s.backlog = slices.DeleteFunc(s.backlog, func(b detour.TileKey) bool { return b == k })
	data, ok := s.detach(k)
	if !ok || !archive || s.archive == nil {
		return nil
	}
	if err := s.archive.Put(k, *data); err != nil {
		return fmt.Errorf("archive tile %v: %w", k, err)
	}
	s.metrics.TilesArchived.Inc()
	return nil
}

func (s *System) detach(k detour.TileKey) (*detour.TileData, bool) {
	data, ok := s.mesh.Detach(k.X, k.Y, k.Layer)
	s.cache.RemoveTile(k)
	if ok {
		s.report.Detached++
		s.metrics.TilesDetached.Inc()
	}
	return data, ok
}

func (s *System) attach(k detour.TileKey, data detour.TileData) error {
	if _, err := s.mesh.Attach(data); err != nil {
		return err
	}
	if err := s.cache.AddTile(k, data.Cache); err != nil {
		s.logger.Warn("tile attached without cache layer", zap.Stringer("tile", k), zap.Error(err))
		_ = s.cache.AddTile(k, nil)
	}
	s.report.Attached++
	s.metrics.TilesAttached.Inc()
	return nil
}

// schedule queues a build of k. A tile already building is built again once
// the current build lands, so the newest world state always wins.
func (s *System) schedule(k detour.TileKey) {
	if _, ok := s.inflight[k]; ok {
		s.redo[k] = true
		return
	}
	if slices.Contains(s.backlog, k) {
		return
	}
	if !s.submit(k) {
		s.backlog = append(s.backlog, k)
	}
}

func (s *System) submit(k detour.TileKey) bool {
	grid := s.mesh.GetParams()
	bounds := grid.TileBounds(k.X, k.Y)
	s.seq++
	req := TileBuildRequest{
		Key:       k,
		Seq:       s.seq,
		Bounds:    bounds,
		Elements:  s.octree.Snapshot(bounds, elementFlags),
		Obstacles: s.cache.ObstaclesOverlapping(bounds),
	}
	if s.pinned[k] {
		req.Cache, _ = s.cache.GetTile(k)
	}
	if !s.gen.Submit(req) {
		return false
	}
	s.inflight[k] = req.Seq
	s.report.Scheduled++
	return true
}

func (s *System) retryBacklog() {
	var left []detour.TileKey
	for i, k := range s.backlog {
		if !s.submit(k) {
			left = append(left, s.backlog[i:]...)
			break
		}
	}
	s.backlog = left
}

// scheduleDirty rebuilds the resident tiles touched by octree changes. An
// archived copy of a tile that is not resident is stale and dropped.
func (s *System) scheduleDirty() error {
	grid := s.mesh.GetParams()
	var errs error
	seen := make(map[detour.TileKey]bool)
	for _, area := range s.octree.ConsumeDirtyAreas() {
		tx0, ty0 := grid.CalcTileLoc(area.Min)
		tx1, ty1 := grid.CalcTileLoc(area.Max)
		for ty := ty0; ty <= ty1; ty++ {
			for tx := tx0; tx <= tx1; tx++ {
				k := detour.TileKey{X: tx, Y: ty}
				if seen[k] {
					continue
				}
				seen[k] = true
				switch {
				case s.pinned[k]:
				case s.tiles.IsResident(k):
					s.schedule(k)
				case s.archive != nil:
					errs = multierr.Append(errs, s.archive.Delete(k))
				}
			}
		}
	}
	return errs
}

// scheduleObstacles rebuilds the tiles touched by obstacle changes. The
// cache reports them until they are built; after a new obstacle request they
// are rebuilt even when a build is already running, since that build did not
// see the obstacle.
func (s *System) scheduleObstacles() {
	force := s.obstaclesChanged
	s.obstaclesChanged = false
	for _, k := range s.cache.Update() {
		if _, running := s.inflight[k]; running && !force {
			continue
		}
		s.schedule(k)
	}
}

func (s *System) drain() {
	for {
		select {
		case res := <-s.gen.Results():
			s.apply(res)
		default:
			return
		}
	}
}

func (s *System) apply(res TileBuildResult) {
	seq, ok := s.inflight[res.Key]
	if !ok || seq != res.Seq {
		s.metrics.Builds.WithLabelValues("stale").Inc()
		return
	}
	delete(s.inflight, res.Key)
	s.metrics.BuildSeconds.Observe(res.Elapsed.Seconds())
	switch {
	case res.Err != nil:
		s.metrics.Builds.WithLabelValues("error").Inc()
		s.logger.Error("tile build failed", zap.Stringer("tile", res.Key), zap.Error(res.Err))
	case res.Empty:
		s.metrics.Builds.WithLabelValues("empty").Inc()
		s.detach(res.Key)
		// a tile covered by obstacles keeps its layer so their removal
		// still reaches it
		if len(res.Data.Cache) > 0 {
			if err := s.cache.AddTile(res.Key, res.Data.Cache); err != nil {
				s.logger.Warn("empty tile layer dropped", zap.Stringer("tile", res.Key), zap.Error(err))
			}
		}
	default:
		s.metrics.Builds.WithLabelValues("ok").Inc()
		s.detach(res.Key)
		if err := s.attach(res.Key, res.Data); err != nil {
			s.logger.Error("built tile rejected", zap.Stringer("tile", res.Key), zap.Error(err))
		}
	}
	s.cache.TileBuilt(res.Key)
	if s.redo[res.Key] {
		delete(s.redo, res.Key)
		s.schedule(res.Key)
	}
}

func (s *System) repath(ctx context.Context) (int, error) {
	q := s.queries.Get()
	defer s.queries.Put(q)
	n, err := s.paths.ProcessRepaths(ctx, q, s.cfg.Paths.MaxRepathsPerTick)
	// paths are also discarded from tile events, between repaths
	st := s.paths.Stats()
	s.metrics.PathsRepathed.Add(float64(st.Repathed - s.pathStats.Repathed))
	s.metrics.PathsFailed.Add(float64(st.Failed - s.pathStats.Failed))
	s.metrics.PathsDiscarded.Add(float64(st.Discarded - s.pathStats.Discarded))
	s.pathStats = st
	return n, err
}

func (s *System) updateGauges() {
	s.metrics.ResidentTiles.Set(float64(s.mesh.TileCount()))
	s.metrics.OctreeElements.Set(float64(s.octree.Len()))
	s.metrics.PendingBuilds.Set(float64(len(s.inflight) + len(s.backlog)))
	s.metrics.PathsRegistered.Set(float64(s.paths.Stats().Active))
}

// Building reports whether any tile build is scheduled or running.
func (s *System) Building() bool { return len(s.inflight) > 0 || len(s.backlog) > 0 }

// World objects.

func (s *System) RegisterObject(obj nav_octree.NavRelevant) (nav_octree.ElementID, error) {
	return s.octree.RegisterObject(obj)
}

func (s *System) UpdateObject(obj nav_octree.NavRelevant) error { return s.octree.UpdateObject(obj) }

func (s *System) UnregisterObject(obj nav_octree.NavRelevant) error {
	return s.octree.UnregisterObject(obj)
}

// Octree exposes the element index for callers adding raw elements.
func (s *System) Octree() *nav_octree.Octree { return s.octree }

// Obstacles.

func (s *System) AddObstacle(pos common.Vec3, radius, height float32) (dtc.DtObstacleRef, error) {
	ref, err := s.cache.AddObstacle(pos, radius, height)
	if err == nil {
		s.obstaclesChanged = true
	}
	return ref, err
}

func (s *System) AddBoxObstacle(bmin, bmax common.Vec3) (dtc.DtObstacleRef, error) {
	ref, err := s.cache.AddBoxObstacle(bmin, bmax)
	if err == nil {
		s.obstaclesChanged = true
	}
	return ref, err
}

func (s *System) RemoveObstacle(ref dtc.DtObstacleRef) error {
	if err := s.cache.RemoveObstacle(ref); err != nil {
		return err
	}
	s.obstaclesChanged = true
	return nil
}

// Queries.

func (s *System) filterOr(f *detour.DtQueryFilter) *detour.DtQueryFilter {
	if f == nil {
		return s.filter.Load()
	}
	return f
}

// FindPath computes a path for req, with the default filter when req.Filter
// is nil. A successful path with an owner is observed by the registry and
// recomputed when a tile it crosses changes.
func (s *System) FindPath(req detour_path.Request) (*detour_path.NavPath, detour.PathResult) {
	req.Filter = s.filterOr(req.Filter)
	var res detour.PathResult
	s.queries.Do(func(q *detour.DtNavMeshQuery) {
		res = q.FindPath(req.Start, req.End, req.Filter, req.AllowPartial)
	})
	s.metrics.PathQueries.WithLabelValues(res.Status.String()).Inc()
	p := detour_path.NewNavPath(req, res, s.now())
	if res.OK() && req.Owner != nil {
		if err := s.paths.Register(p); err != nil {
			s.logger.Warn("path not observed", zap.Stringer("path", p.ID), zap.Error(err))
		}
	}
	return p, res
}

func (s *System) TestPath(start, end common.Vec3, filter *detour.DtQueryFilter) bool {
	var ok bool
	s.queries.Do(func(q *detour.DtNavMeshQuery) { ok = q.TestPath(start, end, s.filterOr(filter)) })
	return ok
}

func (s *System) Raycast(start, end common.Vec3, filter *detour.DtQueryFilter) (hit detour.RaycastHit, err error) {
	s.queries.Do(func(q *detour.DtNavMeshQuery) { hit, err = q.Raycast(start, end, s.filterOr(filter)) })
	return hit, err
}

func (s *System) ProjectPoint(point common.Vec3, filter *detour.DtQueryFilter) (loc detour.Location, ok bool) {
	ext := common.Vec3(s.cfg.Query.Extent)
	if ext == (common.Vec3{}) {
		ext = detour.DefaultQueryExtent
	}
	s.queries.Do(func(q *detour.DtNavMeshQuery) { loc, ok = q.ProjectPoint(point, ext, s.filterOr(filter)) })
	return loc, ok
}

func (s *System) RandomPointInRadius(origin common.Vec3, radius float32, filter *detour.DtQueryFilter) (loc detour.Location, ok bool) {
	s.queries.Do(func(q *detour.DtNavMeshQuery) { loc, ok = q.RandomPointInRadius(origin, radius, s.filterOr(filter)) })
	return loc, ok
}

// Level streaming.

// AttachChunk attaches the tiles of an encoded chunk, replacing any resident
// tile at the same key. Chunk tiles stay resident until DetachChunk. A tile
// built by an incompatible version is rebuilt instead.
func (s *System) AttachChunk(data []byte) error {
	chunk, err := message.Decode(data)
	if err != nil {
		return err
	}
	var errs error
	for _, rec := range chunk.Tiles {
		k := detour.TileKey{X: rec.X, Y: rec.Y, Layer: rec.Layer}
		td := detour.TileData{Mesh: rec.Mesh, Cache: rec.Cache}
		if got, err := td.Key(); err == nil && got != k {
			errs = multierr.Append(errs, &detour.AttachError{Key: k, Err: fmt.Errorf("%w: mesh is for tile %v", detour.ErrInvalidParam, got)})
			continue
		}
		_ = s.release(k, false)
		s.tiles.MarkResident(k)
		if err := s.attach(k, td); err != nil {
			if errors.Is(err, detour.ErrVersion) {
				s.logger.Warn("chunk tile needs rebuild", zap.String("chunk", chunk.Name), zap.Stringer("tile", k))
				s.schedule(k)
				continue
			}
			s.tiles.MarkReleased(k)
			errs = multierr.Append(errs, err)
			continue
		}
		s.pinned[k] = true
	}
	s.logger.Info("chunk attached", zap.String("chunk", chunk.Name), zap.Int("tiles", len(chunk.Tiles)))
	return errs
}

// DetachChunk removes the tiles of an encoded chunk.
func (s *System) DetachChunk(data []byte) error {
	chunk, err := message.Decode(data)
	if err != nil {
		return err
	}
	for _, rec := range chunk.Tiles {
		k := detour.TileKey{X: rec.X, Y: rec.Y, Layer: rec.Layer}
		delete(s.pinned, k)
		_ = s.release(k, false)
		s.tiles.MarkReleased(k)
	}
	s.logger.Info("chunk detached", zap.String("chunk", chunk.Name), zap.Int("tiles", len(chunk.Tiles)))
	return nil
}

// ExportChunk encodes the resident tiles at keys as a chunk.
func (s *System) ExportChunk(name string, keys []detour.TileKey) ([]byte, error) {
	c := &message.Chunk{Name: name}
	for _, k := range keys {
		t := s.mesh.TileAt(k)
		if t == nil {
			return nil, fmt.Errorf("%w: tile %v is not resident", detour.ErrInvalidParam, k)
		}
		c.Tiles = append(c.Tiles, message.TileRecord{X: k.X, Y: k.Y, Layer: k.Layer, Mesh: t.Data.Mesh, Cache: t.Data.Cache})
	}
	return message.Encode(c), nil
}

// Persistence.

func (s *System) Save(w io.Writer) error { return s.mesh.Serialize(w) }

// Load attaches a store written by Save. Loaded tiles are pinned like chunk
// tiles; tiles from an incompatible version are scheduled for rebuild.
func (s *System) Load(r io.Reader) error {
	err := s.mesh.Deserialize(r)
	for _, k := range s.mesh.TileKeys() {
		if _, ok := s.cache.GetTile(k); ok {
			continue
		}
		if cerr := s.cache.AddTile(k, s.mesh.TileAt(k).Data.Cache); cerr != nil {
			_ = s.cache.AddTile(k, nil)
		}
		s.pinned[k] = true
		s.tiles.MarkResident(k)
	}
	for _, k := range s.mesh.ConsumeRebuildKeys() {
		s.tiles.MarkResident(k)
		s.schedule(k)
	}
	s.updateGauges()
	return err
}

// Configuration.

// ApplyConfig applies the settings that can change at runtime: areas, query
// limits and repath budget. Grid and generator settings need a new System.
func (s *System) ApplyConfig(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	var errs error
	if cfg.NavMesh != s.cfg.NavMesh || cfg.Generator != s.cfg.Generator || cfg.Archive != s.cfg.Archive {
		errs = &detour.ConfigError{Field: "navmesh", Reason: "grid, generator and archive settings apply on restart"}
	}
	s.cfg.Query = cfg.Query
	s.queries.SetMaxNodes(cfg.Query.MaxSearchNodes)
	s.cfg.Paths = cfg.Paths
	s.cfg.Areas = cfg.Areas
	ids, err := cfg.ApplyAreas(s.areas)
	for name, id := range ids {
		s.areaIDs[name] = id
	}
	errs = multierr.Append(errs, err)
	return multierr.Append(errs, s.rebuildFilter())
}

// WatchConfig reloads the file at path on change and hands the new config to
// the next Tick. It blocks until ctx is done.
func (s *System) WatchConfig(ctx context.Context, path string) error {
	return config.Watch(ctx, path, s.logger, func(c config.Config) {
		select {
		case <-s.reloads:
		default:
		}
		s.reloads <- c
	})
}
