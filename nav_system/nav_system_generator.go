package nav_system

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/common/logs"
	"github.com/gorustyt/navtile/detour"
	"github.com/gorustyt/navtile/detour_tile_cache"
	"github.com/gorustyt/navtile/nav_octree"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// TileBuildRequest carries a detached copy of everything a tile build needs,
// so workers never touch world state.
type TileBuildRequest struct {
	Key       detour.TileKey
	Seq       uint64
	Bounds    common.AABB
	Elements  []nav_octree.Element
	Obstacles []detour_tile_cache.Obstacle
	// Cache is the compressed layer to rebuild from when the tile has no
	// geometry of its own, as for streamed chunk tiles.
	Cache []byte
}

type TileBuildResult struct {
	Key     detour.TileKey
	Seq     uint64
	Data    detour.TileData
	Empty   bool // no polys; Data.Cache may still hold the layer
	Err     error
	Elapsed time.Duration
}

// TileGenerator turns a request into tile data. It runs on worker goroutines.
type TileGenerator interface {
	Generate(ctx context.Context, req TileBuildRequest) (TileBuildResult, error)
}

// Generator runs tile builds on a fixed pool of workers. Results are read
// back on the world goroutine through Results.
type Generator struct {
	gen     TileGenerator
	workers int
	logger  *zap.Logger

	requests chan TileBuildRequest
	results  chan TileBuildResult

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	stopped bool
}

func NewGenerator(gen TileGenerator, workers, queueSize int, logger *zap.Logger) (*Generator, error) {
	if gen == nil {
		return nil, fmt.Errorf("%w: nil tile generator", detour.ErrInvalidParam)
	}
	if workers <= 0 {
		return nil, &detour.ConfigError{Field: "generator.workers", Reason: "must be > 0"}
	}
	if queueSize <= 0 {
		return nil, &detour.ConfigError{Field: "generator.queue_size", Reason: "must be > 0"}
	}
	return &Generator{
		gen:      gen,
		workers:  workers,
		logger:   logs.OrNop(logger).Named("generator"),
		requests: make(chan TileBuildRequest, queueSize),
		results:  make(chan TileBuildResult, queueSize+workers),
	}, nil
}

// Start launches the workers. They stop when ctx is done or Stop is called.
func (g *Generator) Start(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.group != nil || g.stopped {
		return
	}
	ctx, g.cancel = context.WithCancel(ctx)
	g.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < g.workers; i++ {
		g.group.Go(func() error { return g.work(ctx) })
	}
}

func (g *Generator) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-g.requests:
			start := time.Now()
			res, err := g.gen.Generate(ctx, req)
			res.Key, res.Seq = req.Key, req.Seq
			res.Elapsed = time.Since(start)
			if err != nil {
				res.Err = err
			}
			if res.Err != nil && ctx.Err() != nil {
				return nil
			}
			select {
			case g.results <- res:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// Submit queues req without blocking. It returns false when the queue is full
// or the generator is stopped.
func (g *Generator) Submit(req TileBuildRequest) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return false
	}
	select {
	case g.requests <- req:
		return true
	default:
		return false
	}
}

// Pending is the number of queued requests not yet picked by a worker.
func (g *Generator) Pending() int { return len(g.requests) }

func (g *Generator) Results() <-chan TileBuildResult { return g.results }

// Stop cancels the workers and waits for them. Queued requests are dropped.
func (g *Generator) Stop() error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return nil
	}
	g.stopped = true
	cancel, group := g.cancel, g.group
	g.mu.Unlock()
	if group == nil {
		return nil
	}
	cancel()
	return group.Wait()
}
