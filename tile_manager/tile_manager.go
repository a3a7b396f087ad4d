// Package tile_manager decides which navmesh tiles must be resident around a
// set of moving invokers.
package tile_manager

import (
	"fmt"
	"slices"
	"time"

	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/common/logs"
	"github.com/gorustyt/navtile/detour"
	"go.uber.org/zap"
)

const DefaultUpdateInterval = time.Second

// Invoker is a point of interest that keeps tiles resident. Tiles within
// RadiusAdd are requested, resident tiles are released once they leave
// RadiusRemove of every invoker. Zero radii take the manager defaults.
type Invoker struct {
	Location     common.Vec3
	RadiusAdd    float32
	RadiusRemove float32
}

type TileDelta struct {
	ToAdd    []detour.TileKey
	ToRemove []detour.TileKey
}

func (d TileDelta) Empty() bool { return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 }

type Options struct {
	Grid detour.NavMeshParams
	// Layers is the number of layers requested per tile column, at least 1.
	Layers              uint8
	DefaultRadiusAdd    float32
	DefaultRadiusRemove float32
	UpdateInterval      time.Duration
}

// Manager tracks the resident tile set. It is driven from the goroutine that
// owns the navmesh and is not safe for concurrent use.
type Manager struct {
	opts     Options
	logger   *zap.Logger
	resident map[detour.TileKey]struct{}
	lastRun  time.Time
}

func New(opts Options, logger *zap.Logger) (*Manager, error) {
	if err := opts.Grid.Validate(); err != nil {
		return nil, err
	}
	if opts.Layers == 0 {
		opts.Layers = 1
	}
	if opts.DefaultRadiusAdd <= 0 || opts.DefaultRadiusRemove <= opts.DefaultRadiusAdd {
		return nil, &detour.ConfigError{Field: "tiles.remove_radius",
			Reason: fmt.Sprintf("need 0 < add (%g) < remove (%g)", opts.DefaultRadiusAdd, opts.DefaultRadiusRemove)}
	}
	if opts.UpdateInterval < 0 {
		return nil, &detour.ConfigError{Field: "tiles.update_interval", Reason: "must be >= 0"}
	}
	return &Manager{
		opts:     opts,
		logger:   logs.OrNop(logger).Named("tiles"),
		resident: make(map[detour.TileKey]struct{}),
	}, nil
}

// Due reports whether an update should run at now, and if so starts a new
// interval.
func (m *Manager) Due(now time.Time) bool {
	if !m.lastRun.IsZero() && now.Sub(m.lastRun) < m.opts.UpdateInterval {
		return false
	}
	m.lastRun = now
	return true
}

func (m *Manager) radii(inv Invoker) (add, remove float32) {
	add, remove = inv.RadiusAdd, inv.RadiusRemove
	if add <= 0 {
		add = m.opts.DefaultRadiusAdd
	}
	if remove <= 0 {
		remove = m.opts.DefaultRadiusRemove
	}
	// an invoker never releases what it requests
	return add, max(add, remove)
}

// visit calls fn for every tile column whose center lies within radius of p
// on the xz-plane.
func (m *Manager) visit(p common.Vec3, radius float32, fn func(x, y int32, dist2 float32)) {
	g := &m.opts.Grid
	lo := p.Sub(common.Vec3{radius, 0, radius})
	hi := p.Add(common.Vec3{radius, 0, radius})
	minx, miny := g.CalcTileLoc(lo)
	maxx, maxy := g.CalcTileLoc(hi)
	for y := miny; y <= maxy; y++ {
		for x := minx; x <= maxx; x++ {
			c := g.TileCenter(x, y)
			d := common.Sqr(c[0]-p[0]) + common.Sqr(c[2]-p[2])
			if d <= radius*radius {
				fn(x, y, d)
			}
		}
	}
}

// Update computes the delta between the resident set and the tiles the
// invokers need, then applies it to the resident set. Calling it again with
// the same invokers yields an empty delta.
func (m *Manager) Update(invokers []Invoker) TileDelta {
	wanted := make(map[detour.TileKey]struct{})
	keep := make(map[detour.TileKey]struct{})
	for _, inv := range invokers {
		if !common.Visfinite(inv.Location) {
			m.logger.Warn("skipping invoker with non finite location", zap.Any("location", inv.Location))
			continue
		}
		add, remove := m.radii(inv)
		m.visit(inv.Location, remove, func(x, y int32, dist2 float32) {
			for l := uint8(0); l < m.opts.Layers; l++ {
				k := detour.TileKey{X: x, Y: y, Layer: l}
				keep[k] = struct{}{}
				if dist2 <= add*add {
					wanted[k] = struct{}{}
				}
			}
		})
	}

	var delta TileDelta
	for k := range wanted {
		if _, ok := m.resident[k]; !ok {
			delta.ToAdd = append(delta.ToAdd, k)
		}
	}
	for k := range m.resident {
		if _, ok := keep[k]; !ok {
			delta.ToRemove = append(delta.ToRemove, k)
		}
	}
	slices.SortFunc(delta.ToAdd, detour.CompareTileKeys)
	slices.SortFunc(delta.ToRemove, detour.CompareTileKeys)

	for _, k := range delta.ToRemove {
		delete(m.resident, k)
	}
	for _, k := range delta.ToAdd {
		m.resident[k] = struct{}{}
	}
	if !delta.Empty() {
		m.logger.Debug("active tiles changed",
			zap.Int("add", len(delta.ToAdd)),
			zap.Int("remove", len(delta.ToRemove)),
			zap.Int("resident", len(m.resident)))
	}
	return delta
}

// SetResident replaces the resident set, e.g. after tiles were streamed in
// from outside the manager.
func (m *Manager) SetResident(keys []detour.TileKey) {
	clear(m.resident)
	for _, k := range keys {
		m.resident[k] = struct{}{}
	}
}

// MarkResident and MarkReleased keep the set in step with tiles attached or
// detached by other means.
func (m *Manager) MarkResident(k detour.TileKey) { m.resident[k] = struct{}{} }
func (m *Manager) MarkReleased(k detour.TileKey) { delete(m.resident, k) }

// Resident returns the resident keys in key order.
func (m *Manager) Resident() []detour.TileKey {
	out := make([]detour.TileKey, 0, len(m.resident))
	for k := range m.resident {
		out = append(out, k)
	}
	slices.SortFunc(out, detour.CompareTileKeys)
	return out
}

func (m *Manager) IsResident(k detour.TileKey) bool {
	_, ok := m.resident[k]
	return ok
}
