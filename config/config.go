// Package config loads the navigation settings from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/common/logs"
	"github.com/gorustyt/navtile/detour"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging   logs.Options    `yaml:"logging"`
	NavMesh   NavMeshConfig   `yaml:"navmesh"`
	Query     QueryConfig     `yaml:"query"`
	Tiles     TileConfig      `yaml:"tiles"`
	Areas     []AreaConfig    `yaml:"areas" validate:"max=61,dive"`
	Paths     PathConfig      `yaml:"paths"`
	Generator GeneratorConfig `yaml:"generator"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type NavMeshConfig struct {
	Origin   [3]float32 `yaml:"origin"`
	TileSize float32    `yaml:"tile_size" validate:"gt=0"`
	MaxTiles int32      `yaml:"max_tiles" validate:"min=1,max=65536"`
	MaxPolys int32      `yaml:"max_polys" validate:"min=1,max=65535"`
}

type QueryConfig struct {
	MaxSearchNodes int        `yaml:"max_search_nodes" validate:"min=1,max=65535"`
	HeuristicScale float32    `yaml:"heuristic_scale" validate:"gt=0,lte=1"`
	Extent         [3]float32 `yaml:"extent"`
}

// TileConfig drives the active tile set.
type TileConfig struct {
	UpdateInterval time.Duration `yaml:"update_interval" validate:"gte=0"`
	AddRadius      float32       `yaml:"add_radius" validate:"gt=0"`
	RemoveRadius   float32       `yaml:"remove_radius" validate:"gt=0"`
}

// AreaConfig registers a custom area, or retunes a reserved one by name.
type AreaConfig struct {
	Name      string  `yaml:"name" validate:"required"`
	Cost      float32 `yaml:"cost" validate:"gte=0"`
	FixedCost float32 `yaml:"fixed_cost" validate:"gte=0"`
	Flags     uint16  `yaml:"flags"`
}

type PathConfig struct {
	MaxRepathsPerTick int `yaml:"max_repaths_per_tick" validate:"gte=0"`
}

// GeneratorConfig drives tile builds. The walkable values describe the
// agent the tiles are built for.
type GeneratorConfig struct {
	Workers        int     `yaml:"workers" validate:"min=1,max=64"`
	QueueSize      int     `yaml:"queue_size" validate:"min=1"`
	CellsPerTile   int     `yaml:"cells_per_tile" validate:"min=1,max=255"`
	MaxObstacles   int     `yaml:"max_obstacles" validate:"min=1,max=65535"`
	WalkableHeight float32 `yaml:"walkable_height" validate:"gt=0"`
	WalkableRadius float32 `yaml:"walkable_radius" validate:"gte=0"`
	WalkableClimb  float32 `yaml:"walkable_climb" validate:"gte=0"`
}

// ArchiveConfig enables the on-disk tile archive. An empty Dir with InMemory
// unset disables it.
type ArchiveConfig struct {
	Dir      string `yaml:"dir"`
	InMemory bool   `yaml:"in_memory"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace" validate:"omitempty,alphanum"`
}

func Default() Config {
	return Config{
		Logging: logs.Options{Level: "info", MaxSizeMB: 64, MaxBackups: 3, MaxAgeDays: 7},
		NavMesh: NavMeshConfig{TileSize: 32, MaxTiles: 1024, MaxPolys: 4096},
		Query: QueryConfig{
			MaxSearchNodes: detour.DefaultMaxSearchNodes,
			HeuristicScale: detour.DefaultHeuristicScale,
			Extent:         [3]float32(detour.DefaultQueryExtent),
		},
		Tiles: TileConfig{UpdateInterval: time.Second, AddRadius: 64, RemoveRadius: 96},
		Paths: PathConfig{MaxRepathsPerTick: 16},
		Generator: GeneratorConfig{
			Workers:        2,
			QueueSize:      64,
			CellsPerTile:   16,
			MaxObstacles:   128,
			WalkableHeight: 2,
			WalkableRadius: 0.5,
			WalkableClimb:  0.5,
		},
		Metrics: MetricsConfig{Namespace: "navtile"},
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(validateTiles, TileConfig{})
	return v
}

func validateTiles(sl validator.StructLevel) {
	t := sl.Current().Interface().(TileConfig)
	if t.RemoveRadius <= t.AddRadius {
		sl.ReportError(t.RemoveRadius, "remove_radius", "RemoveRadius", "gtfield", "add_radius")
	}
}

// Validate reports every rejected field as a *detour.ConfigError, combined
// with multierr.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	var verrs validator.ValidationErrors
	if err != nil && !errors.As(err, &verrs) {
		return err
	}
	var res error
	for _, fe := range verrs {
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		res = multierr.Append(res, &detour.ConfigError{Field: strings.TrimPrefix(fe.Namespace(), "Config."), Reason: reason})
	}
	seen := make(map[string]bool, len(c.Areas))
	for _, a := range c.Areas {
		if seen[a.Name] {
			res = multierr.Append(res, &detour.ConfigError{Field: "areas", Reason: fmt.Sprintf("duplicate area %q", a.Name)})
		}
		seen[a.Name] = true
	}
	return res
}

// Parse applies data over the defaults and validates the result.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

func (c *Config) NavMeshParams() detour.NavMeshParams {
	return detour.NavMeshParams{
		Orig:       common.Vec3(c.NavMesh.Origin),
		TileWidth:  c.NavMesh.TileSize,
		TileHeight: c.NavMesh.TileSize,
		MaxTiles:   c.NavMesh.MaxTiles,
		MaxPolys:   c.NavMesh.MaxPolys,
	}
}

// ApplyAreas registers the configured areas, updating the costs of those
// already present. It returns the ids by name.
func (c *Config) ApplyAreas(table *detour.DtAreaTable) (map[string]uint8, error) {
	ids := make(map[string]uint8, len(c.Areas))
	var errs error
	for _, a := range c.Areas {
		if existing, ok := table.AreaByName(a.Name); ok {
			if err := table.SetAreaCost(existing.ID, a.Cost, a.FixedCost); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			ids[a.Name] = existing.ID
			continue
		}
		id, err := table.RegisterArea(detour.AreaDescriptor{
			Name:              a.Name,
			Kind:              detour.AreaCustom,
			DefaultCost:       a.Cost,
			FixedEnteringCost: a.FixedCost,
			Flags:             a.Flags,
		})
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		ids[a.Name] = id
	}
	return ids, errs
}

// Filter builds the default query filter from the table and the query limits.
func (c *Config) Filter(table *detour.DtAreaTable) (*detour.DtQueryFilter, error) {
	return detour.FilterFromAreaTable(table, c.Query.MaxSearchNodes,
		detour.WithHeuristicScale(c.Query.HeuristicScale))
}
