package main

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/detour"
	"github.com/gorustyt/navtile/nav_octree"
	"github.com/gorustyt/navtile/nav_system"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// Scene is a box world: walkable floors with their area overrides and links,
// plus temporary obstacles.
type Scene struct {
	Floors    []SceneFloor    `yaml:"floors" validate:"min=1,dive"`
	Obstacles []SceneObstacle `yaml:"obstacles" validate:"dive"`
}

type SceneFloor struct {
	Min   [3]float32  `yaml:"min"`
	Max   [3]float32  `yaml:"max"`
	Areas []SceneArea `yaml:"areas" validate:"dive"`
	Links []SceneLink `yaml:"links" validate:"dive"`
}

type SceneArea struct {
	Min     [3]float32 `yaml:"min"`
	Max     [3]float32 `yaml:"max"`
	Area    string     `yaml:"area" validate:"required"`
	Replace string     `yaml:"replace"`
}

type SceneLink struct {
	Start  [3]float32 `yaml:"start"`
	End    [3]float32 `yaml:"end"`
	Radius float32    `yaml:"radius" validate:"gte=0"`
	Bidir  bool       `yaml:"bidir"`
	Area   string     `yaml:"area"`
}

// SceneObstacle is a box when Radius is zero, a cylinder standing on Min
// otherwise.
type SceneObstacle struct {
	Min    [3]float32 `yaml:"min"`
	Max    [3]float32 `yaml:"max"`
	Radius float32    `yaml:"radius" validate:"gte=0"`
	Height float32    `yaml:"height" validate:"gte=0"`
}

var sceneValidate = validator.New(validator.WithRequiredStructEnabled())

func LoadScene(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScene(data)
}

func ParseScene(data []byte) (*Scene, error) {
	var sc Scene
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	if err := sceneValidate.Struct(&sc); err != nil {
		return nil, fmt.Errorf("scene: %w", err)
	}
	return &sc, nil
}

// Bounds is the union of all floors.
func (sc *Scene) Bounds() common.AABB {
	var b common.AABB
	for i, f := range sc.Floors {
		fb := common.NewAABB(f.Min, f.Max)
		if i == 0 {
			b = fb
			continue
		}
		b = b.Union(fb)
	}
	return b
}

// floorObject exports one floor to the octree.
type floorObject struct {
	ref  uuid.UUID
	slab nav_system.Slab
	mods nav_octree.ModifierSet
}

func (f *floorObject) NavigationRef() nav_octree.ObjectRef { return f.ref }
func (f *floorObject) NavigationBounds() common.AABB {
	b := common.NewAABB(f.slab.Min, f.slab.Max)
	for _, l := range f.mods.Links {
		b = b.Union(common.NewAABB(l.Start, l.End))
	}
	return b
}
func (f *floorObject) ExportNavigationData() ([]byte, nav_octree.ModifierSet) {
	return nav_system.EncodeSlabs(f.slab), f.mods
}

func areaID(table *detour.DtAreaTable, name string) (uint8, error) {
	if name == "" {
		return detour.AREA_DEFAULT, nil
	}
	d, ok := table.AreaByName(name)
	if !ok {
		return 0, fmt.Errorf("%w: area %q", detour.ErrUnknownElement, name)
	}
	return d.ID, nil
}

// Apply registers the floors with s and adds the obstacles.
func (sc *Scene) Apply(s *nav_system.System) error {
	var errs error
	for i, f := range sc.Floors {
		obj, err := sc.floor(s.Areas(), f)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("floor %d: %w", i, err))
			continue
		}
		if _, err := s.RegisterObject(obj); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("floor %d: %w", i, err))
		}
	}
	for i, o := range sc.Obstacles {
		var err error
		if o.Radius > 0 {
			_, err = s.AddObstacle(o.Min, o.Radius, o.Height)
		} else {
			_, err = s.AddBoxObstacle(o.Min, o.Max)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("obstacle %d: %w", i, err))
		}
	}
	return errs
}

func (sc *Scene) floor(table *detour.DtAreaTable, f SceneFloor) (*floorObject, error) {
	obj := &floorObject{ref: uuid.New(), slab: nav_system.Slab{Min: f.Min, Max: f.Max}}
	for _, a := range f.Areas {
		id, err := areaID(table, a.Area)
		if err != nil {
			return nil, err
		}
		m := detour.AreaModifier{Bounds: common.NewAABB(a.Min, a.Max), Area: id}
		if a.Replace != "" {
			rid, err := areaID(table, a.Replace)
			if err != nil {
				return nil, err
			}
			m.ReplaceArea = &rid
		}
		obj.mods.Areas = append(obj.mods.Areas, m)
	}
	for _, l := range f.Links {
		id, err := areaID(table, l.Area)
		if err != nil {
			return nil, err
		}
		obj.mods.Links = append(obj.mods.Links, detour.OffMeshConParams{
			Start: l.Start, End: l.End, Rad: l.Radius, Bidir: l.Bidir, Area: id,
		})
	}
	return obj, nil
}
