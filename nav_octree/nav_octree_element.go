package nav_octree

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/detour"
)

// ObjectRef identifies the world object an element belongs to. The octree
// only compares it, it never resolves it.
type ObjectRef = uuid.UUID

// ElementID is a generation stamped slot handle: slot index in the low 32
// bits, generation in the high 32 bits. The zero value is never issued.
type ElementID uint64

func encodeElementID(gen, index uint32) ElementID {
	return ElementID(uint64(gen)<<32 | uint64(index))
}

func (id ElementID) Index() uint32      { return uint32(id) }
func (id ElementID) Generation() uint32 { return uint32(id >> 32) }

func (id ElementID) String() string {
	return fmt.Sprintf("elem(%d@%d)", id.Index(), id.Generation())
}

// ModifierSet is the navigation data an object contributes besides geometry.
type ModifierSet struct {
	Areas []detour.AreaModifier
	Links []detour.OffMeshConParams
}

func (m ModifierSet) Empty() bool { return len(m.Areas) == 0 && len(m.Links) == 0 }

func (m ModifierSet) merge(o ModifierSet) ModifierSet {
	return ModifierSet{
		Areas: append(slices.Clip(m.Areas), o.Areas...),
		Links: append(slices.Clip(m.Links), o.Links...),
	}
}

func (m ModifierSet) clone() ModifierSet {
	return ModifierSet{Areas: slices.Clone(m.Areas), Links: slices.Clone(m.Links)}
}

// QueryFlags selects elements by the payload they carry. Zero matches all.
type QueryFlags uint8

const (
	HasGeometry QueryFlags = 1 << iota
	HasOffMeshLinks
	HasAreaModifiers
)

// Element is one indexed entry. Geometry holds opaque blobs, one per
// contribution, in the order they were added.
type Element struct {
	ID        ElementID
	Owner     ObjectRef
	Bounds    common.AABB
	Geometry  [][]byte
	Modifiers ModifierSet

	node *octreeNode
}

func (e *Element) Flags() QueryFlags {
	var f QueryFlags
	if len(e.Geometry) > 0 {
		f |= HasGeometry
	}
	if len(e.Modifiers.Links) > 0 {
		f |= HasOffMeshLinks
	}
	if len(e.Modifiers.Areas) > 0 {
		f |= HasAreaModifiers
	}
	return f
}

func (e *Element) matches(flags QueryFlags) bool {
	return flags == 0 || e.Flags()&flags != 0
}

// Clone copies the element so it can outlive later octree mutation.
func (e *Element) Clone() Element {
	geom := make([][]byte, len(e.Geometry))
	for i, g := range e.Geometry {
		geom[i] = slices.Clone(g)
	}
	return Element{
		ID:        e.ID,
		Owner:     e.Owner,
		Bounds:    e.Bounds,
		Geometry:  geom,
		Modifiers: e.Modifiers.clone(),
	}
}

// NavRelevant is implemented by world objects that contribute navigation data.
type NavRelevant interface {
	NavigationRef() ObjectRef
	NavigationBounds() common.AABB
	ExportNavigationData() (geometry []byte, modifiers ModifierSet)
}
