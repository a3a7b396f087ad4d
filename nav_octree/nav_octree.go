// Package nav_octree indexes the navigation data contributed by world objects
// in a loose octree, so tile generation can fetch everything overlapping a
// tile without scanning the world.
package nav_octree

import (
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/common/logs"
	"github.com/gorustyt/navtile/detour"
	"go.uber.org/zap"
)

const (
	// A leaf splits once it holds more than LeafCapacity elements.
	LeafCapacity = 16
	// A subtree holding fewer than CollapseBelow elements folds back into its root.
	CollapseBelow = 7
	MaxDepth      = 12
)

type octreeNode struct {
	center   common.Vec3
	half     float32
	depth    int
	parent   *octreeNode
	children []*octreeNode
	elements []*Element
	count    int // elements in this subtree
}

// looseBounds is twice the node cell; every element stored here lies inside it.
func (n *octreeNode) looseBounds() common.AABB {
	h := 2 * n.half
	return common.AABBFromCenter(n.center, common.Vec3{h, h, h})
}

func (n *octreeNode) childIndex(p common.Vec3) int {
	i := 0
	if p[0] >= n.center[0] {
		i |= 1
	}
	if p[1] >= n.center[1] {
		i |= 2
	}
	if p[2] >= n.center[2] {
		i |= 4
	}
	return i
}

func (n *octreeNode) childCenter(i int) common.Vec3 {
	q := n.half / 2
	c := n.center.Sub(common.Vec3{q, q, q})
	if i&1 != 0 {
		c[0] += n.half
	}
	if i&2 != 0 {
		c[1] += n.half
	}
	if i&4 != 0 {
		c[2] += n.half
	}
	return c
}

// fitsChild picks the child whose loose bounds contain b.
func (n *octreeNode) fitsChild(b common.AABB) (int, bool) {
	ch := n.half / 2
	ext := b.Extent()
	if max(ext[0], ext[1], ext[2]) > ch {
		return 0, false
	}
	center := b.Center()
	i := n.childIndex(center)
	cc := n.childCenter(i)
	for k := 0; k < 3; k++ {
		if common.Abs(center[k]-cc[k]) > ch {
			return 0, false
		}
	}
	return i, true
}

func (n *octreeNode) split() {
	n.children = make([]*octreeNode, 8)
	for i := range n.children {
		n.children[i] = &octreeNode{center: n.childCenter(i), half: n.half / 2, depth: n.depth + 1, parent: n}
	}
	kept := n.elements[:0]
	for _, e := range n.elements {
		if i, ok := n.fitsChild(e.Bounds); ok {
			c := n.children[i]
			c.elements = append(c.elements, e)
			c.count++
			e.node = c
			continue
		}
		kept = append(kept, e)
	}
	clear(n.elements[len(kept):])
	n.elements = kept
	for _, c := range n.children {
		if len(c.elements) > LeafCapacity && c.depth < MaxDepth {
			c.split()
		}
	}
}

func (n *octreeNode) gather(into *octreeNode) {
	for _, c := range n.children {
		for _, e := range c.elements {
			e.node = into
			into.elements = append(into.elements, e)
		}
		c.gather(into)
	}
}

func (n *octreeNode) collapse() {
	n.gather(n)
	n.children = nil
}

func (n *octreeNode) visit(region common.AABB, flags QueryFlags, yield func(*Element) bool) bool {
	for _, e := range n.elements {
		if e.Bounds.Overlaps(region) && e.matches(flags) {
			if !yield(e) {
				return false
			}
		}
	}
	for _, c := range n.children {
		if c.count == 0 || !c.looseBounds().Overlaps(region) {
			continue
		}
		if !c.visit(region, flags, yield) {
			return false
		}
	}
	return true
}

type elementSlot struct {
	gen  uint32
	elem *Element
	next int32 // free list link, -1 ends it
}

// Octree is a loose octree of navigation elements. Elements whose center
// falls outside the root cell stay in the root.
type Octree struct {
	mu     sync.RWMutex
	logger *zap.Logger

	root    *octreeNode
	slots   []elementSlot
	free    int32
	byOwner map[ObjectRef]ElementID
	dirty   []common.AABB
}

func NewOctree(center common.Vec3, halfSize float32, logger *zap.Logger) (*Octree, error) {
	if !common.IsFinite(halfSize) || halfSize <= 0 || !common.Visfinite(center) {
		return nil, &detour.ConfigError{Field: "octree.half_size", Reason: "must be finite and > 0"}
	}
	return &Octree{
		logger:  logs.OrNop(logger).Named("octree"),
		root:    &octreeNode{center: center, half: halfSize},
		free:    -1,
		byOwner: make(map[ObjectRef]ElementID),
	}, nil
}

func (o *Octree) lookup(id ElementID) *Element {
	idx := id.Index()
	if int(idx) >= len(o.slots) {
		return nil
	}
	s := &o.slots[idx]
	if s.elem == nil || s.gen != id.Generation() {
		return nil
	}
	return s.elem
}

func (o *Octree) unknown(op string, id ElementID) error {
	o.logger.Error("unknown octree element", zap.String("op", op), zap.Stringer("id", id))
	return fmt.Errorf("%w: %s %v", detour.ErrUnknownElement, op, id)
}

func (o *Octree) unknownOwner(op string, owner ObjectRef) error {
	o.logger.Error("object has no octree element", zap.String("op", op), zap.Stringer("owner", owner))
	return fmt.Errorf("%w: %s owner %v", detour.ErrUnknownElement, op, owner)
}

func (o *Octree) allocSlot(e *Element) ElementID {
	var idx int32
	if o.free >= 0 {
		idx = o.free
		o.free = o.slots[idx].next
	} else {
		o.slots = append(o.slots, elementSlot{})
		idx = int32(len(o.slots) - 1)
	}
	s := &o.slots[idx]
	if s.gen == 0 {
		s.gen = 1
	}
	s.elem = e
	s.next = -1
	return encodeElementID(s.gen, uint32(idx))
}

func (o *Octree) freeSlot(id ElementID) {
	s := &o.slots[id.Index()]
	s.elem = nil
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.next = o.free
	o.free = int32(id.Index())
}

func (o *Octree) insertElement(e *Element) {
	n := o.root
	n.count++
	for n.children != nil {
		i, ok := n.fitsChild(e.Bounds)
		if !ok {
			break
		}
		n = n.children[i]
		n.count++
	}
	n.elements = append(n.elements, e)
	e.node = n
	if n.children == nil && len(n.elements) > LeafCapacity && n.depth < MaxDepth {
		n.split()
	}
}

func (o *Octree) removeElement(e *Element) {
	n := e.node
	if i := slices.Index(n.elements, e); i >= 0 {
		n.elements = slices.Delete(n.elements, i, i+1)
	}
	e.node = nil
	var top *octreeNode
	for p := n; p != nil; p = p.parent {
		p.count--
		if p.children != nil && p.count < CollapseBelow {
			top = p
		}
	}
	if top != nil {
		top.collapse()
	}
}

func (o *Octree) markDirty(b common.AABB) {
	o.dirty = append(o.dirty, b)
}

// Insert adds an element for owner. If owner already has one, the geometry
// and modifiers are appended to it and its id is returned.
func (o *Octree) Insert(owner ObjectRef, bounds common.AABB, geometry []byte, modifiers ModifierSet) (ElementID, error) {
	if !bounds.IsValid() || !common.Visfinite(bounds.Min) || !common.Visfinite(bounds.Max) {
		return 0, fmt.Errorf("%w: bounds %v", detour.ErrInvalidParam, bounds)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if id, ok := o.byOwner[owner]; ok {
		o.appendLocked(o.lookup(id), bounds, geometry, modifiers)
		return id, nil
	}
	e := &Element{Owner: owner, Bounds: bounds, Modifiers: modifiers.clone()}
	if len(geometry) > 0 {
		e.Geometry = [][]byte{slices.Clone(geometry)}
	}
	e.ID = o.allocSlot(e)
	o.byOwner[owner] = e.ID
	o.insertElement(e)
	o.markDirty(bounds)
	return e.ID, nil
}

func (o *Octree) appendLocked(e *Element, bounds common.AABB, geometry []byte, modifiers ModifierSet) {
	if len(geometry) > 0 {
		e.Geometry = append(e.Geometry, slices.Clone(geometry))
	}
	e.Modifiers = e.Modifiers.merge(modifiers.clone())
	grown := e.Bounds.Union(bounds)
	if grown != e.Bounds {
		o.removeElement(e)
		e.Bounds = grown
		o.insertElement(e)
	}
	o.markDirty(grown)
}

// Append merges more data into an element. Its bounds grow to the union with
// bounds; pass the current bounds to leave them unchanged.
func (o *Octree) Append(id ElementID, bounds common.AABB, geometry []byte, modifiers ModifierSet) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	e := o.lookup(id)
	if e == nil {
		return o.unknown("append", id)
	}
	o.appendLocked(e, bounds, geometry, modifiers)
	return nil
}

func (o *Octree) UpdateBounds(id ElementID, bounds common.AABB) error {
	if !bounds.IsValid() {
		return fmt.Errorf("%w: bounds %v", detour.ErrInvalidParam, bounds)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	e := o.lookup(id)
	if e == nil {
		return o.unknown("update_bounds", id)
	}
	o.markDirty(e.Bounds)
	o.removeElement(e)
	e.Bounds = bounds
	o.insertElement(e)
	o.markDirty(bounds)
	return nil
}

func (o *Octree) Remove(id ElementID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	e := o.lookup(id)
	if e == nil {
		return o.unknown("remove", id)
	}
	o.removeElement(e)
	delete(o.byOwner, e.Owner)
	o.freeSlot(id)
	o.markDirty(e.Bounds)
	return nil
}

// Element returns a copy of the element with the given id.
func (o *Octree) Element(id ElementID) (Element, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	e := o.lookup(id)
	if e == nil {
		return Element{}, fmt.Errorf("%w: %v", detour.ErrUnknownElement, id)
	}
	return e.Clone(), nil
}

// ElementOf returns the id of owner's element.
func (o *Octree) ElementOf(owner ObjectRef) (ElementID, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	id, ok := o.byOwner[owner]
	return id, ok
}

func (o *Octree) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.root.count
}

// Query yields the elements overlapping region that carry any of flags.
// The sequence is lazy and can be ranged over again. It holds a read lock
// while running, so the loop body must not mutate the octree.
func (o *Octree) Query(region common.AABB, flags QueryFlags) iter.Seq[*Element] {
	return func(yield func(*Element) bool) {
		o.mu.RLock()
		defer o.mu.RUnlock()
		o.root.visit(region, flags, yield)
	}
}

// Snapshot copies the elements Query would yield.
func (o *Octree) Snapshot(region common.AABB, flags QueryFlags) []Element {
	var out []Element
	for e := range o.Query(region, flags) {
		out = append(out, e.Clone())
	}
	return out
}

// ConsumeDirtyAreas returns and clears the regions changed since the last call.
func (o *Octree) ConsumeDirtyAreas() []common.AABB {
	o.mu.Lock()
	defer o.mu.Unlock()
	d := o.dirty
	o.dirty = nil
	return d
}

func (o *Octree) RegisterObject(obj NavRelevant) (ElementID, error) {
	geometry, mods := obj.ExportNavigationData()
	return o.Insert(obj.NavigationRef(), obj.NavigationBounds(), geometry, mods)
}

// UpdateObject replaces the object's exported data and bounds.
func (o *Octree) UpdateObject(obj NavRelevant) error {
	bounds := obj.NavigationBounds()
	if !bounds.IsValid() {
		return fmt.Errorf("%w: bounds %v", detour.ErrInvalidParam, bounds)
	}
	geometry, mods := obj.ExportNavigationData()
	o.mu.Lock()
	defer o.mu.Unlock()
	id, ok := o.byOwner[obj.NavigationRef()]
	if !ok {
		return o.unknownOwner("update_object", obj.NavigationRef())
	}
	e := o.lookup(id)
	o.markDirty(e.Bounds)
	o.removeElement(e)
	e.Bounds = bounds
	e.Geometry = nil
	if len(geometry) > 0 {
		e.Geometry = [][]byte{slices.Clone(geometry)}
	}
	e.Modifiers = mods.clone()
	o.insertElement(e)
	o.markDirty(bounds)
	return nil
}

func (o *Octree) UnregisterObject(obj NavRelevant) error {
	id, ok := o.ElementOf(obj.NavigationRef())
	if !ok {
		return o.unknownOwner("unregister_object", obj.NavigationRef())
	}
	return o.Remove(id)
}

// stats reports node count and depth, for tests.
func (o *Octree) stats() (nodes, depth int) {
	var walk func(n *octreeNode)
	walk = func(n *octreeNode) {
		nodes++
		depth = max(depth, n.depth)
		for _, c := range n.children {
			walk(c)
		}
	}
	o.mu.RLock()
	walk(o.root)
	o.mu.RUnlock()
	return nodes, depth
}
