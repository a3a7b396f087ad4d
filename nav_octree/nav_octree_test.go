package nav_octree

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/google/uuid"
	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/detour"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestOctree(t *testing.T) *Octree {
	t.Helper()
	o, err := NewOctree(common.Vec3{}, 512, nil)
	require.NoError(t, err)
	return o
}

func box(x, y, z, r float32) common.AABB {
	return common.AABBFromCenter(common.Vec3{x, y, z}, common.Vec3{r, r, r})
}

func ids(seq func(func(*Element) bool)) []ElementID {
	var out []ElementID
	for e := range seq {
		out = append(out, e.ID)
	}
	slices.Sort(out)
	return out
}

func TestNewOctreeRejectsBadSize(t *testing.T) {
	_, err := NewOctree(common.Vec3{}, 0, nil)
	assert.ErrorIs(t, err, detour.ErrConfig)
}

func TestInsertQueryMatchesBruteForce(t *testing.T) {
	o := newTestOctree(t)
	rng := rand.New(rand.NewPCG(1, 2))
	bounds := map[ElementID]common.AABB{}
	for i := 0; i < 400; i++ {
		b := box(rng.Float32()*800-400, rng.Float32()*40, rng.Float32()*800-400, 1+rng.Float32()*20)
		id, err := o.Insert(uuid.New(), b, []byte{1}, ModifierSet{})
		require.NoError(t, err)
		bounds[id] = b
	}
	assert.Equal(t, 400, o.Len())

	nodes, depth := o.stats()
	assert.Greater(t, nodes, 1, "tree split")
	assert.Greater(t, depth, 0)

	for i := 0; i < 20; i++ {
		region := box(rng.Float32()*800-400, 20, rng.Float32()*800-400, 50)
		var want []ElementID
		for id, b := range bounds {
			if b.Overlaps(region) {
				want = append(want, id)
			}
		}
		slices.Sort(want)
		assert.Equal(t, want, ids(o.Query(region, 0)))
	}
}

func TestElementsOutsideRootStayQueryable(t *testing.T) {
	o, err := NewOctree(common.Vec3{}, 10, nil)
	require.NoError(t, err)
	id, err := o.Insert(uuid.New(), box(1000, 0, 1000, 1), nil, ModifierSet{})
	require.NoError(t, err)
	assert.Equal(t, []ElementID{id}, ids(o.Query(box(1000, 0, 1000, 5), 0)))
}

func TestRemoveCollapses(t *testing.T) {
	o := newTestOctree(t)
	var all []ElementID
	for i := 0; i < 40; i++ {
		id, err := o.Insert(uuid.New(), box(float32(i%8)*10+5, 5, float32(i/8)*10+5, 1), nil, ModifierSet{})
		require.NoError(t, err)
		all = append(all, id)
	}
	nodes, _ := o.stats()
	require.Greater(t, nodes, 1)

	// Split happens above LeafCapacity, collapse only below CollapseBelow.
	for _, id := range all[:40-LeafCapacity] {
		require.NoError(t, o.Remove(id))
	}
	nodes, _ = o.stats()
	assert.Greater(t, nodes, 1, "no collapse while at leaf capacity")

	for _, id := range all[40-LeafCapacity : 40-CollapseBelow+1] {
		require.NoError(t, o.Remove(id))
	}
	nodes, _ = o.stats()
	assert.Equal(t, 1, nodes)
	assert.Equal(t, CollapseBelow-1, o.Len())
	assert.Len(t, ids(o.Query(box(0, 0, 0, 1000), 0)), CollapseBelow-1)
}

func TestStaleElementID(t *testing.T) {
	core, logged := observer.New(zapcore.ErrorLevel)
	o, err := NewOctree(common.Vec3{}, 64, zap.New(core))
	require.NoError(t, err)

	id, err := o.Insert(uuid.New(), box(0, 0, 0, 1), nil, ModifierSet{})
	require.NoError(t, err)
	require.NoError(t, o.Remove(id))

	again, err := o.Insert(uuid.New(), box(0, 0, 0, 1), nil, ModifierSet{})
	require.NoError(t, err)
	assert.Equal(t, id.Index(), again.Index())
	assert.NotEqual(t, id.Generation(), again.Generation())

	assert.ErrorIs(t, o.Remove(id), detour.ErrUnknownElement)
	assert.ErrorIs(t, o.UpdateBounds(id, box(1, 1, 1, 1)), detour.ErrUnknownElement)
	assert.ErrorIs(t, o.Append(id, box(1, 1, 1, 1), nil, ModifierSet{}), detour.ErrUnknownElement)
	_, err = o.Element(id)
	assert.ErrorIs(t, err, detour.ErrUnknownElement)

	assert.Equal(t, 3, logged.FilterMessage("unknown octree element").Len())
	_, err = o.Element(again)
	assert.NoError(t, err)
}

func TestInsertSameOwnerAppends(t *testing.T) {
	o := newTestOctree(t)
	owner := uuid.New()
	area := detour.AreaModifier{Bounds: box(0, 0, 0, 1), Area: 5}
	link := detour.OffMeshConParams{Start: common.Vec3{0, 0, 0}, End: common.Vec3{4, 0, 0}, Rad: 0.5}

	id, err := o.Insert(owner, box(0, 0, 0, 1), []byte("a"), ModifierSet{Areas: []detour.AreaModifier{area}})
	require.NoError(t, err)
	same, err := o.Insert(owner, box(4, 0, 0, 1), []byte("b"), ModifierSet{Links: []detour.OffMeshConParams{link}})
	require.NoError(t, err)
	assert.Equal(t, id, same)
	assert.Equal(t, 1, o.Len())

	e, err := o.Element(id)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, e.Geometry)
	assert.Len(t, e.Modifiers.Areas, 1)
	assert.Len(t, e.Modifiers.Links, 1)
	assert.Equal(t, common.NewAABB(common.Vec3{-1, -1, -1}, common.Vec3{5, 1, 1}), e.Bounds)
	assert.Equal(t, HasGeometry|HasOffMeshLinks|HasAreaModifiers, e.Flags())
}

func TestAppendGrowsBounds(t *testing.T) {
	o := newTestOctree(t)
	id, err := o.Insert(uuid.New(), box(0, 0, 0, 1), nil, ModifierSet{})
	require.NoError(t, err)
	require.NoError(t, o.Append(id, box(100, 0, 0, 1), []byte("g"), ModifierSet{}))

	assert.Equal(t, []ElementID{id}, ids(o.Query(box(100, 0, 0, 2), 0)))
	assert.Equal(t, []ElementID{id}, ids(o.Query(box(0, 0, 0, 2), HasGeometry)))
}

func TestUpdateBoundsMovesElement(t *testing.T) {
	o := newTestOctree(t)
	for i := 0; i < 30; i++ {
		_, err := o.Insert(uuid.New(), box(float32(i)*3, 0, 0, 1), nil, ModifierSet{})
		require.NoError(t, err)
	}
	id, err := o.Insert(uuid.New(), box(-200, 0, -200, 1), nil, ModifierSet{})
	require.NoError(t, err)
	require.NoError(t, o.UpdateBounds(id, box(200, 0, 200, 1)))

	assert.Empty(t, ids(o.Query(box(-200, 0, -200, 2), 0)))
	assert.Equal(t, []ElementID{id}, ids(o.Query(box(200, 0, 200, 2), 0)))
	assert.Equal(t, 31, o.Len())
}

func TestQueryFlagsAndRestart(t *testing.T) {
	o := newTestOctree(t)
	geom, err := o.Insert(uuid.New(), box(0, 0, 0, 1), []byte("g"), ModifierSet{})
	require.NoError(t, err)
	mod, err := o.Insert(uuid.New(), box(1, 0, 0, 1), nil, ModifierSet{Areas: []detour.AreaModifier{{Area: 3}}})
	require.NoError(t, err)
	link, err := o.Insert(uuid.New(), box(2, 0, 0, 1), nil, ModifierSet{Links: []detour.OffMeshConParams{{Rad: 1}}})
	require.NoError(t, err)

	region := box(0, 0, 0, 10)
	assert.Equal(t, []ElementID{geom}, ids(o.Query(region, HasGeometry)))
	assert.Equal(t, []ElementID{mod}, ids(o.Query(region, HasAreaModifiers)))
	assert.Equal(t, []ElementID{link}, ids(o.Query(region, HasOffMeshLinks)))
	assert.Len(t, ids(o.Query(region, HasAreaModifiers|HasOffMeshLinks)), 2)

	seq := o.Query(region, 0)
	assert.Len(t, ids(seq), 3)
	assert.Len(t, ids(seq), 3, "sequence restarts")

	n := 0
	for range seq {
		n++
		break
	}
	assert.Equal(t, 1, n)
	require.NoError(t, o.Remove(geom), "early break released the lock")
}

func TestSnapshotIsDetached(t *testing.T) {
	o := newTestOctree(t)
	id, err := o.Insert(uuid.New(), box(0, 0, 0, 1), []byte("abc"), ModifierSet{})
	require.NoError(t, err)
	snap := o.Snapshot(box(0, 0, 0, 1), HasGeometry)
	require.Len(t, snap, 1)
	snap[0].Geometry[0][0] = 'x'

	e, err := o.Element(id)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), e.Geometry[0])
}

func TestDirtyAreas(t *testing.T) {
	o := newTestOctree(t)
	id, err := o.Insert(uuid.New(), box(0, 0, 0, 1), nil, ModifierSet{})
	require.NoError(t, err)
	require.NoError(t, o.UpdateBounds(id, box(10, 0, 0, 1)))
	require.NoError(t, o.Remove(id))

	dirty := o.ConsumeDirtyAreas()
	assert.Equal(t, []common.AABB{box(0, 0, 0, 1), box(0, 0, 0, 1), box(10, 0, 0, 1), box(10, 0, 0, 1)}, dirty)
	assert.Empty(t, o.ConsumeDirtyAreas())
}

type crate struct {
	ref    ObjectRef
	bounds common.AABB
	area   uint8
}

func (c *crate) NavigationRef() ObjectRef      { return c.ref }
func (c *crate) NavigationBounds() common.AABB { return c.bounds }
func (c *crate) ExportNavigationData() ([]byte, ModifierSet) {
	return nil, ModifierSet{Areas: []detour.AreaModifier{{Bounds: c.bounds, Area: c.area}}}
}

func TestNavRelevantObjects(t *testing.T) {
	core, logged := observer.New(zapcore.ErrorLevel)
	o, err := NewOctree(common.Vec3{}, 64, zap.New(core))
	require.NoError(t, err)

	c := &crate{ref: uuid.New(), bounds: box(0, 0, 0, 1), area: 4}
	id, err := o.RegisterObject(c)
	require.NoError(t, err)

	c.bounds = box(20, 0, 0, 1)
	c.area = 6
	require.NoError(t, o.UpdateObject(c))
	e, err := o.Element(id)
	require.NoError(t, err)
	assert.Equal(t, c.bounds, e.Bounds)
	require.Len(t, e.Modifiers.Areas, 1, "update replaces instead of appending")
	assert.Equal(t, uint8(6), e.Modifiers.Areas[0].Area)

	require.NoError(t, o.UnregisterObject(c))
	assert.Zero(t, o.Len())
	assert.ErrorIs(t, o.UnregisterObject(c), detour.ErrUnknownElement)
	assert.ErrorIs(t, o.UpdateObject(c), detour.ErrUnknownElement)
	assert.Equal(t, 2, logged.Len())
}
