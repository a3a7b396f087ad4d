package detour

import (
	"math"
	"testing"

	"github.com/gorustyt/navtile/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterValidate(t *testing.T) {
	_, err := NewDtQueryFilter(WithAreaCost(3, -1))
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewDtQueryFilter(WithFixedAreaEnteringCost(3, float32(math.NaN())))
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewDtQueryFilter(WithMaxSearchNodes(0))
	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "filter.max_search_nodes", cerr.Field)
	_, err = NewDtQueryFilter(WithMaxSearchNodes(DT_MAX_NODE_POOL + 1))
	assert.ErrorIs(t, err, ErrConfig)
	_, err = NewDtQueryFilter(WithHeuristicScale(0))
	assert.ErrorIs(t, err, ErrConfig)

	f, err := NewDtQueryFilter()
	require.NoError(t, err)
	assert.Equal(t, float32(DefaultHeuristicScale), f.GetHeuristicScale())
	assert.Equal(t, DefaultMaxSearchNodes, f.GetMaxSearchNodes())
}

func TestFilterFromAreaTable(t *testing.T) {
	table := NewDefaultAreaTable(nil)
	water, _ := table.RegisterArea(AreaDescriptor{Name: "Water", DefaultCost: 4, FixedEnteringCost: 2})
	f, err := FilterFromAreaTable(table, 512)
	require.NoError(t, err)
	assert.EqualValues(t, 4, f.GetAreaCost(water))
	assert.EqualValues(t, 2, f.GetFixedAreaEnteringCost(water))
	assert.True(t, math.IsInf(float64(f.GetAreaCost(AREA_NULL)), 1))

	_, err = FilterFromAreaTable(table, 0)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestPassFilter(t *testing.T) {
	f := defaultTestFilter(t, WithExcludeFlags(POLYFLAG_LOW))
	walk := &DtPoly{Flags: POLYFLAG_WALK}
	low := &DtPoly{Flags: POLYFLAG_WALK | POLYFLAG_LOW}
	none := &DtPoly{}
	assert.True(t, f.PassFilter(walk))
	assert.False(t, f.PassFilter(low), "excluded flags win over cost")
	assert.False(t, f.PassFilter(none))

	walk.SetArea(7)
	assert.False(t, FilterOutAreas(f, 7).PassFilter(walk))
	assert.True(t, f.PassFilter(walk), "presets do not touch the base")

	link := &DtPoly{Flags: POLYFLAG_WALK | NavLinkFlag}
	assert.False(t, FilterOutNavLinks(f).PassFilter(link))
	assert.False(t, FilterOutNavLinksAndAreas(f, 9).PassFilter(link))
}

func TestFilterCost(t *testing.T) {
	f := defaultTestFilter(t, WithAreaCost(5, 3), WithFixedAreaEnteringCost(5, 10))
	ground := &DtPoly{}
	water := &DtPoly{}
	water.SetArea(5)
	a := common.Vec3{0, 0, 0}
	b := common.Vec3{2, 0, 0}
	assert.InDelta(t, 2, f.getCost(a, b, ground, ground), 1e-6)
	assert.InDelta(t, 2*3+10, f.getCost(a, b, ground, water), 1e-6)
	assert.InDelta(t, 2*3, f.getCost(a, b, water, nil), 1e-6)
	assert.InDelta(t, 2, f.getCost(a, b, water, ground), 1e-6)
}
