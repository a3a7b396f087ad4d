package detour

import (
	"math"

	"github.com/gorustyt/navtile/common"
)

const (
	// DefaultHeuristicScale keeps A* slightly under-estimating so it expands
	// fewer nodes, at the price of paths that may be marginally longer than optimal.
	DefaultHeuristicScale = 0.999
	DefaultMaxSearchNodes = 2048

	// NavLinkFlag is the poly flag carried by off-mesh connection polys.
	NavLinkFlag = POLYFLAG_NAV_LINK
)

var unwalkableCost = float32(math.Inf(1))

// DtQueryFilter decides which polys a query may visit and what moving across them costs.
type DtQueryFilter struct {
	m_areaCost       [DT_MAX_AREAS]float32 ///< Cost per area type.
	m_fixedCost      [DT_MAX_AREAS]float32 ///< Cost paid once when entering an area.
	m_includeFlags   uint16                ///< Flags for polygons that can be visited.
	m_excludeFlags   uint16                ///< Flags for polygons that should not be visited.
	m_maxSearchNodes int
	m_heuristicScale float32
}

type FilterOption func(f *DtQueryFilter)

func WithAreaCost(area uint8, cost float32) FilterOption {
	return func(f *DtQueryFilter) { f.m_areaCost[area%DT_MAX_AREAS] = cost }
}

func WithFixedAreaEnteringCost(area uint8, cost float32) FilterOption {
	return func(f *DtQueryFilter) { f.m_fixedCost[area%DT_MAX_AREAS] = cost }
}

func WithIncludeFlags(flags uint16) FilterOption {
	return func(f *DtQueryFilter) { f.m_includeFlags = flags }
}

func WithExcludeFlags(flags uint16) FilterOption {
	return func(f *DtQueryFilter) { f.m_excludeFlags = flags }
}

func WithMaxSearchNodes(n int) FilterOption {
	return func(f *DtQueryFilter) { f.m_maxSearchNodes = n }
}

func WithHeuristicScale(scale float32) FilterOption {
	return func(f *DtQueryFilter) { f.m_heuristicScale = scale }
}

func defaultFilter() *DtQueryFilter {
	f := &DtQueryFilter{
		m_includeFlags:   0xffff,
		m_maxSearchNodes: DefaultMaxSearchNodes,
		m_heuristicScale: DefaultHeuristicScale,
	}
	for i := range f.m_areaCost {
		f.m_areaCost[i] = 1.0
	}
	return f
}

// NewDtQueryFilter builds a filter with unit costs, all flags included and the
// default node budget, then applies opts.
func NewDtQueryFilter(opts ...FilterOption) (*DtQueryFilter, error) {
	f := defaultFilter()
	for _, opt := range opts {
		opt(f)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// FilterFromAreaTable copies the costs of every registered area.
func FilterFromAreaTable(table *DtAreaTable, maxSearchNodes int, opts ...FilterOption) (*DtQueryFilter, error) {
	f := defaultFilter()
	f.m_maxSearchNodes = maxSearchNodes
	for _, a := range table.Areas() {
		f.m_areaCost[a.ID] = a.DefaultCost
		f.m_fixedCost[a.ID] = a.FixedEnteringCost
	}
	for _, opt := range opts {
		opt(f)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (filter *DtQueryFilter) Validate() error {
	for i := 0; i < DT_MAX_AREAS; i++ {
		if c := filter.m_areaCost[i]; math.IsNaN(float64(c)) || c < 0 {
			return &ConfigError{Field: "filter.area_cost", Reason: "costs must be >= 0"}
		}
		if c := filter.m_fixedCost[i]; math.IsNaN(float64(c)) || c < 0 {
			return &ConfigError{Field: "filter.fixed_cost", Reason: "costs must be >= 0"}
		}
	}
	if filter.m_maxSearchNodes <= 0 {
		return &ConfigError{Field: "filter.max_search_nodes", Reason: "search must be bounded"}
	}
	if filter.m_maxSearchNodes > DT_MAX_NODE_POOL {
		return &ConfigError{Field: "filter.max_search_nodes", Reason: "exceeds node pool limit"}
	}
	if !common.IsFinite(filter.m_heuristicScale) || filter.m_heuristicScale <= 0 {
		return &ConfigError{Field: "filter.heuristic_scale", Reason: "must be finite and > 0"}
	}
	return nil
}

func (filter *DtQueryFilter) Clone() *DtQueryFilter {
	c := *filter
	return &c
}

// / Returns the traversal cost of the area.
// /  @param[in]		i		The id of the area.
func (filter *DtQueryFilter) GetAreaCost(i uint8) float32 { return filter.m_areaCost[i%DT_MAX_AREAS] }

func (filter *DtQueryFilter) GetFixedAreaEnteringCost(i uint8) float32 {
	return filter.m_fixedCost[i%DT_MAX_AREAS]
}

// / Returns the include flags for the filter.
// / Any polygons that include one or more of these flags will be
// / included in the operation.
func (filter *DtQueryFilter) GetIncludeFlags() uint16 { return filter.m_includeFlags }

// / Returns the exclude flags for the filter.
// / Any polygons that include one ore more of these flags will be
// / excluded from the operation.
func (filter *DtQueryFilter) GetExcludeFlags() uint16 { return filter.m_excludeFlags }

func (filter *DtQueryFilter) GetMaxSearchNodes() int { return filter.m_maxSearchNodes }

func (filter *DtQueryFilter) GetHeuristicScale() float32 { return filter.m_heuristicScale }

// PassFilter reports whether poly may be visited: it carries an included flag,
// no excluded flag and its area is walkable.
func (filter *DtQueryFilter) PassFilter(poly *DtPoly) bool {
	return (poly.Flags&filter.m_includeFlags) != 0 &&
		(poly.Flags&filter.m_excludeFlags) == 0 &&
		common.IsFinite(filter.m_areaCost[poly.GetArea()])
}

// getCost prices the move from pa to pb at the area cost of the poly being
// entered (curPoly itself for the final leg). Entering a different area pays
// its fixed cost once.
func (filter *DtQueryFilter) getCost(pa, pb common.Vec3, curPoly, nextPoly *DtPoly) float32 {
	if nextPoly == nil {
		return common.Vdist(pa, pb) * filter.m_areaCost[curPoly.GetArea()]
	}
	cost := common.Vdist(pa, pb) * filter.m_areaCost[nextPoly.GetArea()]
	if nextPoly.GetArea() != curPoly.GetArea() {
		cost += filter.m_fixedCost[nextPoly.GetArea()]
	}
	return cost
}

// FilterOutNavLinks excludes off-mesh connection polys.
func FilterOutNavLinks(base *DtQueryFilter) *DtQueryFilter {
	f := base.Clone()
	f.m_excludeFlags |= NavLinkFlag
	return f
}

// FilterOutAreas makes the given areas unwalkable.
func FilterOutAreas(base *DtQueryFilter, areas ...uint8) *DtQueryFilter {
	f := base.Clone()
	for _, a := range areas {
		f.m_areaCost[a%DT_MAX_AREAS] = unwalkableCost
	}
	return f
}

func FilterOutNavLinksAndAreas(base *DtQueryFilter, areas ...uint8) *DtQueryFilter {
	return FilterOutAreas(FilterOutNavLinks(base), areas...)
}
