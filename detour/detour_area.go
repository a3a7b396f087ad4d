package detour

import (
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/gorustyt/navtile/common"
	"go.uber.org/zap"
)

type AreaKind uint8

const (
	AreaCustom AreaKind = iota
	AreaDefault
	AreaNull
	AreaLowHeight
)

func (k AreaKind) String() string {
	switch k {
	case AreaDefault:
		return "default"
	case AreaNull:
		return "null"
	case AreaLowHeight:
		return "low-height"
	default:
		return "custom"
	}
}

// Reserved area ids.
const (
	AREA_DEFAULT    uint8 = 0
	AREA_NULL       uint8 = 1
	AREA_LOW_HEIGHT uint8 = 2
)

// Poly flags stamped by the generator for the reserved areas.
const (
	POLYFLAG_WALK     uint16 = 0x0001
	POLYFLAG_LOW      uint16 = 0x0002
	POLYFLAG_NAV_LINK uint16 = 0x8000
)

// AreaDescriptor describes the traversal cost and poly flags of one area.
type AreaDescriptor struct {
	ID                 uint8
	Name               string
	Kind               AreaKind
	DefaultCost        float32
	FixedEnteringCost  float32
	Flags              uint16
	SupportedAgentMask uint32
}

type AreaEvent struct {
	Added bool
	Area  AreaDescriptor
}

// DtAreaTable assigns dense ids to areas. Ids stay stable while the area is
// registered; an unregistered id becomes the next candidate for reuse.
type DtAreaTable struct {
	mu        sync.RWMutex
	areas     [DT_MAX_AREAS]*AreaDescriptor
	byName    map[string]uint8
	listeners []func(AreaEvent)
	logger    *zap.Logger
}

func NewDtAreaTable(logger *zap.Logger) *DtAreaTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DtAreaTable{
		byName: make(map[string]uint8),
		logger: logger.Named("areas"),
	}
}

// NewDefaultAreaTable registers Default (0), Null (1) and LowHeight (2).
func NewDefaultAreaTable(logger *zap.Logger) *DtAreaTable {
	t := NewDtAreaTable(logger)
	t.reserve(AreaDescriptor{ID: AREA_DEFAULT, Name: "Default", Kind: AreaDefault, DefaultCost: 1, Flags: POLYFLAG_WALK, SupportedAgentMask: math.MaxUint32})
	t.reserve(AreaDescriptor{ID: AREA_NULL, Name: "Null", Kind: AreaNull, DefaultCost: float32(math.Inf(1))})
	t.reserve(AreaDescriptor{ID: AREA_LOW_HEIGHT, Name: "LowHeight", Kind: AreaLowHeight, DefaultCost: 1, Flags: POLYFLAG_LOW, SupportedAgentMask: math.MaxUint32})
	return t
}

func (t *DtAreaTable) reserve(desc AreaDescriptor) {
	d := desc
	t.areas[d.ID] = &d
	t.byName[d.Name] = d.ID
}

func validateArea(desc *AreaDescriptor) error {
	if desc.Name == "" {
		return &ConfigError{Field: "area.name", Reason: "empty"}
	}
	if math.IsNaN(float64(desc.DefaultCost)) || desc.DefaultCost < 0 {
		return &ConfigError{Field: "area." + desc.Name + ".cost", Reason: "must be >= 0"}
	}
	if math.IsNaN(float64(desc.FixedEnteringCost)) || desc.FixedEnteringCost < 0 {
		return &ConfigError{Field: "area." + desc.Name + ".fixed_cost", Reason: "must be >= 0"}
	}
	return nil
}

// RegisterArea returns the id of the area, assigning the lowest free id on
// first registration. A second area of a reserved kind resolves to the
// existing one.
func (t *DtAreaTable) RegisterArea(desc AreaDescriptor) (uint8, error) {
	if err := validateArea(&desc); err != nil {
		return 0, err
	}
	t.mu.Lock()
	if desc.Kind != AreaCustom {
		for _, a := range t.areas {
			if a != nil && a.Kind == desc.Kind {
				t.mu.Unlock()
				return a.ID, nil
			}
		}
	}
	if id, ok := t.byName[desc.Name]; ok {
		t.mu.Unlock()
		return id, nil
	}
	id := -1
	for i, a := range t.areas {
		if a == nil {
			id = i
			break
		}
	}
	if id < 0 {
		t.mu.Unlock()
		return 0, &ConfigError{Field: "areas", Reason: "area table is full"}
	}
	desc.ID = uint8(id)
	d := desc
	t.areas[id] = &d
	t.byName[d.Name] = d.ID
	listeners := slices.Clone(t.listeners)
	t.mu.Unlock()

	t.logger.Debug("area registered", zap.String("name", d.Name), zap.Uint8("id", d.ID))
	for _, fn := range listeners {
		fn(AreaEvent{Added: true, Area: d})
	}
	return d.ID, nil
}

func (t *DtAreaTable) UnregisterArea(id uint8) error {
	if int(id) >= DT_MAX_AREAS {
		return &ConfigError{Field: "area.id", Reason: "out of range"}
	}
	t.mu.Lock()
	a := t.areas[id]
	if a == nil {
		t.mu.Unlock()
		return ErrInvalidParam
	}
	t.areas[id] = nil
	delete(t.byName, a.Name)
	listeners := slices.Clone(t.listeners)
	t.mu.Unlock()

	t.logger.Debug("area unregistered", zap.String("name", a.Name), zap.Uint8("id", id))
	for _, fn := range listeners {
		fn(AreaEvent{Added: false, Area: *a})
	}
	return nil
}

func (t *DtAreaTable) Area(id uint8) (AreaDescriptor, bool) {
	if int(id) >= DT_MAX_AREAS {
		return AreaDescriptor{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if a := t.areas[id]; a != nil {
		return *a, true
	}
	return AreaDescriptor{}, false
}

func (t *DtAreaTable) AreaByName(name string) (AreaDescriptor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id, ok := t.byName[name]; ok {
		return *t.areas[id], true
	}
	return AreaDescriptor{}, false
}

// Areas returns the registered areas ordered by id.
func (t *DtAreaTable) Areas() []AreaDescriptor {
	t.mu.RLock()
	defer t.mu.RUnlock()
	res := make([]AreaDescriptor, 0, len(t.byName))
	for _, a := range t.areas {
		if a != nil {
			res = append(res, *a)
		}
	}
	return res
}

// SetAreaCost changes the costs of a registered area and notifies listeners.
func (t *DtAreaTable) SetAreaCost(id uint8, cost, fixedCost float32) error {
	t.mu.Lock()
	if int(id) >= DT_MAX_AREAS || t.areas[id] == nil {
		t.mu.Unlock()
		return ErrInvalidParam
	}
	d := *t.areas[id]
	d.DefaultCost = cost
	d.FixedEnteringCost = fixedCost
	if err := validateArea(&d); err != nil {
		t.mu.Unlock()
		return err
	}
	t.areas[id] = &d
	listeners := slices.Clone(t.listeners)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(AreaEvent{Added: true, Area: d})
	}
	return nil
}

// Subscribe registers fn for area add and remove notifications.
func (t *DtAreaTable) Subscribe(fn func(AreaEvent)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// AreaModifier marks a volume of the world with an area, optionally only
// replacing polys of another area.
type AreaModifier struct {
	Bounds      common.AABB
	Area        uint8
	ReplaceArea *uint8
	Cost        float32
	FixedCost   float32
}

// SortModifiersForGenerator fills the modifier costs from the table and orders
// them replacing modifiers first, then by cost, then by fixed cost.
func (t *DtAreaTable) SortModifiersForGenerator(mods []AreaModifier) {
	t.mu.RLock()
	for i := range mods {
		if mods[i].Area >= DT_MAX_AREAS {
			continue
		}
		if a := t.areas[mods[i].Area]; a != nil {
			mods[i].Cost = a.DefaultCost
			mods[i].FixedCost = a.FixedEnteringCost
		}
	}
	t.mu.RUnlock()
	sort.SliceStable(mods, func(i, j int) bool {
		a, b := &mods[i], &mods[j]
		ra, rb := a.ReplaceArea != nil, b.ReplaceArea != nil
		if ra != rb {
			return ra
		}
		if a.Cost != b.Cost {
			return a.Cost < b.Cost
		}
		return a.FixedCost < b.FixedCost
	})
}
