package common

// AABB is an axis aligned box, y up.
type AABB struct {
	Min Vec3
	Max Vec3
}

func NewAABB(min, max Vec3) AABB {
	return AABB{Min: Vmin(min, max), Max: Vmax(min, max)}
}

// AABBFromCenter builds a box from a center and half extents.
func AABBFromCenter(center, halfExtents Vec3) AABB {
	return AABB{Min: center.Sub(halfExtents), Max: center.Add(halfExtents)}
}

func (b AABB) IsValid() bool {
	return b.Min[0] <= b.Max[0] && b.Min[1] <= b.Max[1] && b.Min[2] <= b.Max[2]
}

func (b AABB) Center() Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

func (b AABB) Extent() Vec3 {
	return b.Max.Sub(b.Min).Mul(0.5)
}

func (b AABB) Overlaps(o AABB) bool {
	if b.Min[0] > o.Max[0] || b.Max[0] < o.Min[0] {
		return false
	}
	if b.Min[1] > o.Max[1] || b.Max[1] < o.Min[1] {
		return false
	}
	if b.Min[2] > o.Max[2] || b.Max[2] < o.Min[2] {
		return false
	}
	return true
}

// Contains reports whether o lies fully inside b.
func (b AABB) Contains(o AABB) bool {
	return o.Min[0] >= b.Min[0] && o.Max[0] <= b.Max[0] &&
		o.Min[1] >= b.Min[1] && o.Max[1] <= b.Max[1] &&
		o.Min[2] >= b.Min[2] && o.Max[2] <= b.Max[2]
}

func (b AABB) ContainsPoint(p Vec3) bool {
	return p[0] >= b.Min[0] && p[0] <= b.Max[0] &&
		p[1] >= b.Min[1] && p[1] <= b.Max[1] &&
		p[2] >= b.Min[2] && p[2] <= b.Max[2]
}

func (b AABB) Union(o AABB) AABB {
	return AABB{Min: Vmin(b.Min, o.Min), Max: Vmax(b.Max, o.Max)}
}

func (b AABB) Expand(by Vec3) AABB {
	return AABB{Min: b.Min.Sub(by), Max: b.Max.Add(by)}
}
