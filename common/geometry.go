package common

import "math"

const geomEps = 1e-6

// DistancePtSeg2D returns the squared xz-plane distance from pt to segment pq
// and the segment parameter of the closest point.
func DistancePtSeg2D(pt, p, q Vec3) (distSqr, t float32) {
	pqx := q[0] - p[0]
	pqz := q[2] - p[2]
	dx := pt[0] - p[0]
	dz := pt[2] - p[2]
	d := pqx*pqx + pqz*pqz
	t = pqx*dx + pqz*dz
	if d > 0 {
		t /= d
	}
	t = Clamp(t, 0, 1)
	dx = p[0] + t*pqx - pt[0]
	dz = p[2] + t*pqz - pt[2]
	return dx*dx + dz*dz, t
}

// PointInPolygon2D is a crossing test on the xz-plane.
func PointInPolygon2D(pt Vec3, verts []Vec3) bool {
	c := false
	for i, j := 0, len(verts)-1; i < len(verts); j, i = i, i+1 {
		vi := verts[i]
		vj := verts[j]
		if (vi[2] > pt[2]) != (vj[2] > pt[2]) &&
			pt[0] < (vj[0]-vi[0])*(pt[2]-vi[2])/(vj[2]-vi[2])+vi[0] {
			c = !c
		}
	}
	return c
}

// DistancePtPolyEdgesSqr reports whether pt is inside the polygon and fills ed/et
// with the squared distance and segment parameter for every edge.
func DistancePtPolyEdgesSqr(pt Vec3, verts []Vec3, ed, et []float32) bool {
	c := false
	for i, j := 0, len(verts)-1; i < len(verts); j, i = i, i+1 {
		vi := verts[i]
		vj := verts[j]
		if (vi[2] > pt[2]) != (vj[2] > pt[2]) &&
			pt[0] < (vj[0]-vi[0])*(pt[2]-vi[2])/(vj[2]-vi[2])+vi[0] {
			c = !c
		}
		ed[j], et[j] = DistancePtSeg2D(pt, vj, vi)
	}
	return c
}

// ClosestHeightPointTriangle returns the height of p projected on triangle abc.
func ClosestHeightPointTriangle(p, a, b, c Vec3) (float32, bool) {
	v0 := c.Sub(a)
	v1 := b.Sub(a)
	v2 := p.Sub(a)

	denom := v0[0]*v1[2] - v0[2]*v1[0]
	if Abs(denom) < geomEps {
		return 0, false
	}
	u := v1[2]*v2[0] - v1[0]*v2[2]
	v := v0[0]*v2[2] - v0[2]*v2[0]
	if denom < 0 {
		denom = -denom
		u = -u
		v = -v
	}
	// inclusive on the edges so points on shared borders resolve to a height
	if u >= 0 && v >= 0 && u+v <= denom {
		return a[1] + (v0[1]*u+v1[1]*v)/denom, true
	}
	return 0, false
}

// PolyHeight returns the height of pos over the triangle fan of a convex polygon.
func PolyHeight(pos Vec3, verts []Vec3) (float32, bool) {
	for i := 2; i < len(verts); i++ {
		if h, ok := ClosestHeightPointTriangle(pos, verts[0], verts[i-1], verts[i]); ok {
			return h, true
		}
	}
	return 0, false
}

// ClosestPointOnPolygon returns the point of the convex polygon closest to pos,
// and whether pos lies over the polygon.
func ClosestPointOnPolygon(pos Vec3, verts []Vec3) (Vec3, bool) {
	ed := make([]float32, len(verts))
	et := make([]float32, len(verts))
	if DistancePtPolyEdgesSqr(pos, verts, ed, et) {
		closest := pos
		if h, ok := PolyHeight(pos, verts); ok {
			closest[1] = h
		}
		return closest, true
	}
	imin := 0
	dmin := ed[0]
	for i := 1; i < len(verts); i++ {
		if ed[i] < dmin {
			dmin = ed[i]
			imin = i
		}
	}
	va := verts[imin]
	vb := verts[(imin+1)%len(verts)]
	return Vlerp(va, vb, et[imin]), false
}

// IntersectSegmentPoly2D clips segment p0-p1 against a convex polygon on the
// xz-plane. segMin/segMax are the entering/leaving edge indices or -1.
func IntersectSegmentPoly2D(p0, p1 Vec3, verts []Vec3) (tmin, tmax float32, segMin, segMax int, ok bool) {
	tmin, tmax = 0, 1
	segMin, segMax = -1, -1
	dir := p1.Sub(p0)
	for i, j := 0, len(verts)-1; i < len(verts); j, i = i, i+1 {
		edge := verts[i].Sub(verts[j])
		diff := p0.Sub(verts[j])
		n := Vperp2D(edge, diff)
		d := Vperp2D(dir, edge)
		if Abs(d) < geomEps {
			// S is nearly parallel to this edge
			if n < 0 {
				return tmin, tmax, segMin, segMax, false
			}
			continue
		}
		t := n / d
		if d < 0 {
			// entering across this edge
			if t > tmin {
				tmin = t
				segMin = j
				if tmin > tmax {
					return tmin, tmax, segMin, segMax, false
				}
			}
		} else {
			// leaving across this edge
			if t < tmax {
				tmax = t
				segMax = j
				if tmax < tmin {
					return tmin, tmax, segMin, segMax, false
				}
			}
		}
	}
	return tmin, tmax, segMin, segMax, true
}

// PolyArea2D is the xz-plane area of a convex polygon with positive winding.
func PolyArea2D(verts []Vec3) float32 {
	area := float32(0)
	for i := 2; i < len(verts); i++ {
		area += TriArea2D(verts[0], verts[i-1], verts[i])
	}
	return area * 0.5
}

// RandomPointInConvexPoly picks a point in the polygon from two uniform numbers s, t.
// Sub-triangles are weighted by area.
func RandomPointInConvexPoly(pts []Vec3, s, t float32) Vec3 {
	areas := make([]float32, len(pts))
	areasum := float32(0)
	for i := 2; i < len(pts); i++ {
		areas[i] = TriArea2D(pts[0], pts[i-1], pts[i])
		areasum += max(0.001, areas[i])
	}
	thr := s * areasum
	acc := float32(0)
	u := float32(1)
	tri := len(pts) - 1
	for i := 2; i < len(pts); i++ {
		dacc := areas[i]
		if thr >= acc && thr < acc+dacc {
			u = (thr - acc) / dacc
			tri = i
			break
		}
		acc += dacc
	}

	v := float32(math.Sqrt(float64(t)))
	a := 1 - v
	b := (1 - u) * v
	c := u * v
	pa := pts[0]
	pb := pts[tri-1]
	pc := pts[tri]
	return pa.Mul(a).Add(pb.Mul(b)).Add(pc.Mul(c))
}

// PolyCenter is the vertex average of the polygon.
func PolyCenter(verts []Vec3) Vec3 {
	var c Vec3
	if len(verts) == 0 {
		return c
	}
	for _, v := range verts {
		c = c.Add(v)
	}
	return c.Mul(1 / float32(len(verts)))
}
