package detour

import (
	"fmt"
	"math"

	"github.com/gorustyt/navtile/common"
	"go.uber.org/multierr"
)

// RaycastHit describes how far a ray walked along the mesh surface. T is the
// hit parameter along start-end, math.MaxFloat32 when the end was reached.
type RaycastHit struct {
	T            float32
	Hit          bool
	Pos          common.Vec3
	HitNormal    common.Vec3
	HitEdgeIndex int
	Corridor     []DtPolyRef
}

type RaySegment struct {
	Start, End common.Vec3
}

// Raycast walks from the poly under start toward end on the xz-plane. It stops
// at the first edge whose far side is missing or excluded by the filter; a
// tile border without a resident neighbour is such an edge.
func (query *DtNavMeshQuery) Raycast(start, end common.Vec3, filter *DtQueryFilter) (RaycastHit, error) {
	if filter == nil || !common.Visfinite(start) || !common.Visfinite(end) {
		return RaycastHit{}, ErrInvalidParam
	}
	defer query.begin()()
	return query.raycastFromPoint(start, end, filter)
}

func (query *DtNavMeshQuery) raycastFromPoint(start, end common.Vec3, filter *DtQueryFilter) (RaycastHit, error) {
	startRef, startPos := query.findNearestPoly(start, query.m_queryExtent, filter)
	if startRef == 0 {
		return RaycastHit{}, fmt.Errorf("raycast: start %v is off the mesh: %w", start, ErrInvalidParam)
	}
	return query.raycast(startRef, startPos, end, filter)
}

// RaycastFrom casts from a known poly. A stale startRef gives ErrStaleReference.
func (query *DtNavMeshQuery) RaycastFrom(startRef DtPolyRef, start, end common.Vec3, filter *DtQueryFilter) (RaycastHit, error) {
	if filter == nil || !common.Visfinite(start) || !common.Visfinite(end) {
		return RaycastHit{}, ErrInvalidParam
	}
	defer query.begin()()
	if _, _, err := query.m_nav.getTileAndPolyByRef(startRef); err != nil {
		return RaycastHit{}, err
	}
	return query.raycast(startRef, start, end, filter)
}

func (query *DtNavMeshQuery) raycast(startRef DtPolyRef, startPos, endPos common.Vec3, filter *DtQueryFilter) (RaycastHit, error) {
	hit := RaycastHit{HitEdgeIndex: -1}
	if _, poly := query.m_nav.getTileAndPolyByRefUnsafe(startRef); poly.GetType() == DT_POLYTYPE_OFFMESH_CONNECTION {
		return hit, fmt.Errorf("raycast: start poly is an off-mesh connection: %w", ErrInvalidParam)
	}

	curRef := startRef
	for curRef != 0 {
		tile, poly := query.m_nav.getTileAndPolyByRefUnsafe(curRef)
		verts := tile.PolyVerts(poly)
		nv := len(verts)

		_, tmax, _, segMax, ok := common.IntersectSegmentPoly2D(startPos, endPos, verts)
		if !ok {
			// Could not hit the polygon, keep the old t and report hit.
			hit.Hit = true
			hit.Pos = common.Vlerp(startPos, endPos, hit.T)
			return hit, nil
		}
		hit.HitEdgeIndex = segMax

		// Keep track of furthest t so far.
		if tmax > hit.T {
			hit.T = tmax
		}
		hit.Corridor = append(hit.Corridor, curRef)

		// Ray end is completely inside the polygon.
		if segMax == -1 {
			hit.T = math.MaxFloat32
			hit.Pos = endPos
			return hit, nil
		}

		// Follow neighbours.
		var nextRef DtPolyRef
		for _, link := range tile.Links[curRef.Poly()] {
			// Find link which contains this edge.
			if int(link.Edge) != segMax {
				continue
			}
			_, nextPoly := query.m_nav.getTileAndPolyByRefUnsafe(link.Ref)
			// Skip off-mesh connections.
			if nextPoly.GetType() == DT_POLYTYPE_OFFMESH_CONNECTION {
				continue
			}
			if !filter.PassFilter(nextPoly) {
				continue
			}
			// If the link is internal, just return the ref.
			if link.Side == DT_LINK_INTERNAL || (link.Bmin == 0 && link.Bmax == 255) {
				nextRef = link.Ref
				break
			}

			// If the link is at tile boundary, check that the ray crosses the
			// part of the edge the link covers.
			left := verts[link.Edge]
			right := verts[(int(link.Edge)+1)%nv]
			axis := 0
			if link.Side == 0 || link.Side == 4 {
				axis = 2
			}
			const s = 1.0 / 255.0
			lmin := left[axis] + (right[axis]-left[axis])*(float32(link.Bmin)*s)
			lmax := left[axis] + (right[axis]-left[axis])*(float32(link.Bmax)*s)
			if lmin > lmax {
				lmin, lmax = lmax, lmin
			}
			// Find crossing position.
			c := startPos[axis] + (endPos[axis]-startPos[axis])*tmax
			if c >= lmin && c <= lmax {
				nextRef = link.Ref
				break
			}
		}

		if nextRef == 0 {
			// No neighbour, we hit a wall.
			va := verts[segMax]
			vb := verts[(segMax+1)%nv]
			dx := vb[0] - va[0]
			dz := vb[2] - va[2]
			n := common.Vec3{dz, 0, -dx}
			if n.Len() > 0 {
				n = n.Normalize()
			}
			hit.HitNormal = n
			hit.Hit = true
			hit.Pos = common.Vlerp(startPos, endPos, hit.T)
			if h, ok := common.PolyHeight(hit.Pos, verts); ok {
				hit.Pos[1] = h
			}
			return hit, nil
		}
		curRef = nextRef
	}
	return hit, nil
}

// BatchRaycast runs every segment inside one batch scope. Failed segments
// leave a zero hit and add to the combined error.
func (query *DtNavMeshQuery) BatchRaycast(segments []RaySegment, filter *DtQueryFilter) ([]RaycastHit, error) {
	if filter == nil {
		return nil, ErrInvalidParam
	}
	hits := make([]RaycastHit, len(segments))
	var errs error
	defer query.begin()()
	for i, seg := range segments {
		if !common.Visfinite(seg.Start) || !common.Visfinite(seg.End) {
			errs = multierr.Append(errs, fmt.Errorf("segment %d: %w", i, ErrInvalidParam))
			continue
		}
		hit, err := query.raycastFromPoint(seg.Start, seg.End, filter)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("segment %d: %w", i, err))
			continue
		}
		hits[i] = hit
	}
	return hits, errs
}

// IsSegmentOnNavMesh reports whether the straight line from start to end
// stays on walkable polys.
func (query *DtNavMeshQuery) IsSegmentOnNavMesh(start, end common.Vec3, filter *DtQueryFilter) bool {
	hit, err := query.Raycast(start, end, filter)
	return err == nil && !hit.Hit
}
