package detour

import (
	"github.com/gorustyt/navtile/common"
)

const randomPointAttempts = 16

type randomCandidate struct {
	ref  DtPolyRef
	area float32
}

// RandomPointInRadius returns a point on a poly reachable from origin and
// within radius of it. Polys are weighted by surface area so the samples are
// close to uniform over the walkable surface. When every attempt lands outside
// the circle the projected origin is returned.
func (query *DtNavMeshQuery) RandomPointInRadius(origin common.Vec3, radius float32, filter *DtQueryFilter) (Location, bool) {
	if filter == nil || !common.Visfinite(origin) || !common.IsFinite(radius) || radius < 0 {
		return Location{}, false
	}
	defer query.begin()()

	startRef, startPos := query.findNearestPoly(origin, query.m_queryExtent, filter)
	if startRef == 0 {
		return Location{}, false
	}
	candidates, areaSum := query.reachablePolys(startRef, startPos, radius, filter)
	if areaSum <= 0 {
		return Location{Pos: startPos, Ref: startRef}, true
	}

	radiusSqr := radius * radius
	for attempt := 0; attempt < randomPointAttempts; attempt++ {
		c := query.pickCandidate(candidates, areaSum)
		tile, poly := query.m_nav.getTileAndPolyByRefUnsafe(c.ref)
		verts := tile.PolyVerts(poly)
		pt := common.RandomPointInConvexPoly(verts, query.m_rand.Float32(), query.m_rand.Float32())
		if common.Vdist2DSqr(pt, origin) > radiusSqr {
			continue
		}
		if h, ok := common.PolyHeight(pt, verts); ok {
			pt[1] = h
		}
		return Location{Pos: pt, Ref: c.ref}, true
	}
	return Location{Pos: startPos, Ref: startRef}, true
}

func (query *DtNavMeshQuery) pickCandidate(candidates []randomCandidate, areaSum float32) randomCandidate {
	thr := query.m_rand.Float32() * areaSum
	var acc float32
	for _, c := range candidates {
		acc += c.area
		if thr < acc {
			return c
		}
	}
	return candidates[len(candidates)-1]
}

// reachablePolys expands from startRef over every ground poly whose shared
// portal lies within radius of center.
func (query *DtNavMeshQuery) reachablePolys(startRef DtPolyRef, center common.Vec3, radius float32, filter *DtQueryFilter) ([]randomCandidate, float32) {
	query.m_nodePool.Clear()
	query.m_openList.Reset()
	budget := min(uint32(filter.GetMaxSearchNodes()), query.m_nodePool.GetMaxNodes())

	startNode := query.m_nodePool.GetNode(startRef)
	startNode.Pos = center
	startNode.Pidx = 0
	startNode.Cost = 0
	startNode.Total = 0
	startNode.Flags = DT_NODE_OPEN
	query.m_openList.Offer(startNode)

	radiusSqr := radius * radius
	var candidates []randomCandidate
	var areaSum float32

	for !query.m_openList.Empty() {
		bestNode := query.m_openList.Poll()
		bestNode.Flags &^= DT_NODE_OPEN
		bestNode.Flags |= DT_NODE_CLOSED

		bestRef := bestNode.Id
		bestTile, bestPoly := query.m_nav.getTileAndPolyByRefUnsafe(bestRef)

		// Place random locations on ground.
		if bestPoly.GetType() == DT_POLYTYPE_GROUND {
			if area := common.PolyArea2D(bestTile.PolyVerts(bestPoly)); area > 0 {
				candidates = append(candidates, randomCandidate{ref: bestRef, area: area})
				areaSum += area
			}
		}

		var parentRef DtPolyRef
		if bestNode.Pidx != 0 {
			parentRef = query.m_nodePool.GetNodeAtIdx(bestNode.Pidx).Id
		}

		for _, link := range bestTile.Links[bestRef.Poly()] {
			neighbourRef := link.Ref
			// Skip invalid neighbours and do not follow back to parent.
			if neighbourRef == 0 || neighbourRef == parentRef {
				continue
			}
			neighbourTile, neighbourPoly := query.m_nav.getTileAndPolyByRefUnsafe(neighbourRef)
			if !filter.PassFilter(neighbourPoly) {
				continue
			}

			// Find edge and calc distance to the edge.
			va, vb, err := query.getPortalPoints(bestRef, bestPoly, bestTile, neighbourRef, neighbourPoly, neighbourTile)
			if err != nil {
				continue
			}
			// If the circle is not touching the next polygon, skip it.
			if d, _ := common.DistancePtSeg2D(center, va, vb); d > radiusSqr {
				continue
			}

			neighbourNode := query.m_nodePool.FindNode(neighbourRef)
			if neighbourNode == nil {
				if query.m_nodePool.GetNodeCount() >= budget {
					continue
				}
				if neighbourNode = query.m_nodePool.GetNode(neighbourRef); neighbourNode == nil {
					continue
				}
			}
			if neighbourNode.Flags&DT_NODE_CLOSED != 0 {
				continue
			}

			// Cost
			if neighbourNode.Flags == 0 {
				neighbourNode.Pos = common.Vlerp(va, vb, 0.5)
			}
			total := bestNode.Total + common.Vdist(bestNode.Pos, neighbourNode.Pos)

			// The node is already in open list and the new result is worse, skip.
			if neighbourNode.Flags&DT_NODE_OPEN != 0 && total >= neighbourNode.Total {
				continue
			}

			neighbourNode.Id = neighbourRef
			neighbourNode.Flags &^= DT_NODE_CLOSED
			neighbourNode.Pidx = query.m_nodePool.GetNodeIdx(bestNode)
			neighbourNode.Total = total

			if neighbourNode.Flags&DT_NODE_OPEN != 0 {
				query.m_openList.Update(neighbourNode)
			} else {
				neighbourNode.Flags = DT_NODE_OPEN
				query.m_openList.Offer(neighbourNode)
			}
		}
	}
	return candidates, areaSum
}
