package detour

import (
	"github.com/gorustyt/navtile/common"
)

const straightPathEps = 1.0 / 16384.0

func vequal(p0, p1 common.Vec3) bool {
	d := p1.Sub(p0)
	return d.Dot(d) < straightPathEps*straightPathEps
}

// getPortalPoints returns the left and right end of the edge shared by two
// linked polys. Off-mesh connections have a single point portal.
func (query *DtNavMeshQuery) getPortalPoints(from DtPolyRef, fromPoly *DtPoly, fromTile *DtMeshTile,
	to DtPolyRef, toPoly *DtPoly, toTile *DtMeshTile) (left, right common.Vec3, err error) {
	// Find the link that points to the 'to' polygon.
	var link *DtLink
	for i := range fromTile.Links[from.Poly()] {
		if fromTile.Links[from.Poly()][i].Ref == to {
			link = &fromTile.Links[from.Poly()][i]
			break
		}
	}
	if link == nil {
		return left, right, ErrInvalidParam
	}

	// Handle off-mesh connections.
	if fromPoly.GetType() == DT_POLYTYPE_OFFMESH_CONNECTION {
		v := fromTile.Verts[fromPoly.Verts[link.Edge]]
		return v, v, nil
	}
	if toPoly.GetType() == DT_POLYTYPE_OFFMESH_CONNECTION {
		for _, l := range toTile.Links[to.Poly()] {
			if l.Ref == from {
				v := toTile.Verts[toPoly.Verts[l.Edge]]
				return v, v, nil
			}
		}
		return left, right, ErrInvalidParam
	}

	// Find portal vertices.
	nv := int(fromPoly.VertCount)
	v0 := fromTile.Verts[fromPoly.Verts[link.Edge]]
	v1 := fromTile.Verts[fromPoly.Verts[(int(link.Edge)+1)%nv]]
	left, right = v0, v1

	// If the link is at tile boundary, clamp the portal to the shared part.
	if link.Side != DT_LINK_INTERNAL && (link.Bmin != 0 || link.Bmax != 255) {
		const s = 1.0 / 255.0
		left = common.Vlerp(v0, v1, float32(link.Bmin)*s)
		right = common.Vlerp(v0, v1, float32(link.Bmax)*s)
	}
	return left, right, nil
}

// findStraightPath pulls the string through the corridor portals and returns
// the corner points from startPos to endPos.
func (query *DtNavMeshQuery) findStraightPath(startPos, endPos common.Vec3, path []DtPolyRef) []common.Vec3 {
	var straight []common.Vec3
	appendVertex := func(pos common.Vec3) {
		if n := len(straight); n > 0 && vequal(straight[n-1], pos) {
			return
		}
		straight = append(straight, pos)
	}

	closestStartPos := query.closestPointOnPolyBoundary(path[0], startPos)
	closestEndPos := query.closestPointOnPolyBoundary(path[len(path)-1], endPos)
	appendVertex(closestStartPos)

	if len(path) > 1 {
		portalApex := closestStartPos
		portalLeft := portalApex
		portalRight := portalApex
		apexIndex, leftIndex, rightIndex := 0, 0, 0

		for i := 0; i < len(path); i++ {
			var left, right common.Vec3
			if i+1 < len(path) {
				fromTile, fromPoly := query.m_nav.getTileAndPolyByRefUnsafe(path[i])
				toTile, toPoly := query.m_nav.getTileAndPolyByRefUnsafe(path[i+1])
				var err error
				left, right, err = query.getPortalPoints(path[i], fromPoly, fromTile, path[i+1], toPoly, toTile)
				if err != nil {
					// The corridor is broken; end at the last good poly.
					appendVertex(query.closestPointOnPolyBoundary(path[i], endPos))
					return straight
				}
				// If starting really close the portal, advance.
				if i == 0 {
					if d, _ := common.DistancePtSeg2D(portalApex, left, right); d < common.Sqr(float32(0.001)) {
						continue
					}
				}
			} else {
				// End of the path.
				left, right = closestEndPos, closestEndPos
			}

			// Right vertex.
			if common.TriArea2D(portalApex, portalRight, right) <= 0 {
				if vequal(portalApex, portalRight) || common.TriArea2D(portalApex, portalLeft, right) > 0 {
					portalRight = right
					rightIndex = i
				} else {
					portalApex = portalLeft
					apexIndex = leftIndex
					appendVertex(portalApex)

					portalLeft, portalRight = portalApex, portalApex
					leftIndex, rightIndex = apexIndex, apexIndex
					// Restart
					i = apexIndex
					continue
				}
			}

			// Left vertex.
			if common.TriArea2D(portalApex, portalLeft, left) >= 0 {
				if vequal(portalApex, portalLeft) || common.TriArea2D(portalApex, portalRight, left) < 0 {
					portalLeft = left
					leftIndex = i
				} else {
					portalApex = portalRight
					apexIndex = rightIndex
					appendVertex(portalApex)

					portalLeft, portalRight = portalApex, portalApex
					leftIndex, rightIndex = apexIndex, apexIndex
					// Restart
					i = apexIndex
					continue
				}
			}
		}
	}

	appendVertex(closestEndPos)
	return straight
}
