package detour

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/gorustyt/navtile/common"
)

// DefaultQueryExtent is the half size of the box searched around a point to
// find its poly.
var DefaultQueryExtent = common.Vec3{2, 4, 2}

// Location is a point on the mesh and the poly containing it.
type Location struct {
	Pos common.Vec3
	Ref DtPolyRef
}

type PathStatus uint8

const (
	PathSuccess PathStatus = iota
	PathPartialSuccess
	PathFail
	PathError
)

func (s PathStatus) String() string {
	switch s {
	case PathSuccess:
		return "success"
	case PathPartialSuccess:
		return "partial"
	case PathFail:
		return "fail"
	default:
		return "error"
	}
}

// Path is a computed route: the corner points to walk through and the
// corridor of polys they cross.
type Path struct {
	Waypoints []common.Vec3
	Corridor  []DtPolyRef
	Partial   bool
	Cost      float32
}

// PathResult carries the outcome of FindPath. Err is set only for PathError;
// Detail holds the search status bits (DT_OUT_OF_NODES, DT_PARTIAL_RESULT).
type PathResult struct {
	Status PathStatus
	Path   Path
	Err    error
	Detail DtStatus
}

func (r PathResult) OK() bool {
	return r.Status == PathSuccess || r.Status == PathPartialSuccess
}

// DtNavMeshQuery runs queries against a DtNavMesh. It owns its scratch space
// and random source, so one query object serves one goroutine at a time.
type DtNavMeshQuery struct {
	m_nav         *DtNavMesh
	m_nodePool    *DtNodePool
	m_openList    NodeQueue[*DtNode]
	m_rand        *rand.Rand
	m_queryExtent common.Vec3
}

func NewDtNavMeshQuery(nav *DtNavMesh, maxNodes int) *DtNavMeshQuery {
	return &DtNavMeshQuery{
		m_nav:      nav,
		m_nodePool: NewDtNodePool(uint32(common.Clamp(maxNodes, 1, DT_MAX_NODE_POOL))),
		m_openList: NewNodeQueue(func(a, b *DtNode) bool {
			return a.Total < b.Total
		}),
		m_rand:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		m_queryExtent: DefaultQueryExtent,
	}
}

func (query *DtNavMeshQuery) GetAttachedNavMesh() *DtNavMesh { return query.m_nav }

// Seed makes the random point queries reproducible.
func (query *DtNavMeshQuery) Seed(seed uint64) {
	query.m_rand = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

func (query *DtNavMeshQuery) SetQueryExtent(ext common.Vec3) { query.m_queryExtent = ext }

func (query *DtNavMeshQuery) QueryExtent() common.Vec3 { return query.m_queryExtent }

func (query *DtNavMeshQuery) begin() func() {
	query.m_nav.BeginBatchQuery()
	return query.m_nav.FinishBatchQuery
}

// FindNearestPoly returns the poly closest to center inside the box of
// halfExtents, or a zero ref when none passes the filter.
func (query *DtNavMeshQuery) FindNearestPoly(center, halfExtents common.Vec3, filter *DtQueryFilter) (DtPolyRef, common.Vec3, error) {
	if filter == nil || !common.Visfinite(center) || !common.Visfinite(halfExtents) ||
		halfExtents[0] < 0 || halfExtents[1] < 0 || halfExtents[2] < 0 {
		return 0, common.Vec3{}, ErrInvalidParam
	}
	defer query.begin()()
	ref, pt := query.findNearestPoly(center, halfExtents, filter)
	return ref, pt, nil
}

func (query *DtNavMeshQuery) findNearestPoly(center, halfExtents common.Vec3, filter *DtQueryFilter) (DtPolyRef, common.Vec3) {
	box := common.AABBFromCenter(center, halfExtents)
	var nearest DtPolyRef
	var nearestPt common.Vec3
	nearestDistanceSqr := float32(math.MaxFloat32)
	for _, tref := range query.m_nav.tilesIn(box) {
		tile := query.m_nav.m_tiles[tref.Index()]
		base := query.m_nav.GetPolyRefBase(tile)
		for i := range tile.Polys {
			poly := &tile.Polys[i]
			if poly.GetType() == DT_POLYTYPE_OFFMESH_CONNECTION || !filter.PassFilter(poly) {
				continue
			}
			if !polyBounds(tile, poly).Overlaps(box) {
				continue
			}
			closest, posOverPoly := common.ClosestPointOnPolygon(center, tile.PolyVerts(poly))
			// If a point is directly over a polygon and closer than
			// climb height, favor that instead of straight line nearest point.
			diff := center.Sub(closest)
			var d float32
			if posOverPoly {
				d = common.Abs(diff[1]) - tile.Header.WalkableClimb
				if d > 0 {
					d = d * d
				} else {
					d = 0
				}
			} else {
				d = diff.Dot(diff)
			}
			if d < nearestDistanceSqr {
				nearestPt = closest
				nearestDistanceSqr = d
				nearest = base | DtPolyRef(i)
			}
		}
	}
	return nearest, nearestPt
}

// ProjectPoint finds the nearest walkable point within extent of point.
func (query *DtNavMeshQuery) ProjectPoint(point, extent common.Vec3, filter *DtQueryFilter) (Location, bool) {
	ref, pt, err := query.FindNearestPoly(point, extent, filter)
	if err != nil || ref == 0 {
		return Location{}, false
	}
	return Location{Pos: pt, Ref: ref}, true
}

// BatchProjectPoints projects every point inside one batch scope. Points
// without a poly get a zero Location.
func (query *DtNavMeshQuery) BatchProjectPoints(points []common.Vec3, extent common.Vec3, filter *DtQueryFilter) []Location {
	res := make([]Location, len(points))
	if filter == nil || !common.Visfinite(extent) {
		return res
	}
	defer query.begin()()
	for i, p := range points {
		if !common.Visfinite(p) {
			continue
		}
		if ref, pt := query.findNearestPoly(p, extent, filter); ref != 0 {
			res[i] = Location{Pos: pt, Ref: ref}
		}
	}
	return res
}

// FindPath locates the polys under start and end and searches between them.
// With allowPartial unset a search that does not reach the end polygon fails.
func (query *DtNavMeshQuery) FindPath(start, end common.Vec3, filter *DtQueryFilter, allowPartial bool) PathResult {
	if filter == nil || !common.Visfinite(start) || !common.Visfinite(end) {
		return PathResult{Status: PathError, Err: ErrInvalidParam, Detail: DT_FAILURE | DT_INVALID_PARAM}
	}
	defer query.begin()()
	startRef, startPt := query.findNearestPoly(start, query.m_queryExtent, filter)
	endRef, endPt := query.findNearestPoly(end, query.m_queryExtent, filter)
	if startRef == 0 || endRef == 0 {
		return PathResult{Status: PathFail, Detail: DT_FAILURE}
	}
	return query.findPath(Location{Pos: startPt, Ref: startRef}, Location{Pos: endPt, Ref: endRef}, filter, allowPartial)
}

// FindPathBetween searches between two known locations. Refs into tiles that
// were detached or replaced give a PathError wrapping ErrStaleReference; refs
// the filter rejects fail like unreachable points.
func (query *DtNavMeshQuery) FindPathBetween(start, end Location, filter *DtQueryFilter, allowPartial bool) PathResult {
	if filter == nil || !common.Visfinite(start.Pos) || !common.Visfinite(end.Pos) {
		return PathResult{Status: PathError, Err: ErrInvalidParam, Detail: DT_FAILURE | DT_INVALID_PARAM}
	}
	defer query.begin()()
	for _, ref := range []DtPolyRef{start.Ref, end.Ref} {
		_, poly, err := query.m_nav.getTileAndPolyByRef(ref)
		if err != nil {
			return PathResult{Status: PathError, Err: fmt.Errorf("find path: %w", err), Detail: DT_FAILURE | DT_INVALID_PARAM}
		}
		if !filter.PassFilter(poly) {
			return PathResult{Status: PathFail, Detail: DT_FAILURE}
		}
	}
	return query.findPath(start, end, filter, allowPartial)
}

func (query *DtNavMeshQuery) findPath(start, end Location, filter *DtQueryFilter, allowPartial bool) PathResult {
	// Start and end at the same spot.
	if start.Ref == end.Ref && common.Vdist2DSqr(start.Pos, end.Pos) < common.Sqr(float32(1e-3)) {
		return PathResult{
			Status: PathSuccess,
			Path:   Path{Waypoints: []common.Vec3{start.Pos}, Corridor: []DtPolyRef{start.Ref}},
			Detail: DT_SUCCESS,
		}
	}

	lastBest, status := query.search(start, end, filter)
	reached := lastBest.Id == end.Ref
	if !reached {
		status |= DT_PARTIAL_RESULT
		if !allowPartial {
			return PathResult{Status: PathFail, Detail: DT_FAILURE | (status & DT_STATUS_DETAIL_MASK)}
		}
	}

	corridor := query.getPathToNode(lastBest)
	endPos := end.Pos
	if !reached {
		endPos = query.closestPointOnPolyBoundary(lastBest.Id, end.Pos)
	}
	waypoints := query.findStraightPath(start.Pos, endPos, corridor)
	res := PathResult{
		Status: PathSuccess,
		Path:   Path{Waypoints: waypoints, Corridor: corridor, Partial: !reached, Cost: lastBest.Cost},
		Detail: status,
	}
	if !reached {
		res.Status = PathPartialSuccess
	}
	return res
}

// TestPath reports whether end can be reached from start, without building
// the path.
func (query *DtNavMeshQuery) TestPath(start, end common.Vec3, filter *DtQueryFilter) bool {
	if filter == nil || !common.Visfinite(start) || !common.Visfinite(end) {
		return false
	}
	defer query.begin()()
	startRef, startPt := query.findNearestPoly(start, query.m_queryExtent, filter)
	endRef, endPt := query.findNearestPoly(end, query.m_queryExtent, filter)
	if startRef == 0 || endRef == 0 {
		return false
	}
	if startRef == endRef {
		return true
	}
	lastBest, _ := query.search(Location{Pos: startPt, Ref: startRef}, Location{Pos: endPt, Ref: endRef}, filter)
	return lastBest.Id == endRef
}

// search is A* over the poly links. It returns the end node when reached,
// otherwise the node closest to the end by heuristic.
func (query *DtNavMeshQuery) search(start, end Location, filter *DtQueryFilter) (*DtNode, DtStatus) {
	query.m_nodePool.Clear()
	query.m_openList.Reset()
	budget := min(uint32(filter.GetMaxSearchNodes()), query.m_nodePool.GetMaxNodes())
	hScale := filter.GetHeuristicScale()

	startNode := query.m_nodePool.GetNode(start.Ref)
	startNode.Pos = start.Pos
	startNode.Pidx = 0
	startNode.Cost = 0
	startNode.Total = common.Vdist(start.Pos, end.Pos) * hScale
	startNode.Flags = DT_NODE_OPEN
	query.m_openList.Offer(startNode)

	lastBestNode := startNode
	lastBestNodeCost := startNode.Total
	status := DT_SUCCESS

	for !query.m_openList.Empty() {
		// Remove node from open list and put it in closed list.
		bestNode := query.m_openList.Poll()
		bestNode.Flags &^= DT_NODE_OPEN
		bestNode.Flags |= DT_NODE_CLOSED

		// Reached the goal, stop searching.
		if bestNode.Id == end.Ref {
			lastBestNode = bestNode
			break
		}

		bestRef := bestNode.Id
		bestTile, bestPoly := query.m_nav.getTileAndPolyByRefUnsafe(bestRef)

		var parentRef DtPolyRef
		if bestNode.Pidx != 0 {
			parentRef = query.m_nodePool.GetNodeAtIdx(bestNode.Pidx).Id
		}

		for _, link := range bestTile.Links[bestRef.Poly()] {
			neighbourRef := link.Ref
			// Skip invalid ids and do not expand back to where we came from.
			if neighbourRef == 0 || neighbourRef == parentRef {
				continue
			}
			neighbourTile, neighbourPoly := query.m_nav.getTileAndPolyByRefUnsafe(neighbourRef)
			if !filter.PassFilter(neighbourPoly) {
				continue
			}

			neighbourNode := query.m_nodePool.FindNode(neighbourRef)
			if neighbourNode == nil {
				if query.m_nodePool.GetNodeCount() >= budget {
					status |= DT_OUT_OF_NODES
					continue
				}
				neighbourNode = query.m_nodePool.GetNode(neighbourRef)
				if neighbourNode == nil {
					status |= DT_OUT_OF_NODES
					continue
				}
			}

			// If the node is visited the first time, calculate node position.
			if neighbourNode.Flags == 0 {
				left, right, err := query.getPortalPoints(bestRef, bestPoly, bestTile, neighbourRef, neighbourPoly, neighbourTile)
				if err != nil {
					continue
				}
				neighbourNode.Pos = common.Vlerp(left, right, 0.5)
			}

			var cost, heuristic float32
			if neighbourRef == end.Ref {
				// Special case for last node: the cost includes the way to the end point.
				curCost := filter.getCost(bestNode.Pos, neighbourNode.Pos, bestPoly, neighbourPoly)
				endCost := filter.getCost(neighbourNode.Pos, end.Pos, neighbourPoly, nil)
				cost = bestNode.Cost + curCost + endCost
				heuristic = 0
			} else {
				curCost := filter.getCost(bestNode.Pos, neighbourNode.Pos, bestPoly, neighbourPoly)
				cost = bestNode.Cost + curCost
				heuristic = common.Vdist(neighbourNode.Pos, end.Pos) * hScale
			}
			total := cost + heuristic

			// The node is already in open list and the new result is worse, skip.
			if neighbourNode.Flags&DT_NODE_OPEN != 0 && total >= neighbourNode.Total {
				continue
			}
			// The node is already visited and process, and the new result is worse, skip.
			if neighbourNode.Flags&DT_NODE_CLOSED != 0 && total >= neighbourNode.Total {
				continue
			}

			neighbourNode.Pidx = query.m_nodePool.GetNodeIdx(bestNode)
			neighbourNode.Id = neighbourRef
			neighbourNode.Flags &^= DT_NODE_CLOSED
			neighbourNode.Cost = cost
			neighbourNode.Total = total

			if neighbourNode.Flags&DT_NODE_OPEN != 0 {
				query.m_openList.Update(neighbourNode)
			} else {
				neighbourNode.Flags |= DT_NODE_OPEN
				query.m_openList.Offer(neighbourNode)
			}

			// Update nearest node to target so far.
			if heuristic < lastBestNodeCost {
				lastBestNodeCost = heuristic
				lastBestNode = neighbourNode
			}
		}
	}
	return lastBestNode, status
}

func (query *DtNavMeshQuery) getPathToNode(endNode *DtNode) []DtPolyRef {
	var path []DtPolyRef
	for node := endNode; node != nil; node = query.m_nodePool.GetNodeAtIdx(node.Pidx) {
		path = append(path, node.Id)
	}
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return path
}

// PathLength is the length of the polyline through the waypoints.
func PathLength(waypoints []common.Vec3) float32 {
	var l float32
	for i := 1; i < len(waypoints); i++ {
		l += common.Vdist(waypoints[i-1], waypoints[i])
	}
	return l
}

// PathCost prices walking the corridor from start to end through the portal
// midpoints, the way the search does.
func (query *DtNavMeshQuery) PathCost(corridor []DtPolyRef, start, end common.Vec3, filter *DtQueryFilter) (float32, error) {
	if filter == nil || len(corridor) == 0 {
		return 0, ErrInvalidParam
	}
	defer query.begin()()
	for _, ref := range corridor {
		if _, _, err := query.m_nav.getTileAndPolyByRef(ref); err != nil {
			return 0, err
		}
	}
	var cost float32
	pos := start
	for i, ref := range corridor {
		tile, poly := query.m_nav.getTileAndPolyByRefUnsafe(ref)
		if i+1 == len(corridor) {
			cost += filter.getCost(pos, end, poly, nil)
			break
		}
		nextTile, nextPoly := query.m_nav.getTileAndPolyByRefUnsafe(corridor[i+1])
		left, right, err := query.getPortalPoints(ref, poly, tile, corridor[i+1], nextPoly, nextTile)
		if err != nil {
			return 0, fmt.Errorf("path cost: corridor broken at %d: %w", i, err)
		}
		mid := common.Vlerp(left, right, 0.5)
		cost += filter.getCost(pos, mid, poly, nextPoly)
		pos = mid
	}
	return cost, nil
}

// ClosestPointOnPoly returns the point on the poly closest to pos and whether
// pos is over it.
func (query *DtNavMeshQuery) ClosestPointOnPoly(ref DtPolyRef, pos common.Vec3) (common.Vec3, bool, error) {
	if !common.Visfinite(pos) {
		return common.Vec3{}, false, ErrInvalidParam
	}
	defer query.begin()()
	tile, poly, err := query.m_nav.getTileAndPolyByRef(ref)
	if err != nil {
		return common.Vec3{}, false, err
	}
	if poly.GetType() == DT_POLYTYPE_OFFMESH_CONNECTION {
		v0, v1 := tile.Verts[poly.Verts[0]], tile.Verts[poly.Verts[1]]
		_, t := common.DistancePtSeg2D(pos, v0, v1)
		return common.Vlerp(v0, v1, t), false, nil
	}
	closest, over := common.ClosestPointOnPolygon(pos, tile.PolyVerts(poly))
	return closest, over, nil
}

// closestPointOnPolyBoundary clamps pos into the poly on the xz-plane.
func (query *DtNavMeshQuery) closestPointOnPolyBoundary(ref DtPolyRef, pos common.Vec3) common.Vec3 {
	tile, poly := query.m_nav.getTileAndPolyByRefUnsafe(ref)
	verts := tile.PolyVerts(poly)
	ed := make([]float32, len(verts))
	et := make([]float32, len(verts))
	if len(verts) >= 3 && common.DistancePtPolyEdgesSqr(pos, verts, ed, et) {
		return pos
	}
	imin := 0
	for i := 1; i < len(verts); i++ {
		if ed[i] < ed[imin] {
			imin = i
		}
	}
	va := verts[imin]
	vb := verts[(imin+1)%len(verts)]
	return common.Vlerp(va, vb, et[imin])
}

func (query *DtNavMeshQuery) PolyCenter(ref DtPolyRef) (common.Vec3, error) {
	defer query.begin()()
	tile, poly, err := query.m_nav.getTileAndPolyByRef(ref)
	if err != nil {
		return common.Vec3{}, err
	}
	return common.PolyCenter(tile.PolyVerts(poly)), nil
}

func (query *DtNavMeshQuery) PolyArea(ref DtPolyRef) (float32, error) {
	defer query.begin()()
	tile, poly, err := query.m_nav.getTileAndPolyByRef(ref)
	if err != nil {
		return 0, err
	}
	return common.PolyArea2D(tile.PolyVerts(poly)), nil
}

// PolyFlags returns the flags and area id of the poly.
func (query *DtNavMeshQuery) PolyFlags(ref DtPolyRef) (uint16, uint8, error) {
	defer query.begin()()
	_, poly, err := query.m_nav.getTileAndPolyByRef(ref)
	if err != nil {
		return 0, 0, err
	}
	return poly.Flags, poly.GetArea(), nil
}
