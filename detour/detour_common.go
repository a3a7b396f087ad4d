package detour

import (
	"github.com/gorustyt/navtile/common"
)

func dtOppositeTile(side int) int { return (side + 4) & 0x7 }

// dtNeighbourOffset returns the grid offset of the tile across side.
func dtNeighbourOffset(side int) (dx, dy int32) {
	switch side {
	case 0:
		return 1, 0
	case 1:
		return 1, 1
	case 2:
		return 0, 1
	case 3:
		return -1, 1
	case 4:
		return -1, 0
	case 5:
		return -1, -1
	case 6:
		return 0, -1
	case 7:
		return 1, -1
	}
	return 0, 0
}

func overlapSlabs(amin, amax, bmin, bmax common.Vec2, px, py float32) bool {
	// Check for horizontal overlap.
	// The segment is shrunken a little so that slabs which touch
	// at end points are not connected.
	minx := max(amin[0]+px, bmin[0]+px)
	maxx := min(amax[0]-px, bmax[0]-px)
	if minx > maxx {
		return false
	}
	// Check vertical overlap.
	ad := (amax[1] - amin[1]) / (amax[0] - amin[0])
	ak := amin[1] - ad*amin[0]
	bd := (bmax[1] - bmin[1]) / (bmax[0] - bmin[0])
	bk := bmin[1] - bd*bmin[0]
	aminy := ad*minx + ak
	amaxy := ad*maxx + ak
	bminy := bd*minx + bk
	bmaxy := bd*maxx + bk
	dmin := bminy - aminy
	dmax := bmaxy - amaxy

	// Crossing segments always overlap.
	if dmin*dmax < 0 {
		return true
	}

	// Check for overlap at endpoints.
	thr := common.Sqr(py * 2)
	return dmin*dmin <= thr || dmax*dmax <= thr
}

func getSlabCoord(va common.Vec3, side int) float32 {
	if side == 0 || side == 4 {
		return va[0]
	} else if side == 2 || side == 6 {
		return va[2]
	}
	return 0
}

// calcSlabEndPoints projects the edge on the border plane of side: x holds the
// coordinate along the border, y the height.
func calcSlabEndPoints(va, vb common.Vec3, side int) (bmin, bmax common.Vec2) {
	if side == 0 || side == 4 {
		if va[2] < vb[2] {
			return common.Vec2{va[2], va[1]}, common.Vec2{vb[2], vb[1]}
		}
		return common.Vec2{vb[2], vb[1]}, common.Vec2{va[2], va[1]}
	} else if side == 2 || side == 6 {
		if va[0] < vb[0] {
			return common.Vec2{va[0], va[1]}, common.Vec2{vb[0], vb[1]}
		}
		return common.Vec2{vb[0], vb[1]}, common.Vec2{va[0], va[1]}
	}
	return bmin, bmax
}

// polyBounds is the AABB of a poly's vertices.
func polyBounds(tile *DtMeshTile, poly *DtPoly) common.AABB {
	b := common.AABB{Min: tile.Verts[poly.Verts[0]], Max: tile.Verts[poly.Verts[0]]}
	for j := 1; j < int(poly.VertCount); j++ {
		v := tile.Verts[poly.Verts[j]]
		b.Min = common.Vmin(b.Min, v)
		b.Max = common.Vmax(b.Max, v)
	}
	return b
}
