package detour

import (
	"bytes"
	"fmt"
	"math"

	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/common/rw"
)

// NavMeshData is a decoded tile mesh blob.
type NavMeshData struct {
	Header      *DtMeshHeader
	Verts       []common.Vec3
	Polys       []DtPoly
	OffMeshCons []DtOffMeshConnection
}

func (d *NavMeshData) ToBin() ([]byte, error) {
	var buf bytes.Buffer
	w := rw.NewWriter(&buf)
	d.Header.ToBin(w)
	for _, v := range d.Verts {
		w.WriteFloat32s(v[:])
	}
	for i := range d.Polys {
		d.Polys[i].ToBin(w)
	}
	for i := range d.OffMeshCons {
		d.OffMeshCons[i].ToBin(w)
	}
	if err := w.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeNavMeshData parses and checks a tile mesh blob.
func DecodeNavMeshData(data []byte) (*NavMeshData, error) {
	r := rw.NewNavMeshDataBinReader(data)
	d := &NavMeshData{Header: &DtMeshHeader{}}
	if err := d.Header.FromBin(r); err != nil {
		return nil, err
	}
	h := d.Header
	if h.PolyCount < 0 || h.PolyCount > math.MaxUint16 ||
		h.VertCount < 0 || h.VertCount > math.MaxUint16 ||
		h.OffMeshConCount < 0 || h.OffMeshBase < 0 ||
		h.OffMeshBase+h.OffMeshConCount != h.PolyCount {
		return nil, fmt.Errorf("%w: bad tile header counts", ErrInvalidParam)
	}
	// Counts come from untrusted bytes; make sure they fit before allocating.
	const vertSize, polySize, conSize = 12, 28, 35
	need := int64(h.VertCount)*vertSize + int64(h.PolyCount)*polySize + int64(h.OffMeshConCount)*conSize
	if need > int64(len(data))-r.Offset() {
		return nil, fmt.Errorf("%w: tile blob truncated", rw.ErrShortRead)
	}
	d.Verts = make([]common.Vec3, h.VertCount)
	for i := range d.Verts {
		r.ReadFloat32s(d.Verts[i][:])
	}
	d.Polys = make([]DtPoly, h.PolyCount)
	for i := range d.Polys {
		d.Polys[i].FromBin(r)
	}
	d.OffMeshCons = make([]DtOffMeshConnection, h.OffMeshConCount)
	for i := range d.OffMeshCons {
		d.OffMeshCons[i].FromBin(r)
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	for i := range d.Polys {
		p := &d.Polys[i]
		minVerts := uint8(3)
		if p.GetType() == DT_POLYTYPE_OFFMESH_CONNECTION {
			minVerts = 2
		}
		if p.VertCount < minVerts || p.VertCount > DT_VERTS_PER_POLYGON {
			return nil, fmt.Errorf("%w: poly %d has %d verts", ErrInvalidParam, i, p.VertCount)
		}
		for j := 0; j < int(p.VertCount); j++ {
			if int32(p.Verts[j]) >= h.VertCount {
				return nil, fmt.Errorf("%w: poly %d vertex out of range", ErrInvalidParam, i)
			}
			if nei := p.Neis[j]; nei&DT_EXT_LINK == 0 && int32(nei) > h.PolyCount {
				return nil, fmt.Errorf("%w: poly %d neighbour out of range", ErrInvalidParam, i)
			}
		}
	}
	for i := range d.OffMeshCons {
		if int32(d.OffMeshCons[i].Poly) >= h.PolyCount {
			return nil, fmt.Errorf("%w: off-mesh connection %d poly out of range", ErrInvalidParam, i)
		}
	}
	return d, nil
}

type OffMeshConParams struct {
	Start, End common.Vec3
	Rad        float32
	Bidir      bool
	Area       uint8
	Flags      uint16
	UserId     uint32
}

// / Represents the source data used to build an navigation mesh tile.
type NavMeshCreateParams struct {
	Verts     []common.Vec3
	Polys     [][]uint16 // vertex indices, 3 to DT_VERTS_PER_POLYGON per poly
	PolyAreas []uint8    // default AREA_DEFAULT
	PolyFlags []uint16   // default POLYFLAG_WALK

	OffMeshCons []OffMeshConParams

	TileX, TileY int32
	TileLayer    uint8
	UserId       uint32

	Bmin, Bmax common.Vec3 // tile bounds, border edges are detected against the xz extent

	WalkableHeight float32
	WalkableRadius float32
	WalkableClimb  float32
}

const borderEps = 1e-3

func classifyBorderEdge(va, vb, bmin, bmax common.Vec3) uint16 {
	on := func(a, b, v float32) bool {
		return common.Abs(a-v) < borderEps && common.Abs(b-v) < borderEps
	}
	switch {
	case on(va[0], vb[0], bmax[0]):
		return DT_EXT_LINK | 0
	case on(va[2], vb[2], bmax[2]):
		return DT_EXT_LINK | 2
	case on(va[0], vb[0], bmin[0]):
		return DT_EXT_LINK | 4
	case on(va[2], vb[2], bmin[2]):
		return DT_EXT_LINK | 6
	}
	return 0
}

// CreateNavMeshData builds a tile mesh blob from convex polygons. Identical
// vertices are welded, windings are normalized, polys sharing an edge are
// connected and edges lying on the tile bounds become portals to the
// neighbouring tiles.
func CreateNavMeshData(params *NavMeshCreateParams) ([]byte, error) {
	if len(params.Polys) == 0 && len(params.OffMeshCons) == 0 {
		return nil, fmt.Errorf("%w: tile has no polygons", ErrInvalidParam)
	}
	if len(params.PolyAreas) != 0 && len(params.PolyAreas) != len(params.Polys) {
		return nil, fmt.Errorf("%w: %d areas for %d polys", ErrInvalidParam, len(params.PolyAreas), len(params.Polys))
	}
	if len(params.PolyFlags) != 0 && len(params.PolyFlags) != len(params.Polys) {
		return nil, fmt.Errorf("%w: %d flags for %d polys", ErrInvalidParam, len(params.PolyFlags), len(params.Polys))
	}

	// Weld vertices.
	remap := make([]uint16, len(params.Verts))
	welded := make(map[common.Vec3]uint16, len(params.Verts))
	var verts []common.Vec3
	for i, v := range params.Verts {
		if !common.Visfinite(v) {
			return nil, fmt.Errorf("%w: vertex %d not finite", ErrInvalidParam, i)
		}
		idx, ok := welded[v]
		if !ok {
			idx = uint16(len(verts))
			welded[v] = idx
			verts = append(verts, v)
		}
		remap[i] = idx
	}

	bmin, bmax := params.Bmin, params.Bmax
	for _, v := range verts {
		bmin[1] = min(bmin[1], v[1])
		bmax[1] = max(bmax[1], v[1])
	}

	type edgeOwner struct{ poly, edge int }
	edges := make(map[[2]uint16]edgeOwner)
	polys := make([]DtPoly, 0, len(params.Polys)+len(params.OffMeshCons))
	for i, src := range params.Polys {
		if len(src) < 3 || len(src) > DT_VERTS_PER_POLYGON {
			return nil, fmt.Errorf("%w: poly %d has %d verts", ErrInvalidParam, i, len(src))
		}
		idx := make([]uint16, len(src))
		pv := make([]common.Vec3, len(src))
		for j, vi := range src {
			if int(vi) >= len(params.Verts) {
				return nil, fmt.Errorf("%w: poly %d vertex %d out of range", ErrInvalidParam, i, vi)
			}
			idx[j] = remap[vi]
			pv[j] = verts[idx[j]]
		}
		area := common.PolyArea2D(pv)
		if common.Abs(area) < 1e-6 {
			return nil, fmt.Errorf("%w: poly %d is degenerate", ErrInvalidParam, i)
		}
		if area < 0 {
			for l, r := 0, len(idx)-1; l < r; l, r = l+1, r-1 {
				idx[l], idx[r] = idx[r], idx[l]
			}
		}
		p := DtPoly{VertCount: uint8(len(idx)), Flags: POLYFLAG_WALK}
		copy(p.Verts[:], idx)
		if len(params.PolyAreas) != 0 {
			if params.PolyAreas[i] >= DT_MAX_AREAS {
				return nil, fmt.Errorf("%w: poly %d area %d", ErrInvalidParam, i, params.PolyAreas[i])
			}
			p.SetArea(params.PolyAreas[i])
		}
		if len(params.PolyFlags) != 0 {
			p.Flags = params.PolyFlags[i]
		}
		p.SetType(DT_POLYTYPE_GROUND)
		polys = append(polys, p)
	}

	// Internal adjacency and tile border portals.
	for i := range polys {
		p := &polys[i]
		nv := int(p.VertCount)
		for j := 0; j < nv; j++ {
			a, b := p.Verts[j], p.Verts[(j+1)%nv]
			key := [2]uint16{min(a, b), max(a, b)}
			if other, ok := edges[key]; ok && other.poly != i {
				p.Neis[j] = uint16(other.poly + 1)
				polys[other.poly].Neis[other.edge] = uint16(i + 1)
				delete(edges, key)
				continue
			}
			edges[key] = edgeOwner{poly: i, edge: j}
		}
	}
	for _, owner := range edges {
		p := &polys[owner.poly]
		nv := int(p.VertCount)
		va := verts[p.Verts[owner.edge]]
		vb := verts[p.Verts[(owner.edge+1)%nv]]
		p.Neis[owner.edge] = classifyBorderEdge(va, vb, params.Bmin, params.Bmax)
	}

	offMeshBase := len(polys)
	cons := make([]DtOffMeshConnection, 0, len(params.OffMeshCons))
	for i, c := range params.OffMeshCons {
		if !common.Visfinite(c.Start) || !common.Visfinite(c.End) || c.Rad < 0 || c.Area >= DT_MAX_AREAS {
			return nil, fmt.Errorf("%w: off-mesh connection %d", ErrInvalidParam, i)
		}
		if len(verts)+2 > math.MaxUint16 {
			return nil, fmt.Errorf("%w: too many vertices", ErrInvalidParam)
		}
		base := uint16(len(verts))
		verts = append(verts, c.Start, c.End)
		p := DtPoly{VertCount: 2, Flags: c.Flags | NavLinkFlag}
		p.Verts[0], p.Verts[1] = base, base+1
		p.SetArea(c.Area)
		p.SetType(DT_POLYTYPE_OFFMESH_CONNECTION)
		con := DtOffMeshConnection{
			Pos:    [2]common.Vec3{c.Start, c.End},
			Rad:    c.Rad,
			Poly:   uint16(len(polys)),
			UserId: c.UserId,
		}
		if c.Bidir {
			con.Flags = DT_OFFMESH_CON_BIDIR
		}
		polys = append(polys, p)
		cons = append(cons, con)
		bmin = common.Vmin(bmin, common.Vmin(c.Start, c.End))
		bmax = common.Vmax(bmax, common.Vmax(c.Start, c.End))
	}
	if len(verts) > math.MaxUint16 || len(polys) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: tile too large", ErrInvalidParam)
	}

	d := &NavMeshData{
		Header: &DtMeshHeader{
			Magic:           DT_NAVMESH_MAGIC,
			Version:         DT_NAVMESH_VERSION,
			X:               params.TileX,
			Y:               params.TileY,
			Layer:           params.TileLayer,
			UserId:          params.UserId,
			PolyCount:       int32(len(polys)),
			VertCount:       int32(len(verts)),
			OffMeshConCount: int32(len(cons)),
			OffMeshBase:     int32(offMeshBase),
			WalkableHeight:  params.WalkableHeight,
			WalkableRadius:  params.WalkableRadius,
			WalkableClimb:   params.WalkableClimb,
			Bmin:            bmin,
			Bmax:            bmax,
		},
		Verts:       verts,
		Polys:       polys,
		OffMeshCons: cons,
	}
	return d.ToBin()
}
