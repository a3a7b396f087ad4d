package detour_tile_cache

import (
	"bytes"
	"fmt"
	"math"

	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/common/rw"
	"github.com/gorustyt/navtile/detour"
)

const (
	DT_TILECACHE_MAGIC   = 'D'<<24 | 'T'<<16 | 'L'<<8 | 'R' ///< 'DTLR'
	DT_TILECACHE_VERSION = 1

	/// Area id of a cell with no walkable ground. Generators emit no polygon there.
	DT_TILECACHE_NULL_AREA = 0xff
)

// DtTileCacheLayerHeader describes a cache layer. Heights are quantized to
// 255 steps between Bmin[1] and Bmax[1].
type DtTileCacheLayerHeader struct {
	Magic                  uint32
	Version                uint32
	Tx, Ty                 int32
	Tlayer                 uint8
	Bmin, Bmax             common.Vec3
	Hmin, Hmax             uint8 ///< Height min/max range of walkable cells.
	Width, Height          uint8 ///< Dimension of the layer in cells.
	Minx, Maxx, Miny, Maxy uint8 ///< Usable sub-region.
}

func (h *DtTileCacheLayerHeader) Key() detour.TileKey {
	return detour.TileKey{X: h.Tx, Y: h.Ty, Layer: h.Tlayer}
}

// CellSize returns the horizontal cell size and the height step.
func (h *DtTileCacheLayerHeader) CellSize() (cs, ch float32) {
	cs = (h.Bmax[0] - h.Bmin[0]) / float32(max(h.Width, 1))
	ch = (h.Bmax[1] - h.Bmin[1]) / 255
	if ch <= 0 {
		ch = 1
	}
	return cs, ch
}

// TightBounds covers only the usable sub-region.
func (h *DtTileCacheLayerHeader) TightBounds() common.AABB {
	cs, _ := h.CellSize()
	return common.AABB{
		Min: common.Vec3{h.Bmin[0] + float32(h.Minx)*cs, h.Bmin[1], h.Bmin[2] + float32(h.Miny)*cs},
		Max: common.Vec3{h.Bmin[0] + float32(int(h.Maxx)+1)*cs, h.Bmax[1], h.Bmin[2] + float32(int(h.Maxy)+1)*cs},
	}
}

func (h *DtTileCacheLayerHeader) ToBin(w *rw.Writer) {
	w.WriteUInt32(h.Magic)
	w.WriteUInt32(h.Version)
	w.WriteInt32(h.Tx)
	w.WriteInt32(h.Ty)
	w.WriteUInt8(h.Tlayer)
	w.WriteFloat32s(h.Bmin[:])
	w.WriteFloat32s(h.Bmax[:])
	w.WriteUInt8(h.Hmin)
	w.WriteUInt8(h.Hmax)
	w.WriteUInt8(h.Width)
	w.WriteUInt8(h.Height)
	w.WriteUInt8(h.Minx)
	w.WriteUInt8(h.Maxx)
	w.WriteUInt8(h.Miny)
	w.WriteUInt8(h.Maxy)
}

func (h *DtTileCacheLayerHeader) FromBin(r *rw.Reader) error {
	h.Magic = r.ReadUInt32()
	h.Version = r.ReadUInt32()
	if err := r.Err(); err != nil {
		return err
	}
	if h.Magic != DT_TILECACHE_MAGIC {
		return detour.ErrWrongMagic
	}
	if h.Version != DT_TILECACHE_VERSION {
		return &detour.VersionError{Got: h.Version, Min: DT_TILECACHE_VERSION}
	}
	h.Tx = r.ReadInt32()
	h.Ty = r.ReadInt32()
	h.Tlayer = r.ReadUInt8()
	r.ReadFloat32s(h.Bmin[:])
	r.ReadFloat32s(h.Bmax[:])
	h.Hmin = r.ReadUInt8()
	h.Hmax = r.ReadUInt8()
	h.Width = r.ReadUInt8()
	h.Height = r.ReadUInt8()
	h.Minx = r.ReadUInt8()
	h.Maxx = r.ReadUInt8()
	h.Miny = r.ReadUInt8()
	h.Maxy = r.ReadUInt8()
	return r.Err()
}

// DtTileCacheLayer is the decompressed cell grid of a tile. Cell (x, z) is
// stored at x + z*Width.
type DtTileCacheLayer struct {
	Header  *DtTileCacheLayerHeader
	Heights []uint8
	Areas   []uint8
	Cons    []uint8 ///< Walkable neighbour bits, bit d set when direction d connects.
}

// NewDtTileCacheLayer allocates a flat layer at Bmin[1] with every cell set to area.
func NewDtTileCacheLayer(key detour.TileKey, bmin, bmax common.Vec3, width, height uint8, area uint8) *DtTileCacheLayer {
	n := int(width) * int(height)
	layer := &DtTileCacheLayer{
		Header: &DtTileCacheLayerHeader{
			Magic:   DT_TILECACHE_MAGIC,
			Version: DT_TILECACHE_VERSION,
			Tx:      key.X,
			Ty:      key.Y,
			Tlayer:  key.Layer,
			Bmin:    bmin,
			Bmax:    bmax,
			Width:   width,
			Height:  height,
		},
		Heights: make([]uint8, n),
		Areas:   make([]uint8, n),
		Cons:    make([]uint8, n),
	}
	for i := range layer.Areas {
		layer.Areas[i] = area
	}
	return layer
}

func (l *DtTileCacheLayer) index(x, z int) int { return x + z*int(l.Header.Width) }

// CellArea returns the area id of cell (x, z).
func (l *DtTileCacheLayer) CellArea(x, z int) uint8 { return l.Areas[l.index(x, z)] }

// CellCorner is the minimum corner of cell (x, z) at its stored height.
func (l *DtTileCacheLayer) CellCorner(x, z int) common.Vec3 {
	cs, ch := l.Header.CellSize()
	return common.Vec3{
		l.Header.Bmin[0] + float32(x)*cs,
		l.Header.Bmin[1] + float32(l.Heights[l.index(x, z)])*ch,
		l.Header.Bmin[2] + float32(z)*cs,
	}
}

// SetHeight stores the world height y for cell (x, z), clamped to the layer bounds.
func (l *DtTileCacheLayer) SetHeight(x, z int, y float32) {
	_, ch := l.Header.CellSize()
	q := math.Round(float64((y - l.Header.Bmin[1]) / ch))
	l.Heights[l.index(x, z)] = uint8(common.Clamp(q, 0, 255))
}

var dirOffsets = [4][2]int{{-1, 0}, {0, 1}, {1, 0}, {0, -1}}

// buildConnections recomputes Cons, the usable sub-region and the height range.
func (l *DtTileCacheLayer) buildConnections(walkableClimb uint8) {
	h := l.Header
	w, ht := int(h.Width), int(h.Height)
	h.Minx, h.Miny = h.Width, h.Height
	h.Maxx, h.Maxy = 0, 0
	h.Hmin, h.Hmax = 255, 0
	found := false
	for z := 0; z < ht; z++ {
		for x := 0; x < w; x++ {
			i := l.index(x, z)
			l.Cons[i] = 0
			if l.Areas[i] == DT_TILECACHE_NULL_AREA {
				continue
			}
			found = true
			h.Minx, h.Maxx = min(h.Minx, uint8(x)), max(h.Maxx, uint8(x))
			h.Miny, h.Maxy = min(h.Miny, uint8(z)), max(h.Maxy, uint8(z))
			h.Hmin, h.Hmax = min(h.Hmin, l.Heights[i]), max(h.Hmax, l.Heights[i])
			for d, off := range dirOffsets {
				nx, nz := x+off[0], z+off[1]
				if nx < 0 || nz < 0 || nx >= w || nz >= ht {
					continue
				}
				j := l.index(nx, nz)
				if l.Areas[j] == DT_TILECACHE_NULL_AREA {
					continue
				}
				if common.Abs(int(l.Heights[i])-int(l.Heights[j])) <= int(walkableClimb) {
					l.Cons[i] |= 1 << d
				}
			}
		}
	}
	if !found {
		h.Minx, h.Maxx, h.Miny, h.Maxy = 0, 0, 0, 0
		h.Hmin, h.Hmax = 0, 0
	}
}

// Compress encodes the layer as an uncompressed header followed by the
// compressed heights, areas and cons grids.
func (l *DtTileCacheLayer) Compress(comp DtTileCacheCompressor, walkableClimb uint8) ([]byte, error) {
	n := int(l.Header.Width) * int(l.Header.Height)
	if len(l.Heights) != n || len(l.Areas) != n || len(l.Cons) != n {
		return nil, fmt.Errorf("%w: layer grids do not match %dx%d", detour.ErrInvalidParam, l.Header.Width, l.Header.Height)
	}
	l.buildConnections(walkableClimb)

	grids := make([]byte, 0, 3*n)
	grids = append(grids, l.Heights...)
	grids = append(grids, l.Areas...)
	grids = append(grids, l.Cons...)
	packed, err := comp.Compress(grids)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := rw.NewWriter(&buf)
	l.Header.ToBin(w)
	w.WriteUInt32(uint32(len(packed)))
	w.WriteBytes(packed)
	if err := w.Err(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeTileCacheLayerHeader reads only the header of a compressed layer.
func DecodeTileCacheLayerHeader(data []byte) (*DtTileCacheLayerHeader, error) {
	var h DtTileCacheLayerHeader
	if err := h.FromBin(rw.NewNavMeshDataBinReader(data)); err != nil {
		return nil, err
	}
	return &h, nil
}

func DecompressTileCacheLayer(comp DtTileCacheCompressor, data []byte) (*DtTileCacheLayer, error) {
	r := rw.NewNavMeshDataBinReader(data)
	var h DtTileCacheLayerHeader
	if err := h.FromBin(r); err != nil {
		return nil, err
	}
	packed := r.ReadBytes(int(r.ReadUInt32()))
	if err := r.Err(); err != nil {
		return nil, err
	}
	grids, err := comp.Decompress(packed)
	if err != nil {
		return nil, err
	}
	n := int(h.Width) * int(h.Height)
	if len(grids) != 3*n {
		return nil, fmt.Errorf("%w: layer %v has %d grid bytes, want %d", detour.ErrInvalidParam, h.Key(), len(grids), 3*n)
	}
	return &DtTileCacheLayer{
		Header:  &h,
		Heights: grids[:n],
		Areas:   grids[n : 2*n],
		Cons:    grids[2*n:],
	}, nil
}

// cellRange converts a world box into clamped cell bounds and a quantized
// height range.
func (l *DtTileCacheLayer) cellRange(bmin, bmax common.Vec3) (minx, maxx, minz, maxz, miny, maxy int, ok bool) {
	h := l.Header
	cs, ch := h.CellSize()
	ics, ich := 1/cs, 1/ch
	minx = int(math.Floor(float64((bmin[0] - h.Bmin[0]) * ics)))
	maxx = int(math.Floor(float64((bmax[0] - h.Bmin[0]) * ics)))
	minz = int(math.Floor(float64((bmin[2] - h.Bmin[2]) * ics)))
	maxz = int(math.Floor(float64((bmax[2] - h.Bmin[2]) * ics)))
	miny = int(math.Floor(float64((bmin[1] - h.Bmin[1]) * ich)))
	maxy = int(math.Floor(float64((bmax[1] - h.Bmin[1]) * ich)))
	w, ht := int(h.Width), int(h.Height)
	if maxx < 0 || minx >= w || maxz < 0 || minz >= ht {
		return 0, 0, 0, 0, 0, 0, false
	}
	return max(minx, 0), min(maxx, w-1), max(minz, 0), min(maxz, ht-1), miny, maxy, true
}

func DtMarkCylinderArea(layer *DtTileCacheLayer, pos common.Vec3, radius, height float32, areaId uint8) {
	bmin := common.Vec3{pos[0] - radius, pos[1], pos[2] - radius}
	bmax := common.Vec3{pos[0] + radius, pos[1] + height, pos[2] + radius}
	minx, maxx, minz, maxz, miny, maxy, ok := layer.cellRange(bmin, bmax)
	if !ok {
		return
	}
	cs, _ := layer.Header.CellSize()
	ics := 1 / cs
	px := (pos[0] - layer.Header.Bmin[0]) * ics
	pz := (pos[2] - layer.Header.Bmin[2]) * ics
	r2 := common.Sqr(radius*ics + 0.5)
	for z := minz; z <= maxz; z++ {
		for x := minx; x <= maxx; x++ {
			dx := float32(x) + 0.5 - px
			dz := float32(z) + 0.5 - pz
			if dx*dx+dz*dz > r2 {
				continue
			}
			i := layer.index(x, z)
			y := int(layer.Heights[i])
			if y < miny || y > maxy {
				continue
			}
			layer.Areas[i] = areaId
		}
	}
}

func DtMarkBoxArea(layer *DtTileCacheLayer, bmin, bmax common.Vec3, areaId uint8) {
	minx, maxx, minz, maxz, miny, maxy, ok := layer.cellRange(bmin, bmax)
	if !ok {
		return
	}
	for z := minz; z <= maxz; z++ {
		for x := minx; x <= maxx; x++ {
			i := layer.index(x, z)
			y := int(layer.Heights[i])
			if y < miny || y > maxy {
				continue
			}
			layer.Areas[i] = areaId
		}
	}
}

// DtMarkAreaModifier applies an area modifier to the walkable cells inside
// its bounds. With ReplaceArea set only cells of that area change.
func DtMarkAreaModifier(layer *DtTileCacheLayer, mod detour.AreaModifier) {
	minx, maxx, minz, maxz, miny, maxy, ok := layer.cellRange(mod.Bounds.Min, mod.Bounds.Max)
	if !ok {
		return
	}
	for z := minz; z <= maxz; z++ {
		for x := minx; x <= maxx; x++ {
			i := layer.index(x, z)
			a := layer.Areas[i]
			if a == DT_TILECACHE_NULL_AREA || (mod.ReplaceArea != nil && a != *mod.ReplaceArea) {
				continue
			}
			if y := int(layer.Heights[i]); y < miny || y > maxy {
				continue
			}
			layer.Areas[i] = mod.Area
		}
	}
}

// DtMarkOrientedBoxArea marks cells inside a box rotated about y. rotAux is
// {cos(a/2)*sin(-a/2), cos(a/2)*cos(a/2) - 0.5}.
func DtMarkOrientedBoxArea(layer *DtTileCacheLayer, center, halfExtents common.Vec3, rotAux [2]float32, areaId uint8) {
	maxr := 1.41 * max(halfExtents[0], halfExtents[2])
	bmin := common.Vec3{center[0] - maxr, center[1] - halfExtents[1], center[2] - maxr}
	bmax := common.Vec3{center[0] + maxr, center[1] + halfExtents[1], center[2] + maxr}
	minx, maxx, minz, maxz, miny, maxy, ok := layer.cellRange(bmin, bmax)
	if !ok {
		return
	}
	cs, _ := layer.Header.CellSize()
	ics := 1 / cs
	cx := (center[0] - layer.Header.Bmin[0]) * ics
	cz := (center[2] - layer.Header.Bmin[2]) * ics
	xhalf := halfExtents[0]*ics + 0.5
	zhalf := halfExtents[2]*ics + 0.5
	for z := minz; z <= maxz; z++ {
		for x := minx; x <= maxx; x++ {
			x2 := 2 * (float32(x) + 0.5 - cx)
			z2 := 2 * (float32(z) + 0.5 - cz)
			xrot := rotAux[1]*x2 + rotAux[0]*z2
			if xrot > xhalf || xrot < -xhalf {
				continue
			}
			zrot := rotAux[1]*z2 - rotAux[0]*x2
			if zrot > zhalf || zrot < -zhalf {
				continue
			}
			i := layer.index(x, z)
			y := int(layer.Heights[i])
			if y < miny || y > maxy {
				continue
			}
			layer.Areas[i] = areaId
		}
	}
}
