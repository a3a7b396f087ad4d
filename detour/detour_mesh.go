package detour

import (
	"fmt"
	"math"

	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/common/rw"
)

const (
	/// The maximum number of vertices per navigation polygon.
	/// @ingroup detour
	DT_VERTS_PER_POLYGON = 6

	/// A flag that indicates that an entity links to an external entity.
	/// (E.g. A polygon edge is a portal that links to another polygon.)
	DT_EXT_LINK = 0x8000

	/// A flag that indicates that an off-mesh connection can be traversed in both directions. (Is bidirectional.)
	DT_OFFMESH_CON_BIDIR = 1

	/// A magic number used to detect compatibility of navigation tile data.
	DT_NAVMESH_MAGIC = 'D'<<24 | 'N'<<16 | 'A'<<8 | 'V'

	/// A version number used to detect compatibility of navigation tile data.
	DT_NAVMESH_VERSION = 7

	/// The maximum number of user defined area ids.
	/// @ingroup detour
	DT_MAX_AREAS = 64

	/// Link side of links that stay inside their tile.
	DT_LINK_INTERNAL = 0xff
)

const (
	/// The polygon is a standard convex polygon that is part of the surface of the mesh.
	DT_POLYTYPE_GROUND = 0
	/// The polygon is an off-mesh connection consisting of two vertices.
	DT_POLYTYPE_OFFMESH_CONNECTION = 1
)

const (
	DT_SALT_BITS = 16
	DT_TILE_BITS = 16
	DT_POLY_BITS = 32

	DT_MAX_TILES = 1 << DT_TILE_BITS
)

// TileKey identifies a tile slot in the world grid.
type TileKey struct {
	X, Y  int32
	Layer uint8
}

func (k TileKey) String() string {
	return fmt.Sprintf("(%d,%d,%d)", k.X, k.Y, k.Layer)
}

// Less orders keys by y, then x, then layer.
func (k TileKey) Less(o TileKey) bool {
	if k.Y != o.Y {
		return k.Y < o.Y
	}
	if k.X != o.X {
		return k.X < o.X
	}
	return k.Layer < o.Layer
}

// CompareTileKeys is Less as a three way comparison, for slices.SortFunc.
func CompareTileKeys(a, b TileKey) int {
	switch {
	case a.Less(b):
		return -1
	case b.Less(a):
		return 1
	}
	return 0
}

// DtTileRef packs a tile slot index with the salt of its current occupant.
type DtTileRef uint32

func EncodeTileRef(salt, index uint32) DtTileRef {
	return DtTileRef((salt&(1<<DT_SALT_BITS-1))<<DT_TILE_BITS | index&(1<<DT_TILE_BITS-1))
}

func (r DtTileRef) Salt() uint32  { return uint32(r) >> DT_TILE_BITS }
func (r DtTileRef) Index() uint32 { return uint32(r) & (1<<DT_TILE_BITS - 1) }

// DtPolyRef is a tile ref in the high word and a poly index in the low word.
type DtPolyRef uint64

func EncodePolyRef(tile DtTileRef, poly uint32) DtPolyRef {
	return DtPolyRef(uint64(tile)<<DT_POLY_BITS | uint64(poly))
}

func (r DtPolyRef) Tile() DtTileRef { return DtTileRef(r >> DT_POLY_BITS) }
func (r DtPolyRef) Poly() uint32    { return uint32(r) }

// / Defines a polygon within a DtMeshTile object.
// / @ingroup detour
type DtPoly struct {
	/// The indices of the polygon's vertices.
	/// The actual vertices are located in DtMeshTile::verts.
	Verts [DT_VERTS_PER_POLYGON]uint16

	/// Packed data representing neighbor polygons references and flags for each edge.
	/// 0 is a wall, 1..n an internal poly index + 1, DT_EXT_LINK|side a tile border portal.
	Neis [DT_VERTS_PER_POLYGON]uint16

	/// The user defined polygon flags.
	Flags uint16

	/// The number of vertices in the polygon.
	VertCount uint8

	/// The bit packed area id and polygon type.
	AreaAndtype uint8
}

func (p *DtPoly) ToBin(w *rw.Writer) {
	w.WriteUInt16s(p.Verts[:])
	w.WriteUInt16s(p.Neis[:])
	w.WriteUInt16(p.Flags)
	w.WriteUInt8(p.VertCount)
	w.WriteUInt8(p.AreaAndtype)
}

func (p *DtPoly) FromBin(r *rw.Reader) *DtPoly {
	r.ReadUInt16s(p.Verts[:])
	r.ReadUInt16s(p.Neis[:])
	p.Flags = r.ReadUInt16()
	p.VertCount = r.ReadUInt8()
	p.AreaAndtype = r.ReadUInt8()
	return p
}

// / Sets the user defined area id. [Limit: < #DT_MAX_AREAS]
func (p *DtPoly) SetArea(a uint8) { p.AreaAndtype = (p.AreaAndtype & 0xc0) | (a & 0x3f) }

// / Sets the polygon type. (See: #dtPolyTypes.)
func (p *DtPoly) SetType(t uint8) { p.AreaAndtype = (p.AreaAndtype & 0x3f) | (t << 6) }

// / Gets the user defined area id.
func (p *DtPoly) GetArea() uint8 { return p.AreaAndtype & 0x3f }

// / Gets the polygon type. (See: #dtPolyTypes)
func (p *DtPoly) GetType() uint8 { return p.AreaAndtype >> 6 }

// Defines a link between polygons.
type DtLink struct {
	Ref  DtPolyRef ///< Neighbour reference. (The neighbor that is linked to.)
	Edge uint8     ///< Index of the polygon edge that owns this link.
	Side uint8     ///< If a boundary link, defines on which side the link is.
	Bmin uint8     ///< If a boundary link, defines the minimum sub-edge area.
	Bmax uint8     ///< If a boundary link, defines the maximum sub-edge area.
}

// / Defines an navigation mesh off-mesh connection within a DtMeshTile object.
// / An off-mesh connection is a user defined traversable connection made up to two vertices.
type DtOffMeshConnection struct {
	/// The endpoints of the connection.
	Pos [2]common.Vec3

	/// The radius of the endpoints. [Limit: >= 0]
	Rad float32

	/// The polygon reference of the connection within the tile.
	Poly uint16

	/// Link flags. (See DT_OFFMESH_CON_BIDIR)
	Flags uint8

	/// The id of the offmesh connection. (User assigned when the navigation mesh is built.)
	UserId uint32
}

func (c *DtOffMeshConnection) ToBin(w *rw.Writer) {
	w.WriteFloat32s(c.Pos[0][:])
	w.WriteFloat32s(c.Pos[1][:])
	w.WriteFloat32(c.Rad)
	w.WriteUInt16(c.Poly)
	w.WriteUInt8(c.Flags)
	w.WriteUInt32(c.UserId)
}

func (c *DtOffMeshConnection) FromBin(r *rw.Reader) *DtOffMeshConnection {
	r.ReadFloat32s(c.Pos[0][:])
	r.ReadFloat32s(c.Pos[1][:])
	c.Rad = r.ReadFloat32()
	c.Poly = r.ReadUInt16()
	c.Flags = r.ReadUInt8()
	c.UserId = r.ReadUInt32()
	return c
}

// / Provides high level information related to a DtMeshTile object.
// / @ingroup detour
type DtMeshHeader struct {
	Magic           uint32      ///< Tile magic number. (Used to identify the data format.)
	Version         uint32      ///< Tile data format version number.
	X               int32       ///< The x-position of the tile within the DtNavMesh tile grid. (x, y, layer)
	Y               int32       ///< The y-position of the tile within the DtNavMesh tile grid. (x, y, layer)
	Layer           uint8       ///< The layer of the tile within the DtNavMesh tile grid. (x, y, layer)
	UserId          uint32      ///< The user defined id of the tile.
	PolyCount       int32       ///< The number of polygons in the tile.
	VertCount       int32       ///< The number of vertices in the tile.
	OffMeshConCount int32       ///< The number of off-mesh connections.
	OffMeshBase     int32       ///< The index of the first polygon which is an off-mesh connection.
	WalkableHeight  float32     ///< The height of the agents using the tile.
	WalkableRadius  float32     ///< The radius of the agents using the tile.
	WalkableClimb   float32     ///< The maximum climb height of the agents using the tile.
	Bmin            common.Vec3 ///< The minimum bounds of the tile's AABB.
	Bmax            common.Vec3 ///< The maximum bounds of the tile's AABB.
}

func (d *DtMeshHeader) Key() TileKey {
	return TileKey{X: d.X, Y: d.Y, Layer: d.Layer}
}

func (d *DtMeshHeader) Bounds() common.AABB {
	return common.AABB{Min: d.Bmin, Max: d.Bmax}
}

func (d *DtMeshHeader) ToBin(w *rw.Writer) {
	w.WriteUInt32(d.Magic)
	w.WriteUInt32(d.Version)
	w.WriteInt32(d.X)
	w.WriteInt32(d.Y)
	w.WriteUInt8(d.Layer)
	w.WriteUInt32(d.UserId)
	w.WriteInt32(d.PolyCount)
	w.WriteInt32(d.VertCount)
	w.WriteInt32(d.OffMeshConCount)
	w.WriteInt32(d.OffMeshBase)
	w.WriteFloat32(d.WalkableHeight)
	w.WriteFloat32(d.WalkableRadius)
	w.WriteFloat32(d.WalkableClimb)
	w.WriteFloat32s(d.Bmin[:])
	w.WriteFloat32s(d.Bmax[:])
}

// FromBin reads the magic and version first and stops there when either is
// not understood.
func (d *DtMeshHeader) FromBin(r *rw.Reader) error {
	d.Magic = r.ReadUInt32()
	d.Version = r.ReadUInt32()
	if err := r.Err(); err != nil {
		return err
	}
	if d.Magic != DT_NAVMESH_MAGIC {
		return ErrWrongMagic
	}
	// The key stays readable for every version so the tile can be regenerated.
	d.X = r.ReadInt32()
	d.Y = r.ReadInt32()
	d.Layer = r.ReadUInt8()
	if d.Version != DT_NAVMESH_VERSION {
		if err := r.Err(); err != nil {
			return err
		}
		return &VersionError{Got: d.Version, Min: DT_NAVMESH_VERSION}
	}
	d.UserId = r.ReadUInt32()
	d.PolyCount = r.ReadInt32()
	d.VertCount = r.ReadInt32()
	d.OffMeshConCount = r.ReadInt32()
	d.OffMeshBase = r.ReadInt32()
	d.WalkableHeight = r.ReadFloat32()
	d.WalkableRadius = r.ReadFloat32()
	d.WalkableClimb = r.ReadFloat32()
	r.ReadFloat32s(d.Bmin[:])
	r.ReadFloat32s(d.Bmax[:])
	return r.Err()
}

// TileData is the serialized form of a tile: the navmesh blob and the
// optional compressed runtime cache layer.
type TileData struct {
	Mesh  []byte
	Cache []byte
}

// Key decodes the grid location from the mesh blob header.
func (d *TileData) Key() (TileKey, error) {
	var h DtMeshHeader
	err := h.FromBin(rw.NewNavMeshDataBinReader(d.Mesh))
	return h.Key(), err
}

// / Defines a navigation mesh tile.
// / @ingroup detour
type DtMeshTile struct {
	salt uint32 ///< Counter describing modifications to the tile.

	Header      *DtMeshHeader         ///< The tile header.
	Polys       []DtPoly              ///< The tile polygons. [Size: DtMeshHeader::polyCount]
	Verts       []common.Vec3         ///< The tile vertices. [Size: DtMeshHeader::vertCount]
	Links       [][]DtLink            ///< The links of each polygon.
	OffMeshCons []DtOffMeshConnection ///< The tile off-mesh connections. [Size: DtMeshHeader::offMeshConCount]
	Data        *TileData             ///< The bytes the tile was attached from.
	ref         DtTileRef
}

func (t *DtMeshTile) Ref() DtTileRef { return t.ref }

func (t *DtMeshTile) Key() TileKey { return t.Header.Key() }

// PolyVerts returns the vertices of poly i in winding order.
func (t *DtMeshTile) PolyVerts(poly *DtPoly) []common.Vec3 {
	verts := make([]common.Vec3, poly.VertCount)
	for i := range verts {
		verts[i] = t.Verts[poly.Verts[i]]
	}
	return verts
}

// / Configuration parameters used to define multi-tile navigation meshes.
// / @see DtNavMesh::init()
// / @ingroup detour
type NavMeshParams struct {
	Orig       common.Vec3 ///< The world space origin of the navigation mesh's tile space.
	TileWidth  float32     ///< The width of each tile. (Along the x-axis.)
	TileHeight float32     ///< The height of each tile. (Along the z-axis.)
	MaxTiles   int32       ///< The maximum number of tiles the navigation mesh can contain.
	MaxPolys   int32       ///< The maximum number of polygons each tile can contain.
}

func (p *NavMeshParams) Validate() error {
	if !common.IsFinite(p.TileWidth) || p.TileWidth <= 0 {
		return &ConfigError{Field: "tile_width", Reason: "must be > 0"}
	}
	if !common.IsFinite(p.TileHeight) || p.TileHeight <= 0 {
		return &ConfigError{Field: "tile_height", Reason: "must be > 0"}
	}
	if p.MaxTiles <= 0 || p.MaxTiles > DT_MAX_TILES {
		return &ConfigError{Field: "max_tiles", Reason: fmt.Sprintf("must be in [1,%d]", DT_MAX_TILES)}
	}
	if p.MaxPolys <= 0 || p.MaxPolys > math.MaxUint16 {
		return &ConfigError{Field: "max_polys", Reason: "must be in [1,65535]"}
	}
	if !common.Visfinite(p.Orig) {
		return &ConfigError{Field: "origin", Reason: "must be finite"}
	}
	return nil
}

// TileBounds is the xz footprint of a tile, unbounded in y.
func (p *NavMeshParams) TileBounds(x, y int32) common.AABB {
	minX := p.Orig[0] + float32(x)*p.TileWidth
	minZ := p.Orig[2] + float32(y)*p.TileHeight
	return common.AABB{
		Min: common.Vec3{minX, float32(-math.MaxFloat32), minZ},
		Max: common.Vec3{minX + p.TileWidth, math.MaxFloat32, minZ + p.TileHeight},
	}
}

// TileCenter is the center of a tile on the xz-plane, at the origin height.
func (p *NavMeshParams) TileCenter(x, y int32) common.Vec3 {
	return common.Vec3{
		p.Orig[0] + (float32(x)+0.5)*p.TileWidth,
		p.Orig[1],
		p.Orig[2] + (float32(y)+0.5)*p.TileHeight,
	}
}

// CalcTileLoc returns the grid location containing pos.
func (p *NavMeshParams) CalcTileLoc(pos common.Vec3) (tx, ty int32) {
	tx = int32(math.Floor(float64((pos[0] - p.Orig[0]) / p.TileWidth)))
	ty = int32(math.Floor(float64((pos[2] - p.Orig[2]) / p.TileHeight)))
	return tx, ty
}
