package detour

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorustyt/navtile/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefEncoding(t *testing.T) {
	tref := EncodeTileRef(7, 3)
	assert.EqualValues(t, 7, tref.Salt())
	assert.EqualValues(t, 3, tref.Index())
	pref := EncodePolyRef(tref, 42)
	assert.Equal(t, tref, pref.Tile())
	assert.EqualValues(t, 42, pref.Poly())
}

func TestNavMeshParamsValidate(t *testing.T) {
	p := testParams()
	p.TileWidth = 0
	_, err := NewDtNavMesh(p, nil)
	assert.ErrorIs(t, err, ErrConfig)

	p = testParams()
	p.MaxTiles = DT_MAX_TILES + 1
	_, err = NewDtNavMesh(p, nil)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestCreateNavMeshDataDecode(t *testing.T) {
	td := gridTile(t, 2, -1, 2, withLayer(3))
	nav, err := DecodeNavMeshData(td.Mesh)
	require.NoError(t, err)
	assert.Equal(t, TileKey{X: 2, Y: -1, Layer: 3}, nav.Header.Key())
	assert.EqualValues(t, 4, nav.Header.PolyCount)
	assert.EqualValues(t, 9, nav.Header.VertCount)
	assert.Len(t, nav.Polys, 4)

	// Every poly has two internal neighbours and two border portals.
	for _, p := range nav.Polys {
		internal, portals := 0, 0
		for j := 0; j < int(p.VertCount); j++ {
			switch {
			case p.Neis[j]&DT_EXT_LINK != 0:
				portals++
			case p.Neis[j] != 0:
				internal++
			}
		}
		assert.Equal(t, 2, internal)
		assert.Equal(t, 2, portals)
	}

	key, err := td.Key()
	require.NoError(t, err)
	assert.Equal(t, TileKey{X: 2, Y: -1, Layer: 3}, key)
}

func TestCreateNavMeshDataRejects(t *testing.T) {
	p := gridParams(0, 0, 1)
	p.Polys = [][]uint16{{0, 1}}
	_, err := CreateNavMeshData(p)
	assert.ErrorIs(t, err, ErrInvalidParam)

	p = gridParams(0, 0, 1)
	p.Verts[2] = p.Verts[0]
	p.Verts[3] = p.Verts[1]
	_, err = CreateNavMeshData(p)
	assert.ErrorIs(t, err, ErrInvalidParam, "degenerate poly")

	_, err = DecodeNavMeshData([]byte("not a tile"))
	assert.Error(t, err)
}

func TestCreateNavMeshDataFixesWinding(t *testing.T) {
	p := gridParams(0, 0, 1)
	p.Polys[0] = []uint16{p.Polys[0][3], p.Polys[0][2], p.Polys[0][1], p.Polys[0][0]}
	blob, err := CreateNavMeshData(p)
	require.NoError(t, err)
	nav, err := DecodeNavMeshData(blob)
	require.NoError(t, err)
	verts := make([]common.Vec3, nav.Polys[0].VertCount)
	for i := range verts {
		verts[i] = nav.Verts[nav.Polys[0].Verts[i]]
	}
	assert.Greater(t, common.PolyArea2D(verts), float32(0))
}

func TestAttachDetach(t *testing.T) {
	mesh := newTestMesh(t)
	var events []TileEvent
	cancel := mesh.Subscribe(func(ev TileEvent) { events = append(events, ev) })
	defer cancel()

	td := gridTile(t, 0, 0, 2)
	ref, err := mesh.Attach(td)
	require.NoError(t, err)
	assert.Equal(t, 1, mesh.TileCount())
	assert.Equal(t, ref, mesh.TileRefAt(TileKey{}))

	_, err = mesh.Attach(gridTile(t, 0, 0, 1))
	var aerr *AttachError
	require.ErrorAs(t, err, &aerr)
	assert.ErrorIs(t, err, ErrSlotOccupied)
	assert.Equal(t, TileKey{}, aerr.Key)
	assert.Equal(t, ref, mesh.TileRefAt(TileKey{}), "resident tile untouched")

	polyRef := EncodePolyRef(ref, 0)
	assert.True(t, mesh.IsValidPolyRef(polyRef))

	data, ok := mesh.Detach(0, 0, 0)
	require.True(t, ok)
	assert.Equal(t, td.Mesh, data.Mesh)
	_, _, err = mesh.GetTileAndPolyByRef(polyRef)
	assert.ErrorIs(t, err, ErrStaleReference)

	_, ok = mesh.Detach(0, 0, 0)
	assert.False(t, ok)

	// The slot is reused with a new salt, old refs stay stale.
	ref2, err := mesh.Attach(td)
	require.NoError(t, err)
	assert.Equal(t, ref.Index(), ref2.Index())
	assert.NotEqual(t, ref, ref2)
	assert.False(t, mesh.IsValidPolyRef(polyRef))
	assert.True(t, mesh.IsValidPolyRef(EncodePolyRef(ref2, 0)))

	require.Len(t, events, 3)
	assert.Equal(t, TileAttached, events[0].Type)
	assert.Equal(t, TileDetached, events[1].Type)
	assert.Equal(t, ref, events[1].Ref)
	assert.Equal(t, ref2, events[2].Ref)
}

func TestAttachLayers(t *testing.T) {
	mesh := newTestMesh(t, gridTile(t, 0, 0, 1), gridTile(t, 0, 0, 1, withLayer(1)))
	assert.Equal(t, []TileKey{{0, 0, 0}, {0, 0, 1}}, mesh.TileKeys())
}

func countExtLinks(tile *DtMeshTile, side uint8) int {
	n := 0
	for _, links := range tile.Links {
		for _, l := range links {
			if l.Side == side {
				n++
			}
		}
	}
	return n
}

func TestCrossTileLinks(t *testing.T) {
	mesh := newTestMesh(t, gridTile(t, 0, 0, 2), gridTile(t, 1, 0, 2))
	a := mesh.TileAt(TileKey{X: 0})
	b := mesh.TileAt(TileKey{X: 1})
	require.NotNil(t, a)
	require.NotNil(t, b)

	// Two polys of each tile face the shared border.
	assert.Equal(t, 2, countExtLinks(a, 0))
	assert.Equal(t, 2, countExtLinks(b, 4))
	for _, links := range a.Links {
		for _, l := range links {
			if l.Side == 0 {
				assert.Equal(t, b.Ref(), l.Ref.Tile())
				assert.EqualValues(t, 0, l.Bmin)
				assert.EqualValues(t, 255, l.Bmax)
			}
		}
	}

	mesh.Detach(1, 0, 0)
	assert.Zero(t, countExtLinks(a, 0))
}

func TestTilesIn(t *testing.T) {
	mesh := newTestMesh(t, gridTile(t, 0, 0, 1), gridTile(t, 1, 0, 1), gridTile(t, 3, 3, 1))
	refs := mesh.TilesIn(common.AABB{Min: common.Vec3{5, -1, 5}, Max: common.Vec3{15, 1, 6}})
	require.Len(t, refs, 2)
	assert.Equal(t, mesh.TileRefAt(TileKey{X: 0}), refs[0])
	assert.Equal(t, mesh.TileRefAt(TileKey{X: 1}), refs[1])
}

func TestOffMeshLinks(t *testing.T) {
	mesh := newTestMesh(t, gridTile(t, 0, 0, 2, withOffMesh(OffMeshConParams{
		Start: common.Vec3{1, 0, 1},
		End:   common.Vec3{9, 0, 9},
		Rad:   0.5,
		Flags: POLYFLAG_WALK,
	})))
	tile := mesh.TileAt(TileKey{})
	require.Len(t, tile.OffMeshCons, 1)
	con := tile.OffMeshCons[0]
	assert.Len(t, tile.Links[con.Poly], 2, "both ends land")
	assert.NotZero(t, tile.Polys[con.Poly].Flags&NavLinkFlag)

	// One-way: only the start poly links to the connection.
	landLinks := 0
	for i, links := range tile.Links {
		if i == int(con.Poly) {
			continue
		}
		for _, l := range links {
			if l.Ref.Poly() == uint32(con.Poly) {
				landLinks++
			}
		}
	}
	assert.Equal(t, 1, landLinks)
}

func TestSerializeOrderIndependent(t *testing.T) {
	t1 := gridTile(t, 0, 0, 2)
	t2 := gridTile(t, 1, 0, 2)
	t3 := gridTile(t, 0, 1, 1)
	t3.Cache = []byte{1, 2, 3}

	var a, b bytes.Buffer
	require.NoError(t, newTestMesh(t, t1, t2, t3).Serialize(&a))
	require.NoError(t, newTestMesh(t, t3, t2, t1).Serialize(&b))
	assert.Equal(t, a.Bytes(), b.Bytes())

	loaded := newTestMesh(t)
	require.NoError(t, loaded.Deserialize(bytes.NewReader(a.Bytes())))
	assert.Equal(t, []TileKey{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}, loaded.TileKeys())
	assert.Equal(t, []byte{1, 2, 3}, loaded.TileAt(TileKey{Y: 1}).Data.Cache)
	assert.Equal(t, 2, countExtLinks(loaded.TileAt(TileKey{}), 0))
	assert.False(t, loaded.NeedsRebuild())
}

func TestDeserializeOldStoreVersion(t *testing.T) {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, uint32(1))
	binary.Write(&buf, binary.LittleEndian, uint32(5))
	buf.Write([]byte{9, 9, 9, 9, 9})
	buf.Write([]byte("next"))

	mesh := newTestMesh(t)
	r := bytes.NewReader(buf.Bytes())
	err := mesh.Deserialize(r)
	var verr *VersionError
	require.ErrorAs(t, err, &verr)
	assert.EqualValues(t, 1, verr.Got)
	assert.True(t, mesh.NeedsRebuild())
	assert.Zero(t, mesh.TileCount())

	rest := make([]byte, 4)
	_, err = r.Read(rest)
	require.NoError(t, err)
	assert.Equal(t, []byte("next"), rest, "reader is left after the skipped payload")
}

func TestDeserializeDropsBadTile(t *testing.T) {
	good := gridTile(t, 0, 0, 1)
	old := gridTile(t, 1, 0, 1)
	binary.LittleEndian.PutUint32(old.Mesh[4:], DT_NAVMESH_VERSION-1)

	// Serialize does not look into the blobs, so build the store by hand.
	var payload bytes.Buffer
	binary.Write(&payload, binary.LittleEndian, uint32(2))
	for _, td := range []TileData{good, old} {
		binary.Write(&payload, binary.LittleEndian, uint32(len(td.Mesh)))
		payload.Write(td.Mesh)
		binary.Write(&payload, binary.LittleEndian, uint32(0))
	}
	var store bytes.Buffer
	binary.Write(&store, binary.LittleEndian, uint32(NAVMESH_STORE_VERSION))
	binary.Write(&store, binary.LittleEndian, uint32(payload.Len()))
	store.Write(payload.Bytes())

	mesh := newTestMesh(t)
	err := mesh.Deserialize(&store)
	assert.ErrorIs(t, err, ErrVersion)
	assert.Equal(t, []TileKey{{0, 0, 0}}, mesh.TileKeys())
	assert.True(t, mesh.NeedsRebuild())
	assert.Equal(t, []TileKey{{X: 1}}, mesh.ConsumeRebuildKeys())
	assert.False(t, mesh.NeedsRebuild())
}

func TestDeserializeTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newTestMesh(t, gridTile(t, 0, 0, 1)).Serialize(&buf))
	data := buf.Bytes()[:buf.Len()-3]
	err := newTestMesh(t).Deserialize(bytes.NewReader(data))
	assert.Error(t, err)
}

func TestBatchScopesNest(t *testing.T) {
	mesh := newTestMesh(t)
	mesh.BeginBatchQuery()
	mesh.BeginBatchQuery()
	assert.Equal(t, 2, mesh.ActiveBatchQueries())
	// Public accessors open their own scope inside ours.
	assert.Zero(t, mesh.TileCount())
	mesh.FinishBatchQuery()
	mesh.FinishBatchQuery()
	assert.Zero(t, mesh.ActiveBatchQueries())
	assert.Panics(t, mesh.FinishBatchQuery)
}

func TestAttachWaitsForBatch(t *testing.T) {
	mesh := newTestMesh(t)
	td := gridTile(t, 0, 0, 1)
	mesh.BeginBatchQuery()

	var wg sync.WaitGroup
	attached := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := mesh.Attach(td)
		assert.NoError(t, err)
		close(attached)
	}()

	select {
	case <-attached:
		t.Fatal("attach ran inside a batch query")
	case <-time.After(50 * time.Millisecond):
	}
	mesh.FinishBatchQuery()
	wg.Wait()
	assert.Equal(t, 1, mesh.TileCount())
}

func TestStaleRefErrorKinds(t *testing.T) {
	mesh := newTestMesh(t, gridTile(t, 0, 0, 1))
	_, err := mesh.TileByRef(EncodeTileRef(99, 0))
	assert.True(t, errors.Is(err, ErrStaleReference))
	_, err = mesh.TileByRef(EncodeTileRef(1, 5))
	assert.ErrorIs(t, err, ErrStaleReference)
}
