package detour_path

import (
	"github.com/google/uuid"
	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/detour"
)

type indexItem struct {
	key  detour.TileKey
	id   uuid.UUID
	next int32
}

// tileIndex maps tile keys to the paths crossing them. Items live in a pool
// chained per hash bucket; removed items go to a free list.
type tileIndex struct {
	buckets []int32
	pool    []indexItem
	free    int32
	size    int
}

const nullItem = -1

func hashPos2(x, y int32, layer uint8, n int) int {
	return int((x*73856093)^(y*19349663)^(int32(layer)*83492791)) & (n - 1)
}

func newTileIndex(capacity int) *tileIndex {
	n := int(common.NextPow2(uint32(max(capacity, 16))))
	idx := &tileIndex{buckets: make([]int32, n), free: nullItem}
	for i := range idx.buckets {
		idx.buckets[i] = nullItem
	}
	return idx
}

func (t *tileIndex) bucket(k detour.TileKey) *int32 {
	return &t.buckets[hashPos2(k.X, k.Y, k.Layer, len(t.buckets))]
}

func (t *tileIndex) add(id uuid.UUID, keys []detour.TileKey) {
	for _, k := range keys {
		var i int32
		if t.free != nullItem {
			i = t.free
			t.free = t.pool[i].next
		} else {
			t.pool = append(t.pool, indexItem{})
			i = int32(len(t.pool) - 1)
		}
		head := t.bucket(k)
		t.pool[i] = indexItem{key: k, id: id, next: *head}
		*head = i
		t.size++
	}
}

func (t *tileIndex) remove(id uuid.UUID, keys []detour.TileKey) {
	for _, k := range keys {
		link := t.bucket(k)
		for *link != nullItem {
			i := *link
			it := &t.pool[i]
			if it.key == k && it.id == id {
				*link = it.next
				*it = indexItem{next: t.free}
				t.free = i
				t.size--
				break
			}
			link = &it.next
		}
	}
}

// query appends the ids indexed under k to ids, skipping duplicates.
func (t *tileIndex) query(k detour.TileKey, ids []uuid.UUID) []uuid.UUID {
	for i := *t.bucket(k); i != nullItem; i = t.pool[i].next {
		it := &t.pool[i]
		if it.key != k {
			continue
		}
		dup := false
		for _, id := range ids {
			if id == it.id {
				dup = true
				break
			}
		}
		if !dup {
			ids = append(ids, it.id)
		}
	}
	return ids
}

func (t *tileIndex) countAt(k detour.TileKey) int {
	n := 0
	for i := *t.bucket(k); i != nullItem; i = t.pool[i].next {
		if t.pool[i].key == k {
			n++
		}
	}
	return n
}
