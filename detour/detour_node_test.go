package detour

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeQueueOrder(t *testing.T) {
	pool := NewDtNodePool(16)
	q := NewNodeQueue(func(a, b *DtNode) bool { return a.Total < b.Total })
	for i, total := range []float32{5, 1, 4, 2, 3} {
		n := pool.GetNode(DtPolyRef(i + 1))
		n.Total = total
		q.Offer(n)
	}
	n4 := pool.FindNode(3)
	n4.Total = 0.5
	q.Update(n4)

	var got []float32
	for !q.Empty() {
		got = append(got, q.Poll().Total)
	}
	assert.Equal(t, []float32{0.5, 1, 2, 3, 5}, got)
}

func TestNodePool(t *testing.T) {
	pool := NewDtNodePool(4)
	a := pool.GetNode(100)
	require.NotNil(t, a)
	assert.Same(t, a, pool.GetNode(100))
	assert.Same(t, a, pool.GetNodeAtIdx(pool.GetNodeIdx(a)))
	assert.Nil(t, pool.GetNodeAtIdx(0))

	for ref := DtPolyRef(1); ref <= 3; ref++ {
		require.NotNil(t, pool.GetNode(ref))
	}
	assert.Nil(t, pool.GetNode(99), "pool exhausted")
	assert.EqualValues(t, 4, pool.GetNodeCount())

	pool.Clear()
	assert.Nil(t, pool.FindNode(100))
	assert.Zero(t, pool.GetNodeCount())
}
