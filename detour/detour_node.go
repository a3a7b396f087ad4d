package detour

import (
	"container/heap"

	"github.com/gorustyt/navtile/common"
)

const (
	DT_NODE_OPEN   = 0x01
	DT_NODE_CLOSED = 0x02
)

// DT_MAX_NODE_POOL bounds the node pool, and with it any filter's search budget.
const DT_MAX_NODE_POOL = 1<<16 - 1

type DtNodeIndex uint32

const DT_NULL_IDX = ^DtNodeIndex(0)

type DtNode struct {
	Pos     common.Vec3 ///< Position of the node.
	Cost    float32     ///< Cost from previous node to current node.
	Total   float32     ///< Cost up to the node.
	Pidx    uint32      ///< Parent node index + 1, 0 for none.
	Flags   uint32      ///< Node flags. A combination of DT_NODE_OPEN, DT_NODE_CLOSED.
	Id      DtPolyRef   ///< Polygon ref the node corresponds to.
	poolIdx uint32
	_index  int // position in the open list heap
}

func (node *DtNode) SetIndex(index int) { node._index = index }
func (node *DtNode) GetIndex() int      { return node._index }

type NodeQueueIndex interface {
	SetIndex(index int)
	GetIndex() int
}

type NodeQueue[T NodeQueueIndex] interface {
	Peek() T  //查看堆顶，不会移除元素
	Poll() T  //从堆顶弹出一个元素
	Update(T) //更新元素
	Remove(T) //移除一个元素
	Offer(T)  //插入一个元素
	Reset()
	Empty() bool
	Len() int
}

// 优先级队列
type nodeQueue[T NodeQueueIndex] struct {
	data []T
	less func(t1, t2 T) bool
}

func NewNodeQueue[T NodeQueueIndex](less func(t1, t2 T) bool) NodeQueue[T] {
	q := &nodeQueue[T]{less: less}
	heap.Init(q)
	return q
}

func (q *nodeQueue[T]) Reset() {
	clear(q.data)
	q.data = q.data[:0]
}

func (q *nodeQueue[T]) Peek() T            { return q.data[0] }
func (q *nodeQueue[T]) Poll() T            { return heap.Pop(q).(T) }
func (q *nodeQueue[T]) Update(value T)     { heap.Fix(q, value.GetIndex()) }
func (q *nodeQueue[T]) Remove(value T)     { heap.Remove(q, value.GetIndex()) }
func (q *nodeQueue[T]) Offer(value T)      { heap.Push(q, value) }
func (q *nodeQueue[T]) Empty() bool        { return len(q.data) == 0 }
func (q *nodeQueue[T]) Len() int           { return len(q.data) }
func (q *nodeQueue[T]) Less(i, j int) bool { return q.less(q.data[i], q.data[j]) }

func (q *nodeQueue[T]) Push(x any) {
	v := x.(T)
	v.SetIndex(len(q.data))
	q.data = append(q.data, v)
}

func (q *nodeQueue[T]) Pop() any {
	n := len(q.data) - 1
	res := q.data[n]
	var zero T
	q.data[n] = zero
	q.data = q.data[:n]
	res.SetIndex(-1)
	return res
}

func (q *nodeQueue[T]) Swap(i, j int) {
	q.data[i], q.data[j] = q.data[j], q.data[i]
	q.data[i].SetIndex(i)
	q.data[j].SetIndex(j)
}

func dtHashRef(a DtPolyRef) uint32 {
	a += ^(a << 31)
	a ^= a >> 20
	a += a << 6
	a ^= a >> 12
	a += ^(a << 22)
	a ^= a >> 32
	return uint32(a)
}

// DtNodePool hands out search nodes keyed by poly ref. Nodes live until Clear.
type DtNodePool struct {
	m_nodes     []DtNode
	m_first     []DtNodeIndex
	m_next      []DtNodeIndex
	m_maxNodes  uint32
	m_hashSize  uint32
	m_nodeCount uint32
}

func NewDtNodePool(maxNodes uint32) *DtNodePool {
	maxNodes = common.Clamp(maxNodes, 1, DT_MAX_NODE_POOL)
	hashSize := common.NextPow2(max(maxNodes/4, 1))
	p := &DtNodePool{
		m_maxNodes: maxNodes,
		m_hashSize: hashSize,
		m_nodes:    make([]DtNode, maxNodes),
		m_next:     make([]DtNodeIndex, maxNodes),
		m_first:    make([]DtNodeIndex, hashSize),
	}
	p.Clear()
	return p
}

func (p *DtNodePool) Clear() {
	for i := range p.m_first {
		p.m_first[i] = DT_NULL_IDX
	}
	p.m_nodeCount = 0
}

// GetNodeIdx returns the 1-based index used for parent links, 0 for nil.
func (p *DtNodePool) GetNodeIdx(node *DtNode) uint32 {
	if node == nil {
		return 0
	}
	return node.poolIdx + 1
}

func (p *DtNodePool) GetNodeAtIdx(idx uint32) *DtNode {
	if idx == 0 || idx > p.m_nodeCount {
		return nil
	}
	return &p.m_nodes[idx-1]
}

func (p *DtNodePool) GetMaxNodes() uint32  { return p.m_maxNodes }
func (p *DtNodePool) GetNodeCount() uint32 { return p.m_nodeCount }

// GetNode finds or allocates the node of id; nil when the pool is exhausted.
func (p *DtNodePool) GetNode(id DtPolyRef) *DtNode {
	if node := p.FindNode(id); node != nil {
		return node
	}
	if p.m_nodeCount >= p.m_maxNodes {
		return nil
	}
	i := DtNodeIndex(p.m_nodeCount)
	p.m_nodeCount++

	node := &p.m_nodes[i]
	*node = DtNode{Id: id, poolIdx: uint32(i), _index: -1}

	bucket := dtHashRef(id) & (p.m_hashSize - 1)
	p.m_next[i] = p.m_first[bucket]
	p.m_first[bucket] = i
	return node
}

func (p *DtNodePool) FindNode(id DtPolyRef) *DtNode {
	bucket := dtHashRef(id) & (p.m_hashSize - 1)
	for i := p.m_first[bucket]; i != DT_NULL_IDX; i = p.m_next[i] {
		if p.m_nodes[i].Id == id {
			return &p.m_nodes[i]
		}
	}
	return nil
}
