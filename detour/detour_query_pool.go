package detour

import (
	"sync"
	"sync/atomic"

	"github.com/gorustyt/navtile/common"
)

// QueryPool hands out query objects bound to one mesh. A query is not safe for
// concurrent use, so each goroutine takes its own and puts it back when done.
type QueryPool struct {
	nav      *DtNavMesh
	maxNodes atomic.Uint32
	pool     sync.Pool
}

func NewQueryPool(nav *DtNavMesh, maxNodes int) *QueryPool {
	p := &QueryPool{nav: nav}
	p.SetMaxNodes(maxNodes)
	p.pool.New = func() any { return NewDtNavMeshQuery(p.nav, int(p.maxNodes.Load())) }
	return p
}

// SetMaxNodes changes the node pool size of the queries handed out from now
// on. Queries of the old size are dropped as they come back.
func (p *QueryPool) SetMaxNodes(maxNodes int) {
	p.maxNodes.Store(uint32(common.Clamp(maxNodes, 1, DT_MAX_NODE_POOL)))
}

func (p *QueryPool) MaxNodes() int { return int(p.maxNodes.Load()) }

func (p *QueryPool) Get() *DtNavMeshQuery {
	q := p.pool.Get().(*DtNavMeshQuery)
	if q.m_nodePool.GetMaxNodes() != p.maxNodes.Load() {
		return NewDtNavMeshQuery(p.nav, p.MaxNodes())
	}
	return q
}

func (p *QueryPool) Put(q *DtNavMeshQuery) {
	if q.m_nodePool.GetMaxNodes() != p.maxNodes.Load() {
		return
	}
	p.pool.Put(q)
}

// Do runs fn with a pooled query.
func (p *QueryPool) Do(fn func(q *DtNavMeshQuery)) {
	q := p.Get()
	defer p.Put(q)
	fn(q)
}
