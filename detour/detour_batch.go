package detour

import "sync"

// batchGate lets any number of query batches run together and gives tile
// mutation exclusive access. Readers only wait for a mutation that is already
// running, so a batch may be opened while another one is active on the same
// goroutine.
type batchGate struct {
	mu      sync.Mutex
	cond    sync.Cond
	readers int
	writing bool
}

func newBatchGate() *batchGate {
	g := &batchGate{}
	g.cond.L = &g.mu
	return g
}

func (g *batchGate) beginRead() {
	g.mu.Lock()
	for g.writing {
		g.cond.Wait()
	}
	g.readers++
	g.mu.Unlock()
}

func (g *batchGate) endRead() {
	g.mu.Lock()
	g.readers--
	if g.readers < 0 {
		g.mu.Unlock()
		panic("detour: FinishBatchQuery without BeginBatchQuery")
	}
	if g.readers == 0 {
		g.cond.Broadcast()
	}
	g.mu.Unlock()
}

func (g *batchGate) beginWrite() {
	g.mu.Lock()
	for g.writing || g.readers > 0 {
		g.cond.Wait()
	}
	g.writing = true
	g.mu.Unlock()
}

func (g *batchGate) endWrite() {
	g.mu.Lock()
	g.writing = false
	g.cond.Broadcast()
	g.mu.Unlock()
}

func (g *batchGate) activeReaders() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.readers
}
