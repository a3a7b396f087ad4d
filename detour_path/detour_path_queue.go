package detour_path

import (
	"weak"

	"github.com/google/uuid"
	"gopkg.in/eapache/queue.v1"
)

type repathRequest struct {
	id   uuid.UUID
	path weak.Pointer[NavPath]
}

// repathQueue is a FIFO of paths waiting to be recomputed. A path is queued
// at most once until it is popped.
type repathQueue struct {
	q      *queue.Queue
	queued map[uuid.UUID]struct{}
}

func newRepathQueue() *repathQueue {
	return &repathQueue{q: queue.New(), queued: make(map[uuid.UUID]struct{})}
}

func (r *repathQueue) push(p *NavPath) bool {
	if _, ok := r.queued[p.ID]; ok {
		return false
	}
	r.queued[p.ID] = struct{}{}
	r.q.Add(repathRequest{id: p.ID, path: weak.Make(p)})
	return true
}

func (r *repathQueue) pop() (repathRequest, bool) {
	if r.q.Length() == 0 {
		return repathRequest{}, false
	}
	req := r.q.Remove().(repathRequest)
	delete(r.queued, req.id)
	return req, true
}

func (r *repathQueue) contains(id uuid.UUID) bool {
	_, ok := r.queued[id]
	return ok
}

func (r *repathQueue) len() int { return r.q.Length() }
