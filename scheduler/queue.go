package scheduler

import "github.com/google/btree"

const queueDegree = 16

type queueItem struct {
	priority Priority
	seq      uint64
	req      *Request
}

// lessItem orders higher priorities first and, within a priority, earlier insertions first.
func lessItem(a, b queueItem) bool {
	if a.priority != b.priority {
		return a.priority > b.priority
	}
	return a.seq < b.seq
}

// pendingQueue is the ordered set of requests waiting for a slot.
// Each insertion takes a fresh sequence number, so a re-queued request goes to
// the back of its priority group.
type pendingQueue struct {
	tree  *btree.BTreeG[queueItem]
	index map[*Request]queueItem
	seq   uint64
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{
		tree:  btree.NewG(queueDegree, lessItem),
		index: make(map[*Request]queueItem),
	}
}

func (q *pendingQueue) Len() int {
	return q.tree.Len()
}

func (q *pendingQueue) Push(r *Request) {
	q.seq++
	item := queueItem{priority: r.Priority(), seq: q.seq, req: r}
	q.tree.ReplaceOrInsert(item)
	q.index[r] = item
}

// Pop removes the head of the queue.
func (q *pendingQueue) Pop() (*Request, bool) {
	item, ok := q.tree.DeleteMin()
	if !ok {
		return nil, false
	}
	delete(q.index, item.req)
	return item.req, true
}

func (q *pendingQueue) Remove(r *Request) bool {
	item, ok := q.index[r]
	if !ok {
		return false
	}
	q.tree.Delete(item)
	delete(q.index, r)
	return true
}

func (q *pendingQueue) Contains(r *Request) bool {
	_, ok := q.index[r]
	return ok
}

// Requests lists the queue in dispatch order.
func (q *pendingQueue) Requests() []*Request {
	out := make([]*Request, 0, q.tree.Len())
	q.tree.Ascend(func(item queueItem) bool {
		out = append(out, item.req)
		return true
	})
	return out
}
