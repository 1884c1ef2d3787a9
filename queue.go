package boxpool

// workQueue is the in-memory pending-work queue: strict FIFO by insertion
// sequence. Queued work does not survive shutdown.
type workQueue struct {
	items []*Call
	seq   uint64
}

func (q *workQueue) push(c *Call) {
	q.seq++
	c.seq = q.seq
	q.items = append(q.items, c)
}

func (q *workQueue) pop() *Call {
	if len(q.items) == 0 {
		return nil
	}
	c := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return c
}

func (q *workQueue) len() int { return len(q.items) }

func (q *workQueue) drain() []*Call {
	out := q.items
	q.items = nil
	return out
}
