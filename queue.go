package peerlink

// queue is the ordered history of every application message sent through a
// channel. It only grows; each new connection is sent the whole history.
type queue struct {
	msgs [][]byte
}

func (q *queue) push(msg []byte) {
	q.msgs = append(q.msgs, msg)
}

// Snapshot returns the current history. Messages are never mutated after
// push, so the returned slice may be read without holding the channel lock.
func (q *queue) Snapshot() [][]byte {
	out := make([][]byte, len(q.msgs))
	copy(out, q.msgs)
	return out
}

func (q *queue) Len() int {
	return len(q.msgs)
}
