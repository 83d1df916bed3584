package core

import "context"

// JobQueue is one strictly ordered queue of entries for a single job
// kind. Entries come out in insertion order; a requeue goes to the tail.
// Priority scheduling would slot in as an alternative implementation.
type JobQueue interface {
	Enqueue(entry QueueEntry) error
	Dequeue(ctx context.Context) (QueueEntry, error)
	Len() int
}

type chanJobQueue struct {
	ch chan QueueEntry
}

// NewJobQueue builds a FIFO queue holding up to capacity entries.
func NewJobQueue(capacity int) JobQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &chanJobQueue{ch: make(chan QueueEntry, capacity)}
}

// Enqueue appends at the tail. It never blocks: a full queue returns
// ErrQueueFull so submission can push back on the caller.
func (q *chanJobQueue) Enqueue(entry QueueEntry) error {
	select {
	case q.ch <- entry:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until an entry is available or ctx is done.
func (q *chanJobQueue) Dequeue(ctx context.Context) (QueueEntry, error) {
	select {
	case entry := <-q.ch:
		return entry, nil
	case <-ctx.Done():
		return QueueEntry{}, ctx.Err()
	}
}

func (q *chanJobQueue) Len() int {
	return len(q.ch)
}

// QueueSet holds one queue per job kind.
type QueueSet struct {
	queues map[JobKind]JobQueue
}

func NewQueueSet(capacity int) *QueueSet {
	queues := make(map[JobKind]JobQueue, len(Kinds()))
	for _, kind := range Kinds() {
		queues[kind] = NewJobQueue(capacity)
	}
	return &QueueSet{queues: queues}
}

// For returns the queue serving the given kind.
func (s *QueueSet) For(kind JobKind) JobQueue {
	return s.queues[kind]
}
