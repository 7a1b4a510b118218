package queue

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrQueueClosed = errors.New("queue is closed")
)

type item[T any] struct {
	value    T
	priority int
}

// Queue is an in-memory priority queue. Higher priorities pop first;
// items of equal priority pop in insertion order.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []item[T]
	closed bool
}

func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

func (q *Queue[T]) Push(value T, priority int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	// insert after every item with priority >= the new one
	i := sort.Search(len(q.items), func(i int) bool {
		return q.items[i].priority < priority
	})
	q.items = append(q.items, item[T]{})
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = item[T]{value: value, priority: priority}

	return nil
}

// Pop removes the head of the queue. It never blocks.
func (q *Queue[T]) Pop() (T, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		if q.closed {
			return zero, ErrQueueClosed
		}
		return zero, ErrQueueEmpty
	}

	head := q.items[0]
	q.items[0] = item[T]{}
	q.items = q.items[1:]
	return head.value, nil
}

func (q *Queue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further pushes. Queued items can still be popped.
func (q *Queue[T]) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	return nil
}

// BatchQueue pops up to batchSize items at a time.
type BatchQueue[T any] struct {
	queue     *Queue[T]
	batchSize int
}

func NewBatchQueue[T any](q *Queue[T], batchSize int) *BatchQueue[T] {
	if batchSize < 1 {
		batchSize = 1
	}
	return &BatchQueue[T]{
		queue:     q,
		batchSize: batchSize,
	}
}

func (b *BatchQueue[T]) PushBatch(values []T, priority int) error {
	for _, v := range values {
		if err := b.queue.Push(v, priority); err != nil {
			return err
		}
	}
	return nil
}

// PopBatch returns ErrQueueEmpty (or ErrQueueClosed) when nothing is left.
func (b *BatchQueue[T]) PopBatch() ([]T, error) {
	var out []T

	for i := 0; i < b.batchSize; i++ {
		v, err := b.queue.Pop()
		if err != nil {
			if len(out) == 0 {
				return nil, err
			}
			break
		}
		out = append(out, v)
	}

	return out, nil
}

func (b *BatchQueue[T]) Size() int {
	return b.queue.Size()
}
