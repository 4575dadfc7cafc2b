package scheduler

import (
	"sync"
	"time"

	"github.com/frebindels/kucoin-data-collector/internal/entity"
)

// Queue holds pending work items. Fresh items go to the primary band,
// failed items wait in the retry band until their NextAttemptAt passes;
// eligible retries are dequeued before primary items.
type Queue struct {
	mu      sync.Mutex
	primary []*entity.WorkItem
	retry   []*entity.WorkItem
}

func NewQueue() *Queue {
	return &Queue{}
}

func (q *Queue) Enqueue(item *entity.WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item.State = entity.StatePending
	item.EnqueuedAt = time.Now()
	q.primary = append(q.primary, item)
}

func (q *Queue) Requeue(item *entity.WorkItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item.State = entity.StateFailed
	q.retry = append(q.retry, item)
}

// Dequeue returns the next runnable item or nil when nothing is eligible yet.
func (q *Queue) Dequeue(now time.Time) *entity.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.retry {
		if item.NextAttemptAt.After(now) {
			continue
		}
		q.retry = append(q.retry[:i], q.retry[i+1:]...)
		item.State = entity.StateInFlight

		return item
	}

	if len(q.primary) == 0 {
		return nil
	}

	item := q.primary[0]
	q.primary = q.primary[1:]
	item.State = entity.StateInFlight

	return item
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.primary) + len(q.retry)
}
