package notify

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var (
	ErrQueueFull   = errors.New("notification queue full")
	ErrQueueClosed = errors.New("notification queue closed")
)

const deliveryTimeout = 5 * time.Second

// Queue hands notifications to a downstream Dispatcher on background
// workers. Notify never blocks; when the buffer is full the notification is
// dropped and ErrQueueFull returned.
type Queue struct {
	next Dispatcher
	ch   chan Notification

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewQueue(next Dispatcher, size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{next: next, ch: make(chan Notification, size)}
}

// Start launches workers that drain the queue until Close.
func (q *Queue) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.run()
	}
}

func (q *Queue) Notify(_ context.Context, n Notification) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- n:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting notifications and waits for queued ones to be
// handed downstream.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) run() {
	defer q.wg.Done()
	for n := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		if err := q.next.Notify(ctx, n); err != nil {
			log.Printf("[notify] delivery failed id=%s event=%s channel=%s party=%s: %v", n.ID, n.Event, n.Channel, n.PartyID, err)
		}
		cancel()
	}
}
