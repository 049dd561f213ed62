package session

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nestream/nestream/internal/nestlog"
)

// RequestKind orders the priority of queued session requests: a
// termination must always be serviced ahead of a launch, so a
// disconnect can't be starved behind a backlog of launch attempts.
type RequestKind int

const (
	RequestTerminate RequestKind = iota // priority 0 (highest)
	RequestLaunch                       // priority 1
)

func (k RequestKind) String() string {
	switch k {
	case RequestTerminate:
		return "terminate"
	case RequestLaunch:
		return "launch"
	default:
		return "unknown"
	}
}

// request is one queued state-transition attempt.
type request struct {
	kind      RequestKind
	timestamp time.Time
	execute   func() error
	response  chan error
	index     int
}

// requestHeap is a priority queue ordered by kind, then FIFO within a kind.
type requestHeap []*request

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	if h[i].kind != h[j].kind {
		return h[i].kind < h[j].kind
	}
	return h[i].timestamp.Before(h[j].timestamp)
}

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *requestHeap) Push(x any) {
	r := x.(*request)
	r.index = len(*h)
	*h = append(*h, r)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.index = -1
	*h = old[:n-1]
	return r
}

// RequestQueue serializes state-transition requests against the single
// Manager so that a flood of concurrent /launch calls never races each
// other, while a termination always jumps the line.
type RequestQueue struct {
	logger *nestlog.Logger

	mu   sync.Mutex
	heap requestHeap

	wake chan struct{}
}

// NewRequestQueue builds an empty RequestQueue.
func NewRequestQueue(logger *nestlog.Logger) *RequestQueue {
	if logger == nil {
		logger = nestlog.Default()
	}
	q := &RequestQueue{logger: logger, wake: make(chan struct{}, 1)}
	heap.Init(&q.heap)
	return q
}

// Run drains the queue, executing one request at a time, until ctx is
// canceled.
func (q *RequestQueue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.drain()
			return
		case <-q.wake:
			q.processAll(ctx)
		}
	}
}

func (q *RequestQueue) processAll(ctx context.Context) {
	for {
		q.mu.Lock()
		if q.heap.Len() == 0 {
			q.mu.Unlock()
			return
		}
		r := heap.Pop(&q.heap).(*request)
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			r.response <- context.Canceled
			close(r.response)
			return
		default:
		}

		err := r.execute()
		q.logger.DebugSession("request executed", "kind", r.kind.String(), "success", err == nil)
		r.response <- err
		close(r.response)
	}
}

func (q *RequestQueue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.heap.Len() > 0 {
		r := heap.Pop(&q.heap).(*request)
		r.response <- context.Canceled
		close(r.response)
	}
}

// Submit enqueues execute under the given kind and blocks until it has
// run (or ctx is canceled).
func (q *RequestQueue) Submit(ctx context.Context, kind RequestKind, execute func() error) error {
	r := &request{kind: kind, timestamp: time.Now(), execute: execute, response: make(chan error, 1)}

	q.mu.Lock()
	heap.Push(&q.heap, r)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case err := <-r.response:
		return err
	case <-ctx.Done():
		return errors.New("session: request canceled while queued")
	}
}
