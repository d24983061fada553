package queue

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Producer and Consumer with SQS-like visibility rules.
type MemoryQueue struct {
	mu         sync.Mutex
	now        func() time.Time
	visibility time.Duration
	wait       time.Duration
	seq        int
	messages   map[string]*memoryMessage
	notify     chan struct{}
}

type memoryMessage struct {
	id        string
	seq       int
	body      []byte
	visibleAt time.Time
	receives  int
	receipt   string
}

// MemoryOption customizes a MemoryQueue.
type MemoryOption func(*MemoryQueue)

// WithClock sets the queue's time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(q *MemoryQueue) { q.now = now }
}

// WithVisibility sets how long a received message stays hidden.
func WithVisibility(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) { q.visibility = d }
}

// WithWait sets how long Receive blocks when nothing is visible.
func WithWait(d time.Duration) MemoryOption {
	return func(q *MemoryQueue) { q.wait = d }
}

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue(opts ...MemoryOption) *MemoryQueue {
	q := &MemoryQueue{
		now:        time.Now,
		visibility: 30 * time.Second,
		wait:       time.Second,
		messages:   make(map[string]*memoryMessage),
		notify:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue stores a job, hidden for delay.
func (q *MemoryQueue) Enqueue(ctx context.Context, job Job, delay time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := EncodeJob(job)
	if err != nil {
		return err
	}
	q.put(payload, delay)
	return nil
}

// EnqueueRaw stores an arbitrary body, for exercising undecodable deliveries.
func (q *MemoryQueue) EnqueueRaw(body []byte) {
	q.put(append([]byte(nil), body...), 0)
}

func (q *MemoryQueue) put(body []byte, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	id := "mem-" + strconv.Itoa(q.seq)
	q.messages[id] = &memoryMessage{
		id:        id,
		seq:       q.seq,
		body:      body,
		visibleAt: q.now().Add(delay),
	}
	close(q.notify)
	q.notify = make(chan struct{})
}

// Receive returns up to max visible messages, waiting up to the configured wait
// for one to arrive.
func (q *MemoryQueue) Receive(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = maxSQSBatch
	}
	deadline := time.NewTimer(q.wait)
	defer deadline.Stop()
	for {
		out, notify := q.take(max)
		if len(out) > 0 || q.wait <= 0 {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-notify:
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *MemoryQueue) take(max int) ([]Delivery, <-chan struct{}) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	visible := make([]*memoryMessage, 0, len(q.messages))
	for _, m := range q.messages {
		if !m.visibleAt.After(now) {
			visible = append(visible, m)
		}
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].seq < visible[j].seq })
	if len(visible) > max {
		visible = visible[:max]
	}
	out := make([]Delivery, 0, len(visible))
	for _, m := range visible {
		m.receives++
		m.receipt = uuid.NewString()
		m.visibleAt = now.Add(q.visibility)
		out = append(out, Delivery{
			ID:           m.id,
			Body:         append([]byte(nil), m.body...),
			ReceiveCount: m.receives,
			Receipt:      m.receipt,
		})
	}
	return out, q.notify
}

// Ack deletes a delivery. Acks carrying a superseded receipt are ignored.
func (q *MemoryQueue) Ack(_ context.Context, d Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if m, ok := q.messages[d.ID]; ok && m.receipt == d.Receipt {
		delete(q.messages, d.ID)
	}
	return nil
}

// Len reports how many messages remain, visible or not.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Jobs decodes every stored message in enqueue order. Undecodable bodies are skipped.
func (q *MemoryQueue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	ordered := make([]*memoryMessage, 0, len(q.messages))
	for _, m := range q.messages {
		ordered = append(ordered, m)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })
	out := make([]Job, 0, len(ordered))
	for _, m := range ordered {
		if job, err := DecodeJob(m.body); err == nil {
			out = append(out, job)
		}
	}
	return out
}

var (
	_ Producer = (*MemoryQueue)(nil)
	_ Consumer = (*MemoryQueue)(nil)
)
