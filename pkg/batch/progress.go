package batch

import (
	"sync"
)

// ProgressEvent is one progress notification for a running job. Events are
// delivered at-least-once per item completion; consumers must tolerate
// duplicates.
type ProgressEvent struct {
	JobID     string      `json:"job_id"`
	Status    Status      `json:"status"`
	Processed int         `json:"processed"`
	Total     int         `json:"total"`
	LastItem  *ItemResult `json:"last_item,omitempty"`
}

// subscriber is one event consumer. done unblocks a publisher stuck on a
// slow consumer when the subscription is cancelled.
type subscriber struct {
	ch   chan ProgressEvent
	done chan struct{}
}

// broadcaster fans progress events out to per-job subscribers.
type broadcaster struct {
	mu       sync.Mutex
	subs     map[string]map[int]*subscriber
	finished map[string]struct{}
	nextID   int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{
		subs:     make(map[string]map[int]*subscriber),
		finished: make(map[string]struct{}),
	}
}

// subscribe registers a consumer for a job's events. The returned cancel
// function detaches the consumer; the channel is closed when the job
// finishes. Subscribing to an already finished job yields a closed channel.
func (b *broadcaster) subscribe(jobID string) (<-chan ProgressEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		ch:   make(chan ProgressEvent, 16),
		done: make(chan struct{}),
	}

	if _, done := b.finished[jobID]; done {
		close(sub.ch)
		return sub.ch, func() {}
	}

	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int]*subscriber)
	}
	id := b.nextID
	b.nextID++
	b.subs[jobID][id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(sub.done)
			b.mu.Lock()
			delete(b.subs[jobID], id)
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// publish delivers an event to every subscriber of the job. Delivery blocks
// on a full consumer buffer until the consumer either drains it or cancels.
func (b *broadcaster) publish(ev ProgressEvent) {
	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subs[ev.JobID]))
	for _, sub := range b.subs[ev.JobID] {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		case <-sub.done:
		}
	}
}

// finish marks a job's stream complete and closes all its subscriber
// channels.
func (b *broadcaster) finish(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.finished[jobID] = struct{}{}
	for _, sub := range b.subs[jobID] {
		close(sub.ch)
	}
	delete(b.subs, jobID)
}
