// Package events implements the orchestrator's two fan-out streams: job
// wake-ups for workers, and record/pipeline change notifications for the UI.
// Sending is best-effort and the hub never buffers for a disconnected
// subscriber — the stream is a latency hint, not a delivery guarantee.
package events

import (
	"encoding/json"
	"sync"
)

// JobEvent is published to worker subscribers whenever a job is enqueued.
type JobEvent struct {
	Kind string `json:"kind"`
}

// UIEvent is published to UI subscribers for record and pipeline changes.
type UIEvent struct {
	ID     int64  `json:"id,omitempty"`
	Action string `json:"action"`
	Kind   string `json:"kind,omitempty"`
	Status string `json:"status,omitempty"`
}

// Frame is a ready-to-write SSE event: name plus pre-marshaled JSON payload.
type Frame struct {
	Event string
	Data  []byte
}

func jobFrame(ev JobEvent) Frame {
	b, _ := json.Marshal(ev)
	return Frame{Event: "job", Data: b}
}

func recordFrame(ev UIEvent) Frame {
	b, _ := json.Marshal(ev)
	return Frame{Event: "record", Data: b}
}

type workerSub struct {
	ch    chan Frame
	kinds map[string]bool
	done  chan struct{}
}

// Hub owns the worker and UI subscriber registries.
type Hub struct {
	mu      sync.Mutex
	workers map[string]*workerSub
	ui      map[int64]chan Frame
	nextUI  int64
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		workers: make(map[string]*workerSub),
		ui:      make(map[int64]chan Frame),
	}
}

// SubscribeWorker registers workerID for job events of the given kinds. A
// reconnect with the same workerID supersedes and closes the previous
// subscription's channel. The caller's done channel is signaled if this
// subscription is later superseded or evicted.
func (h *Hub) SubscribeWorker(workerID string, kinds []string) (ch <-chan Frame, done <-chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.workers[workerID]; ok {
		close(prev.done)
		close(prev.ch)
	}

	kindSet := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}

	sub := &workerSub{
		ch:    make(chan Frame, 16),
		kinds: kindSet,
		done:  make(chan struct{}),
	}
	h.workers[workerID] = sub
	return sub.ch, sub.done
}

// UnsubscribeWorker removes workerID's subscription if it is still the
// current one (a later reconnect already replaced it, nothing to do).
func (h *Hub) UnsubscribeWorker(workerID string, ch <-chan Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.workers[workerID]; ok && (chan Frame)(sub.ch) == ch {
		delete(h.workers, workerID)
	}
}

// PublishJob fans a job-enqueued wake-up out to every worker subscriber that
// declared it handles kind. Failed (full) sends drop the subscriber.
func (h *Hub) PublishJob(kind string) {
	frame := jobFrame(JobEvent{Kind: kind})

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, sub := range h.workers {
		if len(sub.kinds) > 0 && !sub.kinds[kind] {
			continue
		}
		select {
		case sub.ch <- frame:
		default:
			close(sub.done)
			close(sub.ch)
			delete(h.workers, id)
		}
	}
}

// SubscribeUI registers a new UI subscriber and returns its frame channel
// plus an id used to unsubscribe.
func (h *Hub) SubscribeUI() (id int64, ch <-chan Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextUI++
	id = h.nextUI
	c := make(chan Frame, 32)
	h.ui[id] = c
	return id, c
}

// UnsubscribeUI removes a UI subscriber.
func (h *Hub) UnsubscribeUI(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.ui[id]; ok {
		delete(h.ui, id)
		close(c)
	}
}

// PublishRecord fans a record or pipeline change out to every UI subscriber.
func (h *Hub) PublishRecord(ev UIEvent) {
	frame := recordFrame(ev)

	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.ui {
		select {
		case ch <- frame:
		default:
			delete(h.ui, id)
			close(ch)
		}
	}
}

// WorkerCount returns the number of currently subscribed workers, for
// diagnostics.
func (h *Hub) WorkerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.workers)
}
