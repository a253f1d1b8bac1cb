package core

import (
	"log"
	"sync"
	"time"
)

const subscriberBuffer = 16

type ProgressUpdate struct {
	AttemptID  string    `json:"attempt_id"`
	JobID      string    `json:"job_id"`
	Progress   int       `json:"progress"`
	Completed  bool      `json:"completed"`
	Succeeded  bool      `json:"succeeded"`
	ReportedAt time.Time `json:"reported_at"`
}

// ProgressHub broadcasts print progress to every connected subscriber.
// Delivery is best-effort and at-most-once: a subscriber that cannot keep up
// is dropped on its first failed delivery, with no backlog or redelivery.
type ProgressHub struct {
	mu   sync.Mutex
	subs map[chan ProgressUpdate]struct{}
}

func NewProgressHub() *ProgressHub {
	return &ProgressHub{
		subs: make(map[chan ProgressUpdate]struct{}),
	}
}

// Subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed when the subscriber is removed,
// whether by unsubscribing or by a failed delivery.
func (h *ProgressHub) Subscribe() (<-chan ProgressUpdate, func()) {
	ch := make(chan ProgressUpdate, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
	return ch, unsubscribe
}

func (h *ProgressHub) Publish(update ProgressUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- update:
		default:
			delete(h.subs, ch)
			close(ch)
			log.Printf("[progress] dropped slow subscriber (attempt %s)", update.AttemptID)
		}
	}
}

func (h *ProgressHub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
