package progress

import (
	"sync"

	"github.com/seriesvault/seriesvault/internal/domain"
)

// subscriber buffer size. Publish never blocks: when a subscriber falls
// this far behind, its oldest pending snapshot is dropped.
const subscriberBuffer = 16

// Reporter holds the current progress snapshot of the active job and fans
// published updates out to any number of subscribers. Snapshots are
// replaced wholesale, so Latest never returns a torn read.
type Reporter struct {
	mu     sync.RWMutex
	latest domain.ProgressSnapshot
	subs   map[int]chan domain.ProgressSnapshot
	nextID int
}

func NewReporter() *Reporter {
	return &Reporter{
		subs: make(map[int]chan domain.ProgressSnapshot),
	}
}

// Publish atomically replaces the current snapshot and forwards it to all
// subscribers. A slow subscriber loses its oldest pending snapshot instead
// of back-pressuring the publisher.
func (r *Reporter) Publish(s domain.ProgressSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.latest = s
	for _, ch := range r.subs {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

// Latest returns the most recently published snapshot, or the zero idle
// snapshot if no job has ever run.
func (r *Reporter) Latest() domain.ProgressSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Subscribe registers a new listener. The returned channel receives every
// snapshot published after the call, starting with the current one so a
// late subscriber immediately knows where the job stands. The cancel
// function must be called to release the subscription.
func (r *Reporter) Subscribe() (<-chan domain.ProgressSnapshot, func()) {
	r.mu.Lock()
	ch := make(chan domain.ProgressSnapshot, subscriberBuffer)
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	ch <- r.latest
	r.mu.Unlock()

	cancel := func() {
		r.mu.Lock()
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub)
		}
		r.mu.Unlock()
	}
	return ch, cancel
}
