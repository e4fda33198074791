package job

import (
	"sync"

	"storyforge/internal/domain"
)

// subscriberBuffer bounds how far a slow subscriber may lag before
// intermediate events are dropped.
const subscriberBuffer = 16

// Bus fans progress events out from a single writer per job to any number of
// subscribers. It keeps no history beyond the latest event, which is replayed
// to late subscribers as a snapshot so they are not stuck at 0%.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	last    domain.ProgressEvent
	hasLast bool
	done    bool
	subs    map[*Subscription]struct{}
}

// Subscription is one subscriber's view of a job's event stream.
type Subscription struct {
	bus   *Bus
	jobID string
	ch    chan domain.ProgressEvent
	once  sync.Once
}

// Events returns the subscriber channel. It is closed after the terminal
// event has been delivered, or on Close.
func (s *Subscription) Events() <-chan domain.ProgressEvent {
	return s.ch
}

// Close detaches the subscription. Safe to call more than once; closing the
// last subscriber does not affect the job.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if t, ok := s.bus.topics[s.jobID]; ok {
			if _, live := t.subs[s]; live {
				delete(t.subs, s)
				close(s.ch)
			}
		}
	})
}

// NewBus constructs an empty progress bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string]*topic)}
}

// Subscribe attaches a new subscriber to jobID. The returned stream is primed
// with a snapshot of the latest known event when one exists; a subscription
// made after the terminal event receives that event and an immediately closed
// channel.
func (b *Bus) Subscribe(jobID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(jobID)
	sub := &Subscription{bus: b, jobID: jobID, ch: make(chan domain.ProgressEvent, subscriberBuffer)}
	if t.hasLast {
		sub.ch <- t.last
	}
	if t.done {
		close(sub.ch)
		return sub
	}
	t.subs[sub] = struct{}{}
	return sub
}

// Publish delivers ev to all current subscribers in writer order. Slow
// subscribers lose intermediate events rather than blocking the writer; a
// terminal event evicts the oldest buffered event to guarantee delivery,
// then closes every subscriber stream.
func (b *Bus) Publish(ev domain.ProgressEvent) {
	terminal := ev.Phase.Terminal()

	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(ev.JobID)
	if t.done {
		return
	}
	t.last = ev
	t.hasLast = true

	for sub := range t.subs {
		select {
		case sub.ch <- ev:
		default:
			if !terminal {
				continue
			}
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}

	if terminal {
		t.done = true
		for sub := range t.subs {
			delete(t.subs, sub)
			close(sub.ch)
		}
	}
}

// Drop forgets everything about jobID, detaching any remaining subscribers.
// Called when the registry evicts the record.
func (b *Bus) Drop(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[jobID]
	if !ok {
		return
	}
	for sub := range t.subs {
		delete(t.subs, sub)
		close(sub.ch)
	}
	delete(b.topics, jobID)
}

func (b *Bus) topic(jobID string) *topic {
	t, ok := b.topics[jobID]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		b.topics[jobID] = t
	}
	return t
}
