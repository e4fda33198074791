package job

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"storyforge/internal/domain"
)

// ErrJobTerminal is returned when a mutation targets a record that already
// reached a terminal state.
var ErrJobTerminal = errors.New("job is in a terminal state")

// Registry holds job records by id with single-writer/multi-reader
// semantics. Terminal records are retained for the configured TTL, then
// evicted by the janitor.
type Registry struct {
	mu      sync.RWMutex
	jobs    map[string]*domain.JobRecord
	ttl     time.Duration
	onEvict func(jobID string)

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRegistry constructs a registry. onEvict, when non-nil, runs for every
// evicted job id (used to drop the matching bus topic); ttl <= 0 falls back
// to one hour.
func NewRegistry(ttl time.Duration, onEvict func(jobID string)) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Registry{
		jobs:    make(map[string]*domain.JobRecord),
		ttl:     ttl,
		onEvict: onEvict,
		stop:    make(chan struct{}),
	}
}

// Create registers a new queued record for the request and returns a
// snapshot of it. Ids are opaque and unique.
func (r *Registry) Create(req domain.JobRequest) domain.JobRecord {
	now := time.Now().UTC()
	rec := &domain.JobRecord{
		ID:        uuid.NewString(),
		State:     domain.JobStateQueued,
		Phase:     domain.PhaseIdle,
		Request:   req,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.mu.Lock()
	r.jobs[rec.ID] = rec
	r.mu.Unlock()
	return rec.Clone()
}

// Get returns a snapshot of the record, or domain.ErrNotFound for unknown
// and evicted ids.
func (r *Registry) Get(id string) (domain.JobRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.jobs[id]
	if !ok {
		return domain.JobRecord{}, domain.ErrNotFound
	}
	return rec.Clone(), nil
}

// Update applies fn to the record under the write lock and returns the
// resulting snapshot. Terminal records are immutable: the mutation is
// rejected with ErrJobTerminal.
func (r *Registry) Update(id string, fn func(rec *domain.JobRecord)) (domain.JobRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.jobs[id]
	if !ok {
		return domain.JobRecord{}, domain.ErrNotFound
	}
	if rec.State.Terminal() {
		return rec.Clone(), ErrJobTerminal
	}
	fn(rec)
	rec.UpdatedAt = time.Now().UTC()
	return rec.Clone(), nil
}

// StartJanitor begins periodic eviction of expired terminal records. It
// returns immediately; Stop ends the goroutine.
func (r *Registry) StartJanitor() {
	interval := r.ttl / 10
	if interval < time.Second {
		interval = time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case now := <-ticker.C:
				r.evictExpired(now)
			}
		}
	}()
}

// Stop halts the janitor. Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *Registry) evictExpired(now time.Time) int {
	var evicted []string

	r.mu.Lock()
	for id, rec := range r.jobs {
		if rec.State.Terminal() && now.Sub(rec.UpdatedAt) > r.ttl {
			delete(r.jobs, id)
			evicted = append(evicted, id)
		}
	}
	r.mu.Unlock()

	if r.onEvict != nil {
		for _, id := range evicted {
			r.onEvict(id)
		}
	}
	return len(evicted)
}
