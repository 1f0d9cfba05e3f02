package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// EntityType names one class of timed entity (petition, vote, sanction
// portion).
type EntityType string

// Entry is one not-yet-resolved entity and the instant its timer fires.
type Entry struct {
	ID     uint64
	FireAt time.Time
}

// Source provides the pending entries of one entity type and resolves a
// single entity when its timer fires. Resolve must re-read the entity and
// return nil without side effects when it is already terminal: timers are
// never the source of truth, the persisted expiry fields are.
type Source interface {
	Pending(ctx context.Context) ([]Entry, error)
	Resolve(ctx context.Context, id uint64) error
}

type timerKey struct {
	entityType EntityType
	id         uint64
}

// Scheduler arms in-memory timers for persisted entities. Losing every timer
// only costs a delayed re-arm on the next Initialize, never a lost or double
// action.
type Scheduler struct {
	mu      sync.Mutex
	sources map[EntityType]Source
	timers  map[timerKey]*time.Timer
	now     func() time.Time
}

func New() *Scheduler {
	return &Scheduler{
		sources: make(map[EntityType]Source),
		timers:  make(map[timerKey]*time.Timer),
		now:     time.Now,
	}
}

// Register binds an entity type to its source. Must be called for every type
// before Initialize.
func (s *Scheduler) Register(t EntityType, src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[t] = src
}

// Schedule arms (or re-arms) the timer for one entity. A fire time in the
// past runs the resolver immediately.
func (s *Scheduler) Schedule(t EntityType, id uint64, fireAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule(t, id, fireAt, true)
}

// Cancel disarms a pending timer. Unknown ids are a no-op; a resolver
// already in flight is beyond cancellation and relies on its terminal-status
// guard.
func (s *Scheduler) Cancel(t EntityType, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := timerKey{t, id}
	if timer, ok := s.timers[key]; ok {
		if timer != nil {
			timer.Stop()
		}
		delete(s.timers, key)
	}
}

// Initialize re-arms timers for every pending entity of every registered
// source. Run once at startup before accepting mutations; calling it again
// only re-arms timers that are not already armed.
func (s *Scheduler) Initialize(ctx context.Context) error {
	s.mu.Lock()
	types := make(map[EntityType]Source, len(s.sources))
	for t, src := range s.sources {
		types[t] = src
	}
	s.mu.Unlock()

	for t, src := range types {
		entries, err := src.Pending(ctx)
		if err != nil {
			return fmt.Errorf("scheduler: load pending %s: %w", t, err)
		}
		s.mu.Lock()
		for _, e := range entries {
			s.schedule(t, e.ID, e.FireAt, false)
		}
		s.mu.Unlock()
		log.Printf("scheduler: armed %d pending %s timers", len(entries), t)
	}
	return nil
}

// schedule arms a timer under the lock held by the caller.
func (s *Scheduler) schedule(t EntityType, id uint64, fireAt time.Time, replace bool) {
	key := timerKey{t, id}
	if timer, ok := s.timers[key]; ok {
		if !replace {
			return
		}
		if timer != nil {
			timer.Stop()
		}
		delete(s.timers, key)
	}

	delay := fireAt.Sub(s.now())
	if delay <= 0 {
		// A nil entry marks a resolver in flight, so a non-replacing
		// schedule for the same entity is suppressed until fire is done.
		s.timers[key] = nil
		go s.fire(t, id)
		return
	}

	var tm *time.Timer
	tm = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if cur, ok := s.timers[key]; !ok || cur != tm {
			// Replaced or cancelled after the timer popped.
			s.mu.Unlock()
			return
		}
		s.timers[key] = nil
		s.mu.Unlock()
		s.fire(t, id)
	})
	s.timers[key] = tm
}

// fire runs one entity's resolver. Failures are logged per entity and never
// prevent other timers from firing.
func (s *Scheduler) fire(t EntityType, id uint64) {
	key := timerKey{t, id}
	s.mu.Lock()
	src, ok := s.sources[t]
	s.mu.Unlock()

	// Clear the in-flight marker once the resolver returns. A concurrent
	// Schedule may have replaced the entry with a fresh timer; leave that one.
	defer func() {
		s.mu.Lock()
		if cur, ok := s.timers[key]; ok && cur == nil {
			delete(s.timers, key)
		}
		s.mu.Unlock()
	}()

	if !ok {
		log.Printf("scheduler: no source registered for %s", t)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: resolver panic for %s %d: %v", t, id, r)
		}
	}()
	if err := src.Resolve(context.Background(), id); err != nil {
		log.Printf("scheduler: resolve %s %d: %v", t, id, err)
	}
}
