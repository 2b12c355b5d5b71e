package model

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// Store is the single opaque object-model tree (spec.md §4.5). Readers
// take AccessReadOnly, writers take AccessReadWrite; both are scoped
// guards that must be released exactly once. A write guard's Commit
// both publishes the mutated tree and fans its Change records out to
// subscribers.
//
// GUARDED_BY(mu): tree
// INVARIANT: any Get() taken strictly after a Commit returns observes
// every mutation that Commit made. Get returns the live tree, so
// mutations committed later are visible through it as well.
type Store struct {
	mu   sync.RWMutex
	tree map[string]interface{}

	generation atomic.Uint64
	updated    chan struct{} // closed and replaced on every commit

	subMu   sync.Mutex
	subs    map[uint64]*Subscription
	nextSub uint64
}

// New returns a Store seeded with the given tree (or an empty one if
// nil).
func New(seed map[string]interface{}) *Store {
	if seed == nil {
		seed = map[string]interface{}{}
	}
	return &Store{
		tree:    seed,
		updated: make(chan struct{}),
		subs:    map[uint64]*Subscription{},
	}
}

// Generation returns the number of commits so far.
func (s *Store) Generation() uint64 { return s.generation.Load() }

// WaitForUpdate blocks until the next commit or ctx is done (spec.md
// §4.5 "wait_for_update(cancel)").
func (s *Store) WaitForUpdate(ctx context.Context) error {
	s.mu.RLock()
	ch := s.updated
	s.mu.RUnlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the current tree under a momentary read lock (spec.md
// §4.5 "get()"). Callers that need a stable view across several reads
// should use AccessReadOnly instead.
func (s *Store) Get() map[string]interface{} {
	g := s.AccessReadOnly()
	defer g.Release()
	return g.Get()
}

// ReadGuard holds the store's read lock for its lifetime.
type ReadGuard struct {
	store *Store
}

// AccessReadOnly acquires the store's read lock (spec.md §4.5
// "access_read_only()"). The caller must call Release.
func (s *Store) AccessReadOnly() *ReadGuard {
	s.mu.RLock()
	return &ReadGuard{store: s}
}

// Get returns the tree as it stood when the guard was acquired.
func (g *ReadGuard) Get() map[string]interface{} { return g.store.tree }

// Release drops the read lock.
func (g *ReadGuard) Release() { g.store.mu.RUnlock() }

// WriteGuard holds the store's write lock and accumulates Change
// records until Commit.
type WriteGuard struct {
	store     *Store
	changes   []Change
	committed bool
}

// AccessReadWrite acquires the store's write lock (spec.md §4.5
// "access_read_write()"). The caller must call Commit exactly once.
func (s *Store) AccessReadWrite() *WriteGuard {
	s.mu.Lock()
	return &WriteGuard{store: s}
}

// Tree exposes the live tree for in-place mutation. Callers must also
// call Set for each mutation so it is recorded and published.
func (g *WriteGuard) Tree() map[string]interface{} { return g.store.tree }

// Set applies one mutation to the tree at path and records its Change
// for delivery on Commit. For GrowingCollection, value must be the
// slice of newly appended items.
func (g *WriteGuard) Set(kind ChangeKind, path Path, value interface{}) error {
	if err := apply(g.store.tree, kind, path, value); err != nil {
		return err
	}
	g.changes = append(g.changes, Change{Kind: kind, Path: append(Path{}, path...), Value: value})
	return nil
}

// Commit releases the write lock, bumps the generation counter, wakes
// any WaitForUpdate callers, and fans the guard's Change records out
// to subscribers. Commit must be called exactly once per guard, even
// if no Set calls were made.
func (g *WriteGuard) Commit() {
	if g.committed {
		return
	}
	g.committed = true

	next := make(chan struct{})
	old := g.store.updated
	g.store.updated = next
	g.store.generation.Inc()
	g.store.mu.Unlock()
	close(old)

	if len(g.changes) > 0 {
		g.store.publish(g.changes)
	}
}

// Subscription delivers Change records as they commit (spec.md §4.5,
// consumed by internal/ipc's Subscribe-mode processors). Changes is a
// bounded buffer; a slow subscriber that lets it fill has changes
// dropped and ForceFull signaled instead, per spec.md §4.6 "Subscribe
// mode" full-resync fallback.
type Subscription struct {
	id        uint64
	store     *Store
	Changes   chan Change
	ForceFull chan struct{}
}

// Subscribe registers a new subscription with the given channel buffer
// size.
func (s *Store) Subscribe(bufferSize int) *Subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	sub := &Subscription{
		id:        s.nextSub,
		store:     s,
		Changes:   make(chan Change, bufferSize),
		ForceFull: make(chan struct{}, 1),
	}
	s.subs[sub.id] = sub
	return sub
}

// Close unregisters the subscription.
func (sub *Subscription) Close() {
	sub.store.subMu.Lock()
	delete(sub.store.subs, sub.id)
	sub.store.subMu.Unlock()
}

func (s *Store) publish(changes []Change) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs {
		for _, c := range changes {
			select {
			case sub.Changes <- c:
			default:
				select {
				case sub.ForceFull <- struct{}{}:
				default:
				}
			}
		}
	}
}
