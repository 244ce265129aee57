// Package store holds the cached admin state that a UI renders. Every
// remote operation is dispatched as a requested action and completed as a
// succeeded or failed one; a pure reducer folds the actions into immutable
// snapshots.
package store

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/pitabwire/fieldadmin/internal/observability"
)

// Store applies actions one at a time and publishes each resulting State
// as a snapshot. Readers never wait for in-flight requests.
type Store struct {
	mu      sync.Mutex
	seq     uint64
	state   atomic.Pointer[State]
	metrics *observability.Metrics
	logger  *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics counts dispatches and discarded completions.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store holding InitialState.
func New(opts ...Option) *Store {
	s := &Store{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	initial := InitialState()
	s.state.Store(&initial)
	return s
}

// Snapshot returns the current state.
func (s *Store) Snapshot() State {
	return *s.state.Load()
}

// Begin dispatches the requested phase of kind and returns the sequence
// number its completion must carry.
func (s *Store) Begin(kind Kind) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	s.apply(Action{Kind: kind, Phase: Requested, Seq: s.seq})
	return s.seq
}

// Complete dispatches the outcome of the request numbered seq. A nil err is
// a success carrying payload. It reports whether the outcome was applied;
// it is not when a newer request of the same kind was begun since.
func (s *Store) Complete(kind Kind, seq uint64, payload any, err error) bool {
	a := Action{Kind: kind, Phase: Succeeded, Seq: seq, Payload: payload}
	if err != nil {
		a = Action{Kind: kind, Phase: Failed, Seq: seq, Err: err}
	}
	return s.Dispatch(a)
}

// Dispatch applies a and reports whether it changed the state. Stale
// completions are discarded.
func (s *Store) Dispatch(a Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apply(a)
}

// Clear dispatches one of the synchronous clear kinds.
func (s *Store) Clear(kind Kind) {
	s.Dispatch(Action{Kind: kind})
}

func (s *Store) apply(a Action) bool {
	cur := s.state.Load()
	if cur.Stale(a) {
		s.metrics.RecordStaleCompletion(string(a.Kind))
		s.logger.Debug("discarded stale completion",
			zap.String("kind", string(a.Kind)), zap.Uint64("seq", a.Seq))
		return false
	}

	next := Reduce(*cur, a)
	s.state.Store(&next)

	phase := string(a.Phase)
	if phase == "" {
		phase = "sync"
	}
	s.metrics.RecordDispatch(string(a.Kind), phase)
	return true
}
