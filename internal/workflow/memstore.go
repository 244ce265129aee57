package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/pitabwire/fieldadmin/model"
)

type observationKey struct {
	scope string
	id    string
}

// MemoryObservationStore is an in-process ObservationStore. Observations are
// lost on restart, after which every execution is seen afresh.
type MemoryObservationStore struct {
	mu         sync.RWMutex
	executions map[observationKey]model.WorkflowExecution
	versions   map[observationKey]int
}

// NewMemoryObservationStore creates an empty store.
func NewMemoryObservationStore() *MemoryObservationStore {
	return &MemoryObservationStore{
		executions: make(map[observationKey]model.WorkflowExecution),
		versions:   make(map[observationKey]int),
	}
}

// ObserveExecution checks and records next.
func (s *MemoryObservationStore) ObserveExecution(_ context.Context, scope string, next model.WorkflowExecution, check ExecutionCheck) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := observationKey{scope, next.ID}
	prev, seen := s.executions[key]
	if err := check(prev, seen, next); err != nil {
		return err
	}
	s.executions[key] = cloneExecution(next)
	return nil
}

// LastExecution returns the last accepted observation.
func (s *MemoryObservationStore) LastExecution(_ context.Context, scope, executionID string) (model.WorkflowExecution, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.executions[observationKey{scope, executionID}]
	if !ok {
		return model.WorkflowExecution{}, false, nil
	}
	return cloneExecution(e), true, nil
}

// ObserveVersion records the workflow version if it does not go backwards.
func (s *MemoryObservationStore) ObserveVersion(_ context.Context, scope, workflowID string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := observationKey{scope, workflowID}
	if prev, ok := s.versions[key]; ok && version < prev {
		return model.NewProtocolViolationError(
			fmt.Sprintf("workflow %s version went from %d to %d", workflowID, prev, version),
		)
	}
	s.versions[key] = version
	return nil
}

// ForgetWorkflow drops the recorded version.
func (s *MemoryObservationStore) ForgetWorkflow(_ context.Context, scope, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.versions, observationKey{scope, workflowID})
	return nil
}

// Ping always succeeds.
func (s *MemoryObservationStore) Ping(context.Context) error { return nil }

// Len returns the number of observed executions. For testing.
func (s *MemoryObservationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.executions)
}

func cloneExecution(e model.WorkflowExecution) model.WorkflowExecution {
	out := e
	out.Input = model.CloneDocument(e.Input)
	out.Output = model.CloneDocument(e.Output)
	out.State = model.CloneDocument(e.State)
	if e.History != nil {
		out.History = make([]any, len(e.History))
		copy(out.History, e.History)
	}
	if e.CompletedAt != nil {
		at := *e.CompletedAt
		out.CompletedAt = &at
	}
	return out
}
