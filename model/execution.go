package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/qmuntal/stateless"
)

// ExecutionStatus is the lifecycle status of one workflow execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionPending, ExecutionRunning, ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is permitted from s.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionCompleted, ExecutionFailed, ExecutionCancelled:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown statuses.
func (s *ExecutionStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return NewSchemaDecodeError("execution status must be a string")
	}
	st := ExecutionStatus(raw)
	if !st.Valid() {
		return NewSchemaDecodeError(fmt.Sprintf("unknown execution status %q", raw))
	}
	*s = st
	return nil
}

type executionTrigger string

const (
	triggerStart    executionTrigger = "start"
	triggerComplete executionTrigger = "complete"
	triggerFail     executionTrigger = "fail"
	triggerCancel   executionTrigger = "cancel"
)

// Each target status is reached by exactly one trigger.
var triggerInto = map[ExecutionStatus]executionTrigger{
	ExecutionRunning:   triggerStart,
	ExecutionCompleted: triggerComplete,
	ExecutionFailed:    triggerFail,
	ExecutionCancelled: triggerCancel,
}

// newExecutionMachine returns the execution lifecycle positioned at from.
// The remote authority drives the real machine; the client replays
// observed transitions through this one to check them.
func newExecutionMachine(from ExecutionStatus) *stateless.StateMachine {
	fsm := stateless.NewStateMachine(from)

	fsm.Configure(ExecutionPending).
		Permit(triggerStart, ExecutionRunning).
		Permit(triggerCancel, ExecutionCancelled)

	fsm.Configure(ExecutionRunning).
		Permit(triggerComplete, ExecutionCompleted).
		Permit(triggerFail, ExecutionFailed).
		Permit(triggerCancel, ExecutionCancelled)

	fsm.Configure(ExecutionCompleted)
	fsm.Configure(ExecutionFailed)
	fsm.Configure(ExecutionCancelled)

	return fsm
}

// CanTransition reports whether an execution observed in from may next be
// observed in to. Re-observing the same status is always allowed.
func CanTransition(from, to ExecutionStatus) bool {
	return ValidateTransition(from, to) == nil
}

// ValidateTransition returns INVALID_STATE_TRANSITION when to is not
// reachable from from in one step.
func ValidateTransition(from, to ExecutionStatus) error {
	if !from.Valid() || !to.Valid() {
		return NewInvalidStateTransitionError(fmt.Sprintf("unknown execution status %q -> %q", from, to))
	}
	if from == to {
		return nil
	}
	trigger, ok := triggerInto[to]
	if !ok {
		return NewInvalidStateTransitionError(fmt.Sprintf("execution cannot return to %s", to))
	}
	fsm := newExecutionMachine(from)
	if err := fsm.Fire(trigger); err != nil {
		return NewInvalidStateTransitionError(fmt.Sprintf("execution cannot move from %s to %s", from, to))
	}
	if got := fsm.MustState(); got != to {
		return NewInvalidStateTransitionError(fmt.Sprintf("execution cannot move from %s to %s", from, to))
	}
	return nil
}

// WorkflowExecution is one run of a workflow. Input is fixed at creation,
// Output is written on terminal success and History only grows.
type WorkflowExecution struct {
	ID            string          `json:"id"`
	WorkflowID    string          `json:"workflowId"`
	InitiatorID   string          `json:"initiatorId,omitempty"`
	Status        ExecutionStatus `json:"status"`
	Input         Document        `json:"input,omitempty"`
	Output        Document        `json:"output,omitempty"`
	State         Document        `json:"state,omitempty"`
	History       []any           `json:"history"`
	Error         string          `json:"error,omitempty"`
	CurrentStepID string          `json:"currentStepId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt,omitzero"`
	UpdatedAt     time.Time       `json:"updatedAt,omitzero"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
}

// CheckShape verifies the invariants a single execution document must hold
// on its own: error present iff failed, completedAt set iff terminal.
func (e WorkflowExecution) CheckShape() error {
	if !e.Status.Valid() {
		return NewProtocolViolationError(fmt.Sprintf("execution %s has unknown status %q", e.ID, e.Status))
	}
	if (e.Status == ExecutionFailed) != (e.Error != "") {
		return NewProtocolViolationError(fmt.Sprintf("execution %s: error must be present only when failed (status %s)", e.ID, e.Status))
	}
	if e.Status.IsTerminal() != (e.CompletedAt != nil) {
		return NewProtocolViolationError(fmt.Sprintf("execution %s: completedAt must be set only on terminal status (status %s)", e.ID, e.Status))
	}
	return nil
}

// Reachable reports whether to can follow from in zero or more steps. Two
// fetches of the same execution may be separated by several transitions.
func Reachable(from, to ExecutionStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	seen := map[ExecutionStatus]bool{from: true}
	queue := []ExecutionStatus{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true
		}
		triggers, err := newExecutionMachine(cur).PermittedTriggers()
		if err != nil {
			continue
		}
		for _, trigger := range triggers {
			fsm := newExecutionMachine(cur)
			if err := fsm.Fire(trigger); err != nil {
				continue
			}
			next := fsm.MustState().(ExecutionStatus)
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// CheckSuccessor verifies that next is a legal later observation of prev:
// its status is reachable from the earlier one and the earlier history is
// a prefix of the new one.
func CheckSuccessor(prev, next WorkflowExecution) error {
	if !Reachable(prev.Status, next.Status) {
		return NewProtocolViolationError(fmt.Sprintf("execution %s moved from %s to %s", next.ID, prev.Status, next.Status))
	}
	if len(next.History) < len(prev.History) {
		return NewProtocolViolationError(fmt.Sprintf("execution %s history shrank from %d to %d entries", next.ID, len(prev.History), len(next.History)))
	}
	for i := range prev.History {
		if !EqualValues(prev.History[i], next.History[i]) {
			return NewProtocolViolationError(fmt.Sprintf("execution %s history entry %d was rewritten", next.ID, i))
		}
	}
	return nil
}
