package workflow

import (
	"context"

	"github.com/pitabwire/fieldadmin/model"
)

// ExecutionCheck decides whether next may replace the last accepted
// observation of the same execution. seen is false on first sight.
type ExecutionCheck func(prev model.WorkflowExecution, seen bool, next model.WorkflowExecution) error

// ObservationStore remembers what this process last accepted from the
// remote authority: the latest execution documents and the highest version
// of each workflow. Observations are scoped to a tenant.
type ObservationStore interface {
	// ObserveExecution runs check against the last accepted observation of
	// next.ID and, if it passes, records next. The check and the write are
	// atomic with respect to other observers of the same execution.
	ObserveExecution(ctx context.Context, scope string, next model.WorkflowExecution, check ExecutionCheck) error

	// LastExecution returns the last accepted observation. ok is false if
	// the execution has never been observed.
	LastExecution(ctx context.Context, scope, executionID string) (model.WorkflowExecution, bool, error)

	// ObserveVersion records version for a workflow. It fails with
	// PROTOCOL_VIOLATION if a higher version was observed before.
	ObserveVersion(ctx context.Context, scope, workflowID string, version int) error

	// ForgetWorkflow drops the version of a retired workflow.
	ForgetWorkflow(ctx context.Context, scope, workflowID string) error

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
}
