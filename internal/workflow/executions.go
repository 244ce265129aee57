package workflow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/pitabwire/fieldadmin/internal/invoker"
	"github.com/pitabwire/fieldadmin/internal/observability"
	"github.com/pitabwire/fieldadmin/internal/openapi"
	"github.com/pitabwire/fieldadmin/model"
)

// Executions requests and observes workflow executions. It never polls;
// Get is the on-demand refresh.
type Executions struct {
	remote       Remote
	observations ObservationStore
	metrics      *observability.Metrics
	logger       *zap.Logger
}

// NewExecutions creates Executions. A nil store falls back to an in-memory
// one.
func NewExecutions(remote Remote, observations ObservationStore, opts ...Option) *Executions {
	if observations == nil {
		observations = NewMemoryObservationStore()
	}
	o := buildOptions(opts)
	return &Executions{remote: remote, observations: observations, metrics: o.metrics, logger: o.logger}
}

// Execute starts an execution of workflowID. Start failures, such as an
// unpublished workflow, are returned here; failures during the run only
// show up on a later Get.
func (e *Executions) Execute(ctx context.Context, rctx *model.RequestContext, workflowID string, input model.Document) (model.WorkflowExecution, error) {
	var exec model.WorkflowExecution
	call := invoker.Call{
		OperationID: openapi.OpExecuteWorkflow,
		PathParams:  map[string]string{"id": workflowID},
		Body:        model.ExecuteWorkflowInput{Input: input},
	}
	if err := e.remote.Do(ctx, rctx, call, &exec); err != nil {
		return model.WorkflowExecution{}, err
	}
	if exec.WorkflowID != "" && exec.WorkflowID != workflowID {
		return model.WorkflowExecution{}, e.violation(ctx, exec.ID, fmt.Sprintf("execution %s belongs to workflow %s, not %s", exec.ID, exec.WorkflowID, workflowID))
	}
	return e.observe(ctx, rctx, exec)
}

// Get fetches the current state of an execution.
func (e *Executions) Get(ctx context.Context, rctx *model.RequestContext, executionID string) (model.WorkflowExecution, error) {
	var exec model.WorkflowExecution
	call := invoker.Call{OperationID: openapi.OpGetExecution, PathParams: map[string]string{"executionId": executionID}}
	if err := e.remote.Do(ctx, rctx, call, &exec); err != nil {
		return model.WorkflowExecution{}, err
	}
	return e.observe(ctx, rctx, exec)
}

// ListForWorkflow returns the executions of a workflow, newest first as
// sent by the authority. Every entry is observed; one violating entry fails
// the whole list.
func (e *Executions) ListForWorkflow(ctx context.Context, rctx *model.RequestContext, workflowID string) ([]model.WorkflowExecution, error) {
	var list []model.WorkflowExecution
	call := invoker.Call{OperationID: openapi.OpListExecutions, PathParams: map[string]string{"id": workflowID}}
	if err := e.remote.Do(ctx, rctx, call, &list); err != nil {
		return nil, err
	}

	out := make([]model.WorkflowExecution, 0, len(list))
	for _, exec := range list {
		observed, err := e.observe(ctx, rctx, exec)
		if err != nil {
			return nil, err
		}
		out = append(out, observed)
	}
	return out, nil
}

// Cancel asks the authority to stop an execution. An execution last seen in
// a terminal status is refused without a round trip. A validation refusal
// of an execution that turns out to be terminal is reported as an invalid
// transition.
func (e *Executions) Cancel(ctx context.Context, rctx *model.RequestContext, executionID string) (model.WorkflowExecution, error) {
	last, seen, err := e.observations.LastExecution(ctx, rctx.Scope(), executionID)
	if err != nil {
		observability.RequestLogger(ctx, e.logger).Warn("read execution observation failed",
			zap.String("execution_id", executionID), zap.Error(err))
	}
	if seen && last.Status.IsTerminal() {
		return model.WorkflowExecution{}, model.NewInvalidStateTransitionError(
			fmt.Sprintf("Cannot cancel execution in status %s", last.Status),
		)
	}

	var exec model.WorkflowExecution
	call := invoker.Call{OperationID: openapi.OpCancelExecution, PathParams: map[string]string{"executionId": executionID}}
	if err := e.remote.Do(ctx, rctx, call, &exec); err != nil {
		if model.IsCode(err, model.ErrValidationError) {
			return model.WorkflowExecution{}, e.refusedCancel(ctx, rctx, executionID, err)
		}
		return model.WorkflowExecution{}, err
	}
	if exec.Status != model.ExecutionCancelled {
		return model.WorkflowExecution{}, e.violation(ctx, exec.ID, fmt.Sprintf("cancel of execution %s returned status %s", exec.ID, exec.Status))
	}
	return e.observe(ctx, rctx, exec)
}

// refusedCancel re-reads an execution whose cancel was refused and returns
// an invalid transition error when it is already terminal, cause otherwise.
func (e *Executions) refusedCancel(ctx context.Context, rctx *model.RequestContext, executionID string, cause error) error {
	current, err := e.Get(ctx, rctx, executionID)
	if err != nil {
		observability.RequestLogger(ctx, e.logger).Warn("re-read of refused cancel failed",
			zap.String("execution_id", executionID), zap.Error(err))
		return cause
	}
	if !current.Status.IsTerminal() {
		return cause
	}
	return model.NewInvalidStateTransitionError(fmt.Sprintf("Cannot cancel execution in status %s", current.Status))
}

// observe checks exec on its own and against the last accepted observation
// before recording it. A document that fails is not recorded.
func (e *Executions) observe(ctx context.Context, rctx *model.RequestContext, exec model.WorkflowExecution) (model.WorkflowExecution, error) {
	if exec.History == nil {
		exec.History = []any{}
	}
	check := func(prev model.WorkflowExecution, seen bool, next model.WorkflowExecution) error {
		if err := next.CheckShape(); err != nil {
			return err
		}
		if seen {
			return model.CheckSuccessor(prev, next)
		}
		return nil
	}

	if err := e.observations.ObserveExecution(ctx, rctx.Scope(), exec, check); err != nil {
		if model.IsCode(err, model.ErrProtocolViolation) {
			e.metrics.RecordProtocolViolation("execution")
			observability.RequestLogger(ctx, e.logger).Error("invalid execution observation",
				zap.String("execution_id", exec.ID), zap.Error(err))
			return model.WorkflowExecution{}, err
		}
		// Store unavailable: the document is still shape-checked and returned.
		observability.RequestLogger(ctx, e.logger).Warn("record execution observation failed",
			zap.String("execution_id", exec.ID), zap.Error(err))
		if shapeErr := exec.CheckShape(); shapeErr != nil {
			e.metrics.RecordProtocolViolation("execution")
			return model.WorkflowExecution{}, shapeErr
		}
	}
	e.metrics.RecordExecutionObserved(string(exec.Status))
	return exec, nil
}

func (e *Executions) violation(ctx context.Context, executionID, msg string) error {
	e.metrics.RecordProtocolViolation("execution")
	observability.RequestLogger(ctx, e.logger).Error("invalid execution document",
		zap.String("execution_id", executionID), zap.String("reason", msg))
	return model.NewProtocolViolationError(msg)
}
