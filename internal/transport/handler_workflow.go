package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/fieldadmin/internal/store"
	"github.com/pitabwire/fieldadmin/model"
)

func handleListWorkflows(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		list, err := svc.ListWorkflows(r.Context(), rctx)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, list)
	}
}

func handleGetWorkflow(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		wf, err := svc.GetWorkflow(r.Context(), rctx, chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, wf)
	}
}

func handleGetWorkflowBySlug(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		wf, err := svc.GetWorkflowBySlug(r.Context(), rctx, chi.URLParam(r, "slug"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, wf)
	}
}

func handleCreateWorkflow(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		var in model.CreateWorkflowInput
		if err := decodeBody(r, &in); err != nil {
			WriteError(w, err)
			return
		}
		wf, err := svc.CreateWorkflow(r.Context(), rctx, in)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, wf)
	}
}

func handleUpdateWorkflow(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		var in model.UpdateWorkflowInput
		if err := decodeBody(r, &in); err != nil {
			WriteError(w, err)
			return
		}
		wf, err := svc.UpdateWorkflow(r.Context(), rctx, chi.URLParam(r, "id"), in)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, wf)
	}
}

func handlePublishWorkflow(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		var body struct {
			Definition model.Document `json:"definition"`
		}
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}
		wf, err := svc.PublishWorkflow(r.Context(), rctx, chi.URLParam(r, "id"), body.Definition)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, wf)
	}
}

func handleDeleteWorkflow(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		if err := svc.DeleteWorkflow(r.Context(), rctx, chi.URLParam(r, "id")); err != nil {
			WriteError(w, err)
			return
		}
		WriteNoContent(w)
	}
}

func handleExecuteWorkflow(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		var body model.ExecuteWorkflowInput
		if err := decodeBody(r, &body); err != nil {
			WriteError(w, err)
			return
		}
		exec, err := svc.ExecuteWorkflow(r.Context(), rctx, chi.URLParam(r, "id"), body.Input)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, exec)
	}
}

func handleListExecutions(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		list, err := svc.ListExecutions(r.Context(), rctx, chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, list)
	}
}

func handleGetExecution(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		exec, err := svc.GetExecution(r.Context(), rctx, chi.URLParam(r, "executionId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, exec)
	}
}

func handleCancelExecution(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		exec, err := svc.CancelExecution(r.Context(), rctx, chi.URLParam(r, "executionId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, exec)
	}
}
