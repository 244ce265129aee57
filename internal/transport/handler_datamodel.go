package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/fieldadmin/internal/store"
	"github.com/pitabwire/fieldadmin/model"
)

// callerFrom returns the caller identity placed by the authenticator, or
// writes a 401 when it is missing.
func callerFrom(w http.ResponseWriter, r *http.Request) (*model.RequestContext, bool) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		WriteError(w, model.NewUnauthorizedError("missing request context"))
		return nil, false
	}
	return rctx, true
}

func handleListDataModels(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		models, err := svc.ListDataModels(r.Context(), rctx)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, models)
	}
}

func handleGetDataModel(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		m, err := svc.GetDataModel(r.Context(), rctx, chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, m)
	}
}

func handleGetDataModelBySlug(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		m, err := svc.GetDataModelBySlug(r.Context(), rctx, chi.URLParam(r, "slug"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, m)
	}
}

func handleCreateDataModel(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		var in model.CreateDataModelInput
		if err := decodeBody(r, &in); err != nil {
			WriteError(w, err)
			return
		}
		m, err := svc.CreateDataModel(r.Context(), rctx, in)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, m)
	}
}

func handleUpdateDataModel(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		var in model.UpdateDataModelInput
		if err := decodeBody(r, &in); err != nil {
			WriteError(w, err)
			return
		}
		m, err := svc.UpdateDataModel(r.Context(), rctx, chi.URLParam(r, "id"), in)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, m)
	}
}

func handleDeleteDataModel(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		if err := svc.DeleteDataModel(r.Context(), rctx, chi.URLParam(r, "id")); err != nil {
			WriteError(w, err)
			return
		}
		WriteNoContent(w)
	}
}

func handleAddField(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		var in model.CreateFieldInput
		if err := decodeBody(r, &in); err != nil {
			WriteError(w, err)
			return
		}
		f, err := svc.AddField(r.Context(), rctx, chi.URLParam(r, "id"), in)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, f)
	}
}

func handleUpdateField(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		var in model.UpdateFieldInput
		if err := decodeBody(r, &in); err != nil {
			WriteError(w, err)
			return
		}
		f, err := svc.UpdateField(r.Context(), rctx, chi.URLParam(r, "fieldId"), in)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, f)
	}
}

func handleRemoveField(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		if err := svc.RemoveField(r.Context(), rctx, chi.URLParam(r, "fieldId")); err != nil {
			WriteError(w, err)
			return
		}
		WriteNoContent(w)
	}
}
