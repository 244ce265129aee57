package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/fieldadmin/internal/records"
	"github.com/pitabwire/fieldadmin/internal/store"
	"github.com/pitabwire/fieldadmin/model"
)

// parseQueryOptions reads a record query from URL parameters:
//
//	filter  JSON object of field slug to value or operator predicate
//	sort    comma separated field[:asc|desc] keys, applied left to right
//	limit, offset  non-negative integers
//
// Absent parameters stay unset so the server defaults apply.
func parseQueryOptions(r *http.Request) (model.QueryOptions, error) {
	q := r.URL.Query()
	var opts model.QueryOptions

	if raw := q.Get("filter"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts.Filter); err != nil {
			return opts, model.NewBadRequestError("filter must be a JSON object")
		}
	}

	opts.Sort = records.ParseSort(q.Get("sort"))

	for _, p := range []struct {
		name string
		dst  **int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return opts, model.NewBadRequestError(fmt.Sprintf("%s must be an integer", p.name))
		}
		*p.dst = &n
	}
	return opts, nil
}

func handleQueryRecords(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		opts, err := parseQueryOptions(r)
		if err != nil {
			WriteError(w, err)
			return
		}
		page, err := svc.QueryRecords(r.Context(), rctx, chi.URLParam(r, "modelId"), opts)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, page)
	}
}

func handleGetRecord(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		rec, err := svc.GetRecord(r.Context(), rctx, chi.URLParam(r, "modelId"), chi.URLParam(r, "recordId"))
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, rec)
	}
}

func handleCreateRecord(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		payload := map[string]any{}
		if err := decodeBody(r, &payload); err != nil {
			WriteError(w, err)
			return
		}
		rec, err := svc.CreateRecord(r.Context(), rctx, chi.URLParam(r, "modelId"), payload)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, rec)
	}
}

func handleUpdateRecord(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		patch := map[string]any{}
		if err := decodeBody(r, &patch); err != nil {
			WriteError(w, err)
			return
		}
		rec, err := svc.UpdateRecord(r.Context(), rctx, chi.URLParam(r, "modelId"), chi.URLParam(r, "recordId"), patch)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, rec)
	}
}

func handleDeleteRecord(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		if err := svc.DeleteRecord(r.Context(), rctx, chi.URLParam(r, "modelId"), chi.URLParam(r, "recordId")); err != nil {
			WriteError(w, err)
			return
		}
		WriteNoContent(w)
	}
}
