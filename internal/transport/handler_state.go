package transport

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/fieldadmin/internal/store"
	"github.com/pitabwire/fieldadmin/model"
)

// handleState returns the caller's current snapshot. It never waits for
// in-flight requests.
func handleState(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		WriteJSON(w, http.StatusOK, svc.Snapshot(rctx))
	}
}

func handleClear(svc *store.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rctx, ok := callerFrom(w, r)
		if !ok {
			return
		}
		name := chi.URLParam(r, "kind")
		kind, ok := store.ParseClearKind(name)
		if !ok {
			WriteError(w, model.NewBadRequestError(fmt.Sprintf("unknown clear action %q", name)))
			return
		}
		svc.Clear(rctx, kind)
		WriteJSON(w, http.StatusOK, svc.Snapshot(rctx))
	}
}
