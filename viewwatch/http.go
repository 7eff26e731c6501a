package viewwatch

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/viewtrack/shield"
)

// Routes returns the admin API:
//
//	GET  /healthz
//	GET  /api/pages
//	GET  /api/pages/{id}/visible
//	POST /api/pages/{id}/reload
//	*    /mcp  (MCP streamable HTTP)
func (w *Watcher) Routes() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.AdminStack(w.logger) {
		r.Use(mw)
	}

	r.Get("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, map[string]any{"status": "ok", "pages": w.count()})
	})

	r.Route("/api/pages", func(r chi.Router) {
		r.Get("/", func(rw http.ResponseWriter, r *http.Request) {
			writeJSON(rw, http.StatusOK, w.Sessions(r.Context()))
		})

		r.Get("/{id}/visible", func(rw http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			refs, err := w.Visible(r.Context(), id)
			if err != nil {
				w.fail(rw, r, err)
				return
			}
			writeJSON(rw, http.StatusOK, map[string]any{"id": id, "visible": refs})
		})

		r.Post("/{id}/reload", func(rw http.ResponseWriter, r *http.Request) {
			id := chi.URLParam(r, "id")
			if err := w.Reload(r.Context(), id); err != nil {
				w.fail(rw, r, err)
				return
			}
			shield.GetLogger(r.Context()).Info("viewwatch: page reloaded", "id", id)
			writeJSON(rw, http.StatusOK, map[string]string{"status": "reloaded", "id": id})
		})
	})

	mcpSrv := w.NewMCPServer("1.0.0")
	r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	return r
}

func (w *Watcher) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.sessions)
}

func (w *Watcher) fail(rw http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrUnknownPage):
		writeError(rw, http.StatusNotFound, err)
	case errors.Is(err, errSessionClosed):
		writeError(rw, http.StatusConflict, err)
	default:
		shield.GetLogger(r.Context()).Error("viewwatch: request failed", "error", err)
		writeError(rw, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
