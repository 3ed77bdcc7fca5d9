// Package httpapi implements the HTTP Surface (C9): binding the
// external operations of §6 to the Dispatch Engine and Function
// Catalog. Grounded on `internal/api/server.go`'s mux-plus-middleware-
// chain shape and `internal/api/dataplane`'s `RegisterRoutes` convention.
package httpapi

import (
	"net/http"
	"time"

	"github.com/KatsuhideAsanuma/lambda-microservice/internal/catalog"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/dispatch"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/logging"
	"github.com/KatsuhideAsanuma/lambda-microservice/internal/observability"
)

// MaxRequestBodyBytes is the request-body limit named in §4.9.
const MaxRequestBodyBytes = 1 << 20

// Handler holds the dependencies every route needs.
type Handler struct {
	Engine  *dispatch.Engine
	Catalog *catalog.Catalog
}

// RegisterRoutes binds the four external operations of §6 onto mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/initialize", h.Initialize)
	mux.HandleFunc("POST /api/v1/execute/{request_id}", h.Execute)
	mux.HandleFunc("GET /api/v1/sessions/{request_id}", h.GetSession)
	mux.HandleFunc("GET /api/v1/functions", h.ListFunctions)
	mux.HandleFunc("GET /api/v1/functions/{language_title}", h.GetFunction)
	mux.HandleFunc("GET /api/v1/health", h.Health)
}

// NewServer builds the *http.Server for addr, wrapping the mux with
// CORS and tracing middleware the way `api/server.go` layers its
// middleware chain onto the data-plane/control-plane muxes.
func NewServer(addr string, h *Handler) *http.Server {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = corsMiddleware(handler)
	handler = observability.HTTPMiddleware(handler)

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// corsMiddleware applies the permissive-by-default CORS policy named in
// §4.9.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Language-Title")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ListenAndServe starts srv in a background goroutine, logging a
// terminal error the way `api/server.go`'s `StartHTTPServer` does.
func ListenAndServe(srv *http.Server) {
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()
}
