// Package transport implements the single network endpoint of spec.md
// §6: a websocket upgrade handler carrying the event-framed protocol,
// plus the one HTTP health route. It is grounded on the teacher's
// internal/handlers/setup.go chi.Router assembly (middleware.Recoverer,
// middleware.Timeout, a flat route table) generalized from the
// teacher's REST+websocket API surface down to the one route this
// server actually exposes over HTTP.
package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

var startedAt = time.Now()

type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(startedAt).Seconds()),
	})
}

// NewRouter assembles the chi router: the Recoverer+Timeout middleware
// stack the teacher installs on every route, GET /healthz, and the
// websocket upgrade route delegated to srv.
func NewRouter(srv *WebSocketServer, sugar *zap.SugaredLogger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", healthHandler)
	r.Get("/ws", srv.Handle)

	return r
}
