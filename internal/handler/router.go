package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/safe-connect/backend/internal/handler/exit"
	"github.com/zhouzirui/safe-connect/backend/internal/handler/status"
	"github.com/zhouzirui/safe-connect/backend/internal/handler/ws"
	"github.com/zhouzirui/safe-connect/backend/internal/metrics"
	middlewarePkg "github.com/zhouzirui/safe-connect/backend/internal/middleware"
	exitModel "github.com/zhouzirui/safe-connect/backend/internal/model/exit"
	"github.com/zhouzirui/safe-connect/backend/internal/service/bridge"
	"github.com/zhouzirui/safe-connect/backend/pkg/utils"
)

// NewRouter wires HTTP routes to the session bridge.
func NewRouter(b *bridge.Bridge, destinations exitModel.Store, m *metrics.Metrics, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.Privacy)

	ws.New(b, allowedOrigins).RegisterRoutes(r)
	exit.New(destinations).RegisterRoutes(r)

	r.Route("/api", func(api chi.Router) {
		api.Use(middlewarePkg.CORS(allowedOrigins))
		status.New(b, destinations).RegisterRoutes(api)
	})

	r.Method(http.MethodGet, "/metrics", m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
