package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/mindcare/backend/internal/config"
	"github.com/zhouzirui/mindcare/backend/internal/handler/chat"
	"github.com/zhouzirui/mindcare/backend/internal/handler/ws"
	"github.com/zhouzirui/mindcare/backend/internal/middleware"
	"github.com/zhouzirui/mindcare/backend/pkg/utils"
)

// Deps 路由所需的服务
type Deps struct {
	Replier  chat.Replier
	Sessions chat.Sessions
	Server   config.ServerConfig
	Auth     config.AuthConfig
	Logger   *zap.SugaredLogger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(deps.Server.CORSOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	chatHandler := chat.New(deps.Replier, deps.Sessions, log)
	wsHandler := ws.New(deps.Replier, deps.Server.CORSOrigins, log)

	r.Route("/api/chat", func(api chi.Router) {
		api.Use(middleware.Identity(deps.Auth.JWTSecret, log))
		if deps.Server.RateLimitRPS > 0 {
			api.Use(middleware.NewRateLimiter(deps.Server.RateLimitRPS, deps.Server.RateLimitBurst).Middleware)
		}

		wsHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
	})

	return r
}
