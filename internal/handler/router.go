/*
Package handler mounts the relay's HTTP surface: the websocket endpoint, the
status side-channel, health and Prometheus metrics.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

// Router builds the chi router with logging, CORS and recovery middleware.
func Router(deps *AppDeps) http.Handler {
	allowedOrigins := make(map[string]struct{}, len(deps.Config.AllowedOrigins))
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("websocket connection rejected: origin not allowed", "origin", origin)
			return false
		},
	}

	corsOrigins := deps.Config.AllowedOrigins
	if deps.Config.IsDevelopment() {
		corsOrigins = []string{"*"}
	}

	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})

	r := chi.NewRouter()
	r.Use(c.Handler)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, map[string]string{
			"status":  "ok",
			"service": "relaychat",
		})
	})
	r.Get("/status", HandleStatus(deps))
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	ws := http.Handler(HandleWebSocket(deps, upgrader))
	if deps.ConnectLimiter != nil {
		ws = deps.ConnectLimiter.Middleware(ws)
	}
	r.Method(http.MethodGet, "/ws", ws)

	return r
}
