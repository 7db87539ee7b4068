package http

import (
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/auth"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/Wyydra/yacall/internal/metrics"
)

type Deps struct {
	Calls    *service.CallService
	Chat     *service.ChatService
	Signal   *service.SignalService
	Hub      *ws.Hub
	Auth     auth.Verifier
	Metrics  *metrics.Registry
	Gatherer prometheus.Gatherer
}

type Handler struct {
	CallService   *service.CallService
	ChatService   *service.ChatService
	SignalService *service.SignalService
	Hub           *ws.Hub

	auth       auth.Verifier
	metrics    *metrics.Registry
	gatherer   prometheus.Gatherer
	upgrader   websocket.Upgrader
	signalRate int
}

func NewHandler(cfg config.ServerConfig, d Deps) *Handler {
	h := &Handler{
		CallService:   d.Calls,
		ChatService:   d.Chat,
		SignalService: d.Signal,
		Hub:           d.Hub,
		auth:          d.Auth,
		metrics:       d.Metrics,
		gatherer:      d.Gatherer,
		signalRate:    cfg.SignalRate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.WSReadBuffer,
			WriteBufferSize: cfg.WSWriteBuffer,
		},
	}
	if h.signalRate <= 0 {
		h.signalRate = config.Default().Server.SignalRate
	}
	if len(cfg.AllowedOrigins) > 0 {
		allowed := cfg.AllowedOrigins
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
		}
	}
	return h
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireToken(h.auth))

		r.Get("/ws", h.ServeWS)

		r.Route("/api", func(r chi.Router) {
			r.Post("/calls", h.createCall)
			r.Get("/calls", h.callHistory)
			r.Post("/calls/respond", h.respondToCall)
			r.Get("/calls/{id}", h.getCall)
			r.Post("/calls/{id}/end", h.endCall)
			r.Get("/messages", h.messageHistory)
		})
	})

	return r
}
