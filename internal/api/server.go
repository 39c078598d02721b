package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/bestpath/chatops/internal/api/handler"
	mw "github.com/bestpath/chatops/internal/api/middleware"
	"github.com/bestpath/chatops/internal/config"
	"github.com/bestpath/chatops/internal/core"
)

type Server struct {
	router chi.Router
	logger zerolog.Logger
	d      *core.Dispatcher
	cfg    *config.Config
}

func NewServer(logger zerolog.Logger, d *core.Dispatcher, cfg *config.Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		logger: logger,
		d:      d,
		cfg:    cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(mw.RequestLogger(s.logger))
	s.router.Use(middleware.Recoverer)
	s.router.Use(mw.Metrics)
}

func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint
	s.router.Handle("/metrics", promhttp.Handler())

	// Health and route inspection
	admin := handler.NewAdmin(s.d.Resolver())
	s.router.Get("/healthz", admin.Healthz)
	s.router.Get("/readyz", admin.Readyz)
	s.router.Get("/admin/route", admin.Route)

	// Chat platform entry points
	s.router.Route("/chat", func(r chi.Router) {
		r.Post("/cmd", handler.NewCommand(s.d).Forward)
		r.Post("/llm", handler.NewLLM(s.d).Forward)
		r.Post("/workflow", handler.NewWorkflow(s.d).Trigger)

		webhook := handler.NewWebhook(s.d)
		r.Post("/webhook/send", webhook.Send)
		r.Post("/webhook/table", webhook.Table)
	})

	// Outgoing webhook / slash command receiver
	s.router.Post("/webhook", handler.NewInbound(s.d).Receive)

	// Local command execution
	s.router.Post("/exec", handler.NewExecute(s.d).Run)

	// Automation tool-call adapter
	s.router.Post("/adapter/tools/{tool}", handler.NewAdapter(s.d).Forward)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
