package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/autopress/autopress/config"
	"github.com/autopress/autopress/internal/pipeline"
	"github.com/autopress/autopress/internal/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes the pipeline over HTTP. Handlers only translate between
// JSON and the orchestrator; all state lives behind it.
type Server struct {
	cfg    config.ServerConfig
	orch   *pipeline.Orchestrator
	store  pipeline.Store
	tele   *telemetry.Telemetry
	logger *log.Logger
	echo   *echo.Echo
}

func New(cfg config.ServerConfig, orch *pipeline.Orchestrator, store pipeline.Store, tele *telemetry.Telemetry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	if tele == nil {
		tele = telemetry.Default()
	}
	s := &Server{cfg: cfg, orch: orch, store: store, tele: tele, logger: logger}
	s.echo = s.buildEcho()
	return s
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type"},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.tele.Registry(), promhttp.HandlerOpts{})))

	api := e.Group("/api")
	wh := &workItemsHandler{orch: s.orch, store: s.store}
	wh.register(api.Group("/workitems"))
	return e
}

// Run blocks serving HTTP until the listener fails or is shut down.
func (s *Server) Run() error {
	addr := s.cfg.Address
	if addr == "" {
		addr = ":8080"
	}
	s.logger.Printf("listening on %s", addr)
	return s.echo.Start(addr)
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler { return s.echo }
