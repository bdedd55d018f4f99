// Package adminserver exposes the operator-facing diagnostics surface for a
// running service host: a health check and a status endpoint reporting
// registered orchestrators and, summed over their places, the number of
// join bases that are complete but held back awaiting their turn. The
// status endpoint does not report cached rule-base versions or joins that
// are still waiting for branches.
package adminserver

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onyxflow/workflow-engine/internal/joincoord"
	"github.com/onyxflow/workflow-engine/internal/rulehandler"
)

// PlaceStatus summarizes one deployed orchestrator's place.
type PlaceStatus struct {
	PlaceID   string `json:"placeId"`
	Service   string `json:"service"`
	Operation string `json:"operation"`
}

// Server wraps an echo.Echo configured with the diagnostics routes.
type Server struct {
	echo *echo.Echo

	serviceName string
	places      []PlaceStatus
	registry    *rulehandler.Registry
	join        *joincoord.Coordinator
}

// New builds a Server for serviceName, reporting on places, registry and
// join.
func New(serviceName string, places []PlaceStatus, registry *rulehandler.Registry, join *joincoord.Coordinator) *Server {
	s := &Server{serviceName: serviceName, places: places, registry: registry, join: join}
	s.echo = setupEcho()
	setupMiddleware(s.echo)
	s.registerRoutes()
	return s
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealthz)
	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": s.serviceName})
}

type statusResponse struct {
	Service         string        `json:"service"`
	Places          []PlaceStatus `json:"places"`
	JoinBasesActive int           `json:"joinBasesActive"`
}

func (s *Server) handleStatus(c echo.Context) error {
	resp := statusResponse{Service: s.serviceName, Places: s.places}
	if s.join != nil {
		for _, p := range s.places {
			resp.JoinBasesActive += len(s.join.ReadyBases(p.PlaceID))
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// Start runs the admin server on addr, blocking until it errors or is
// shut down.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the admin server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
