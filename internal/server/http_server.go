// Package server assembles the Echo HTTP server hosting the protocol
// endpoints, the metrics endpoint and health checks.
package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	echoapi "go.oluso.dev/idp/api/echo"
	"go.oluso.dev/idp/config"
	"go.oluso.dev/idp/middleware"
)

// HealthChecker reports whether a backing store is reachable. Backends that
// have nothing to check may pass a nil checker.
type HealthChecker func() error

// NewHTTPServer builds the HTTP server: protocol routes, request logging,
// recovery, /metrics and /healthz.
func NewHTTPServer(cfg *config.ServerConfig, oauthAPI *echoapi.OAuth2API, registry *prometheus.Registry, health HealthChecker) *http.Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(requestLogger())

	oauthAPI.RegisterRoutes(e, middleware.InternalKeyAuth(cfg.InternalAPIKey))

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	e.GET("/healthz", func(c echo.Context) error {
		if health != nil {
			if err := health(); err != nil {
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "unhealthy"})
			}
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})

	return &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      e,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// requestLogger emits one structured log line per request.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			evt := log.Info()
			if err != nil {
				evt = log.Warn().Err(err)
			}
			evt.
				Str("method", c.Request().Method).
				Str("path", c.Request().URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("http request")
			return err
		}
	}
}
