// Package apiserver exposes the excavation engine over HTTP: a single turn
// endpoint plus health, behind request-id and per-client rate-limit
// middleware.
package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/protolith/excavate/internal/config"
)

// Server owns the HTTP listener lifecycle.
type Server struct {
	cfg    config.ServerConfig
	http   *http.Server
	logger *zap.Logger
}

// NewServer wires the router and middleware around the handlers.
func NewServer(cfg config.ServerConfig, handlers *Handlers, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	registerValidations()
	router := gin.New()
	router.Use(gin.Recovery(), requestID())

	router.GET("/healthz", handlers.HandleHealth)

	v1 := router.Group("/v1")
	if cfg.RatePerMinute > 0 {
		limiter := newRateLimiter(cfg.RatePerMinute, cfg.RateBurst)
		v1.Use(limiter.middleware(logger))
	}
	v1.POST("/excavate", handlers.HandleExcavate)

	return &Server{
		cfg: cfg,
		http: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger.Named("server"),
	}
}

// Run serves until the context is canceled, then drains in-flight requests
// within the configured shutdown window.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
