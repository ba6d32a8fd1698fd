package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/akhi19-dev/incident-agent/internal/config"
	"github.com/akhi19-dev/incident-agent/internal/utils"
)

const readHeaderTimeout = 10 * time.Second

// NewRouter builds the webhook router with recovery, request logging and tracing middleware.
func NewRouter(logger *slog.Logger, handlers *Handlers, serviceName string) *gin.Engine {
	if logger == nil {
		logger = slog.Default()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(utils.Component(logger, "http")))
	if serviceName != "" {
		router.Use(otelgin.Middleware(serviceName))
	}
	handlers.Register(router)
	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
			slog.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("errors", c.Errors.String()))
		}
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("request failed", attrs...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("request rejected", attrs...)
		default:
			logger.Debug("request served", attrs...)
		}
	}
}

// HTTPServer runs the webhook router on the configured address.
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
}

// NewHTTPServer binds the listener for handler.
func NewHTTPServer(cfg config.ServerConfig, handler http.Handler) (*HTTPServer, error) {
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, err
	}
	return &HTTPServer{
		server:   &http.Server{Handler: handler, ReadHeaderTimeout: readHeaderTimeout},
		listener: lis,
	}, nil
}

// Start serves until Shutdown. A clean shutdown returns nil.
func (s *HTTPServer) Start() error {
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight handlers until ctx expires.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Address exposes the bound listener address.
func (s *HTTPServer) Address() string {
	return s.listener.Addr().String()
}
