package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"brokle/internal/config"
	"brokle/internal/transport/http/handlers/health"
	"brokle/internal/transport/http/handlers/ingress"
	"brokle/internal/transport/http/middleware"
	"brokle/internal/transport/ws"
)

// Server is the pipeline's single HTTP surface: Ingress intake, the live
// alert broadcast upgrade endpoint, and health/metrics.
type Server struct {
	config  *config.Config
	logger  *logrus.Logger
	server  *http.Server
	engine  *gin.Engine
	ingress *ingress.Handler
	keyAuth *middleware.KeyAuthMiddleware
	health  *health.Handler
	hub     *ws.Hub

	serveErr chan error
}

func NewServer(
	cfg *config.Config,
	logger *logrus.Logger,
	ingressHandler *ingress.Handler,
	keyAuth *middleware.KeyAuthMiddleware,
	healthHandler *health.Handler,
	hub *ws.Hub,
) (*Server, error) {
	return &Server{
		config:   cfg,
		logger:   logger,
		ingress:  ingressHandler,
		keyAuth:  keyAuth,
		health:   healthHandler,
		hub:      hub,
		serveErr: make(chan error, 1),
	}, nil
}

// Start builds the gin engine, routes, and underlying http.Server, then
// begins serving in the background. It returns once the listener has been
// configured; terminal errors surface on ServeErr.
func (s *Server) Start() error {
	if s.config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	s.engine = gin.New()

	if len(s.config.Server.AllowedOrigins) == 0 {
		return errors.New("invalid CORS configuration: no origins specified in ALLOWED_ORIGINS")
	}

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = s.config.Server.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Content-Encoding", "X-API-Key", "X-Request-ID"}
	corsConfig.AllowCredentials = true
	corsConfig.MaxAge = 5 * time.Minute
	s.engine.Use(cors.New(corsConfig))

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Ingress.Port),
		Handler:      s.engine,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
	}

	go func() {
		s.logger.WithField("port", s.config.Ingress.Port).Info("starting http server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErr <- err
		}
	}()

	return nil
}

// ServeErr surfaces a terminal ListenAndServe error, if one occurs after
// Start returns.
func (s *Server) ServeErr() <-chan error {
	return s.serveErr
}

func (s *Server) setupRoutes() {
	s.engine.Use(middleware.RequestID())
	s.engine.Use(middleware.Logger(s.logger))
	s.engine.Use(middleware.Recovery(s.logger))
	s.engine.Use(middleware.Metrics())

	s.engine.GET("/health", s.health.Check)
	s.engine.HEAD("/health", s.health.Check)
	s.engine.GET("/ready", s.health.Ready)
	s.engine.HEAD("/ready", s.health.Ready)

	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.engine.Group("/v1")
	v1.Use(s.keyAuth.RequireAPIKey())
	v1.POST("/traces", s.ingress.Ingest)
	v1.GET("/alerts/stream", ws.Handler(s.hub))
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
