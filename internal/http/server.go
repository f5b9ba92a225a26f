package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jmehdipour/mail-outbox/internal/config"
	"github.com/jmehdipour/mail-outbox/internal/http/middleware"
	"github.com/jmehdipour/mail-outbox/internal/metrics"
	"github.com/jmehdipour/mail-outbox/internal/repository"
	"github.com/jmehdipour/mail-outbox/internal/service/queue"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are the collaborators the API serves from.
type Deps struct {
	Queue   *queue.Service
	Journal repository.AttemptJournal // nil means no journal configured
	Redis   *redis.Client             // nil disables rate limiting
	Log     *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(cfg config.Config, d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Journal == nil {
		d.Journal = repository.NopJournal{}
	}

	// echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echoMid.Recover(), requestLogger(d.Log))

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	if len(cfg.HTTP.APIKeys) == 0 {
		d.Log.Warn("no api keys configured, /v1 is open")
	}
	authMW := middleware.APIKeyMiddleware(cfg.HTTP.APIKeys)
	rl := middleware.RateLimitConfig{
		Max:            cfg.RateLimit.Requests,
		KeyPrefix:      "rl:client:",
		Window:         cfg.RateLimit.Window,
		RetryAfterHint: true,
	}
	if d.Redis != nil {
		rl.Counter = middleware.RedisCounter{Redis: d.Redis}
	}
	rlMW := middleware.RateLimitMiddleware(rl)

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/emails", enqueueHandler(d.Queue))
	v1.GET("/emails/:id", getEmailHandler(d.Queue))
	v1.DELETE("/emails/:id", rollbackHandler(d.Queue))
	v1.GET("/emails/:id/attempts", listAttemptsHandler(d.Journal))

	return &Server{e: e, log: d.Log}
}

func requestLogger(log *zap.Logger) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			log.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(addr) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
