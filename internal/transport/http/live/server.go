package livehttp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"tradeloop/internal/event"
	"tradeloop/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the operator control plane: health, metrics, status and the
// command endpoints that publish onto the engine's feed.
type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig describes the live HTTP server's dependencies. Commands is
// required; the rest are optional.
type ServerConfig struct {
	Addr     string
	Commands event.Publisher
	Status   StatusProvider
	Sessions SessionLister
	Gatherer prometheus.Gatherer
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Commands == nil {
		return nil, errors.New("live http server requires a command publisher")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}
	NewRouter(cfg.Commands, cfg.Status, cfg.Sessions).Register(router.Group("/api"))

	return &Server{addr: cfg.Addr, router: router}, nil
}

// requestLogger records operator calls so commands can be traced back.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path += "?" + q
		}
		c.Next()
		logger.Debugf("HTTP %s %s status=%d ip=%s dur=%s", method, path, c.Writer.Status(), c.ClientIP(), time.Since(start))
	}
}

func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Infof("live http listening on %s", s.addr)

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
