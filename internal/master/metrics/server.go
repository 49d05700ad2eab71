package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"simlab/pkg/model"
)

// Snapshotter 引擎状态快照来源
type Snapshotter interface {
	Snapshot() *model.Snapshot
}

// Server HTTP 状态接口: /metrics (Prometheus 抓取)、/healthz、/snapshot
type Server struct {
	addr   string
	engine *gin.Engine
	log    *zap.Logger
}

func NewServer(addr string, recorder *PrometheusRecorder, source Snapshotter, log *zap.Logger) *Server {
	s := &Server{
		addr:   addr,
		engine: gin.New(),
		log:    log.Named("metrics"),
	}

	s.engine.Use(gin.Recovery())

	metricsHandler := promhttp.HandlerFor(recorder.Registry(), promhttp.HandlerOpts{})
	s.engine.GET("/metrics", func(c *gin.Context) {
		metricsHandler.ServeHTTP(c.Writer, c.Request)
	})
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/snapshot", func(c *gin.Context) {
		c.JSON(http.StatusOK, source.Snapshot())
	})
	return s
}

// Handler 测试使用
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve 阻塞直到 ctx 结束，随后优雅关闭
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Serving metrics", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("Failed to cleanly shutdown the HTTP server", zap.Error(err))
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
