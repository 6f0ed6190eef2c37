package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"dhcptap/internal/server/api"
	"dhcptap/internal/server/storage"
	"dhcptap/internal/server/storage/duckdb"
	"dhcptap/internal/server/storage/sqlite"
)

type Server struct {
	httpServer *http.Server
	store      storage.Store
}

func NewServer(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := openStore(cfg.DB)
	if err != nil {
		return nil, err
	}
	return newServer(cfg.Listen, store), nil
}

func newServer(listen string, store storage.Store) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), accessLog())
	api.NewHandlers(store).Register(router)

	return &Server{
		store: store,
		httpServer: &http.Server{
			Addr:              listen,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func openStore(cfg DBConfig) (storage.Store, error) {
	logrus.WithFields(logrus.Fields{"driver": cfg.Driver, "path": cfg.Path}).Info("打开数据库")
	if cfg.Driver == DriverSQLite {
		return sqlite.NewStore(cfg.Path)
	}
	return duckdb.NewStore(cfg.Path)
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	_ = s.httpServer.Shutdown(ctx)
	return s.store.Close()
}

// Run 阻塞直到 ctx 结束，然后优雅关闭。
func Run(ctx context.Context, cfg Config) error {
	srv, err := NewServer(cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("listen", cfg.Listen).Info("server 开始监听")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		_ = srv.store.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start),
			"client":  c.ClientIP(),
		}).Debug("http")
	}
}
