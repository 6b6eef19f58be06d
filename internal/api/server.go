// Package api exposes the visit engine over HTTP.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/zulandar/visitline/internal/presence"
	"github.com/zulandar/visitline/internal/route"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB          *gorm.DB
	Routes      *route.Manager
	Presence    presence.Tracker
	JWTSecret   string
	Port        int
	Location    *time.Location // local zone for dates and access windows
	EarlyMargin time.Duration
	Logger      *zap.Logger
	Out         io.Writer
	Now         func() time.Time
}

type server struct {
	db       *gorm.DB
	routes   *route.Manager
	presence presence.Tracker
	loc      *time.Location
	early    time.Duration
	log      *zap.Logger
	now      func() time.Time
}

// NewRouter builds the gin engine with middleware and routes.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("api: db is required")
	}
	if opts.Routes == nil {
		return nil, fmt.Errorf("api: route manager is required")
	}
	if opts.JWTSecret == "" {
		return nil, fmt.Errorf("api: jwt secret is required")
	}
	s := &server{
		db:       opts.DB,
		routes:   opts.Routes,
		presence: opts.Presence,
		loc:      opts.Location,
		early:    opts.EarlyMargin,
		log:      opts.Logger,
		now:      opts.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}

	router := gin.New()
	router.Use(RequestID(), Logger(s.log), Recovery(s.log), gzip.Gzip(gzip.DefaultCompression))
	registerRoutes(router, s, opts.JWTSecret)
	return router, nil
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on :%d\n", opts.Port)
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
