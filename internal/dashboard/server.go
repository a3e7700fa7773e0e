// Package dashboard serves the operator-facing JSON API over the engine's
// exposed operations.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/civitaslab/demandgen/internal/batch"
	"github.com/civitaslab/demandgen/internal/coverage"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB          *gorm.DB
	Store       coverage.Store
	Collab      *batch.Registry
	Port        int
	Pacing      time.Duration
	CallTimeout time.Duration
	Out         io.Writer
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("dashboard: db is required")
	}
	if opts.Store == nil {
		return fmt.Errorf("dashboard: coverage store is required")
	}
	if opts.Collab == nil {
		return fmt.Errorf("dashboard: collaborator registry is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	registerRoutes(router, &deps{
		db:          opts.DB,
		store:       opts.Store,
		collab:      opts.Collab,
		runs:        NewRunRegistry(),
		pacing:      opts.Pacing,
		callTimeout: opts.CallTimeout,
	})

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "demandgen API running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
