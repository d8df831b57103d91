// Package netapi exposes the HTTP producer surface: event submission, a
// synchronous chat endpoint, and queue introspection. It only ever pushes
// onto the queue; processing stays with the dispatch loop.
package netapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rgould/conductor/internal/config"
	"github.com/rgould/conductor/internal/dispatch"
	"gorm.io/gorm"
)

// StartOpts holds configuration for the network API server.
type StartOpts struct {
	DB      *gorm.DB
	Config  config.NetworkConfig
	Waiters *dispatch.Waiters
	Out     io.Writer
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("netapi: db is required")
	}
	if opts.Config.Addr == "" {
		opts.Config.Addr = "127.0.0.1:8141"
	}

	srv := &http.Server{
		Addr:    opts.Config.Addr,
		Handler: newRouter(opts),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://%s\n", opts.Config.Addr)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("netapi: %w", err)
	}
	return nil
}

// newRouter builds the gin engine with all routes registered. Split from
// Start so tests can drive handlers without a listener.
func newRouter(opts StartOpts) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", handleHealth)

	v1 := router.Group("/v1")
	if opts.Config.RequireAuth {
		v1.Use(authMiddleware(opts.Config.APIKey))
	}
	v1.POST("/events", handlePushEvent(opts.DB))
	v1.GET("/events/:id", handleGetEvent(opts.DB))
	v1.GET("/queue/stats", handleQueueStats(opts.DB))
	v1.POST("/chat", handleChat(opts))

	return router
}

// authMiddleware rejects requests without the configured bearer key.
func authMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") != "Bearer "+apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
