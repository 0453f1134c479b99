// Package api serves the approval gate over HTTP, so an agent harness in another process can ask whether a tool call may run unattended.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/codalotl/autoapprove/internal/commandpolicy"
	"github.com/codalotl/autoapprove/internal/logger"
	"github.com/codalotl/autoapprove/internal/review"
	"github.com/gin-gonic/gin"
)

var log = logger.New("api")

// PolicySource exposes the active command policy.
type PolicySource interface {
	Snapshot() commandpolicy.File
}

// ReadinessChecker reports whether the evaluator has all of its collaborators.
type ReadinessChecker interface {
	Ready() bool
}

// Options configures a Server.
type Options struct {
	Reviewer     *review.Reviewer
	Policy       PolicySource     // optional; GET /v1/policy is 404 without it
	Readiness    ReadinessChecker // optional; without it /healthz always reports ready
	MaxBodyBytes int64            // 0 means MaxBodySize
}

// Server is the HTTP approval API.
type Server struct {
	opts   Options
	engine *gin.Engine
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

// NewServer builds the router.
func NewServer(opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = MaxBodySize
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), RequestIDMiddleware(), SecurityHeadersMiddleware(), LoggingMiddleware())

	s := &Server{opts: opts, engine: engine}

	engine.GET("/healthz", s.HandleHealth)

	v1 := engine.Group("/v1")
	v1.Use(BodySizeLimitMiddleware(opts.MaxBodyBytes))
	v1.POST("/review", s.HandleReview)
	v1.POST("/outcome", s.HandleOutcome)
	v1.GET("/policy", s.HandlePolicy)

	return s
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info("listening on %s", ln.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
