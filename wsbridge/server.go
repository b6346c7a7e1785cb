// Package wsbridge serves collections over HTTP and streams their progress
// to websocket clients.
package wsbridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-hclog"
	"github.com/rs/cors"

	"cellgrid/engine"
	"cellgrid/scheduler"
)

const (
	bodyLimit       = 1 << 20
	shutdownTimeout = 10 * time.Second
)

type Options struct {
	Engine *engine.Engine
	// Limiters are reported by GET /limiters (optional)
	Limiters       []*scheduler.Limiter
	AllowedOrigins []string
	Logger         hclog.Logger
}

// Server is the HTTP surface of an engine. Runs started without ?wait
// outlive their request and are cancelled by Close.
type Server struct {
	engine   *engine.Engine
	limiters []*scheduler.Limiter
	hub      *Hub
	handler  http.Handler
	logger   hclog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewServer(opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("server needs an engine")
	}
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	logger = logger.Named("server")

	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
	checkOrigin := func(r *http.Request) bool {
		return r.Header.Get("Origin") == "" || c.OriginAllowed(r)
	}

	s := &Server{
		engine:   opts.Engine,
		limiters: opts.Limiters,
		hub:      NewHub(opts.Engine, checkOrigin, logger),
		logger:   logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.handler = c.Handler(s.routes())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.hub.Run(s.ctx)
	}()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.hub.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(requestLogger(s.logger))

		r.Get("/healthz", s.handleHealth)
		r.Get("/limiters", s.handleLimiters)
		r.Post("/plans", s.handleCreatePlan)

		r.Route("/collections", func(r chi.Router) {
			r.Get("/", s.handleListCollections)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetCollection)
				r.Delete("/", s.handleDeleteCollection)
				r.Get("/state", s.handleGetState)
				r.Get("/plan", s.handleGetPlan)
				r.Post("/run", s.handleRun)

				r.Post("/tasks", s.handleAddTask)
				r.Put("/tasks/{task}", s.handleUpdateTask)
				r.Delete("/tasks/{task}", s.handleRemoveTask)
				r.Post("/targets", s.handleAddTarget)
				r.Delete("/targets/{target}", s.handleRemoveTarget)

				r.Post("/tasks/{task}/targets/{target}/retry", s.handleRetry)
				r.Put("/tasks/{task}/targets/{target}/edit", s.handleEdit)
			})
		})
	})
	return r
}

// Handler returns the server's HTTP handler, CORS included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully and cancels background runs.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close stops the hub and cancels runs started in the background.
func (s *Server) Close() {
	s.cancel()
	s.wg.Wait()
}

// requestLogger logs every request at debug level.
func requestLogger(logger hclog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start))
		})
	}
}
