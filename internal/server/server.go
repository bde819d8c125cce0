// Package server exposes the pipeline over a JSON HTTP API.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/invoicator-app/invoicator/internal/export"
	"github.com/invoicator-app/invoicator/internal/jobfiles"
	"github.com/invoicator-app/invoicator/internal/pipeline"
	"github.com/invoicator-app/invoicator/internal/store"
	"github.com/invoicator-app/invoicator/internal/vault"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// Deps bundles everything the handlers reach into.
type Deps struct {
	Processor *pipeline.Processor
	Queue     *pipeline.Queue
	Store     store.Store
	Vault     *vault.Vault
	Files     *jobfiles.Manager
	Sweeper   *jobfiles.Sweeper
	Export    *export.Service
}

func New(addr string, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))

	r.Get("/healthz", h.health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/documents/analyze", h.analyzeDocument)
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/{jobID}", h.jobStatus)
			r.Post("/{jobID}/process", h.processJob)
			r.Delete("/{jobID}", h.deleteJob)
		})
		r.Get("/invoices", h.listInvoices)
		r.Get("/invoices/{invoiceID}", h.getInvoice)
		r.Get("/invoices/export.xlsx", h.exportInvoices)
		r.Post("/cleanup", h.cleanup)
		r.Route("/credentials", func(r chi.Router) {
			r.Get("/", h.credentialStatus)
			r.Put("/{provider}", h.storeCredential)
			r.Post("/{provider}/validate", h.validateCredential)
			r.Delete("/{provider}", h.deleteCredential)
		})
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  2 * time.Minute,
		},
		logger: logger,
	}
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("server.listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("server.request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"elapsed_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
