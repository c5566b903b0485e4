// Package web is the HTTP adapter over the submission API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dontdude/imgcap/internal/dispatch"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// Images is the submission API the handlers call.
type Images interface {
	Submit(ctx context.Context, sourceURL string) (string, error)
	Completed() []string
	Result(ctx context.Context, id string) ([]byte, bool, error)
}

// submitRequest is the body of POST /api/v1.0/images. A value that is not a URL is rejected
// here, since the worker would fail and requeue it forever.
type submitRequest struct {
	ImageURL string `json:"image_url" validate:"required,url"`
}

type submitResponse struct {
	ImageID string `json:"image_id"`
}

type listResponse struct {
	ImageIDs []string `json:"image_ids"`
}

type captionResponse struct {
	Caption string `json:"caption"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Options configures the HTTP listener.
type Options struct {
	Port int
	// TrustProxy honours X-Forwarded-For and X-Real-IP when identifying the client.
	TrustProxy bool
}

// Server serves the image captioning API.
type Server struct {
	images     Images
	hub        *Hub
	limiter    *RateLimiter
	validate   *validator.Validate
	trustProxy bool
	logger     *slog.Logger
	router     chi.Router
	http       *http.Server
}

// NewServer builds the router. limiter may be nil to disable rate limiting.
func NewServer(opts Options, images Images, hub *Hub, limiter *RateLimiter, logger *slog.Logger) *Server {
	s := &Server{
		images:     images,
		hub:        hub,
		limiter:    limiter,
		validate:   validator.New(),
		trustProxy: opts.TrustProxy,
		logger:     logger,
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if s.trustProxy {
		// Client-supplied headers would otherwise let anyone pick their rate limit bucket.
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)

	r.Route("/api/v1.0", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Middleware)
			}
			r.Post("/images", s.handleSubmit)
		})
		r.Get("/images", s.handleList)
		r.Get("/images/{id}", s.handleGet)
		r.Get("/ws", s.hub.ServeWS)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}

// ServeHTTP lets the server be driven directly, e.g. by httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe blocks until the server stops. It returns nil after Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("API server starting", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "image_url must be a valid URL")
		return
	}

	id, err := s.images.Submit(r.Context(), req.ImageURL)
	if errors.Is(err, dispatch.ErrBufferFull) {
		writeError(w, http.StatusServiceUnavailable, "Service overloaded, retry later")
		return
	}
	if err != nil {
		s.logger.Error("Failed to submit image", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{ImageID: id})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ids := s.images.Completed()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, listResponse{ImageIDs: ids})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	data, ok, err := s.images.Result(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to read result", "jobID", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Image not found.")
		return
	}

	writeJSON(w, http.StatusOK, captionResponse{Caption: string(data)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
