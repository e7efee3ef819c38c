package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/vbonduro/mealchat/internal/auth"
	"github.com/vbonduro/mealchat/internal/domain"
)

// imageReader is the subset of imagestore.ImageStore that Server requires.
type imageReader interface {
	Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error)
}

// recipeLister is the subset of store.RecipeStore that Server requires.
type recipeLister interface {
	List(ctx context.Context) ([]*domain.CatalogRecipe, error)
	Search(ctx context.Context, query string) ([]*domain.CatalogRecipe, error)
}

type Server struct {
	sessions *SessionRegistry
	images   imageReader
	recipes  recipeLister
	checker  auth.Checker
	mux      *http.ServeMux
	logger   *slog.Logger

	// turns tracks session work that outlives its request.
	turns sync.WaitGroup
}

// NewServer wires the HTTP surface. images, recipes and checker may be nil;
// a nil checker disables authentication.
func NewServer(sessions *SessionRegistry, images imageReader, recipes recipeLister, checker auth.Checker, logger *slog.Logger) *Server {
	s := &Server{
		sessions: sessions,
		images:   images,
		recipes:  recipes,
		checker:  checker,
		mux:      http.NewServeMux(),
		logger:   logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("POST /sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.handleDeleteSession)
	s.mux.HandleFunc("POST /sessions/{id}/messages", s.handleSubmitMessage)
	s.mux.HandleFunc("POST /sessions/{id}/draft", s.handleDraft)
	s.mux.HandleFunc("POST /sessions/{id}/images/dish", s.handleUploadDish)
	s.mux.HandleFunc("POST /sessions/{id}/images/ingredients", s.handleUploadIngredients)
	s.mux.HandleFunc("GET /sessions/{id}/events", s.handleEvents)
	s.mux.HandleFunc("GET /images/{key}", s.handleGetImage)
	s.mux.HandleFunc("GET /recipes", s.handleListRecipes)
}

// securityHeaders adds browser hardening headers to every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}

// basicAuth guards every route except the health check when a checker is set.
func basicAuth(checker auth.Checker, logger *slog.Logger, next http.Handler) http.Handler {
	if checker == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}
		email, password, ok := r.BasicAuth()
		if !ok || checker.Check(r.Context(), email, password) != nil {
			if ok {
				logger.Warn("authentication failed", "path", r.URL.Path)
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="mealchat", charset="UTF-8"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestLogger(s.logger, securityHeaders(basicAuth(s.checker, s.logger, s.mux))).ServeHTTP(w, r)
}

// HTTPServer returns an *http.Server for addr. Event streams clear their own
// write deadline.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// Wait blocks until every background turn has finished.
func (s *Server) Wait() {
	s.turns.Wait()
}

// goTurn runs fn detached from the request so the turn completes even if the
// client goes away.
func (s *Server) goTurn(r *http.Request, sessionID, kind string, fn func(ctx context.Context) error) {
	ctx := context.WithoutCancel(r.Context())
	s.turns.Add(1)
	go func() {
		defer s.turns.Done()
		if err := fn(ctx); err != nil {
			s.logger.Error("session turn failed", "session_id", sessionID, "kind", kind, "error", err)
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": s.sessions.Len()}, s.logger)
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("write json failed", "error", err)
	}
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
