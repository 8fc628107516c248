package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Stanislav1275/thermal-detecteion-backend/internal/async"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/common"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/export"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/processor"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/storage"
)

const apiVersion = "1.0.0"

// Server is the HTTP surface over the job storage and the background queue.
type Server struct {
	storage           *storage.JobStorage
	queue             async.Queue
	processor         *processor.Processor
	exports           *export.Service
	logger            *slog.Logger
	defaultConfidence float64
	maxUploadBytes    int64
}

type Config struct {
	DefaultConfidence float64
	MaxUploadBytes    int64
}

func New(store *storage.JobStorage, queue async.Queue, proc *processor.Processor, exports *export.Service, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 200 << 20
	}
	return &Server{
		storage:           store,
		queue:             queue,
		processor:         proc,
		exports:           exports,
		logger:            logger,
		defaultConfidence: cfg.DefaultConfidence,
		maxUploadBytes:    cfg.MaxUploadBytes,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Get("/jobs", s.handleListJobs)
		r.Route("/jobs/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetJob)
			r.Patch("/", s.handleRenameJob)
			r.Delete("/", s.handleDeleteJob)
			r.Get("/results", s.handleGetResults)
			r.Get("/input/{filename}", s.handleGetInputImage)
			r.Get("/output/{filename}", s.handleGetOutputImage)
			r.Get("/archive", s.handleGetArchive)
			r.Get("/export", s.handleExport)
		})
	})

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Thermal Person Detection API",
		"version": apiVersion,
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "healthy"
	if !s.processor.Ready() {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       status,
		"model_loaded": s.processor.Ready(),
	})
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}

// writeDomainErr maps the application error taxonomy to HTTP status codes.
func writeDomainErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		writeErr(w, http.StatusNotFound, err)
	case errors.Is(err, common.ErrInvalidInput), errors.Is(err, common.ErrValidation):
		writeErr(w, http.StatusBadRequest, err)
	case errors.Is(err, common.ErrUnavailable):
		writeErr(w, http.StatusServiceUnavailable, err)
	default:
		writeErr(w, http.StatusInternalServerError, err)
	}
}
