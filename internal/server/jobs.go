package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Stanislav1275/thermal-detecteion-backend/internal/common"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/entity"
)

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	jobs, err := s.storage.ListJobs()
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.storage.GetStatus(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleRenameJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeErr(w, http.StatusBadRequest, errors.New("name is required"))
		return
	}

	jobID := chi.URLParam(r, "id")
	resolved, err := s.storage.UpdateName(jobID, req.Name)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": jobID, "name": resolved})
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if !s.storage.DeleteJob(jobID) {
		writeErr(w, http.StatusNotFound, fmt.Errorf("job %s not found", jobID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetResults returns the full per-image record list, failed images
// included, plus summary metadata.
func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	job, err := s.storage.GetStatus(jobID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	records, err := s.storage.GetDetections(jobID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		writeDomainErr(w, err)
		return
	}
	if records == nil {
		records = []entity.ImageResult{}
	}

	totalDetections := 0
	imagesWithPeople := 0
	for _, rec := range records {
		totalDetections += len(rec.Detections)
		if len(rec.Detections) > 0 {
			imagesWithPeople++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": jobID,
		"images": records,
		"metadata": map[string]any{
			"total_detections":         totalDetections,
			"total_images_with_people": imagesWithPeople,
			"status":                   job.Status,
		},
	})
}

func (s *Server) handleGetInputImage(w http.ResponseWriter, r *http.Request) {
	path, err := s.storage.InputImagePath(chi.URLParam(r, "id"), chi.URLParam(r, "filename"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

func (s *Server) handleGetOutputImage(w http.ResponseWriter, r *http.Request) {
	path, err := s.storage.OutputImagePath(chi.URLParam(r, "id"), chi.URLParam(r, "filename"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	http.ServeFile(w, r, path)
}

// handleGetArchive builds and streams a result archive. Query parameters:
// source=input|output (default output), min_confidence (default 0),
// only_detected=true|false (default false).
func (s *Server) handleGetArchive(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	source := strings.TrimSpace(r.URL.Query().Get("source"))
	if source == "" {
		source = "output"
	}
	if source != "input" && source != "output" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid source %q, expected input or output", source))
		return
	}

	minConfidence := 0.0
	if raw := strings.TrimSpace(r.URL.Query().Get("min_confidence")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value < 0 || value > 1 {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("min_confidence must be a number in [0, 1], got %q", raw))
			return
		}
		minConfidence = value
	}

	onlyDetected := false
	if raw := strings.TrimSpace(r.URL.Query().Get("only_detected")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("only_detected must be a boolean, got %q", raw))
			return
		}
		onlyDetected = value
	}

	path, err := s.storage.BuildResultArchive(jobID, source == "input", minConfidence, onlyDetected)
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	data, err := s.exports.ExportDetectionsXLSX(jobID)
	if err != nil {
		writeDomainErr(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "detections_"+jobID+".xlsx"))
	_, _ = w.Write(data)
}
