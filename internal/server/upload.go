package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Stanislav1275/thermal-detecteion-backend/internal/async"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/common"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/intake"
)

// handleUpload accepts a multipart batch of images and/or zip archives,
// stages the valid files, creates the job and enqueues it. The response
// returns as soon as the job record exists; processing happens in the
// background.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.processor.Ready() {
		writeErr(w, http.StatusServiceUnavailable,
			errors.New("detector is not initialized, check that a trained model is available"))
		return
	}

	// The body is capped before any form access: FormValue would otherwise
	// trigger an implicit parse with no size limit at all.
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, http.StatusRequestEntityTooLarge,
				fmt.Errorf("upload exceeds the %d byte limit", tooLarge.Limit))
			return
		}
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}

	// The threshold is validated before any file lands in the permanent store.
	confidence := s.defaultConfidence
	if raw := strings.TrimSpace(r.FormValue("confidence_threshold")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil || value < 0 || value > 1 {
			writeErr(w, http.StatusBadRequest,
				fmt.Errorf("confidence_threshold must be a number in [0, 1], got %q", raw))
			return
		}
		confidence = value
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeErr(w, http.StatusBadRequest, errors.New("no files uploaded, send them in the 'files' field"))
		return
	}

	staging, err := os.MkdirTemp("", "thermal-upload-*")
	if err != nil {
		writeErr(w, http.StatusInternalServerError, fmt.Errorf("create staging dir: %w", err))
		return
	}

	imagePaths, reasons := s.stageUpload(files, staging)
	if len(imagePaths) == 0 {
		_ = os.RemoveAll(staging)
		msg := "no valid images in upload, supported formats: TIFF, PNG, JPEG, WEBP"
		if len(reasons) > 0 {
			if len(reasons) > 5 {
				reasons = reasons[:5]
			}
			msg += ": " + strings.Join(reasons, "; ")
		}
		writeErr(w, http.StatusBadRequest, errors.New(msg))
		return
	}

	job, err := s.storage.CreateJob(strings.TrimSpace(r.FormValue("name")), confidence, len(imagePaths))
	if err != nil {
		_ = os.RemoveAll(staging)
		writeDomainErr(w, err)
		return
	}

	if err := s.queue.Enqueue(r.Context(), async.Job{
		JobID:               job.JobID,
		ImagePaths:          imagePaths,
		ConfidenceThreshold: confidence,
		StagingDir:          staging,
		SubmittedAt:         time.Now(),
	}); err != nil {
		writeErr(w, http.StatusInternalServerError, common.WrapError(err, "enqueue job"))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":  job.JobID,
		"name":    job.Name,
		"message": fmt.Sprintf("job created, processing %d images", len(imagePaths)),
	})
}

// stageUpload copies every usable upload into the staging dir, expanding
// archives along the way. Per-file problems are collected as reasons, not
// failures: the upload is only rejected when nothing survives.
func (s *Server) stageUpload(files []*multipart.FileHeader, staging string) ([]string, []string) {
	var imagePaths []string
	var reasons []string

	for _, fh := range files {
		name := intake.SanitizeFilename(fh.Filename)

		switch {
		case intake.IsArchive(name):
			data, err := readUpload(fh)
			if err != nil {
				reasons = append(reasons, fmt.Sprintf("%s: %v", fh.Filename, err))
				continue
			}
			extracted, err := intake.ExtractArchive(data, staging)
			if err != nil {
				reasons = append(reasons, fmt.Sprintf("%s: %v", fh.Filename, err))
				continue
			}
			for _, e := range extracted {
				imagePaths = append(imagePaths, e.Path)
			}

		case intake.ValidateImageFormat(name):
			data, err := readUpload(fh)
			if err != nil {
				reasons = append(reasons, fmt.Sprintf("%s: %v", fh.Filename, err))
				continue
			}
			if len(data) == 0 {
				reasons = append(reasons, fmt.Sprintf("%s: file is empty", fh.Filename))
				continue
			}
			path := intake.UniquePath(staging, name)
			if err := os.WriteFile(path, data, 0o644); err != nil {
				reasons = append(reasons, fmt.Sprintf("%s: %v", fh.Filename, err))
				continue
			}
			imagePaths = append(imagePaths, path)

		default:
			reasons = append(reasons, fmt.Sprintf("%s: unsupported format", fh.Filename))
		}
	}
	return imagePaths, reasons
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return io.ReadAll(f)
}
