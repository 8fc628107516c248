package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Stanislav1275/thermal-detecteion-backend/constants"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/common"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/entity"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/intake"
)

const (
	manifestFilename   = "manifest.json"
	detectionsFilename = "detections.json"
	inputDirname       = "input"
	outputDirname      = "output"
)

// JobStorage owns the on-disk representation of all job state. Every job
// lives in its own directory under the base dir:
//
//	<base>/<job_id>/input/          uploaded images
//	<base>/<job_id>/output/         copies of images with detections
//	<base>/<job_id>/manifest.json   lifecycle document
//	<base>/<job_id>/detections.json per-image result set
//	<base>/<job_id>/results_*.zip   built result archives
//
// No other component touches job directories directly. Each job has exactly
// one producing worker, so manifest read-modify-write runs without locks.
type JobStorage struct {
	baseDir string
	logger  *slog.Logger
}

// NewJobStorage creates the storage root if needed.
func NewJobStorage(baseDir string, logger *slog.Logger) (*JobStorage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, common.WrapError(err, "create storage root")
	}
	return &JobStorage{baseDir: baseDir, logger: logger}, nil
}

// CreateJob allocates a fresh job id, resolves a unique display name and
// writes the initial queued manifest. An empty name gets one synthesized
// from the current time.
func (s *JobStorage) CreateJob(name string, confidenceThreshold float64, totalImages int) (*entity.Job, error) {
	jobID := uuid.NewString()

	if name == "" {
		name = "job_" + time.Now().Format("20060102_150405")
	}
	name, err := s.resolveUniqueName(name, "")
	if err != nil {
		return nil, err
	}

	dir := s.jobDir(jobID)
	for _, sub := range []string{dir, filepath.Join(dir, inputDirname), filepath.Join(dir, outputDirname)} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, common.WrapError(err, "create job dir")
		}
	}

	job := &entity.Job{
		JobID:       jobID,
		Name:        name,
		Status:      constants.JobStatusQueued,
		TotalImages: totalImages,
		CreatedAt:   time.Now().UTC(),
		Parameters:  entity.Parameters{ConfidenceThreshold: confidenceThreshold},
	}
	if err := s.saveManifest(job); err != nil {
		return nil, err
	}

	s.logger.Info("job created", "job_id", jobID, "name", name, "total_images", totalImages)
	return job, nil
}

// GetStatus reads the current manifest. Unknown ids and unreadable
// manifests come back as common.ErrNotFound.
func (s *JobStorage) GetStatus(jobID string) (*entity.Job, error) {
	return s.loadManifest(jobID)
}

// ListJobs returns all known jobs, most recently created first. Jobs whose
// manifests cannot be read are skipped.
func (s *JobStorage) ListJobs() ([]*entity.Job, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, common.WrapError(err, "read storage root")
	}

	jobs := make([]*entity.Job, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		job, err := s.loadManifest(e.Name())
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// UpdateStatus merges a partial update into the manifest. Counters are only
// touched when the caller supplies them. The completion timestamp is set
// when the new status is terminal. An unknown job id is a silent no-op:
// the producing worker is the only caller and logs cover the mismatch.
func (s *JobStorage) UpdateStatus(jobID string, status constants.JobStatus, processedImages, imagesWithDetections *int) error {
	job, err := s.loadManifest(jobID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.logger.Warn("status update for unknown job dropped", "job_id", jobID, "status", status)
			return nil
		}
		return err
	}

	job.Status = status
	if processedImages != nil {
		job.ProcessedImages = *processedImages
	}
	if imagesWithDetections != nil {
		job.ImagesWithDetections = *imagesWithDetections
	}
	if status.Terminal() {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}

	return s.saveManifest(job)
}

// UpdateName renames a job, re-resolving uniqueness against all other jobs.
func (s *JobStorage) UpdateName(jobID, newName string) (string, error) {
	job, err := s.loadManifest(jobID)
	if err != nil {
		return "", err
	}

	resolved, err := s.resolveUniqueName(newName, jobID)
	if err != nil {
		return "", err
	}
	job.Name = resolved
	if err := s.saveManifest(job); err != nil {
		return "", err
	}

	s.logger.Info("job renamed", "job_id", jobID, "name", resolved)
	return resolved, nil
}

// SaveDetections overwrites the job's full result set in one rewrite.
func (s *JobStorage) SaveDetections(jobID string, records []entity.ImageResult) error {
	if _, err := os.Stat(s.jobDir(jobID)); err != nil {
		return common.NotFoundError(jobID)
	}
	if records == nil {
		records = []entity.ImageResult{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return common.WrapError(err, "marshal detections")
	}
	return atomicWrite(filepath.Join(s.jobDir(jobID), detectionsFilename), data)
}

// GetDetections reads the job's result set. Missing or invalid documents
// come back as common.ErrNotFound.
func (s *JobStorage) GetDetections(jobID string) ([]entity.ImageResult, error) {
	path := filepath.Join(s.jobDir(jobID), detectionsFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.NotFoundError(jobID)
		}
		return nil, common.WrapError(err, "read detections")
	}
	if err := validateDocument(compiledDetectionsSchema, data); err != nil {
		s.logger.Warn("invalid detections document", "job_id", jobID, "error", err)
		return nil, common.NotFoundError(jobID)
	}
	var records []entity.ImageResult
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, common.WrapError(err, "unmarshal detections")
	}
	return records, nil
}

// InputImagePath returns the path of an input image, or ErrNotFound.
func (s *JobStorage) InputImagePath(jobID, filename string) (string, error) {
	return s.imagePath(jobID, inputDirname, filename)
}

// OutputImagePath returns the path of an output image, or ErrNotFound.
func (s *JobStorage) OutputImagePath(jobID, filename string) (string, error) {
	return s.imagePath(jobID, outputDirname, filename)
}

// DeleteJob removes the job's entire storage area, images, result documents
// and built archives included. Returns false when the job did not exist or
// removal failed; it never panics on partial failure.
func (s *JobStorage) DeleteJob(jobID string) bool {
	dir := s.jobDir(jobID)
	if _, err := os.Stat(dir); err != nil {
		return false
	}
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Error("job deletion failed", "job_id", jobID, "error", err)
		return false
	}
	s.logger.Info("job deleted", "job_id", jobID)
	return true
}

// InputDir returns the job's input image area.
func (s *JobStorage) InputDir(jobID string) string {
	return filepath.Join(s.jobDir(jobID), inputDirname)
}

// OutputDir returns the job's output image area.
func (s *JobStorage) OutputDir(jobID string) string {
	return filepath.Join(s.jobDir(jobID), outputDirname)
}

func (s *JobStorage) jobDir(jobID string) string {
	return filepath.Join(s.baseDir, filepath.Base(jobID))
}

func (s *JobStorage) imagePath(jobID, area, filename string) (string, error) {
	filename = intake.SanitizeFilename(filename)
	path := filepath.Join(s.jobDir(jobID), area, filename)
	if _, err := os.Stat(path); err != nil {
		return "", common.NotFoundError(filename)
	}
	return path, nil
}

// resolveUniqueName appends _1, _2, ... until the name collides with no
// other live job. A linear scan over all manifests is fine at this job
// volume; create and rename are not hot paths.
func (s *JobStorage) resolveUniqueName(name, excludeJobID string) (string, error) {
	jobs, err := s.ListJobs()
	if err != nil {
		return "", err
	}
	taken := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		if j.JobID == excludeJobID {
			continue
		}
		taken[j.Name] = struct{}{}
	}

	candidate := name
	for i := 1; ; i++ {
		if _, ok := taken[candidate]; !ok {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s_%d", name, i)
	}
}

func (s *JobStorage) loadManifest(jobID string) (*entity.Job, error) {
	path := filepath.Join(s.jobDir(jobID), manifestFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, common.NotFoundError(jobID)
		}
		return nil, common.WrapError(err, "read manifest")
	}
	if err := validateDocument(compiledManifestSchema, data); err != nil {
		s.logger.Warn("invalid manifest document", "job_id", jobID, "error", err)
		return nil, common.NotFoundError(jobID)
	}
	var job entity.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, common.WrapError(err, "unmarshal manifest")
	}
	return &job, nil
}

func (s *JobStorage) saveManifest(job *entity.Job) error {
	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return common.WrapError(err, "marshal manifest")
	}
	return atomicWrite(filepath.Join(s.jobDir(job.JobID), manifestFilename), data)
}

// atomicWrite rewrites a document via temp file and rename so readers never
// observe a half-written file.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return common.WrapError(err, "write document")
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return common.WrapError(err, "replace document")
	}
	return nil
}
