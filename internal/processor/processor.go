package processor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/Stanislav1275/thermal-detecteion-backend/constants"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/async"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/detector"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/entity"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/intake"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/storage"
)

// Processor drains a job's staged images through the detector and owns all
// mutation of that job's state while it runs.
type Processor struct {
	storage  *storage.JobStorage
	detector detector.Detector
	logger   *slog.Logger
}

func New(store *storage.JobStorage, det detector.Detector, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{storage: store, detector: det, logger: logger}
}

// Ready reports whether a detection model is loaded. Without one the
// service runs degraded: uploads are rejected, everything else works.
func (p *Processor) Ready() bool {
	return p.detector != nil
}

// ProcessJob runs the background loop for one job: status to processing,
// one pass over the staged images with running count updates after each,
// then the persisted result set and a terminal status. A failure of any
// single image is recorded and the batch continues; an error escaping the
// loop marks the whole job failed. The staging dir is removed on exit
// either way.
func (p *Processor) ProcessJob(ctx context.Context, job async.Job) (err error) {
	defer func() {
		if job.StagingDir != "" {
			_ = os.RemoveAll(job.StagingDir)
		}
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job processing panicked: %v", r)
		}
		if err != nil {
			p.markFailed(job.JobID, err)
		}
	}()

	if err := p.storage.UpdateStatus(job.JobID, constants.JobStatusProcessing, nil, nil); err != nil {
		return err
	}
	p.logger.Info("processor.job.start", "job_id", job.JobID, "images", len(job.ImagePaths))

	inputDir := p.storage.InputDir(job.JobID)
	outputDir := p.storage.OutputDir(job.JobID)

	results := make([]entity.ImageResult, 0, len(job.ImagePaths))
	processed := 0
	withDetections := 0

	for _, src := range job.ImagePaths {
		result := p.processImage(ctx, src, inputDir, outputDir, job.ConfidenceThreshold)
		results = append(results, result)
		processed++
		if len(result.Detections) > 0 {
			withDetections++
		}

		if err := p.storage.UpdateStatus(job.JobID, constants.JobStatusProcessing, &processed, &withDetections); err != nil {
			return err
		}
	}

	if err := p.storage.SaveDetections(job.JobID, results); err != nil {
		return err
	}
	if err := p.storage.UpdateStatus(job.JobID, constants.JobStatusCompleted, &processed, &withDetections); err != nil {
		return err
	}

	p.logger.Info("processor.job.ok", "job_id", job.JobID, "processed", processed, "with_detections", withDetections)
	return nil
}

// processImage moves one staged image into the job's input area, runs the
// detector over it and builds the per-image record. Errors never propagate:
// they land in the record so one bad image cannot abort the batch. The copy
// in the output area is only kept when the image has detections.
func (p *Processor) processImage(ctx context.Context, src, inputDir, outputDir string, confidence float64) entity.ImageResult {
	name := intake.SanitizeFilename(filepath.Base(src))
	inputPath := intake.UniquePath(inputDir, name)
	name = filepath.Base(inputPath)

	if err := copyFile(src, inputPath); err != nil {
		return failureResult(name, fmt.Errorf("store image: %w", err))
	}

	if p.detector == nil {
		return failureResult(name, fmt.Errorf("no detection model loaded"))
	}

	res, err := p.detector.Detect(ctx, inputPath, confidence)
	if err != nil {
		p.logger.Warn("processor.image.failed", "image", name, "error", err)
		return failureResult(name, err)
	}

	detections := make([]entity.Detection, 0, len(res.Detections))
	for _, d := range res.Detections {
		if d.Confidence < confidence {
			continue
		}
		detections = append(detections, d)
	}

	if len(detections) > 0 {
		if err := copyFile(inputPath, filepath.Join(outputDir, name)); err != nil {
			return failureResult(name, fmt.Errorf("store output image: %w", err))
		}
	}

	return entity.ImageResult{
		Filename:   name,
		Detections: detections,
		Success:    true,
	}
}

func (p *Processor) markFailed(jobID string, cause error) {
	p.logger.Error("processor.job.failed", "job_id", jobID, "error", cause)
	if err := p.storage.UpdateStatus(jobID, constants.JobStatusFailed, nil, nil); err != nil {
		p.logger.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
}

func failureResult(name string, err error) entity.ImageResult {
	msg := err.Error()
	return entity.ImageResult{
		Filename:   name,
		Detections: []entity.Detection{},
		Success:    false,
		Error:      &msg,
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
