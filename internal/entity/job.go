package entity

import (
	"time"

	"github.com/Stanislav1275/thermal-detecteion-backend/constants"
)

// Parameters is the per-job processing parameter bag.
type Parameters struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
}

// Job is the durable manifest for one batch-upload processing request.
// It is the single source of truth for the job's lifecycle; the storage
// layer rewrites the whole document on every update.
type Job struct {
	JobID                string              `json:"job_id"`
	Name                 string              `json:"name"`
	Status               constants.JobStatus `json:"status"`
	TotalImages          int                 `json:"total_images"`
	ProcessedImages      int                 `json:"processed_images"`
	ImagesWithDetections int                 `json:"images_with_detections"`
	CreatedAt            time.Time           `json:"created_at"`
	CompletedAt          *time.Time          `json:"completed_at"`
	Parameters           Parameters          `json:"parameters"`
}
