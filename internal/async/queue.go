package async

import (
	"context"
	"time"
)

// Job is the unit handed from the upload handler to the background workers:
// one created job plus the staged images it still has to process.
type Job struct {
	JobID               string
	ImagePaths          []string
	ConfidenceThreshold float64
	StagingDir          string // removed by the worker when processing ends
	SubmittedAt         time.Time
}

// Processor is the behavior the queue's workers drive.
type Processor interface {
	ProcessJob(ctx context.Context, job Job) error
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
