package constants

// JobStatus is the canonical lifecycle state stored in a job's manifest.
type JobStatus string

// Stable values (these exact strings are persisted in manifest.json).
const (
	JobStatusQueued     JobStatus = "queued"     // accepted, waiting for a worker
	JobStatusProcessing JobStatus = "processing" // worker is draining the image list
	JobStatusCompleted  JobStatus = "completed"  // terminal success
	JobStatusFailed     JobStatus = "failed"     // terminal failure
)

// Terminal reports whether a status ends the job's lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}
