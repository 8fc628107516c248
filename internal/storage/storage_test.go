package storage

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Stanislav1275/thermal-detecteion-backend/constants"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/common"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/entity"
)

func newTestStorage(t *testing.T) *JobStorage {
	t.Helper()
	store, err := NewJobStorage(t.TempDir(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func intPtr(v int) *int { return &v }

func TestCreateJobResolvesNameCollisions(t *testing.T) {
	store := newTestStorage(t)

	want := []string{"survey", "survey_1", "survey_2"}
	for _, expected := range want {
		job, err := store.CreateJob("survey", 0.5, 1)
		if err != nil {
			t.Fatal(err)
		}
		if job.Name != expected {
			t.Errorf("got name %q, want %q", job.Name, expected)
		}
	}
}

func TestCreateJobSynthesizesName(t *testing.T) {
	store := newTestStorage(t)

	job, err := store.CreateJob("", 0.5, 0)
	if err != nil {
		t.Fatal(err)
	}
	if job.Name == "" || job.Name[:4] != "job_" {
		t.Errorf("expected synthesized job_ name, got %q", job.Name)
	}
	if job.Status != constants.JobStatusQueued {
		t.Errorf("new job status = %q, want queued", job.Status)
	}
	if job.ProcessedImages != 0 || job.ImagesWithDetections != 0 {
		t.Error("new job counters must start at zero")
	}
	if job.CompletedAt != nil {
		t.Error("new job must not have a completion timestamp")
	}
}

func TestGetStatusUnknownJob(t *testing.T) {
	store := newTestStorage(t)

	if _, err := store.GetStatus("no-such-id"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListJobsMostRecentFirst(t *testing.T) {
	store := newTestStorage(t)

	var ids []string
	for _, name := range []string{"first", "second", "third"} {
		job, err := store.CreateJob(name, 0.5, 0)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, job.JobID)
	}

	jobs, err := store.ListJobs()
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(jobs))
	}
	for i := range ids {
		if jobs[i].JobID != ids[len(ids)-1-i] {
			t.Fatalf("jobs not ordered most recent first: %v", jobs)
		}
	}
}

func TestUpdateStatus(t *testing.T) {
	store := newTestStorage(t)
	job, err := store.CreateJob("counting", 0.5, 3)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.UpdateStatus(job.JobID, constants.JobStatusProcessing, intPtr(2), intPtr(1)); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetStatus(job.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != constants.JobStatusProcessing || got.ProcessedImages != 2 || got.ImagesWithDetections != 1 {
		t.Errorf("unexpected state after update: %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("non-terminal update must not set the completion timestamp")
	}

	// Partial update without counters leaves them alone.
	if err := store.UpdateStatus(job.JobID, constants.JobStatusProcessing, nil, nil); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetStatus(job.JobID)
	if got.ProcessedImages != 2 || got.ImagesWithDetections != 1 {
		t.Error("counters must survive a partial update")
	}

	if err := store.UpdateStatus(job.JobID, constants.JobStatusCompleted, intPtr(3), intPtr(1)); err != nil {
		t.Fatal(err)
	}
	got, _ = store.GetStatus(job.JobID)
	if got.Status != constants.JobStatusCompleted || got.CompletedAt == nil {
		t.Errorf("terminal update must set status and completion timestamp: %+v", got)
	}
}

func TestUpdateStatusUnknownJobIsNoOp(t *testing.T) {
	store := newTestStorage(t)

	if err := store.UpdateStatus("no-such-id", constants.JobStatusFailed, nil, nil); err != nil {
		t.Errorf("unknown job must be a silent no-op, got %v", err)
	}
}

func TestUpdateName(t *testing.T) {
	store := newTestStorage(t)
	alpha, _ := store.CreateJob("alpha", 0.5, 0)
	beta, _ := store.CreateJob("beta", 0.5, 0)

	// Colliding with another job's name gets suffixed.
	resolved, err := store.UpdateName(beta.JobID, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "alpha_1" {
		t.Errorf("got %q, want alpha_1", resolved)
	}

	// A job's own name is excluded from the collision scan.
	resolved, err = store.UpdateName(alpha.JobID, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if resolved != "alpha" {
		t.Errorf("renaming to own name should stay %q, got %q", "alpha", resolved)
	}

	if _, err := store.UpdateName("no-such-id", "anything"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDetectionsRoundTrip(t *testing.T) {
	store := newTestStorage(t)
	job, _ := store.CreateJob("roundtrip", 0.5, 2)

	errMsg := "cannot read image"
	records := []entity.ImageResult{
		{
			Filename: "a.png",
			Detections: []entity.Detection{
				{BBox: [4]int{10, 20, 110, 220}, Confidence: 0.83, Class: entity.PersonClass},
				{BBox: [4]int{5, 5, 50, 90}, Confidence: 0.51, Class: entity.PersonClass},
			},
			Success: true,
		},
		{
			Filename:   "b.png",
			Detections: []entity.Detection{},
			Success:    false,
			Error:      &errMsg,
		},
	}

	if err := store.SaveDetections(job.JobID, records); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetDetections(job.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, records) {
		t.Errorf("round trip mismatch:\ngot  %+v\nwant %+v", got, records)
	}
}

func TestGetDetectionsAbsent(t *testing.T) {
	store := newTestStorage(t)
	job, _ := store.CreateJob("empty", 0.5, 0)

	if _, err := store.GetDetections(job.JobID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound before any save, got %v", err)
	}
}

func TestImagePathLookups(t *testing.T) {
	store := newTestStorage(t)
	job, _ := store.CreateJob("images", 0.5, 1)

	if err := os.WriteFile(filepath.Join(store.InputDir(job.JobID), "a.png"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	path, err := store.InputImagePath(job.JobID, "a.png")
	if err != nil {
		t.Fatalf("expected input image to resolve, got %v", err)
	}
	if filepath.Base(path) != "a.png" {
		t.Errorf("unexpected path %s", path)
	}

	if _, err := store.OutputImagePath(job.JobID, "a.png"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing output image, got %v", err)
	}

	// Traversal attempts must not resolve to files outside the image area.
	if _, err := store.InputImagePath(job.JobID, "../manifest.json"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("traversal lookup must fail with ErrNotFound, got %v", err)
	}
}

func TestDeleteJob(t *testing.T) {
	store := newTestStorage(t)
	job, _ := store.CreateJob("doomed", 0.5, 1)

	// Populate every area, archives included.
	if err := os.WriteFile(filepath.Join(store.InputDir(job.JobID), "a.png"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(store.baseDir, job.JobID, "results_input_conf0.00.zip"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if !store.DeleteJob(job.JobID) {
		t.Fatal("delete of existing job should return true")
	}
	if _, err := store.GetStatus(job.JobID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("deleted job must be gone, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.baseDir, job.JobID)); !os.IsNotExist(err) {
		t.Error("job directory must be removed entirely")
	}
	if store.DeleteJob(job.JobID) {
		t.Error("second delete should return false")
	}
}

func TestCorruptManifestTreatedAsAbsent(t *testing.T) {
	store := newTestStorage(t)
	job, _ := store.CreateJob("corrupt", 0.5, 0)

	path := filepath.Join(store.baseDir, job.JobID, manifestFilename)
	if err := os.WriteFile(path, []byte(`{"status": 42}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := store.GetStatus(job.JobID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("corrupt manifest must read as absent, got %v", err)
	}
}
