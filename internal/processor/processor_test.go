package processor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/Stanislav1275/thermal-detecteion-backend/constants"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/async"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/detector"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/entity"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/storage"
)

// fakeDetector maps image base names to canned outcomes.
type fakeDetector struct {
	detections map[string][]entity.Detection
	failures   map[string]error
}

func (f *fakeDetector) Detect(_ context.Context, imagePath string, _ float64) (*detector.Result, error) {
	name := filepath.Base(imagePath)
	if err, ok := f.failures[name]; ok {
		return nil, err
	}
	dets := f.detections[name]
	return &detector.Result{Detections: dets, Count: len(dets)}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStorage(t *testing.T) *storage.JobStorage {
	t.Helper()
	store, err := storage.NewJobStorage(t.TempDir(), testLogger())
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func stageImages(t *testing.T, names ...string) (string, []string) {
	t.Helper()
	staging, err := os.MkdirTemp(t.TempDir(), "staging-*")
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	for _, name := range names {
		path := filepath.Join(staging, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("image:"+name), 0o644); err != nil {
			t.Fatal(err)
		}
		paths = append(paths, path)
	}
	return staging, paths
}

func TestProcessJobEndToEnd(t *testing.T) {
	store := newTestStorage(t)
	det := &fakeDetector{
		detections: map[string][]entity.Detection{
			"a.png": {{BBox: [4]int{10, 10, 50, 90}, Confidence: 0.8, Class: entity.PersonClass}},
			"b.png": nil,
		},
		failures: map[string]error{
			"c.png": errors.New("cannot read image c.png: file is corrupt"),
		},
	}
	proc := New(store, det, testLogger())

	job, err := store.CreateJob("batch", 0.5, 3)
	if err != nil {
		t.Fatal(err)
	}
	staging, paths := stageImages(t, "a.png", "b.png", "c.png")

	err = proc.ProcessJob(context.Background(), async.Job{
		JobID:               job.JobID,
		ImagePaths:          paths,
		ConfidenceThreshold: 0.5,
		StagingDir:          staging,
	})
	if err != nil {
		t.Fatalf("ProcessJob failed: %v", err)
	}

	got, err := store.GetStatus(job.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != constants.JobStatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.ProcessedImages != 3 || got.ImagesWithDetections != 1 {
		t.Errorf("counts = %d/%d, want 3/1", got.ProcessedImages, got.ImagesWithDetections)
	}
	if got.CompletedAt == nil {
		t.Error("completed job must carry a completion timestamp")
	}

	records, err := store.GetDetections(job.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	if records[0].Filename != "a.png" || !records[0].Success || len(records[0].Detections) != 1 {
		t.Errorf("unexpected record for a.png: %+v", records[0])
	}
	if records[1].Filename != "b.png" || !records[1].Success || len(records[1].Detections) != 0 {
		t.Errorf("unexpected record for b.png: %+v", records[1])
	}
	if records[2].Filename != "c.png" || records[2].Success || records[2].Error == nil {
		t.Errorf("failed image must keep its slot with an error message: %+v", records[2])
	}

	// Only the image with detections is retained in the output area.
	outputs, err := os.ReadDir(store.OutputDir(job.JobID))
	if err != nil {
		t.Fatal(err)
	}
	if len(outputs) != 1 || outputs[0].Name() != "a.png" {
		t.Errorf("output area = %v, want only a.png", outputs)
	}

	inputs, err := os.ReadDir(store.InputDir(job.JobID))
	if err != nil {
		t.Fatal(err)
	}
	if len(inputs) != 3 {
		t.Errorf("input area should retain all images, got %d", len(inputs))
	}

	if _, err := os.Stat(staging); !os.IsNotExist(err) {
		t.Error("staging dir must be removed after processing")
	}
}

func TestProcessJobDeduplicatesFilenames(t *testing.T) {
	store := newTestStorage(t)
	det := &fakeDetector{}
	proc := New(store, det, testLogger())

	job, _ := store.CreateJob("dupes", 0.5, 2)
	staging, paths := stageImages(t, filepath.Join("one", "x.png"), filepath.Join("two", "x.png"))

	if err := proc.ProcessJob(context.Background(), async.Job{
		JobID:      job.JobID,
		ImagePaths: paths,
		StagingDir: staging,
	}); err != nil {
		t.Fatal(err)
	}

	records, err := store.GetDetections(job.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if records[0].Filename != "x.png" || records[1].Filename != "x_1.png" {
		t.Errorf("colliding names must get numeric suffixes, got %q and %q", records[0].Filename, records[1].Filename)
	}
	if _, err := store.InputImagePath(job.JobID, "x_1.png"); err != nil {
		t.Errorf("suffixed image must exist in the input area: %v", err)
	}
}

func TestProcessJobFiltersBelowThreshold(t *testing.T) {
	store := newTestStorage(t)
	det := &fakeDetector{
		detections: map[string][]entity.Detection{
			"low.png": {{BBox: [4]int{0, 0, 5, 5}, Confidence: 0.3, Class: entity.PersonClass}},
		},
	}
	proc := New(store, det, testLogger())

	job, _ := store.CreateJob("threshold", 0.5, 1)
	staging, paths := stageImages(t, "low.png")

	if err := proc.ProcessJob(context.Background(), async.Job{
		JobID:               job.JobID,
		ImagePaths:          paths,
		ConfidenceThreshold: 0.5,
		StagingDir:          staging,
	}); err != nil {
		t.Fatal(err)
	}

	records, _ := store.GetDetections(job.JobID)
	if len(records[0].Detections) != 0 {
		t.Error("detections below the job threshold must be dropped")
	}
	outputs, _ := os.ReadDir(store.OutputDir(job.JobID))
	if len(outputs) != 0 {
		t.Error("filtered-out image must not be copied to the output area")
	}
}

func TestProcessJobMonotonicCounts(t *testing.T) {
	store := newTestStorage(t)

	var observed []int
	det := &observingDetector{store: store, observed: &observed}
	proc := New(store, det, testLogger())

	job, _ := store.CreateJob("progress", 0.5, 3)
	det.jobID = job.JobID
	staging, paths := stageImages(t, "a.png", "b.png", "c.png")

	if err := proc.ProcessJob(context.Background(), async.Job{
		JobID:      job.JobID,
		ImagePaths: paths,
		StagingDir: staging,
	}); err != nil {
		t.Fatal(err)
	}

	// Snapshots taken while processing must never exceed the total and
	// never decrease.
	prev := 0
	for _, p := range observed {
		if p < prev || p > 3 {
			t.Fatalf("processed count not monotonic within bounds: %v", observed)
		}
		prev = p
	}
}

// observingDetector polls job status mid-batch, standing in for a client
// watching progress.
type observingDetector struct {
	store    *storage.JobStorage
	jobID    string
	observed *[]int
}

func (o *observingDetector) Detect(_ context.Context, _ string, _ float64) (*detector.Result, error) {
	if job, err := o.store.GetStatus(o.jobID); err == nil {
		*o.observed = append(*o.observed, job.ProcessedImages)
	}
	return &detector.Result{Detections: nil, Count: 0}, nil
}
