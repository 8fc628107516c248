package storage

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Stanislav1275/thermal-detecteion-backend/internal/common"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/entity"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/intake"
)

// BuildResultArchive packages the job's images into a zip for download.
// useOriginal selects the input area over the output area. Images are kept
// when their maximum detection confidence meets minConfidence and, when
// onlyWithDetections is set, they have at least one detection. An empty
// filtered set comes back as common.ErrNotFound rather than an empty
// archive. The archive name encodes the filter parameters so downloads for
// different filters never overwrite each other.
func (s *JobStorage) BuildResultArchive(jobID string, useOriginal bool, minConfidence float64, onlyWithDetections bool) (string, error) {
	if _, err := s.loadManifest(jobID); err != nil {
		return "", err
	}

	records, err := s.GetDetections(jobID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return "", err
	}
	byFilename := make(map[string]entity.ImageResult, len(records))
	for _, r := range records {
		byFilename[r.Filename] = r
	}

	source := outputDirname
	if useOriginal {
		source = inputDirname
	}
	srcDir := filepath.Join(s.jobDir(jobID), source)
	entries, err := os.ReadDir(srcDir)
	if err != nil {
		return "", common.WrapError(err, "read image area")
	}

	var kept []string
	for _, e := range entries {
		if e.IsDir() || !intake.ValidateImageFormat(e.Name()) {
			continue
		}
		rec := byFilename[e.Name()]
		if rec.MaxConfidence() < minConfidence {
			continue
		}
		if onlyWithDetections && len(rec.Detections) == 0 {
			continue
		}
		kept = append(kept, e.Name())
	}
	if len(kept) == 0 {
		return "", common.NotFoundError("no images match the requested filters")
	}

	archivePath := filepath.Join(s.jobDir(jobID), archiveName(source, minConfidence, onlyWithDetections))
	if err := writeZip(archivePath, srcDir, kept); err != nil {
		_ = os.Remove(archivePath)
		return "", err
	}

	s.logger.Info("result archive built",
		"job_id", jobID,
		"source", source,
		"min_confidence", minConfidence,
		"only_with_detections", onlyWithDetections,
		"images", len(kept),
	)
	return archivePath, nil
}

// archiveName must be injective over the filter parameters, otherwise a
// later build overwrites an earlier download. The confidence floor is
// therefore encoded losslessly, with the dot made filename-safe.
func archiveName(source string, minConfidence float64, onlyWithDetections bool) string {
	conf := strings.ReplaceAll(strconv.FormatFloat(minConfidence, 'g', -1, 64), ".", "_")
	name := fmt.Sprintf("results_%s_conf%s", source, conf)
	if onlyWithDetections {
		name += "_detected"
	}
	return name + ".zip"
}

func writeZip(archivePath, srcDir string, filenames []string) error {
	f, err := os.Create(archivePath)
	if err != nil {
		return common.WrapError(err, "create archive")
	}
	defer func() {
		_ = f.Close()
	}()

	zw := zip.NewWriter(f)
	for _, name := range filenames {
		src, err := os.Open(filepath.Join(srcDir, name))
		if err != nil {
			return common.WrapError(err, "open image")
		}
		w, err := zw.Create(name)
		if err == nil {
			_, err = io.Copy(w, src)
		}
		_ = src.Close()
		if err != nil {
			return common.WrapError(err, "write archive entry")
		}
	}
	if err := zw.Close(); err != nil {
		return common.WrapError(err, "finalize archive")
	}
	return f.Close()
}
