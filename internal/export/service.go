package export

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Stanislav1275/thermal-detecteion-backend/internal/common"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/entity"
	"github.com/Stanislav1275/thermal-detecteion-backend/internal/storage"
)

// Service produces XLSX bytes summarizing a job's detection records, one
// row per processed image.
type Service struct {
	storage *storage.JobStorage
	logger  *slog.Logger
}

func NewService(store *storage.JobStorage, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{storage: store, logger: logger}
}

// ExportDetectionsXLSX returns an XLSX workbook (as bytes) for the job.
// A job that has not produced results yet exports an empty sheet.
func (s *Service) ExportDetectionsXLSX(jobID string) ([]byte, error) {
	start := time.Now()

	job, err := s.storage.GetStatus(jobID)
	if err != nil {
		return nil, err
	}
	records, err := s.storage.GetDetections(jobID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	f := excelize.NewFile()
	const sheet = "Detections"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	if defaultIndex, _ := f.GetSheetIndex("Sheet1"); defaultIndex != -1 {
		_ = f.DeleteSheet("Sheet1")
	}

	headers := []string{
		"Filename",
		"Detections",
		"Max Confidence",
		"Bounding Boxes",
		"Status",
		"Error",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, r := range records {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, r.Filename)
		write(2, len(r.Detections))
		if len(r.Detections) > 0 {
			write(3, fmt.Sprintf("%.2f", r.MaxConfidence()))
		} else {
			write(3, "")
		}
		write(4, formatBoxes(r.Detections))

		if r.Success {
			write(5, "ok")
		} else {
			write(5, "failed")
		}
		if r.Error != nil {
			write(6, *r.Error)
		}

		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 36) // filename
	_ = f.SetColWidth(sheet, "B", "C", 14) // counts
	_ = f.SetColWidth(sheet, "D", "D", 48) // boxes
	_ = f.SetColWidth(sheet, "E", "E", 10) // status
	_ = f.SetColWidth(sheet, "F", "F", 48) // error

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"job_id", job.JobID,
		"rows", len(records),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func formatBoxes(detections []entity.Detection) string {
	if len(detections) == 0 {
		return ""
	}
	parts := make([]string, 0, len(detections))
	for _, d := range detections {
		parts = append(parts, fmt.Sprintf("[%d %d %d %d]", d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3]))
	}
	return strings.Join(parts, "; ")
}
