package detector

import (
	"context"

	"github.com/Stanislav1275/thermal-detecteion-backend/internal/entity"
)

// Result is the detector output for one image.
type Result struct {
	Detections []entity.Detection
	Count      int
}

// Detector finds people in a single image. Implementations must return a
// descriptive error for unreadable or corrupt input instead of panicking.
type Detector interface {
	Detect(ctx context.Context, imagePath string, confidence float64) (*Result, error)
}
