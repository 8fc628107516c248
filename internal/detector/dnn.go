package detector

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/Stanislav1275/thermal-detecteion-backend/internal/entity"
)

// COCO class id for "person" in the SSD output layout.
const personClassID = 1

// DNNDetector runs a pre-trained SSD person-detection network over single
// images. The underlying net is not safe for concurrent use, so calls are
// serialized; with one producing worker per job this only matters when
// several jobs are in flight.
type DNNDetector struct {
	net    gocv.Net
	logger *slog.Logger

	mu sync.Mutex
}

// NewDNNDetector loads the network from the given model and config paths.
func NewDNNDetector(modelPath, configPath string, logger *slog.Logger) (*DNNDetector, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model not found at %s: %w", modelPath, err)
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load detection model from %s", modelPath)
	}

	logger.Info("detection model loaded", "model_path", modelPath, "config_path", configPath)
	return &DNNDetector{net: net, logger: logger}, nil
}

// Close releases the network.
func (d *DNNDetector) Close() error {
	return d.net.Close()
}

// Detect runs the network over the image at imagePath and returns person
// detections at or above the confidence floor, boxes in pixel coordinates.
func (d *DNNDetector) Detect(ctx context.Context, imagePath string, confidence float64) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	img := gocv.IMRead(imagePath, gocv.IMReadColor)
	if img.Empty() {
		return nil, fmt.Errorf("cannot read image %s: file is corrupt or not a supported format", imagePath)
	}
	defer img.Close()

	blob := gocv.BlobFromImage(img, 1.0/127.5, image.Pt(300, 300), gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	width := float32(img.Cols())
	height := float32(img.Rows())

	// SSD output is a [1,1,N,7] tensor: image id, class id, confidence,
	// then the box corners normalized to [0,1]. Reshape to N rows of 7 so
	// element access stays within the 2-D Mat accessor contract.
	rows := out.Total() / 7
	results := out.Reshape(1, rows)
	defer results.Close()

	var detections []entity.Detection
	for i := 0; i < rows; i++ {
		conf := float64(results.GetFloatAt(i, 2))
		classID := int(results.GetFloatAt(i, 1))
		if classID != personClassID || conf < confidence {
			continue
		}

		x1 := int(results.GetFloatAt(i, 3) * width)
		y1 := int(results.GetFloatAt(i, 4) * height)
		x2 := int(results.GetFloatAt(i, 5) * width)
		y2 := int(results.GetFloatAt(i, 6) * height)

		detections = append(detections, entity.Detection{
			BBox:       [4]int{x1, y1, x2, y2},
			Confidence: conf,
			Class:      entity.PersonClass,
		})
	}

	d.logger.Debug("image processed", "image_path", imagePath, "detections", len(detections))
	return &Result{Detections: detections, Count: len(detections)}, nil
}
