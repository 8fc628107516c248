package entity

// PersonClass is the single object class this system detects.
const PersonClass = "person"

// Detection is one bounding box produced by the detector.
// BBox is [x1, y1, x2, y2] in pixel space. Coordinate ordering is taken
// from the model output as-is and is not validated here.
type Detection struct {
	BBox       [4]int  `json:"bbox"`
	Confidence float64 `json:"confidence"`
	Class      string  `json:"class"`
}

// ImageResult is the per-image outcome persisted with the job.
// Immutable once written; failed images keep their slot in the result set.
type ImageResult struct {
	Filename   string      `json:"filename"`
	Detections []Detection `json:"detections"`
	Success    bool        `json:"success"`
	Error      *string     `json:"error"`
}

// MaxConfidence returns the highest detection confidence for the image,
// or 0 when it has no detections.
func (r ImageResult) MaxConfidence() float64 {
	var max float64
	for _, d := range r.Detections {
		if d.Confidence > max {
			max = d.Confidence
		}
	}
	return max
}
