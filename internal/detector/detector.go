// Package detector locates face bounding boxes using a classical
// pico cascade. The cascade model is loaded once at process start and the
// detector is safe for concurrent read-only use afterwards.
package detector

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"

	pigo "github.com/esimov/pigo/core"
	"go.uber.org/zap"
)

// Detection is a face candidate found in an image.
type Detection struct {
	// Box is the face bounding rectangle in image coordinates.
	Box image.Rectangle
	// Confidence is the normalized detector quality in [0, 1].
	Confidence float64
}

// Detector finds faces in a grayscale image. Results are ordered by
// descending confidence.
type Detector interface {
	Detect(gray *image.Gray) []Detection
}

// Params bound the cascade search.
type Params struct {
	MinFaceSize  int
	MaxFaces     int
	shiftFactor  float64
	scaleFactor  float64
	iouThreshold float64
	minQuality   float32
}

// DefaultParams returns the cascade search settings used in production.
func DefaultParams(minFaceSize, maxFaces int) Params {
	return Params{
		MinFaceSize:  minFaceSize,
		MaxFaces:     maxFaces,
		shiftFactor:  0.1,
		scaleFactor:  1.1,
		iouThreshold: 0.2,
		minQuality:   5.0,
	}
}

// CascadeDetector wraps a pigo classifier.
type CascadeDetector struct {
	classifier *pigo.Pigo
	params     Params
	logger     *zap.Logger
}

// NewCascadeDetector loads the binary cascade model from path. Alternative
// well-known locations are tried before giving up so containerized and local
// runs can share a configuration.
func NewCascadeDetector(path string, params Params, logger *zap.Logger) (*CascadeDetector, error) {
	candidates := []string{
		path,
		filepath.Join(".", "facefinder"),
		"/usr/local/share/pigo/facefinder",
	}

	var data []byte
	var err error
	for _, candidate := range candidates {
		data, err = os.ReadFile(candidate)
		if err == nil {
			path = candidate
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("detector: unable to read cascade model: %w", err)
	}

	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("detector: unable to unpack cascade model: %w", err)
	}

	logger.Info("cascade model loaded", zap.String("path", path))
	return &CascadeDetector{classifier: classifier, params: params, logger: logger.Named("detector")}, nil
}

// Detect runs the cascade over the full image, clusters overlapping
// candidates, and returns up to MaxFaces detections ordered by confidence.
// Faces smaller than MinFaceSize on either side are discarded.
func (d *CascadeDetector) Detect(gray *image.Gray) []Detection {
	if d == nil || d.classifier == nil {
		return nil
	}

	bounds := gray.Bounds()
	rows, cols := bounds.Dy(), bounds.Dx()
	if rows == 0 || cols == 0 {
		return nil
	}

	maxSize := rows
	if cols < maxSize {
		maxSize = cols
	}
	if maxSize < d.params.MinFaceSize {
		return nil
	}

	cParams := pigo.CascadeParams{
		MinSize:     d.params.MinFaceSize,
		MaxSize:     maxSize,
		ShiftFactor: d.params.shiftFactor,
		ScaleFactor: d.params.scaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: gray.Pix,
			Rows:   rows,
			Cols:   cols,
			Dim:    gray.Stride,
		},
	}

	raw := d.classifier.RunCascade(cParams, 0.0)
	raw = d.classifier.ClusterDetections(raw, d.params.iouThreshold)

	detections := make([]Detection, 0, len(raw))
	for _, det := range raw {
		if det.Q < d.params.minQuality {
			continue
		}
		half := det.Scale / 2
		box := image.Rect(det.Col-half, det.Row-half, det.Col-half+det.Scale, det.Row-half+det.Scale)
		box = box.Intersect(bounds)
		if box.Dx() < d.params.MinFaceSize || box.Dy() < d.params.MinFaceSize {
			continue
		}
		detections = append(detections, Detection{
			Box:        box,
			Confidence: normalizeQuality(det.Q),
		})
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})
	if d.params.MaxFaces > 0 && len(detections) > d.params.MaxFaces {
		detections = detections[:d.params.MaxFaces]
	}
	return detections
}

// Close releases the cascade model. The detector must not be used afterwards.
func (d *CascadeDetector) Close() {
	d.classifier = nil
}

// normalizeQuality maps the raw cascade quality onto [0, 1]. Qualities above
// 50 saturate; anything past that point is an unambiguous face.
func normalizeQuality(q float32) float64 {
	score := float64(q) / 50.0
	if score > 1.0 {
		score = 1.0
	}
	return score
}
