package detector

import (
	"image"
	"testing"

	"go.uber.org/zap"
)

func TestDefaultParams(t *testing.T) {
	params := DefaultParams(80, 10)
	if params.MinFaceSize != 80 || params.MaxFaces != 10 {
		t.Fatalf("unexpected params: %+v", params)
	}
	if params.scaleFactor <= 1.0 {
		t.Fatalf("scale factor must grow the search window, got %f", params.scaleFactor)
	}
	if params.shiftFactor <= 0 || params.shiftFactor >= 1 {
		t.Fatalf("shift factor out of range: %f", params.shiftFactor)
	}
}

func TestNewCascadeDetectorMissingModel(t *testing.T) {
	_, err := NewCascadeDetector("/nonexistent/facefinder", DefaultParams(80, 10), zap.NewNop())
	if err == nil {
		t.Fatal("expected error when no cascade model can be found")
	}
}

func TestDetectWithoutClassifierReturnsNothing(t *testing.T) {
	d := &CascadeDetector{params: DefaultParams(80, 10)}
	img := image.NewGray(image.Rect(0, 0, 200, 200))
	if detections := d.Detect(img); detections != nil {
		t.Fatalf("expected nil, got %d detections", len(detections))
	}

	var nilDetector *CascadeDetector
	if detections := nilDetector.Detect(img); detections != nil {
		t.Fatal("nil detector must not panic or detect")
	}
}

func TestNormalizeQuality(t *testing.T) {
	if got := normalizeQuality(0); got != 0 {
		t.Fatalf("expected 0, got %f", got)
	}
	if got := normalizeQuality(25); got != 0.5 {
		t.Fatalf("expected 0.5, got %f", got)
	}
	if got := normalizeQuality(75); got != 1.0 {
		t.Fatalf("expected saturation at 1, got %f", got)
	}
}
