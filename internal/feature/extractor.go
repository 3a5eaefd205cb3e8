// Package feature converts cropped face regions into fixed-length numeric
// descriptors. The descriptor is classical: an intensity histogram
// concatenated with a local binary pattern histogram, padded to a fixed
// dimension and L2-normalized. It is a pure function of pixel data.
package feature

import (
	"image"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/example/faceid/internal/imaging"
)

// Canvas is the side length every face region is resized to before
// descriptor computation.
const Canvas = 128

// Quality carries the per-extraction diagnostics stored verbatim alongside
// an embedding. They are informational and never gate the pipeline.
type Quality struct {
	BBox               image.Rectangle `json:"bbox"`
	DetectorConfidence float64         `json:"detector_confidence"`
	LightingScore      float64         `json:"lighting_score"`
	BlurScore          float64         `json:"blur_score"`
	EmbeddingNorm      float64         `json:"embedding_norm"`
}

// Extractor computes embeddings of a fixed dimension.
type Extractor struct {
	dim int
}

// NewExtractor returns an extractor producing dim-length embeddings.
func NewExtractor(dim int) *Extractor {
	return &Extractor{dim: dim}
}

// Dim reports the fixed embedding dimension.
func (e *Extractor) Dim() int {
	return e.dim
}

// Embed converts an already-cropped face region into an L2-normalized
// embedding. Callers pre-filter undersized regions; this function assumes a
// valid input and is deterministic for identical pixel data.
func (e *Extractor) Embed(region image.Image) []float32 {
	canvas := imaging.Resize(region, Canvas, Canvas)
	gray := imaging.ToGray(canvas)

	intensityHist := imaging.Histogram256(gray)
	lbpHist := imaging.Histogram256(imaging.LBP(gray))

	features := make([]float64, 0, len(intensityHist)+len(lbpHist))
	features = append(features, intensityHist...)
	features = append(features, lbpHist...)

	// Fix the output dimension regardless of canvas size.
	if len(features) < e.dim {
		features = append(features, make([]float64, e.dim-len(features))...)
	} else if len(features) > e.dim {
		features = features[:e.dim]
	}

	normalizeL2(features)

	embedding := make([]float32, e.dim)
	for i, v := range features {
		embedding[i] = float32(v)
	}
	return embedding
}

// Assess computes the lighting and blur diagnostics for a face region.
func (e *Extractor) Assess(region image.Image) (lighting, blur float64) {
	gray := imaging.ToGray(region)
	return imaging.LightingScore(gray), imaging.BlurScore(gray)
}

// Norm returns the L2 norm of an embedding.
func Norm(embedding []float32) float64 {
	wide := make([]float64, len(embedding))
	for i, v := range embedding {
		wide[i] = float64(v)
	}
	return floats.Norm(wide, 2)
}

// normalizeL2 scales the vector to unit length in place. A zero vector is
// returned unchanged rather than dividing by zero.
func normalizeL2(v []float64) {
	norm := floats.Norm(v, 2)
	if norm == 0 || math.IsNaN(norm) {
		return
	}
	floats.Scale(1/norm, v)
}
