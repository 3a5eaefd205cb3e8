package feature

import (
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"
)

func noiseImage(width, height int, seed int64) image.Image {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	return img
}

func TestEmbedDimensionIsFixed(t *testing.T) {
	extractor := NewExtractor(512)
	for _, size := range []int{16, 64, 128, 300} {
		embedding := extractor.Embed(noiseImage(size, size, 1))
		if len(embedding) != 512 {
			t.Fatalf("size %d: expected 512 dims, got %d", size, len(embedding))
		}
	}
}

func TestEmbedIsDeterministic(t *testing.T) {
	extractor := NewExtractor(512)
	img := noiseImage(90, 110, 7)

	first := extractor.Embed(img)
	second := extractor.Embed(img)
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("embeddings differ at index %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestEmbedIsUnitLength(t *testing.T) {
	extractor := NewExtractor(512)
	embedding := extractor.Embed(noiseImage(128, 128, 3))

	if norm := Norm(embedding); math.Abs(norm-1.0) > 1e-4 {
		t.Fatalf("expected unit norm, got %f", norm)
	}
}

func TestEmbedTruncatesToSmallDimension(t *testing.T) {
	extractor := NewExtractor(64)
	embedding := extractor.Embed(noiseImage(128, 128, 5))
	if len(embedding) != 64 {
		t.Fatalf("expected 64 dims, got %d", len(embedding))
	}
	if norm := Norm(embedding); math.Abs(norm-1.0) > 1e-4 {
		t.Fatalf("expected unit norm after truncation, got %f", norm)
	}
}

func TestAssessFlatRegion(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 128
	}

	extractor := NewExtractor(512)
	lighting, blur := extractor.Assess(img)
	if lighting < 0 || lighting > 1 {
		t.Fatalf("lighting score out of range: %f", lighting)
	}
	if blur != 1.0 {
		t.Fatalf("flat region should read as fully blurred, got %f", blur)
	}
}

func TestNormalizeL2ZeroVectorUnchanged(t *testing.T) {
	v := make([]float64, 8)
	normalizeL2(v)
	for i, x := range v {
		if x != 0 {
			t.Fatalf("zero vector mutated at %d: %f", i, x)
		}
	}
}

func TestEmbedDistinguishesContent(t *testing.T) {
	extractor := NewExtractor(512)
	dark := image.NewGray(image.Rect(0, 0, 64, 64))
	bright := image.NewGray(image.Rect(0, 0, 64, 64))
	for i := range bright.Pix {
		bright.Pix[i] = 250
	}
	// Give both images some texture so the histograms are not degenerate.
	dark.SetGray(10, 10, color.Gray{Y: 90})
	bright.SetGray(10, 10, color.Gray{Y: 90})

	a := extractor.Embed(dark)
	b := extractor.Embed(bright)
	identical := true
	for i := range a {
		if a[i] != b[i] {
			identical = false
			break
		}
	}
	if identical {
		t.Fatal("embeddings of very different images should differ")
	}
}
