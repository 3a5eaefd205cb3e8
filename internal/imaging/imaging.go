package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	xdraw "golang.org/x/image/draw"
)

// ErrDecode indicates the supplied bytes are not a decodable image.
var ErrDecode = errors.New("imaging: undecodable image data")

// Decode parses raw upload bytes into an image. Decoding failure is a caller
// error, never a pipeline verdict.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Join(ErrDecode, err)
	}
	return img, nil
}

// ToGray converts an image to 8-bit grayscale using the standard
// luminance weights (0.299 R + 0.587 G + 0.114 B).
func ToGray(img image.Image) *image.Gray {
	if gray, ok := img.(*image.Gray); ok {
		return gray
	}
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			lum := (299*(r>>8) + 587*(g>>8) + 114*(b>>8) + 500) / 1000
			gray.SetGray(x-bounds.Min.X, y-bounds.Min.Y, color.Gray{Y: uint8(lum)})
		}
	}
	return gray
}

// Crop returns the sub-image covered by rect, clamped to the image bounds.
func Crop(img image.Image, rect image.Rectangle) image.Image {
	rect = rect.Intersect(img.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	xdraw.Copy(out, image.Point{}, img, rect, xdraw.Src, nil)
	return out
}

// Resize scales an image to the given canvas using bilinear interpolation.
func Resize(img image.Image, width, height int) image.Image {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.BiLinear.Scale(out, out.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return out
}

// Histogram256 computes a 256-bin intensity histogram, L1-normalized so the
// bins sum to one.
func Histogram256(gray *image.Gray) []float64 {
	hist := make([]float64, 256)
	bounds := gray.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			hist[gray.GrayAt(x, y).Y]++
		}
	}
	var total float64
	for _, v := range hist {
		total += v
	}
	denom := total + 1e-6
	for i := range hist {
		hist[i] /= denom
	}
	return hist
}

// LBP computes the local binary pattern code map. Every interior pixel is
// compared to its 8 immediate neighbors in a fixed clockwise order starting
// at the top-left; a neighbor at least as bright as the center sets its bit.
// The result is an (H-2)x(W-2) map of 8-bit codes.
func LBP(gray *image.Gray) *image.Gray {
	bounds := gray.Bounds()
	rows, cols := bounds.Dy(), bounds.Dx()
	if rows < 3 || cols < 3 {
		return image.NewGray(image.Rect(0, 0, 0, 0))
	}
	out := image.NewGray(image.Rect(0, 0, cols-2, rows-2))
	at := func(x, y int) uint8 {
		return gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y
	}
	for i := 1; i < rows-1; i++ {
		for j := 1; j < cols-1; j++ {
			center := at(j, i)
			var code uint8
			if at(j-1, i-1) >= center {
				code |= 1 << 0
			}
			if at(j, i-1) >= center {
				code |= 1 << 1
			}
			if at(j+1, i-1) >= center {
				code |= 1 << 2
			}
			if at(j+1, i) >= center {
				code |= 1 << 3
			}
			if at(j+1, i+1) >= center {
				code |= 1 << 4
			}
			if at(j, i+1) >= center {
				code |= 1 << 5
			}
			if at(j-1, i+1) >= center {
				code |= 1 << 6
			}
			if at(j-1, i) >= center {
				code |= 1 << 7
			}
			out.SetGray(j-1, i-1, color.Gray{Y: code})
		}
	}
	return out
}

// Mean returns the average pixel intensity on the 0..255 scale.
func Mean(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	n := bounds.Dx() * bounds.Dy()
	if n == 0 {
		return 0
	}
	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			sum += float64(gray.GrayAt(x, y).Y)
		}
	}
	return sum / float64(n)
}

// Variance returns the population variance of pixel intensities.
func Variance(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	n := bounds.Dx() * bounds.Dy()
	if n == 0 {
		return 0
	}
	mean := Mean(gray)
	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			d := float64(gray.GrayAt(x, y).Y) - mean
			sum += d * d
		}
	}
	return sum / float64(n)
}

// LaplacianVariance measures focus as the population variance of the
// response to the 4-connected Laplacian kernel. Sharp images respond
// strongly; blurred images barely respond at all.
func LaplacianVariance(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	rows, cols := bounds.Dy(), bounds.Dx()
	if rows < 3 || cols < 3 {
		return 0
	}
	at := func(x, y int) float64 {
		return float64(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
	}
	responses := make([]float64, 0, (rows-2)*(cols-2))
	var sum float64
	for i := 1; i < rows-1; i++ {
		for j := 1; j < cols-1; j++ {
			v := at(j, i-1) + at(j, i+1) + at(j-1, i) + at(j+1, i) - 4*at(j, i)
			responses = append(responses, v)
			sum += v
		}
	}
	mean := sum / float64(len(responses))
	var variance float64
	for _, v := range responses {
		d := v - mean
		variance += d * d
	}
	return variance / float64(len(responses))
}

// LightingScore rates illumination quality in [0, 1]. It averages how close
// mean brightness sits to mid-gray with the normalized dynamic range.
func LightingScore(gray *image.Gray) float64 {
	mean := Mean(gray) / 255.0
	std := math.Sqrt(Variance(gray)) / 255.0

	brightness := 1.0 - abs(mean-0.5)*2
	dynamicRange := min1(std / 0.15)
	return (brightness + dynamicRange) / 2
}

// BlurScore rates motion blur in [0, 1]: 0 is sharp, 1 is heavily blurred.
func BlurScore(gray *image.Gray) float64 {
	return 1.0 - min1(LaplacianVariance(gray)/100.0)
}

// MeanAbsDiff returns the mean absolute per-pixel difference between two
// equally sized grayscale frames, normalized to [0, 1].
func MeanAbsDiff(a, b *image.Gray) float64 {
	ab, bb := a.Bounds(), b.Bounds()
	rows := minInt(ab.Dy(), bb.Dy())
	cols := minInt(ab.Dx(), bb.Dx())
	if rows == 0 || cols == 0 {
		return 0
	}
	var sum float64
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			va := float64(a.GrayAt(ab.Min.X+x, ab.Min.Y+y).Y)
			vb := float64(b.GrayAt(bb.Min.X+x, bb.Min.Y+y).Y)
			sum += abs(va - vb)
		}
	}
	return sum / float64(rows*cols) / 255.0
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func min1(v float64) float64 {
	return math.Min(v, 1.0)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
