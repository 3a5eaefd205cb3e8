// Package liveness decides whether the supplied frame or frame burst shows a
// live subject, a spoofing artifact (printed photo, replayed video), or
// something inconclusive. Single frames are judged on texture and frequency
// content; bursts are additionally judged on inter-frame motion and temporal
// variance. The classifier is deterministic for identical pixel input and
// has no side effects.
package liveness

import (
	"image"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/example/faceid/internal/imaging"
)

// Verdict is the outcome of a liveness check.
type Verdict string

const (
	Live    Verdict = "live"
	Spoof   Verdict = "spoof"
	Unknown Verdict = "unknown"
)

// Empirical normalizers and decision points. These are behavioral constants:
// changing any of them changes the verdict surface.
const (
	// Real faces produce LBP variance above ~500; prints sit below ~300.
	textureVarianceNormalizer = 500.0

	// Fraction of each axis covered by the low-frequency disc excluded from
	// the high-frequency energy ratio.
	lowFrequencyDiscFraction = 0.35
	frequencyRatioScale      = 10.0

	// Verdict bands on the single-frame combined score are expressed
	// relative to the configured texture threshold.
	singleFrameSpoofFactor = 0.6

	// Motion mapping breakpoints: below idle the subject is suspiciously
	// static, inside the band is ideal, above it the score decays toward a
	// floor since strong motion may still be natural head movement.
	motionIdleCeiling  = 0.01
	motionIdealCeiling = 0.10
	motionDecayRange   = 0.2
	motionScoreFloor   = 0.5

	// Live faces show temporal pixel variance above ~10 across a burst.
	temporalVarianceNormalizer = 10.0

	multiFrameMotionWeight   = 0.5
	multiFrameTextureWeight  = 0.3
	multiFrameVarianceWeight = 0.2

	multiFrameLiveThreshold  = 0.5
	multiFrameSpoofThreshold = 0.3
)

// Scores exposes the diagnostic signals behind a verdict.
type Scores struct {
	TextureScore   float64 `json:"texture_score"`
	FrequencyScore float64 `json:"frequency_score,omitempty"`
	MotionScore    float64 `json:"motion_score,omitempty"`
	VarianceScore  float64 `json:"variance_score,omitempty"`
	CombinedScore  float64 `json:"combined_score"`
	NumFrames      int     `json:"num_frames"`
	Method         string  `json:"method"`
}

// Input is the resolved frame variant. The single/multi decision is made
// once when the input is built, never re-inspected inside the classifier.
type Input struct {
	multi  bool
	frames []*image.Gray
}

// ResolveInput converts raw frames into the classification variant. Bursts
// shorter than minFrames degrade to single-frame analysis of the first frame.
func ResolveInput(frames []image.Image, minFrames int) Input {
	grays := make([]*image.Gray, len(frames))
	for i, frame := range frames {
		grays[i] = imaging.ToGray(frame)
	}
	if len(grays) >= minFrames && len(grays) > 1 {
		return Input{multi: true, frames: grays}
	}
	if len(grays) > 1 {
		grays = grays[:1]
	}
	return Input{multi: false, frames: grays}
}

// Classifier evaluates liveness inputs against a configured texture
// threshold.
type Classifier struct {
	textureThreshold float64
}

// NewClassifier builds a classifier. textureThreshold is the single-frame
// live decision point (default 0.30).
func NewClassifier(textureThreshold float64) *Classifier {
	return &Classifier{textureThreshold: textureThreshold}
}

// Check produces a verdict and its diagnostic scores.
func (c *Classifier) Check(input Input) (Verdict, Scores) {
	if len(input.frames) == 0 {
		return Unknown, Scores{Method: "no_frames"}
	}
	if input.multi {
		return c.checkMultiFrame(input.frames)
	}
	return c.checkSingleFrame(input.frames[0])
}

func (c *Classifier) checkSingleFrame(gray *image.Gray) (Verdict, Scores) {
	texture := textureScore(gray)
	frequency := frequencyScore(gray)
	combined := (texture + frequency) / 2

	scores := Scores{
		TextureScore:   texture,
		FrequencyScore: frequency,
		CombinedScore:  combined,
		NumFrames:      1,
		Method:         "single_frame_texture",
	}

	switch {
	case combined > c.textureThreshold:
		return Live, scores
	case combined < c.textureThreshold*singleFrameSpoofFactor:
		return Spoof, scores
	default:
		return Unknown, scores
	}
}

func (c *Classifier) checkMultiFrame(frames []*image.Gray) (Verdict, Scores) {
	motion := motionScore(frames)
	texture := textureScore(frames[0])
	variance := temporalVarianceScore(frames)

	combined := motion*multiFrameMotionWeight +
		texture*multiFrameTextureWeight +
		variance*multiFrameVarianceWeight

	scores := Scores{
		MotionScore:   motion,
		TextureScore:  texture,
		VarianceScore: variance,
		CombinedScore: combined,
		NumFrames:     len(frames),
		Method:        "multi_frame_motion",
	}

	switch {
	case combined > multiFrameLiveThreshold:
		return Live, scores
	case combined < multiFrameSpoofThreshold:
		return Spoof, scores
	default:
		return Unknown, scores
	}
}

// textureScore normalizes the variance of the LBP code map. Printed photos
// flatten micro-texture and score low.
func textureScore(gray *image.Gray) float64 {
	lbp := imaging.LBP(gray)
	return clamp01(imaging.Variance(lbp) / textureVarianceNormalizer)
}

// frequencyScore measures the share of spectral energy outside the central
// low-frequency disc of the 2-D Fourier magnitude spectrum. Real faces carry
// more high-frequency content than reproductions.
func frequencyScore(gray *image.Gray) float64 {
	bounds := gray.Bounds()
	rows, cols := bounds.Dy(), bounds.Dx()
	if rows == 0 || cols == 0 {
		return 0
	}

	rowFFT := fourier.NewCmplxFFT(cols)
	colFFT := fourier.NewCmplxFFT(rows)

	// Row pass.
	spectrum := make([][]complex128, rows)
	row := make([]complex128, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			row[j] = complex(float64(gray.GrayAt(bounds.Min.X+j, bounds.Min.Y+i).Y), 0)
		}
		spectrum[i] = rowFFT.Coefficients(nil, row)
	}

	// Column pass.
	col := make([]complex128, rows)
	for j := 0; j < cols; j++ {
		for i := 0; i < rows; i++ {
			col[i] = spectrum[i][j]
		}
		out := colFFT.Coefficients(nil, col)
		for i := 0; i < rows; i++ {
			spectrum[i][j] = out[i]
		}
	}

	minSide := rows
	if cols < minSide {
		minSide = cols
	}
	radius := float64(int(float64(minSide) * lowFrequencyDiscFraction))
	crow, ccol := rows/2, cols/2

	var highEnergy, totalEnergy float64
	for i := 0; i < rows; i++ {
		// Shift so the zero frequency sits at the spectrum center.
		si := (i + rows/2) % rows
		dy := float64(si - crow)
		for j := 0; j < cols; j++ {
			sj := (j + cols/2) % cols
			dx := float64(sj - ccol)
			magnitude := cmplxAbs(spectrum[i][j])
			totalEnergy += magnitude
			if math.Hypot(dx, dy) > radius {
				highEnergy += magnitude
			}
		}
	}

	ratio := highEnergy / (totalEnergy + 1e-6)
	return clamp01(ratio * frequencyRatioScale)
}

// motionScore averages the mean absolute difference between consecutive
// frames and maps it onto the static / ideal / excessive regimes.
func motionScore(frames []*image.Gray) float64 {
	if len(frames) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(frames); i++ {
		total += imaging.MeanAbsDiff(frames[i], frames[i-1])
	}
	avg := total / float64(len(frames)-1)

	switch {
	case avg < motionIdleCeiling:
		return avg / motionIdleCeiling
	case avg < motionIdealCeiling:
		return 1.0
	default:
		return math.Max(motionScoreFloor, 1.0-(avg-motionIdealCeiling)/motionDecayRange)
	}
}

// temporalVarianceScore averages the per-pixel intensity variance across the
// frame stack. Static reproductions barely vary over time.
func temporalVarianceScore(frames []*image.Gray) float64 {
	if len(frames) < 2 {
		return 0
	}

	bounds := frames[0].Bounds()
	rows, cols := bounds.Dy(), bounds.Dx()
	for _, f := range frames[1:] {
		b := f.Bounds()
		if b.Dy() < rows {
			rows = b.Dy()
		}
		if b.Dx() < cols {
			cols = b.Dx()
		}
	}
	if rows == 0 || cols == 0 {
		return 0
	}

	n := float64(len(frames))
	var varianceSum float64
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			var sum, sumSq float64
			for _, f := range frames {
				b := f.Bounds()
				v := float64(f.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
				sum += v
				sumSq += v * v
			}
			mean := sum / n
			varianceSum += sumSq/n - mean*mean
		}
	}
	avgVariance := varianceSum / float64(rows*cols)
	return clamp01(avgVariance / temporalVarianceNormalizer)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
