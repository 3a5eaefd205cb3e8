package verification

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"time"

	"github.com/example/faceid/internal/feature"
	"github.com/example/faceid/internal/liveness"
)

// Verdict is the terminal outcome of a verification call. Security verdicts
// (spoof, not_found) are first-class successful outcomes, not errors.
type Verdict string

const (
	VerdictMatch          Verdict = "match"
	VerdictPossibleMatch  Verdict = "possible_match"
	VerdictNotFound       Verdict = "not_found"
	VerdictSpoof          Verdict = "spoof"
	VerdictNoFaceDetected Verdict = "no_face_detected"
)

// Diagnostics surfaces probe image quality for observability. None of these
// values gate the pipeline.
type Diagnostics struct {
	DetectorConfidence float64 `json:"detector_confidence"`
	LightingScore      float64 `json:"lighting_score"`
	MotionBlurScore    float64 `json:"motion_blur_score"`
}

// VerificationResult is the structured verdict returned to callers and
// recorded for audit.
type VerificationResult struct {
	ProbeID         string          `json:"probe_id"`
	Verdict         Verdict         `json:"verdict"`
	MatchedPersonID *string         `json:"matched_person_id"`
	MatchedName     *string         `json:"matched_name"`
	Similarity      *float64        `json:"similarity"`
	ThresholdUsed   *float64        `json:"threshold_used"`
	MatchedPhotoID  *string         `json:"matched_photo_id,omitempty"`
	Liveness        liveness.Verdict `json:"liveness"`
	LivenessScores  liveness.Scores `json:"liveness_scores"`
	ProbeFaceBox    [4]int          `json:"probe_face_box"`
	EmbeddingNorm   float64         `json:"probe_embedding_norm"`
	Diagnostics     Diagnostics     `json:"diagnostics"`
	Explanation     string          `json:"explanation"`
	Timestamp       time.Time       `json:"timestamp"`
}

// EnrollmentResult reports a completed enrollment.
type EnrollmentResult struct {
	Success     bool      `json:"success"`
	PersonID    string    `json:"person_id"`
	DisplayName string    `json:"display_name"`
	PhotoCount  int       `json:"photo_count"`
	Message     string    `json:"message"`
	EnrolledAt  time.Time `json:"enrolled_at"`
}

// PersonInfo summarizes an enrolled identity.
type PersonInfo struct {
	PersonID    string    `json:"person_id"`
	DisplayName string    `json:"display_name"`
	PhotoCount  int       `json:"photo_count"`
	EnrolledAt  time.Time `json:"enrolled_at"`
	IsActive    bool      `json:"is_active"`
}

// AnonymizedProbeID derives an audit identifier from the first kilobyte of
// the probe image plus the attempt timestamp. The hash is not reversible to
// image bytes and is unique per attempt.
func AnonymizedProbeID(imageData []byte, at time.Time) string {
	head := imageData
	if len(head) > 1024 {
		head = head[:1024]
	}
	h := sha256.New()
	h.Write(head)
	h.Write([]byte(at.UTC().Format(time.RFC3339Nano)))
	return "probe_" + hex.EncodeToString(h.Sum(nil))[:16]
}

// Explanation strings are deterministic given verdict and score so audit
// text and test assertions stay stable.
func explainVerdict(verdict Verdict, name string, similarity float64) string {
	switch verdict {
	case VerdictMatch:
		return fmt.Sprintf("identity confirmed: %s (similarity %.1f%%)", name, similarity*100)
	case VerdictPossibleMatch:
		return fmt.Sprintf("possible match: %s (similarity %.1f%%)", name, similarity*100)
	case VerdictNotFound:
		if similarity > 0 {
			return fmt.Sprintf("no enrolled identity matched (best similarity %.1f%%)", similarity*100)
		}
		return "no enrolled identity matched"
	case VerdictSpoof:
		return "presentation attack detected: input classified as a reproduction"
	case VerdictNoFaceDetected:
		return "no face detected in the probe image"
	default:
		return string(verdict)
	}
}

func boxToArray(box image.Rectangle) [4]int {
	return [4]int{box.Min.X, box.Min.Y, box.Dx(), box.Dy()}
}

type extraction struct {
	embedding []float32
	quality   feature.Quality
}
