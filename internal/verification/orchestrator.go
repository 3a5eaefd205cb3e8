// Package verification sequences the biometric pipeline: liveness check,
// feature extraction, nearest-neighbor search, and verdict classification.
// Each call is an independent synchronous computation; the only shared state
// is the read-only detector model and the store read path.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/faceid/internal/config"
	"github.com/example/faceid/internal/detector"
	"github.com/example/faceid/internal/feature"
	"github.com/example/faceid/internal/imaging"
	"github.com/example/faceid/internal/liveness"
	"github.com/example/faceid/internal/logging"
	"github.com/example/faceid/internal/match"
	"github.com/example/faceid/internal/store"
)

// Typed input failures surfaced directly to the caller.
var (
	ErrDuplicatePerson = errors.New("verification: person id already enrolled")
	ErrNoImages        = errors.New("verification: at least one image is required")
	ErrNoFaceFound     = errors.New("verification: no usable face in any supplied image")
)

// Store defines the persistence operations the orchestrator needs.
type Store interface {
	ListActivePersons(ctx context.Context) ([]store.Person, error)
	CreatePerson(ctx context.Context, person *store.Person) error
	FindPersonByExternalID(ctx context.Context, personID string) (*store.Person, error)
	AppendEmbedding(ctx context.Context, embedding *store.FaceEmbedding) error
	DeactivatePerson(ctx context.Context, personID string) (*store.Person, error)
	SaveAttempt(ctx context.Context, attempt *store.VerificationAttempt) error
	AggregateStats(ctx context.Context) (*store.Stats, error)
}

// VerifyInput is one verification request. The image is decoded upstream;
// decoding failure is a caller error, never a pipeline verdict. ImageData is
// used only to derive the anonymized probe id.
type VerifyInput struct {
	Image         image.Image
	ImageData     []byte
	CheckLiveness bool
	ExtraFrames   []image.Image
}

// EnrollInput registers a new person from one or more supervised images.
type EnrollInput struct {
	PersonID    string
	DisplayName string
	Images      []image.Image
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	store     Store
	cache     Cache
	detector  detector.Detector
	extractor *feature.Extractor
	liveness  *liveness.Classifier
	cfg       *config.Config
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrchestrator constructs the pipeline. The detector is a constructor
// dependency so tests can substitute a fast stub.
func NewOrchestrator(st Store, cache Cache, det detector.Detector, cfg *config.Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:     st,
		cache:     cache,
		detector:  det,
		extractor: feature.NewExtractor(cfg.EmbeddingDim),
		liveness:  liveness.NewClassifier(cfg.LivenessTextureThreshold),
		cfg:       cfg,
		logger:    logger.Named("verification"),
		now:       time.Now,
	}
}

// Verify runs the strict stage sequence
// liveness check -> feature extraction -> database search -> verdict.
// Every path produces exactly one verdict and one audit record. A detected
// spoof short-circuits before any embedding is computed or compared.
func (o *Orchestrator) Verify(ctx context.Context, input VerifyInput) (*VerificationResult, error) {
	timestamp := o.now().UTC()
	probeID := AnonymizedProbeID(input.ImageData, timestamp)
	opLogger := logging.WithOperation(o.logger, "verification.verify", probeID)

	result := &VerificationResult{
		ProbeID:   probeID,
		Liveness:  liveness.Unknown,
		Timestamp: timestamp,
	}

	// LIVENESS_CHECK
	if input.CheckLiveness {
		frames := []image.Image{input.Image}
		frames = append(frames, input.ExtraFrames...)
		verdict, scores := o.liveness.Check(liveness.ResolveInput(frames, o.cfg.LivenessMinFrames))
		result.Liveness = verdict
		result.LivenessScores = scores
		opLogger.Info("liveness check completed",
			zap.String("liveness", string(verdict)),
			zap.Float64("combined_score", scores.CombinedScore),
			zap.Int("num_frames", scores.NumFrames))

		if verdict == liveness.Spoof {
			result.Verdict = VerdictSpoof
			result.Explanation = explainVerdict(VerdictSpoof, "", 0)
			return o.finishVerify(ctx, opLogger, result, nil)
		}
	}

	// FEATURE_EXTRACTION
	extracted, ok := o.extractBest(input.Image)
	if !ok {
		result.Verdict = VerdictNoFaceDetected
		result.Explanation = explainVerdict(VerdictNoFaceDetected, "", 0)
		return o.finishVerify(ctx, opLogger, result, nil)
	}
	result.ProbeFaceBox = boxToArray(extracted.quality.BBox)
	result.EmbeddingNorm = extracted.quality.EmbeddingNorm
	result.Diagnostics = Diagnostics{
		DetectorConfidence: extracted.quality.DetectorConfidence,
		LightingScore:      extracted.quality.LightingScore,
		MotionBlurScore:    extracted.quality.BlurScore,
	}

	// DATABASE_SEARCH
	persons, err := o.store.ListActivePersons(ctx)
	if err != nil {
		wrapped := logging.NewOperationError("verification.list_active_persons", probeID, err)
		opLogger.Error("candidate listing failed", zap.Error(wrapped))
		return nil, wrapped
	}
	candidates, rowIDs := candidatesFromPersons(persons)

	best, found := match.FindBestMatch(extracted.embedding, candidates)
	if !found {
		result.Verdict = VerdictNotFound
		result.Explanation = explainVerdict(VerdictNotFound, "", 0)
		return o.finishVerify(ctx, opLogger, result, nil)
	}

	// VERDICT
	similarity := best.Similarity
	result.Similarity = &similarity
	result.MatchedPhotoID = &best.PhotoID

	var thresholdUsed float64
	switch {
	case similarity >= o.cfg.ThresholdHighConfidence:
		result.Verdict = VerdictMatch
		thresholdUsed = o.cfg.ThresholdHighConfidence
	case similarity >= o.cfg.ThresholdMediumConfidence:
		result.Verdict = VerdictPossibleMatch
		thresholdUsed = o.cfg.ThresholdMediumConfidence
	default:
		result.Verdict = VerdictNotFound
		thresholdUsed = o.cfg.ThresholdMediumConfidence
	}
	result.ThresholdUsed = &thresholdUsed
	result.Explanation = explainVerdict(result.Verdict, best.DisplayName, similarity)

	var matchedRowID *uint
	if result.Verdict == VerdictMatch || result.Verdict == VerdictPossibleMatch {
		personID := best.PersonID
		name := best.DisplayName
		result.MatchedPersonID = &personID
		result.MatchedName = &name
		if rowID, ok := rowIDs[best.PersonID]; ok {
			matchedRowID = &rowID
		}
	}

	opLogger.Info("verification verdict",
		zap.String("verdict", string(result.Verdict)),
		zap.Float64("similarity", similarity))
	return o.finishVerify(ctx, opLogger, result, matchedRowID)
}

// finishVerify persists the audit record and best-effort caches the result.
// Attempt persistence failure is fatal to the call; cache failure is not.
func (o *Orchestrator) finishVerify(ctx context.Context, opLogger *zap.Logger, result *VerificationResult, matchedRowID *uint) (*VerificationResult, error) {
	diagnostics, err := json.Marshal(struct {
		Diagnostics    Diagnostics     `json:"diagnostics"`
		LivenessScores liveness.Scores `json:"liveness_scores"`
		Explanation    string          `json:"explanation"`
	}{result.Diagnostics, result.LivenessScores, result.Explanation})
	if err != nil {
		return nil, err
	}

	attempt := &store.VerificationAttempt{
		ProbeID:        result.ProbeID,
		PersonID:       matchedRowID,
		Verdict:        string(result.Verdict),
		Similarity:     result.Similarity,
		LivenessResult: string(result.Liveness),
		Diagnostics:    string(diagnostics),
		Timestamp:      result.Timestamp,
	}
	if err := o.store.SaveAttempt(ctx, attempt); err != nil {
		wrapped := logging.NewOperationError("verification.save_attempt", result.ProbeID, err)
		opLogger.Error("failed to persist verification attempt", zap.Error(wrapped))
		return nil, wrapped
	}

	o.cacheResult(ctx, opLogger, result)
	return result, nil
}

func (o *Orchestrator) cacheResult(ctx context.Context, opLogger *zap.Logger, result *VerificationResult) {
	if o.cache == nil {
		return
	}
	serialized, err := json.Marshal(result)
	if err != nil {
		opLogger.Warn("failed to serialize verification result for cache", zap.Error(err))
		return
	}
	key := fmt.Sprintf("verification:%s", result.ProbeID)
	if err := o.cache.Set(ctx, key, string(serialized), 5*time.Minute); err != nil {
		opLogger.Warn("failed to cache verification result", zap.Error(err))
	}
}

// CachedResult retrieves a previously cached verification outcome by probe id.
func (o *Orchestrator) CachedResult(ctx context.Context, probeID string) (*VerificationResult, error) {
	if o.cache == nil {
		return nil, errors.New("verification: no cache configured")
	}
	raw, err := o.cache.Get(ctx, fmt.Sprintf("verification:%s", probeID))
	if err != nil {
		return nil, err
	}
	var result VerificationResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Enroll registers a new person. Enrollment images are assumed supervised,
// so no liveness gating applies. Images without a detectable face are
// skipped with a warning; enrollment fails only when every image fails.
func (o *Orchestrator) Enroll(ctx context.Context, input EnrollInput) (*EnrollmentResult, error) {
	if len(input.Images) == 0 {
		return nil, ErrNoImages
	}
	operationID := uuid.NewString()
	opLogger := logging.WithOperation(o.logger, "verification.enroll", operationID)

	existing, err := o.store.FindPersonByExternalID(ctx, input.PersonID)
	if err != nil && !errors.Is(err, store.ErrPersonNotFound) {
		return nil, logging.NewOperationError("verification.find_person", operationID, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePerson, input.PersonID)
	}

	extractions := make([]extraction, 0, len(input.Images))
	photoIDs := make([]string, 0, len(input.Images))
	for idx, img := range input.Images {
		extracted, ok := o.extractBest(img)
		if !ok {
			opLogger.Warn("no face found in enrollment image", zap.Int("image_index", idx))
			continue
		}
		extractions = append(extractions, extracted)
		photoIDs = append(photoIDs, fmt.Sprintf("%s_photo_%d", input.PersonID, idx))
	}
	if len(extractions) == 0 {
		return nil, ErrNoFaceFound
	}

	enrolledAt := o.now().UTC()
	person := &store.Person{
		PersonID:    input.PersonID,
		DisplayName: input.DisplayName,
		PhotoCount:  len(extractions),
		EnrolledAt:  enrolledAt,
		IsActive:    true,
	}
	if err := o.store.CreatePerson(ctx, person); err != nil {
		return nil, logging.NewOperationError("verification.create_person", operationID, err)
	}

	// Embedding writes are best-effort per photo: a failure after the person
	// record exists leaves a partially-enrolled person observable to the
	// caller rather than rolling back silently.
	for i, extracted := range extractions {
		quality, err := json.Marshal(extracted.quality)
		if err != nil {
			return nil, err
		}
		embedding := &store.FaceEmbedding{
			OwnerID:        person.ID,
			Vector:         store.EncodeVector(extracted.embedding),
			VectorNorm:     extracted.quality.EmbeddingNorm,
			SourcePhotoID:  photoIDs[i],
			QualityMetrics: string(quality),
			CreatedAt:      enrolledAt,
		}
		if err := o.store.AppendEmbedding(ctx, embedding); err != nil {
			return nil, logging.NewOperationError("verification.append_embedding", operationID, err)
		}
	}

	opLogger.Info("person enrolled",
		zap.String("person_id", input.PersonID),
		zap.Int("photo_count", len(extractions)))

	return &EnrollmentResult{
		Success:     true,
		PersonID:    input.PersonID,
		DisplayName: input.DisplayName,
		PhotoCount:  len(extractions),
		Message:     fmt.Sprintf("enrolled %s with %d photo(s)", input.DisplayName, len(extractions)),
		EnrolledAt:  enrolledAt,
	}, nil
}

// ListPersons returns every active enrolled identity.
func (o *Orchestrator) ListPersons(ctx context.Context) ([]PersonInfo, error) {
	persons, err := o.store.ListActivePersons(ctx)
	if err != nil {
		return nil, err
	}
	infos := make([]PersonInfo, 0, len(persons))
	for _, p := range persons {
		infos = append(infos, PersonInfo{
			PersonID:    p.PersonID,
			DisplayName: p.DisplayName,
			PhotoCount:  p.PhotoCount,
			EnrolledAt:  p.EnrolledAt,
			IsActive:    p.IsActive,
		})
	}
	return infos, nil
}

// GetPerson returns a single active identity by external id.
func (o *Orchestrator) GetPerson(ctx context.Context, personID string) (*PersonInfo, error) {
	person, err := o.store.FindPersonByExternalID(ctx, personID)
	if err != nil {
		return nil, err
	}
	if !person.IsActive {
		return nil, store.ErrPersonNotFound
	}
	return &PersonInfo{
		PersonID:    person.PersonID,
		DisplayName: person.DisplayName,
		PhotoCount:  person.PhotoCount,
		EnrolledAt:  person.EnrolledAt,
		IsActive:    person.IsActive,
	}, nil
}

// DeactivatePerson soft-deletes an enrolled identity. Its embeddings remain
// stored but stop participating in matching.
func (o *Orchestrator) DeactivatePerson(ctx context.Context, personID string) (*PersonInfo, error) {
	person, err := o.store.DeactivatePerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	o.logger.Info("person deactivated", zap.String("person_id", personID))
	return &PersonInfo{
		PersonID:    person.PersonID,
		DisplayName: person.DisplayName,
		PhotoCount:  person.PhotoCount,
		EnrolledAt:  person.EnrolledAt,
		IsActive:    person.IsActive,
	}, nil
}

// Stats aggregates verification telemetry from the store.
func (o *Orchestrator) Stats(ctx context.Context) (*store.Stats, error) {
	return o.store.AggregateStats(ctx)
}

// extractBest detects faces and embeds the highest-confidence one. The
// quality diagnostics are computed here, once, and stored verbatim.
func (o *Orchestrator) extractBest(img image.Image) (extraction, bool) {
	detections := o.detector.Detect(imaging.ToGray(img))
	if len(detections) == 0 {
		return extraction{}, false
	}
	best := detections[0]

	region := imaging.Crop(img, best.Box)
	embedding := o.extractor.Embed(region)
	lighting, blur := o.extractor.Assess(region)

	return extraction{
		embedding: embedding,
		quality: feature.Quality{
			BBox:               best.Box,
			DetectorConfidence: best.Confidence,
			LightingScore:      lighting,
			BlurScore:          blur,
			EmbeddingNorm:      feature.Norm(embedding),
		},
	}, true
}

func candidatesFromPersons(persons []store.Person) ([]match.Candidate, map[string]uint) {
	candidates := make([]match.Candidate, 0, len(persons))
	rowIDs := make(map[string]uint, len(persons))
	for _, person := range persons {
		rowIDs[person.PersonID] = person.ID
		candidate := match.Candidate{
			PersonID:    person.PersonID,
			DisplayName: person.DisplayName,
			Embeddings:  make([]match.CandidateEmbedding, 0, len(person.Embeddings)),
		}
		for _, embedding := range person.Embeddings {
			candidate.Embeddings = append(candidate.Embeddings, match.CandidateEmbedding{
				PhotoID: embedding.SourcePhotoID,
				Vector:  store.DecodeVector(embedding.Vector),
			})
		}
		candidates = append(candidates, candidate)
	}
	return candidates, rowIDs
}
