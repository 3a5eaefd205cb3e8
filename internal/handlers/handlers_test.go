package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/example/faceid/internal/auth"
	"github.com/example/faceid/internal/config"
	"github.com/example/faceid/internal/detector"
	"github.com/example/faceid/internal/store"
	"github.com/example/faceid/internal/verification"
)

const testJWTSecret = "test-secret"

type memoryStore struct {
	persons  []store.Person
	attempts []*store.VerificationAttempt
	nextID   uint
}

func (s *memoryStore) ListActivePersons(ctx context.Context) ([]store.Person, error) {
	var active []store.Person
	for _, p := range s.persons {
		if p.IsActive {
			active = append(active, p)
		}
	}
	return active, nil
}

func (s *memoryStore) CreatePerson(ctx context.Context, person *store.Person) error {
	s.nextID++
	person.ID = s.nextID
	s.persons = append(s.persons, *person)
	return nil
}

func (s *memoryStore) FindPersonByExternalID(ctx context.Context, personID string) (*store.Person, error) {
	for i := range s.persons {
		if s.persons[i].PersonID == personID {
			person := s.persons[i]
			return &person, nil
		}
	}
	return nil, store.ErrPersonNotFound
}

func (s *memoryStore) AppendEmbedding(ctx context.Context, embedding *store.FaceEmbedding) error {
	for i := range s.persons {
		if s.persons[i].ID == embedding.OwnerID {
			s.persons[i].Embeddings = append(s.persons[i].Embeddings, *embedding)
			return nil
		}
	}
	return fmt.Errorf("no person with id %d", embedding.OwnerID)
}

func (s *memoryStore) DeactivatePerson(ctx context.Context, personID string) (*store.Person, error) {
	for i := range s.persons {
		if s.persons[i].PersonID == personID {
			s.persons[i].IsActive = false
			person := s.persons[i]
			return &person, nil
		}
	}
	return nil, store.ErrPersonNotFound
}

func (s *memoryStore) SaveAttempt(ctx context.Context, attempt *store.VerificationAttempt) error {
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *memoryStore) AggregateStats(ctx context.Context) (*store.Stats, error) {
	return &store.Stats{
		TotalPersons:        int64(len(s.persons)),
		TotalAttempts:       int64(len(s.attempts)),
		VerdictDistribution: map[string]int64{},
	}, nil
}

type fullFrameDetector struct{}

func (fullFrameDetector) Detect(gray *image.Gray) []detector.Detection {
	return []detector.Detection{{Box: gray.Bounds(), Confidence: 0.9}}
}

func newTestRouter(t *testing.T) (*gin.Engine, *memoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		MinFaceSizePx:             config.DefaultMinFaceSizePx,
		MaxFacesPerImage:          config.DefaultMaxFacesPerImage,
		LivenessMinFrames:         config.DefaultLivenessMinFrames,
		LivenessTextureThreshold:  config.DefaultLivenessTextureThreshold,
		ThresholdHighConfidence:   config.DefaultThresholdHighConfidence,
		ThresholdMediumConfidence: config.DefaultThresholdMediumConfidence,
		EmbeddingDim:              config.DefaultEmbeddingDim,
		MaxImageSizeMB:            config.DefaultMaxImageSizeMB,
		AllowedImageMIMEs:         []string{"image/jpeg", "image/png", "image/jpg"},
	}

	st := &memoryStore{}
	o := verification.NewOrchestrator(st, nil, fullFrameDetector{}, cfg, zap.NewNop())

	router := gin.New()
	router.MaxMultipartMemory = MaxUploadSize
	RegisterRoutes(router, o, cfg, auth.JWTMiddleware(testJWTSecret, ""))
	return router, st
}

func noisePNG(t *testing.T, seed int64) []byte {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	img := image.NewGray(image.Rect(0, 0, 96, 96))
	for i := range img.Pix {
		img.Pix[i] = uint8(rng.Intn(256))
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode fixture: %v", err)
	}
	return buf.Bytes()
}

type filePart struct {
	field       string
	contentType string
	payload     []byte
}

func buildMultipartBody(t *testing.T, fields map[string]string, files ...filePart) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}
	for _, file := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="upload.png"`, file.field))
		header.Set("Content-Type", file.contentType)
		part, err := writer.CreatePart(header)
		if err != nil {
			t.Fatalf("failed to create multipart part: %v", err)
		}
		if _, err := part.Write(file.payload); err != nil {
			t.Fatalf("failed to write payload: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func buildTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func doRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)

	resp := doRequest(router, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestVerifyRejectsLargeUpload(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := buildMultipartBody(t, nil, filePart{
		field:       "image",
		contentType: "image/png",
		payload:     bytes.Repeat([]byte("a"), MaxUploadSize+1),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/faceid/verify", body)
	req.Header.Set("Content-Type", contentType)

	if resp := doRequest(router, req); resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected %d, got %d", http.StatusRequestEntityTooLarge, resp.Code)
	}
}

func TestVerifyRejectsUnsupportedContentType(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := buildMultipartBody(t, nil, filePart{
		field:       "image",
		contentType: "text/plain",
		payload:     []byte("hello"),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/faceid/verify", body)
	req.Header.Set("Content-Type", contentType)

	if resp := doRequest(router, req); resp.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected %d, got %d", http.StatusUnsupportedMediaType, resp.Code)
	}
}

func TestVerifyRejectsUndecodableImage(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := buildMultipartBody(t, nil, filePart{
		field:       "image",
		contentType: "image/png",
		payload:     []byte("not actually a png"),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/faceid/verify", body)
	req.Header.Set("Content-Type", contentType)

	if resp := doRequest(router, req); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestVerifyEmptyDatabaseReturnsNotFound(t *testing.T) {
	router, st := newTestRouter(t)

	body, contentType := buildMultipartBody(t,
		map[string]string{"check_liveness": "false"},
		filePart{field: "image", contentType: "image/png", payload: noisePNG(t, 1)})
	req := httptest.NewRequest(http.MethodPost, "/api/faceid/verify", body)
	req.Header.Set("Content-Type", contentType)

	resp := doRequest(router, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var result verification.VerificationResult
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if result.Verdict != verification.VerdictNotFound {
		t.Fatalf("expected not_found, got %s", result.Verdict)
	}
	if len(st.attempts) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(st.attempts))
	}
}

func TestVerifyMultiFrameRequiresThreeFrames(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := buildMultipartBody(t, nil,
		filePart{field: "images", contentType: "image/png", payload: noisePNG(t, 1)},
		filePart{field: "images", contentType: "image/png", payload: noisePNG(t, 2)})
	req := httptest.NewRequest(http.MethodPost, "/api/faceid/verify-multi-frame", body)
	req.Header.Set("Content-Type", contentType)

	if resp := doRequest(router, req); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected %d, got %d", http.StatusBadRequest, resp.Code)
	}
}

func TestResultLookupUnknownProbe(t *testing.T) {
	router, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/faceid/result/probe_deadbeef", nil)
	if resp := doRequest(router, req); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestEnrollRequiresAuth(t *testing.T) {
	router, _ := newTestRouter(t)

	body, contentType := buildMultipartBody(t,
		map[string]string{"person_id": "alice", "display_name": "Alice"},
		filePart{field: "images", contentType: "image/png", payload: noisePNG(t, 1)})
	req := httptest.NewRequest(http.MethodPost, "/api/faceid/enroll", body)
	req.Header.Set("Content-Type", contentType)

	if resp := doRequest(router, req); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestEnrollAndDuplicate(t *testing.T) {
	router, _ := newTestRouter(t)
	token := buildTestToken(t, "operator-1")

	enroll := func() *httptest.ResponseRecorder {
		body, contentType := buildMultipartBody(t,
			map[string]string{"person_id": "alice", "display_name": "Alice"},
			filePart{field: "images", contentType: "image/png", payload: noisePNG(t, 1)})
		req := httptest.NewRequest(http.MethodPost, "/api/faceid/enroll", body)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+token)
		return doRequest(router, req)
	}

	if resp := enroll(); resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp := enroll(); resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate, got %d", resp.Code)
	}
}

func TestEnrollRequiresIdentityFields(t *testing.T) {
	router, _ := newTestRouter(t)
	token := buildTestToken(t, "operator-1")

	body, contentType := buildMultipartBody(t, nil,
		filePart{field: "images", contentType: "image/png", payload: noisePNG(t, 1)})
	req := httptest.NewRequest(http.MethodPost, "/api/faceid/enroll", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	if resp := doRequest(router, req); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestPersonLifecycleOverHTTP(t *testing.T) {
	router, _ := newTestRouter(t)
	token := buildTestToken(t, "operator-1")

	body, contentType := buildMultipartBody(t,
		map[string]string{"person_id": "bob", "display_name": "Bob"},
		filePart{field: "images", contentType: "image/png", payload: noisePNG(t, 3)})
	req := httptest.NewRequest(http.MethodPost, "/api/faceid/enroll", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)
	if resp := doRequest(router, req); resp.Code != http.StatusCreated {
		t.Fatalf("enrollment failed: %d %s", resp.Code, resp.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/api/faceid/persons/bob", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if resp := doRequest(router, req); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/api/faceid/persons/bob", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if resp := doRequest(router, req); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/faceid/persons/bob", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	if resp := doRequest(router, req); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after deactivation, got %d", resp.Code)
	}
}

func TestStatsRequiresAuth(t *testing.T) {
	router, _ := newTestRouter(t)

	if resp := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/faceid/stats", nil)); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/faceid/stats", nil)
	req.Header.Set("Authorization", "Bearer "+buildTestToken(t, "operator-1"))
	if resp := doRequest(router, req); resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}
