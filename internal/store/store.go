package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/faceid/internal/logging"
)

// ErrPersonNotFound is returned when a lookup targets an unknown or
// inactive person.
var ErrPersonNotFound = errors.New("store: person not found")

// EmbeddingStore provides persistence APIs for enrolled identities and
// verification telemetry, backed by gorm. Reads are safe for concurrent use;
// isolation is delegated to the database.
type EmbeddingStore struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewEmbeddingStore creates a new store instance.
func NewEmbeddingStore(db *gorm.DB, logger *zap.Logger) *EmbeddingStore {
	return &EmbeddingStore{
		db:             db,
		logger:         logger.Named("embedding_store"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (s *EmbeddingStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Person{}, &FaceEmbedding{}, &VerificationAttempt{})
}

// CreatePerson inserts a new identity record.
func (s *EmbeddingStore) CreatePerson(ctx context.Context, person *Person) error {
	return s.db.WithContext(ctx).Create(person).Error
}

// FindPersonByExternalID retrieves a person by external id regardless of
// activation state. Returns ErrPersonNotFound when no row exists.
func (s *EmbeddingStore) FindPersonByExternalID(ctx context.Context, personID string) (*Person, error) {
	var person Person
	err := s.db.WithContext(ctx).First(&person, "person_id = ?", personID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPersonNotFound
	}
	if err != nil {
		return nil, err
	}
	return &person, nil
}

// AppendEmbedding persists one enrolled feature vector. Embedding rows are
// never updated or deleted afterwards.
func (s *EmbeddingStore) AppendEmbedding(ctx context.Context, embedding *FaceEmbedding) error {
	return s.db.WithContext(ctx).Create(embedding).Error
}

// ListActivePersons returns every active person with all enrolled
// embeddings preloaded, in enrollment order.
func (s *EmbeddingStore) ListActivePersons(ctx context.Context) ([]Person, error) {
	var persons []Person
	err := s.db.WithContext(ctx).
		Preload("Embeddings").
		Where("is_active = ?", true).
		Order("id").
		Find(&persons).Error
	if err != nil {
		return nil, err
	}
	return persons, nil
}

// DeactivatePerson soft-deletes a person. Embeddings stay in place but
// become unreachable through ListActivePersons.
func (s *EmbeddingStore) DeactivatePerson(ctx context.Context, personID string) (*Person, error) {
	person, err := s.FindPersonByExternalID(ctx, personID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(person).Update("is_active", false).Error; err != nil {
		return nil, err
	}
	person.IsActive = false
	return person, nil
}

// SaveAttempt appends one audit record. Transient database errors are
// retried here so a flaky connection does not lose telemetry; the
// verification core itself never retries.
func (s *EmbeddingStore) SaveAttempt(ctx context.Context, attempt *VerificationAttempt) error {
	return s.executeWithRetry(ctx, "store.save_attempt", attempt.ProbeID, func() error {
		return s.db.WithContext(ctx).Create(attempt).Error
	})
}

// AggregateStats summarizes enrollment and attempt telemetry.
func (s *EmbeddingStore) AggregateStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{VerdictDistribution: map[string]int64{}}

	db := s.db.WithContext(ctx)
	if err := db.Model(&Person{}).Where("is_active = ?", true).Count(&stats.TotalPersons).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&FaceEmbedding{}).Count(&stats.TotalEmbeddings).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&VerificationAttempt{}).Count(&stats.TotalAttempts).Error; err != nil {
		return nil, err
	}

	type verdictCount struct {
		Verdict string
		Count   int64
	}
	var rows []verdictCount
	err := db.Model(&VerificationAttempt{}).
		Select("verdict, count(id) as count").
		Group("verdict").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		stats.VerdictDistribution[row.Verdict] = row.Count
	}
	return stats, nil
}

func (s *EmbeddingStore) executeWithRetry(ctx context.Context, operation, probeID string, fn func() error) error {
	if s.retryAttempts <= 1 {
		return logging.NewOperationError(operation, probeID, fn())
	}

	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, probeID)
	var err error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, probeID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("database operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == s.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, probeID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, probeID, err)
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
