package store

import (
	"encoding/binary"
	"math"
	"time"
)

// Person is an enrolled identity. Removal is a soft deactivation; the row
// and its embeddings are never hard-deleted.
type Person struct {
	ID          uint      `gorm:"primaryKey"`
	PersonID    string    `gorm:"column:person_id;uniqueIndex;size:64"`
	DisplayName string    `gorm:"column:display_name;size:255"`
	PhotoCount  int       `gorm:"column:photo_count"`
	EnrolledAt  time.Time `gorm:"column:enrolled_at"`
	IsActive    bool      `gorm:"column:is_active;index"`

	Embeddings []FaceEmbedding `gorm:"foreignKey:OwnerID"`
}

// TableName overrides the default table name.
func (Person) TableName() string {
	return "persons"
}

// FaceEmbedding is one enrolled feature vector. Rows are immutable and
// append-only regardless of the owner's activation state. Vector holds the
// embedding as little-endian IEEE-754 float32 values; VectorNorm caches the
// L2 norm of the stored (already normalized) vector.
type FaceEmbedding struct {
	ID             uint      `gorm:"primaryKey"`
	OwnerID        uint      `gorm:"column:owner_id;index"`
	Vector         []byte    `gorm:"column:vector"`
	VectorNorm     float64   `gorm:"column:vector_norm"`
	SourcePhotoID  string    `gorm:"column:source_photo_id;uniqueIndex;size:128"`
	QualityMetrics string    `gorm:"column:quality_metrics;type:text"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (FaceEmbedding) TableName() string {
	return "face_embeddings"
}

// VerificationAttempt is a write-once audit record. ProbeID is an anonymized
// hash that cannot be reversed to image bytes. PersonID is null for attempts
// that matched nobody.
type VerificationAttempt struct {
	ID             uint      `gorm:"primaryKey"`
	ProbeID        string    `gorm:"column:probe_id;index;size:64"`
	PersonID       *uint     `gorm:"column:person_id;index"`
	Verdict        string    `gorm:"column:verdict;size:32"`
	Similarity     *float64  `gorm:"column:similarity"`
	LivenessResult string    `gorm:"column:liveness_result;size:16"`
	Diagnostics    string    `gorm:"column:diagnostics;type:text"`
	Timestamp      time.Time `gorm:"column:timestamp;index"`
}

// TableName overrides the default table name.
func (VerificationAttempt) TableName() string {
	return "verification_attempts"
}

// Stats aggregates verification telemetry.
type Stats struct {
	TotalPersons        int64            `json:"total_persons"`
	TotalEmbeddings     int64            `json:"total_embeddings"`
	TotalAttempts       int64            `json:"total_attempts"`
	VerdictDistribution map[string]int64 `json:"verdict_distribution"`
}

// EncodeVector serializes an embedding as little-endian float32 values.
func EncodeVector(vector []float32) []byte {
	out := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

// DecodeVector deserializes a little-endian float32 embedding. Trailing
// bytes that do not form a full value are ignored.
func DecodeVector(data []byte) []float32 {
	n := len(data) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return out
}
