package logging

import (
	"go.uber.org/zap"
)

// NewLogger builds a production ready structured logger.
func NewLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "timestamp"
	return cfg.Build()
}

// WithOperation enriches the logger with operation and probe identifiers.
// Probe ids are anonymized upstream and never reference image bytes.
func WithOperation(logger *zap.Logger, operation, probeID string) *zap.Logger {
	fields := []zap.Field{zap.String("operation", operation)}
	if probeID != "" {
		fields = append(fields, zap.String("probe_id", probeID))
	}
	return logger.With(fields...)
}
