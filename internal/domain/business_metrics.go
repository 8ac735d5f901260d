package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	DigestID   string
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventDigestRequested фиксирует ручной запуск дайджеста.
	BusinessMetricEventDigestRequested = "digest_requested"
	// BusinessMetricEventDigestScheduled фиксирует плановую постановку дайджеста.
	BusinessMetricEventDigestScheduled = "digest_scheduled"
	// BusinessMetricEventDigestDelivered фиксирует успешную доставку дайджеста.
	BusinessMetricEventDigestDelivered = "digest_delivered"
	// BusinessMetricEventDigestFailed фиксирует неуспешный запуск.
	BusinessMetricEventDigestFailed = "digest_failed"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
