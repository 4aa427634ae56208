package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/leaf-check/internal/logging"
	"github.com/example/leaf-check/internal/retry"
)

// Outcomes recorded on a SubmissionLog.
const (
	OutcomeSuccess        = "success"
	OutcomeUnauthorized   = "unauthorized"
	OutcomeNetworkFailure = "network_failure"
	OutcomeServerError    = "server_error"
)

// SubmissionLog is the local audit row of one submission attempt.
type SubmissionLog struct {
	ID           uint      `gorm:"primaryKey" json:"-"`
	SubmissionID string    `gorm:"column:submission_id;uniqueIndex;size:64" json:"submission_id"`
	Origin       string    `gorm:"column:origin;size:16" json:"origin"`
	FileName     string    `gorm:"column:file_name;size:255" json:"file_name"`
	MIMEType     string    `gorm:"column:mime_type;size:64" json:"mime_type"`
	SizeBytes    int       `gorm:"column:size_bytes" json:"size_bytes"`
	SHA1Hash     string    `gorm:"column:sha1_hash;size:40;index" json:"sha1"`
	Outcome      string    `gorm:"column:outcome;size:32;index" json:"outcome"`
	DiseaseName  string    `gorm:"column:disease_name;size:128" json:"disease_name,omitempty"`
	Confidence   float64   `gorm:"column:confidence" json:"confidence"`
	Message      string    `gorm:"column:message;type:text" json:"message,omitempty"`
	StatusCode   int       `gorm:"column:status_code" json:"status_code,omitempty"`
	LatencyMs    int64     `gorm:"column:latency_ms" json:"latency_ms"`
	CreatedAt    time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides the default table name.
func (SubmissionLog) TableName() string {
	return "submission_logs"
}

// MetricsAggregation holds raw aggregates over all submission logs.
type MetricsAggregation struct {
	TotalCount        int64
	SuccessCount      int64
	AverageConfidence float64
	AverageLatencyMs  float64
}

// SubmissionRepository provides persistence APIs for submission logs.
type SubmissionRepository struct {
	db     *gorm.DB
	logger *zap.Logger
	policy retry.Policy
}

// NewSubmissionRepository creates a new repository instance.
func NewSubmissionRepository(db *gorm.DB, logger *zap.Logger) *SubmissionRepository {
	return &SubmissionRepository{
		db:     db,
		logger: logger.Named("submission_repository"),
		policy: retry.DefaultPolicy(),
	}
}

// AutoMigrate ensures the schema is available.
func (r *SubmissionRepository) AutoMigrate(ctx context.Context) error {
	return r.executeWithRetry(ctx, "repository.auto_migrate", "", func() error {
		return r.db.WithContext(ctx).AutoMigrate(&SubmissionLog{})
	})
}

// SaveLog persists a submission log entry.
func (r *SubmissionRepository) SaveLog(ctx context.Context, log *SubmissionLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	return r.executeWithRetry(ctx, "repository.save_log", log.SubmissionID, func() error {
		return r.db.WithContext(ctx).Create(log).Error
	})
}

// FindBySubmissionID retrieves the log of one submission. A missing row
// yields gorm.ErrRecordNotFound.
func (r *SubmissionRepository) FindBySubmissionID(ctx context.Context, submissionID string) (*SubmissionLog, error) {
	var log SubmissionLog
	err := r.executeWithRetry(ctx, "repository.find_by_submission_id", submissionID, func() error {
		return r.db.WithContext(ctx).First(&log, "submission_id = ?", submissionID).Error
	})
	if err != nil {
		return nil, err
	}
	return &log, nil
}

// Recent returns the newest logs first, at most limit of them.
func (r *SubmissionRepository) Recent(ctx context.Context, limit int) ([]*SubmissionLog, error) {
	if limit <= 0 {
		limit = 20
	}
	var logs []*SubmissionLog
	err := r.executeWithRetry(ctx, "repository.recent", "", func() error {
		return r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit).Find(&logs).Error
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}

// AggregateMetrics computes totals and averages across all logs. Averages
// of confidence only cover successful submissions.
func (r *SubmissionRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var row struct {
		TotalCount       int64
		SuccessCount     int64
		AverageLatencyMs float64
	}
	var avgConfidence struct {
		AverageConfidence float64
	}

	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		db := r.db.WithContext(ctx).Model(&SubmissionLog{})
		if err := db.Select(
			"COUNT(*) AS total_count, "+
				"COALESCE(SUM(CASE WHEN outcome = ? THEN 1 ELSE 0 END), 0) AS success_count, "+
				"COALESCE(AVG(latency_ms), 0) AS average_latency_ms",
			OutcomeSuccess,
		).Scan(&row).Error; err != nil {
			return err
		}
		return r.db.WithContext(ctx).Model(&SubmissionLog{}).
			Select("COALESCE(AVG(confidence), 0) AS average_confidence").
			Where("outcome = ?", OutcomeSuccess).
			Scan(&avgConfidence).Error
	})
	if err != nil {
		return nil, err
	}

	return &MetricsAggregation{
		TotalCount:        row.TotalCount,
		SuccessCount:      row.SuccessCount,
		AverageConfidence: avgConfidence.AverageConfidence,
		AverageLatencyMs:  row.AverageLatencyMs,
	}, nil
}

func (r *SubmissionRepository) executeWithRetry(ctx context.Context, operation, submissionID string, fn func() error) error {
	opLogger := logging.WithOperation(r.logger, operation, submissionID)
	err := retry.Do(ctx, r.policy, fn, func(attempt int, err error) {
		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt))
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			opLogger.Debug("record not found")
		} else {
			opLogger.Error("database operation failed", zap.Error(err))
		}
		return logging.NewOperationError(operation, submissionID, err)
	}
	return nil
}
