package repository

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/breastcare/internal/logging"
)

// AnalysisRecord is the finalized, immutable result bundle persisted for a
// user. ImageData holds the preview as a data URI, Confidence keeps the raw
// model value (fraction or percentage).
type AnalysisRecord struct {
	ID              uint      `gorm:"primaryKey" json:"-"`
	RecordID        string    `gorm:"column:record_id;uniqueIndex;size:64" json:"record_id"`
	UserID          string    `gorm:"column:user_id;index;size:128" json:"user_id"`
	FileName        string    `gorm:"column:file_name;size:255" json:"file_name"`
	ImageData       string    `gorm:"column:image_data;type:text" json:"image_data"`
	ImageDimensions string    `gorm:"column:image_dimensions;size:32" json:"image_dimensions"`
	PatientID       string    `gorm:"column:patient_id;size:16" json:"patient_id"`
	ModelVersion    string    `gorm:"column:model_version;size:64" json:"model_version"`
	ImageType       string    `gorm:"column:image_type;size:64" json:"image_type"`
	Label           string    `gorm:"column:label;size:64" json:"label"`
	Confidence      float64   `gorm:"column:confidence" json:"confidence"`
	ProcessingTime  string    `gorm:"column:processing_time;size:16" json:"processing_time"`
	ProcessingMs    int64     `gorm:"column:processing_ms" json:"processing_ms"`
	CreatedAt       time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName overrides the default table name.
func (AnalysisRecord) TableName() string {
	return "analysis_records"
}

// MetricsAggregation holds raw aggregates computed over persisted records.
type MetricsAggregation struct {
	TotalCount          int64   `gorm:"column:total_count"`
	PositiveCount       int64   `gorm:"column:positive_count"`
	AverageConfidence   float64 `gorm:"column:average_confidence"`
	AverageProcessingMs float64 `gorm:"column:average_processing_ms"`
}

// AnalysisRepository provides persistence APIs for analysis history.
type AnalysisRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewAnalysisRepository creates a new repository instance.
func NewAnalysisRepository(db *gorm.DB, logger *zap.Logger) *AnalysisRepository {
	return &AnalysisRepository{
		db:             db,
		logger:         logger.Named("analysis_repository"),
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// AutoMigrate ensures the schema is available.
func (r *AnalysisRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&AnalysisRecord{})
}

// SaveRecord persists a finalized analysis record.
func (r *AnalysisRepository) SaveRecord(ctx context.Context, record *AnalysisRecord) error {
	return r.executeWithRetry(ctx, "repository.save_record", record.RecordID, func() error {
		return r.db.WithContext(ctx).Create(record).Error
	})
}

// FindByRecordIDAndUser retrieves an analysis record matching the id and owner.
func (r *AnalysisRepository) FindByRecordIDAndUser(ctx context.Context, recordID, userID string) (*AnalysisRecord, error) {
	var record AnalysisRecord
	err := r.executeWithRetry(ctx, "repository.find_record", recordID, func() error {
		return r.db.WithContext(ctx).First(&record, "record_id = ? AND user_id = ?", recordID, userID).Error
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByUser returns the user's analysis history, most recent first.
func (r *AnalysisRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*AnalysisRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []*AnalysisRecord
	err := r.executeWithRetry(ctx, "repository.list_by_user", "", func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order("created_at DESC").
			Limit(limit).
			Find(&records).Error
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// AggregateMetrics computes totals over all persisted records. Confidence is
// normalized to a percentage in SQL so fraction and percentage inputs average
// on the same scale.
func (r *AnalysisRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var aggregation MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).
			Model(&AnalysisRecord{}).
			Select(
				"COUNT(*) AS total_count, " +
					"COALESCE(SUM(CASE WHEN label LIKE '%POSITIF%' THEN 1 ELSE 0 END), 0) AS positive_count, " +
					"COALESCE(AVG(CASE WHEN confidence > 1 THEN confidence ELSE confidence * 100 END), 0) AS average_confidence, " +
					"COALESCE(AVG(processing_ms), 0) AS average_processing_ms",
			).
			Scan(&aggregation).Error
	})
	if err != nil {
		return nil, err
	}
	return &aggregation, nil
}

func (r *AnalysisRepository) executeWithRetry(ctx context.Context, operation, recordID string, fn func() error) error {
	if r.retryAttempts <= 1 {
		return logging.NewOperationError(operation, recordID, fn())
	}

	backoff := r.initialBackoff
	opLogger := logging.WithOperation(r.logger, operation, recordID)
	var err error
	for attempt := 0; attempt < r.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, recordID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= r.maxBackoff {
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

		if !isTransientError(err) || attempt == r.retryAttempts-1 {
			opLogger.Error("database operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, recordID, err)
		}

		opLogger.Warn("transient database error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, recordID, err)
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
