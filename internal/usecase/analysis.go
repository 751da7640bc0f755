package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/breastcare/internal/logging"
	"github.com/example/breastcare/internal/repository"
)

// AnalysisRepo defines the persistence operations needed by the service.
type AnalysisRepo interface {
	SaveRecord(ctx context.Context, record *repository.AnalysisRecord) error
	FindByRecordIDAndUser(ctx context.Context, recordID, userID string) (*repository.AnalysisRecord, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*repository.AnalysisRecord, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// AnalysisService persists finalized records and serves history reads, with
// a Redis cache in front of the repository for recent lookups.
type AnalysisService struct {
	repo           AnalysisRepo
	cache          Cache
	logger         *zap.Logger
	cacheTTL       time.Duration
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedAnalysis struct {
	RecordID        string    `json:"record_id"`
	UserID          string    `json:"user_id"`
	FileName        string    `json:"file_name"`
	ImageData       string    `json:"image_data"`
	ImageDimensions string    `json:"image_dimensions"`
	PatientID       string    `json:"patient_id"`
	ModelVersion    string    `json:"model_version"`
	ImageType       string    `json:"image_type"`
	Label           string    `json:"label"`
	Confidence      float64   `json:"confidence"`
	ProcessingTime  string    `json:"processing_time"`
	ProcessingMs    int64     `json:"processing_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// NewAnalysisService constructs the service.
func NewAnalysisService(repo AnalysisRepo, cache Cache, logger *zap.Logger) *AnalysisService {
	return &AnalysisService{
		repo:           repo,
		cache:          cache,
		logger:         logger.Named("analysis_service"),
		cacheTTL:       5 * time.Minute,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// SaveAnalysis persists a finalized record and caches it for fast retrieval.
// A cache failure is logged but never fails the write.
func (s *AnalysisService) SaveAnalysis(ctx context.Context, record *repository.AnalysisRecord) error {
	opLogger := logging.WithOperation(s.logger, "analysis.save", record.RecordID)

	if err := s.repo.SaveRecord(ctx, record); err != nil {
		wrapped := logging.NewOperationError("analysis.save_record", record.RecordID, err)
		opLogger.Error("failed to persist analysis record", zap.Error(wrapped))
		return wrapped
	}

	cached := cachedAnalysis{
		RecordID:        record.RecordID,
		UserID:          record.UserID,
		FileName:        record.FileName,
		ImageData:       record.ImageData,
		ImageDimensions: record.ImageDimensions,
		PatientID:       record.PatientID,
		ModelVersion:    record.ModelVersion,
		ImageType:       record.ImageType,
		Label:           record.Label,
		Confidence:      record.Confidence,
		ProcessingTime:  record.ProcessingTime,
		ProcessingMs:    record.ProcessingMs,
		CreatedAt:       record.CreatedAt,
	}
	serialized, err := json.Marshal(cached)
	if err != nil {
		opLogger.Warn("failed to serialize analysis record for cache", zap.Error(err))
		return nil
	}
	if err := s.withRedisRetry(ctx, record.RecordID, "cache.set.analysis", func() error {
		return s.cache.Set(ctx, cacheKey(record.RecordID), string(serialized), s.cacheTTL)
	}); err != nil {
		opLogger.Warn("failed to cache analysis record", zap.Error(err))
	}
	return nil
}

// GetAnalysis returns one record, serving from cache when possible.
func (s *AnalysisService) GetAnalysis(ctx context.Context, userID, recordID string) (*repository.AnalysisRecord, error) {
	if cached, err := s.withRedisGet(ctx, recordID, "cache.get.analysis", cacheKey(recordID)); err == nil {
		var payload cachedAnalysis
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(s.logger, "analysis.get", recordID).Warn("failed to decode cached record", zap.Error(err))
		} else if payload.UserID == userID {
			return &repository.AnalysisRecord{
				RecordID:        payload.RecordID,
				UserID:          payload.UserID,
				FileName:        payload.FileName,
				ImageData:       payload.ImageData,
				ImageDimensions: payload.ImageDimensions,
				PatientID:       payload.PatientID,
				ModelVersion:    payload.ModelVersion,
				ImageType:       payload.ImageType,
				Label:           payload.Label,
				Confidence:      payload.Confidence,
				ProcessingTime:  payload.ProcessingTime,
				ProcessingMs:    payload.ProcessingMs,
				CreatedAt:       payload.CreatedAt,
			}, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		logging.WithOperation(s.logger, "analysis.get", recordID).Warn("failed to read cache", zap.Error(err))
	}

	return s.repo.FindByRecordIDAndUser(ctx, recordID, userID)
}

// ListHistory returns the user's persisted analyses, most recent first.
func (s *AnalysisService) ListHistory(ctx context.Context, userID string, limit int) ([]*repository.AnalysisRecord, error) {
	return s.repo.ListByUser(ctx, userID, limit)
}

func cacheKey(recordID string) string {
	return fmt.Sprintf("analysis:%s", recordID)
}

func (s *AnalysisService) withRedisRetry(ctx context.Context, recordID, operation string, fn func() error) error {
	if s.retryAttempts <= 1 {
		return logging.NewOperationError(operation, recordID, fn())
	}

	backoff := s.initialBackoff
	opLogger := logging.WithOperation(s.logger, operation, recordID)
	var err error
	for attempt := 0; attempt < s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, recordID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= s.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !isTransientError(err) || attempt == s.retryAttempts-1 {
			opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			return logging.NewOperationError(operation, recordID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, recordID, err)
}

func (s *AnalysisService) withRedisGet(ctx context.Context, recordID, operation, key string) (string, error) {
	var result string
	err := s.withRedisRetry(ctx, recordID, operation, func() error {
		value, err := s.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
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
