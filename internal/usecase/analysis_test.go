package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/breastcare/internal/logging"
	"github.com/example/breastcare/internal/repository"
)

type stubAnalysisRepo struct {
	savedRecords []*repository.AnalysisRecord
	saveErr      error
	findRecord   *repository.AnalysisRecord
	findErr      error
	findCalls    int
	listRecords  []*repository.AnalysisRecord
	aggregation  *repository.MetricsAggregation
}

func (s *stubAnalysisRepo) SaveRecord(ctx context.Context, record *repository.AnalysisRecord) error {
	s.savedRecords = append(s.savedRecords, record)
	return s.saveErr
}

func (s *stubAnalysisRepo) FindByRecordIDAndUser(ctx context.Context, recordID, userID string) (*repository.AnalysisRecord, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findRecord != nil {
		return s.findRecord, nil
	}
	return nil, errors.New("not found")
}

func (s *stubAnalysisRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*repository.AnalysisRecord, error) {
	return s.listRecords, nil
}

func (s *stubAnalysisRepo) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.aggregation == nil {
		return nil, errors.New("no aggregation")
	}
	return s.aggregation, nil
}

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	getKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func testRecord(recordID, userID string) *repository.AnalysisRecord {
	return &repository.AnalysisRecord{
		RecordID:       recordID,
		UserID:         userID,
		FileName:       "biopsy.png",
		PatientID:      "P00042",
		Label:          "NÉGATIF",
		Confidence:     0.87,
		ProcessingTime: "3.1s",
		CreatedAt:      time.Now().UTC(),
	}
}

func TestSaveAnalysisPersistsAndCaches(t *testing.T) {
	repo := &stubAnalysisRepo{}
	cache := &stubCache{}
	s := NewAnalysisService(repo, cache, zap.NewNop())

	if err := s.SaveAnalysis(context.Background(), testRecord("rec-1", "user-1")); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(repo.savedRecords) != 1 {
		t.Fatalf("expected record to be saved, got %d entries", len(repo.savedRecords))
	}
	if len(cache.setKeys) != 1 || cache.setKeys[0] != "analysis:rec-1" {
		t.Fatalf("unexpected cache writes: %v", cache.setKeys)
	}
}

func TestSaveAnalysisRetriesTransientCacheErrors(t *testing.T) {
	repo := &stubAnalysisRepo{}
	cache := &stubCache{setErrs: []error{transientRedisError{}}}
	s := NewAnalysisService(repo, cache, zap.NewNop())

	if err := s.SaveAnalysis(context.Background(), testRecord("rec-1", "user-1")); err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if len(cache.setKeys) < 2 {
		t.Fatalf("expected cache set to be retried, got %d calls", len(cache.setKeys))
	}
	if cache.setKeys[0] != cache.setKeys[1] {
		t.Fatalf("expected retry to target same key, got %s and %s", cache.setKeys[0], cache.setKeys[1])
	}
}

func TestSaveAnalysisCacheFailureIsNonFatal(t *testing.T) {
	repo := &stubAnalysisRepo{}
	cache := &stubCache{setErrs: []error{errors.New("boom")}}
	s := NewAnalysisService(repo, cache, zap.NewNop())

	if err := s.SaveAnalysis(context.Background(), testRecord("rec-1", "user-1")); err != nil {
		t.Fatalf("cache failure must not fail the write, got %v", err)
	}
	if len(repo.savedRecords) != 1 {
		t.Fatalf("expected record to be saved, got %d entries", len(repo.savedRecords))
	}
}

func TestSaveAnalysisReturnsOperationErrorOnRepoFailure(t *testing.T) {
	repo := &stubAnalysisRepo{saveErr: errors.New("db down")}
	s := NewAnalysisService(repo, &stubCache{}, zap.NewNop())

	err := s.SaveAnalysis(context.Background(), testRecord("rec-1", "user-1"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "analysis.save_record" {
		t.Fatalf("unexpected operation: %s", opErr.Operation)
	}
}

func TestGetAnalysisServesFromCache(t *testing.T) {
	expected := testRecord("rec-1", "user-1")
	serialized, err := json.Marshal(cachedAnalysis{
		RecordID:       expected.RecordID,
		UserID:         expected.UserID,
		FileName:       expected.FileName,
		PatientID:      expected.PatientID,
		Label:          expected.Label,
		Confidence:     expected.Confidence,
		ProcessingTime: expected.ProcessingTime,
		CreatedAt:      expected.CreatedAt,
	})
	if err != nil {
		t.Fatalf("failed to build fixture: %v", err)
	}

	repo := &stubAnalysisRepo{}
	cache := &stubCache{getValues: []string{string(serialized)}}
	s := NewAnalysisService(repo, cache, zap.NewNop())

	record, err := s.GetAnalysis(context.Background(), "user-1", "rec-1")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if record.Label != expected.Label || record.PatientID != expected.PatientID {
		t.Fatalf("unexpected record: %+v", record)
	}
	if repo.findCalls != 0 {
		t.Fatalf("repository must not be queried on cache hit, got %d calls", repo.findCalls)
	}
}

func TestGetAnalysisFallsBackToRepositoryOnCacheMiss(t *testing.T) {
	expected := testRecord("rec-1", "user-1")
	repo := &stubAnalysisRepo{findRecord: expected}
	cache := &stubCache{getErrs: []error{redis.Nil}}
	s := NewAnalysisService(repo, cache, zap.NewNop())

	record, err := s.GetAnalysis(context.Background(), "user-1", "rec-1")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if record != expected {
		t.Fatalf("expected %+v, got %+v", expected, record)
	}
	if repo.findCalls != 1 {
		t.Fatalf("expected repository to be queried once, got %d", repo.findCalls)
	}
}

func TestGetAnalysisIgnoresCachedRecordOfAnotherUser(t *testing.T) {
	cached := testRecord("rec-1", "someone-else")
	serialized, err := json.Marshal(cachedAnalysis{RecordID: cached.RecordID, UserID: cached.UserID, Label: cached.Label})
	if err != nil {
		t.Fatalf("failed to build fixture: %v", err)
	}

	expected := testRecord("rec-1", "user-1")
	repo := &stubAnalysisRepo{findRecord: expected}
	cache := &stubCache{getValues: []string{string(serialized)}}
	s := NewAnalysisService(repo, cache, zap.NewNop())

	record, err := s.GetAnalysis(context.Background(), "user-1", "rec-1")
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if record != expected {
		t.Fatalf("cache entry for another user must be ignored, got %+v", record)
	}
}

func TestMetricsSummaryComputesPositiveRate(t *testing.T) {
	repo := &stubAnalysisRepo{aggregation: &repository.MetricsAggregation{
		TotalCount:          4,
		PositiveCount:       1,
		AverageConfidence:   88.5,
		AverageProcessingMs: 2100,
	}}
	s := NewAnalysisService(repo, &stubCache{}, zap.NewNop())

	summary, err := s.GetMetricsSummary(context.Background())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}
	if summary.TotalAnalyses != 4 || summary.PositiveAnalyses != 1 {
		t.Fatalf("unexpected totals: %+v", summary)
	}
	if summary.PositiveRate != 0.25 {
		t.Fatalf("expected positive rate 0.25, got %v", summary.PositiveRate)
	}
	if summary.AverageProcessingLatencyMs != 2100 {
		t.Fatalf("unexpected latency: %v", summary.AverageProcessingLatencyMs)
	}
}
