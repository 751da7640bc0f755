package usecase

import "context"

// MetricsSummary represents aggregated analysis insights.
type MetricsSummary struct {
	TotalAnalyses              int64   `json:"total_analyses"`
	PositiveAnalyses           int64   `json:"positive_analyses"`
	PositiveRate               float64 `json:"positive_rate"`
	AverageConfidence          float64 `json:"average_confidence"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates insights from persisted analysis records.
func (s *AnalysisService) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := s.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalAnalyses:              aggregation.TotalCount,
		PositiveAnalyses:           aggregation.PositiveCount,
		AverageConfidence:          aggregation.AverageConfidence,
		AverageProcessingLatencyMs: aggregation.AverageProcessingMs,
	}

	if aggregation.TotalCount > 0 {
		summary.PositiveRate = float64(aggregation.PositiveCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
