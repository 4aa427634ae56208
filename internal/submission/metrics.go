package submission

import "context"

// MetricsSummary represents aggregated submission insights.
type MetricsSummary struct {
	TotalSubmissions      int64   `json:"total_submissions"`
	SuccessfulSubmissions int64   `json:"successful_submissions"`
	SuccessRate           float64 `json:"success_rate"`
	AverageConfidence     float64 `json:"average_confidence"`
	AverageLatencyMs      float64 `json:"average_latency_ms"`
}

// GetMetricsSummary aggregates submission metrics from persisted logs.
func (c *Controller) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := c.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalSubmissions:      aggregation.TotalCount,
		SuccessfulSubmissions: aggregation.SuccessCount,
		AverageConfidence:     aggregation.AverageConfidence,
		AverageLatencyMs:      aggregation.AverageLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.SuccessRate = float64(aggregation.SuccessCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
