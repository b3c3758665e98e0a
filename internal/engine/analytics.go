package engine

import (
	"context"
	"encoding/json"

	"phaseline/internal/domain"
)

func (e Engine) CreateAnalytics(ctx context.Context, orgID, projectID string, actor domain.Actor, a domain.Analytics) (domain.Analytics, error) {
	return createRecord[domain.Analytics](ctx, e, orgID, projectID, actor, a)
}

func (e Engine) GetAnalytics(ctx context.Context, orgID, projectID string) (domain.Analytics, error) {
	return getSingle[domain.Analytics](ctx, e, orgID, projectID)
}

func (e Engine) PatchAnalytics(ctx context.Context, a domain.Analytics, patch json.RawMessage, actor domain.Actor) (domain.Analytics, error) {
	return patchRecord[domain.Analytics](ctx, e, a, patch, actor, "departments")
}

// AnalyticsSnapshot is one reporting pass from the analytics pipeline.
type AnalyticsSnapshot struct {
	Metrics  domain.AnalyticsMetrics  `json:"metrics"`
	Point    *domain.TimeSeriesPoint  `json:"point,omitempty"`
	Learners []domain.LearnerProgress `json:"learners,omitempty"`
}

// RecordAnalyticsSnapshot replaces the aggregate metrics, upserts the time
// series point by date and learner rows by learner id. Department breakdowns
// are recomputed from the learner rows.
func (e Engine) RecordAnalyticsSnapshot(ctx context.Context, a domain.Analytics, snap AnalyticsSnapshot, actor domain.Actor) (domain.Analytics, error) {
	return mutateRecord(ctx, e, a, actor, "analytics.snapshot_recorded", nil, func(n *domain.Analytics) error {
		n.Metrics = snap.Metrics
		if snap.Point != nil {
			idx := indexByID(n.TimeSeries, snap.Point.Date, func(p domain.TimeSeriesPoint) string { return p.Date })
			if idx >= 0 {
				n.TimeSeries[idx] = *snap.Point
			} else {
				n.TimeSeries = append(n.TimeSeries, *snap.Point)
			}
		}
		for _, l := range snap.Learners {
			idx := indexByID(n.Learners, l.LearnerID, func(p domain.LearnerProgress) string { return p.LearnerID })
			if idx >= 0 {
				n.Learners[idx] = l
			} else {
				n.Learners = append(n.Learners, l)
			}
		}
		return nil
	})
}
