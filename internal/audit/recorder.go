package audit

import (
	"context"

	"go.uber.org/zap"

	"phaseline/internal/domain"
	"phaseline/internal/metrics"
)

// Appender is the write side of an audit store.
type Appender interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) (domain.AuditLogEntry, error)
}

// Recorder appends audit entries on behalf of business operations. A failed
// append is logged and counted but never returned: the mutation it describes
// has already been committed.
type Recorder struct {
	Sink   Appender
	Logger *zap.Logger
}

func (r Recorder) Record(ctx context.Context, entry domain.AuditLogEntry) {
	if r.Sink == nil {
		return
	}
	if _, err := r.Sink.Append(ctx, entry); err != nil {
		metrics.AuditAppendFailures.Inc()
		if r.Logger != nil {
			r.Logger.Error("audit append failed",
				zap.String("org_id", entry.OrgID),
				zap.String("project_id", entry.ProjectID),
				zap.String("action", entry.Action),
				zap.String("entity_type", entry.EntityType),
				zap.String("entity_id", entry.EntityID),
				zap.Error(err),
			)
		}
	}
}
