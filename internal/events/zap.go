package events

import (
	"context"

	"go.uber.org/zap"
)

// ZapAuditSink writes audit events as structured log lines. Audit storage
// is an external concern; shipping the log stream to it is the log
// pipeline's job, not this service's.
type ZapAuditSink struct {
	logger *zap.Logger
}

func NewZapAuditSink(logger *zap.Logger) *ZapAuditSink {
	return &ZapAuditSink{logger: logger.Named("audit")}
}

func (s *ZapAuditSink) Record(_ context.Context, ev AuditEvent) error {
	s.logger.Info("xp ledger operation",
		zap.String("tenant_id", ev.TenantID.String()),
		zap.String("user_id", ev.UserID.String()),
		zap.String("operation", ev.Operation),
		zap.Int64("amount", ev.Amount),
		zap.String("source", string(ev.Source)),
		zap.String("detail", ev.Detail),
		zap.Time("occurred", ev.Occurred),
	)
	return nil
}
