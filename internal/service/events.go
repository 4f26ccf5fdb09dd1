package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/truthmarkets/settled/internal/domain"
)

// publishEvent marshals an event struct and publishes it on the shared
// pub/sub channel plus the durable stream. Delivery is best-effort: a bus
// failure is logged, never propagated, because the state change it
// announces has already committed.
func publishEvent(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, event string, payload any) {
	if bus == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		logger.WarnContext(ctx, "event marshal failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := bus.Publish(ctx, domain.EventsChannel, data); err != nil {
		logger.WarnContext(ctx, "event publish failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
	if err := bus.StreamAppend(ctx, domain.EventsStream, data); err != nil {
		logger.WarnContext(ctx, "event stream append failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// auditLog appends an audit entry, logging rather than failing the calling
// operation when the audit store is unavailable.
func auditLog(ctx context.Context, audit domain.AuditStore, logger *slog.Logger, event string, detail map[string]any) {
	if audit == nil {
		return
	}
	if err := audit.Log(ctx, event, detail); err != nil {
		logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
