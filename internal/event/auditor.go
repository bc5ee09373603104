package event

import (
	"context"
	"log/slog"
)

// Auditor writes every security event as a structured audit log line.
type Auditor struct {
	bus    Bus
	logger *slog.Logger
}

func NewAuditor(bus Bus, logger *slog.Logger) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{bus: bus, logger: logger.With("component", "audit")}
}

// Run consumes events until ctx is cancelled or the subscription is closed.
func (a *Auditor) Run(ctx context.Context) {
	events, unsubscribe := a.bus.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.record(ctx, e)
		}
	}
}

func (a *Auditor) record(ctx context.Context, e Event) {
	level := slog.LevelInfo
	if e.Type == TypeReplayDetected || e.Type == TypeLoginFailed {
		level = slog.LevelWarn
	}

	attrs := make([]slog.Attr, 0, len(e.Payload)+4)
	attrs = append(attrs,
		slog.String("event_id", e.ID),
		slog.String("event_type", string(e.Type)),
		slog.String("occurred_at", e.Timestamp),
	)
	if e.ActorID != "" {
		attrs = append(attrs, slog.String("user_id", e.ActorID))
	}
	for k, v := range e.Payload {
		attrs = append(attrs, slog.String(k, v))
	}

	a.logger.LogAttrs(ctx, level, "security event", attrs...)
}
