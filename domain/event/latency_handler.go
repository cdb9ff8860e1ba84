package event

import (
	"log/slog"
	"time"
)

// LatencyHandler measures the lead time between the creation of a message
// and its fan-out.
type LatencyHandler struct {
	log              *slog.Logger
	latencyThreshold time.Duration
	now              func() time.Time
}

func NewLatencyHandler(log *slog.Logger, latencyThreshold time.Duration) *LatencyHandler {
	return &LatencyHandler{log: log, latencyThreshold: latencyThreshold, now: time.Now}
}

func (h *LatencyHandler) Handle(e DomainEvent) {
	posted, ok := e.(MessagePosted)
	if !ok {
		return
	}
	leadTime := h.now().Sub(posted.Message.CreatedAt)

	h.log.Debug("telemetry: fan-out latency",
		"topic", posted.Message.Topic,
		"sender_id", posted.Message.SenderID,
		"lead_time_ms", leadTime.Milliseconds(),
	)

	if leadTime > h.latencyThreshold {
		h.log.Warn("High latency detected", "topic", posted.Message.Topic, "lead_time", leadTime)
	}
}
