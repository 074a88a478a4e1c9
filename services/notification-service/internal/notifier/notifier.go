// Package notifier sends one patient message per appointment event.
package notifier

import (
	"context"
	"log/slog"

	"github.com/carelink/apptpipeline/libs/consumer"
	"github.com/carelink/apptpipeline/libs/events"
	"github.com/carelink/apptpipeline/libs/kafkax"
	"github.com/carelink/apptpipeline/libs/runtime"
	"github.com/carelink/apptpipeline/services/notification-service/internal/dedupe"
	"github.com/carelink/apptpipeline/services/notification-service/internal/email"
	"github.com/carelink/apptpipeline/services/notification-service/internal/templates"
	"github.com/segmentio/kafka-go"
)

const (
	ReasonDisabled     = "notifications_disabled"
	ReasonAlreadySent  = "already_sent"
	ReasonInvalidEvent = "invalid_event"
	ReasonRender       = "render_failed"
)

type Renderer interface {
	Render(evt events.AppointmentEvent) (templates.Message, error)
}

type Notifier struct {
	enabled  bool
	renderer Renderer
	sender   email.Sender
	guard    dedupe.Guard
	logger   *slog.Logger
}

// New builds a Notifier. When enabled is false every event is acknowledged
// without rendering or sending anything. A nil guard disables deduplication.
func New(enabled bool, renderer Renderer, sender email.Sender, guard dedupe.Guard, logger *slog.Logger) *Notifier {
	if guard == nil {
		guard = dedupe.Nop{}
	}
	return &Notifier{
		enabled:  enabled,
		renderer: renderer,
		sender:   sender,
		guard:    guard,
		logger:   logger,
	}
}

// Handle is the consumer.Handler for both queues.
func (n *Notifier) Handle(ctx context.Context, msg kafka.Message) consumer.Result {
	meta := kafkax.ExtractEventMeta(msg)
	evt, err := events.Decode(msg.Value)
	if err != nil {
		n.logger.Error("undecodable appointment event", "err", err, "event_id", meta.EventID, "topic", msg.Topic)
		return consumer.DeadLetter(ReasonInvalidEvent, err)
	}
	return n.Notify(ctx, meta.EventID, evt)
}

func (n *Notifier) Notify(ctx context.Context, eventID string, evt events.AppointmentEvent) consumer.Result {
	if !n.enabled {
		return consumer.Skip(ReasonDisabled)
	}

	logAttrs := append([]any{
		"event_id", eventID,
		"appointment_id", evt.AppointmentID,
		"event_type", evt.EventType,
		"cancelled", evt.Cancelled,
	}, runtime.LogAttrs(ctx)...)

	msg, err := n.renderer.Render(evt)
	if err != nil {
		return consumer.DeadLetter(ReasonRender, err)
	}

	claim, ok, err := n.guard.Claim(ctx, eventID)
	switch {
	case err != nil:
		// Without the guard a redelivery may send twice, which is allowed.
		n.logger.Warn("dedupe unavailable, sending anyway", append(logAttrs, "err", err)...)
		claim = nil
	case !ok:
		return consumer.Skip(ReasonAlreadySent)
	}

	if err := n.sender.Send(ctx, msg.To, msg.Subject, msg.Body); err != nil {
		if claim != nil {
			if rerr := claim.Release(context.WithoutCancel(ctx)); rerr != nil {
				n.logger.Warn("dedupe release failed", append(logAttrs, "err", rerr)...)
			}
		}
		n.logger.Error("notification send failed", append(logAttrs, "err", err)...)
		return consumer.Retry(err)
	}

	n.logger.Info("notification sent", append(logAttrs, "subject", msg.Subject)...)
	return consumer.Ack()
}
