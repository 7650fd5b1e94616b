package dispatch

import (
	"context"
	"fmt"
	"time"

	pderrors "github.com/otherjamesbrown/prepd/pkg/errors"
	"github.com/otherjamesbrown/prepd/pkg/logging"
	"github.com/otherjamesbrown/prepd/pkg/meeting"
	"github.com/otherjamesbrown/prepd/pkg/observability"
)

// Result reports the outcome of one dispatch call.
type Result struct {
	// Skipped means the idempotency guard found the notification already
	// sent.
	Skipped bool

	// Channel is the channel that accepted delivery.
	Channel meeting.Channel

	// NotificationID is the provider's delivery id.
	NotificationID string

	// SentAt is when the accepting transport confirmed delivery.
	SentAt time.Time
}

// Dispatcher delivers prep notifications with ordered channel fallback. It
// never writes the meeting record; the caller persists the delivery marker.
type Dispatcher struct {
	transports map[meeting.Channel]Transport
	defaults   []meeting.Channel
	logger     logging.Logger
	metrics    *observability.Metrics
}

// New creates a dispatcher over the given transports. defaults is the
// service-wide channel order used when a user has no preference.
func New(transports []Transport, defaults []meeting.Channel, logger logging.Logger, metrics *observability.Metrics) *Dispatcher {
	byChannel := make(map[meeting.Channel]Transport, len(transports))
	for _, t := range transports {
		byChannel[t.Channel()] = t
	}
	return &Dispatcher{
		transports: byChannel,
		defaults:   defaults,
		logger:     logger.With(logging.F("component", "dispatch")),
		metrics:    metrics,
	}
}

// Dispatch delivers the notification for m, trying the user's channels in
// order until one accepts; the first success stops the fallback. Returns
// ErrChannelsExhausted when every channel fails. The caller records the
// delivery marker with a conditional write, which closes the check-then-act
// race against concurrent executions.
func (d *Dispatcher) Dispatch(ctx context.Context, m *meeting.Meeting, user *meeting.User, n *Notification) (*Result, error) {
	if m.NotificationSent() {
		d.metrics.DispatchSkippedTotal.Inc()
		d.logger.Debug("Notification already sent, skipping",
			logging.F("meeting_id", m.ID))
		return &Result{Skipped: true}, nil
	}

	channels := user.NotificationChannels(d.defaults)
	if len(channels) == 0 {
		return nil, fmt.Errorf("user %s has no reachable channels: %w", user.ID, pderrors.ErrChannelsExhausted)
	}

	var lastErr error
	for _, ch := range channels {
		transport, ok := d.transports[ch]
		if !ok {
			continue
		}

		attempt := *n
		attempt.Recipient = recipientFor(ch, user)

		notificationID, err := transport.Send(ctx, &attempt)
		if err != nil {
			d.metrics.DispatchAttemptsTotal.WithLabelValues(string(ch), "failure").Inc()
			d.logger.Warn("Channel delivery failed, trying next",
				logging.F("meeting_id", m.ID),
				logging.F("channel", string(ch)),
				logging.Err(err))
			lastErr = err
			continue
		}

		d.metrics.DispatchAttemptsTotal.WithLabelValues(string(ch), "success").Inc()
		d.logger.Info("Prep notification delivered",
			logging.F("meeting_id", m.ID),
			logging.F("channel", string(ch)),
			logging.F("notification_id", notificationID))

		return &Result{
			Channel:        ch,
			NotificationID: notificationID,
			SentAt:         time.Now().UTC(),
		}, nil
	}

	d.metrics.DispatchExhausted.Inc()
	if lastErr != nil {
		return nil, fmt.Errorf("meeting %s: %w: last error: %w", m.ID, pderrors.ErrChannelsExhausted, lastErr)
	}
	return nil, fmt.Errorf("meeting %s: %w", m.ID, pderrors.ErrChannelsExhausted)
}

func recipientFor(ch meeting.Channel, user *meeting.User) string {
	switch ch {
	case meeting.ChannelSMS:
		return user.PhoneNumber
	case meeting.ChannelEmail:
		return user.Email
	default:
		return user.ID
	}
}
