package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the name of the tracer for preparation engine operations.
const TracerName = "prepd"

// Span attribute keys
const (
	AttrUserID      = "user_id"
	AttrMeetingID   = "meeting_id"
	AttrMeetingType = "meeting_type"
	AttrSessionID   = "session_id"
	AttrChannel     = "channel"
	AttrStatus      = "status"
	AttrEventID     = "event_id"
	AttrTimerKind   = "timer_kind"
)

// Span names
const (
	SpanSyncPass     = "prepd.sync.pass"
	SpanSyncUser     = "prepd.sync.user"
	SpanClassify     = "prepd.classify"
	SpanDispatch     = "prepd.dispatch"
	SpanGateOpen     = "prepd.gate.open"
	SpanGateResolve  = "prepd.gate.resolve"
	SpanHandleEvent  = "prepd.workflow.handle_event"
	SpanHandleTimer  = "prepd.workflow.handle_timer"
)

// Tracer provides distributed tracing for engine operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new engine tracer.
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(TracerName)}
}

// StartSyncSpan starts a root span for one calendar sync pass.
func (t *Tracer) StartSyncSpan(ctx context.Context) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanSyncPass)
}

// StartUserSyncSpan starts a span for syncing one user's calendar.
func (t *Tracer) StartUserSyncSpan(ctx context.Context, userID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanSyncUser,
		trace.WithAttributes(attribute.String(AttrUserID, userID)))
}

// StartDispatchSpan starts a span for one notification dispatch.
func (t *Tracer) StartDispatchSpan(ctx context.Context, meetingID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanDispatch,
		trace.WithAttributes(attribute.String(AttrMeetingID, meetingID)))
}

// StartEventSpan starts a span for handling one bus event.
func (t *Tracer) StartEventSpan(ctx context.Context, topic, eventID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanHandleEvent,
		trace.WithAttributes(
			attribute.String("topic", topic),
			attribute.String(AttrEventID, eventID),
		))
}

// StartTimerSpan starts a span for handling one fired timer.
func (t *Tracer) StartTimerSpan(ctx context.Context, kind, timerID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanHandleTimer,
		trace.WithAttributes(
			attribute.String(AttrTimerKind, kind),
			attribute.String("timer_id", timerID),
		))
}

// RecordError marks the span as failed and records the error.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
