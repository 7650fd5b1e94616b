// Package workflow drives a meeting from discovery to completion. The
// orchestrator consumes bus events and durable timers, and every transition
// it makes is one conditional write; a lost write means another execution
// already advanced the meeting, and the work is dropped silently.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/otherjamesbrown/prepd/pkg/bus"
	"github.com/otherjamesbrown/prepd/pkg/calsync"
	"github.com/otherjamesbrown/prepd/pkg/dispatch"
	pderrors "github.com/otherjamesbrown/prepd/pkg/errors"
	"github.com/otherjamesbrown/prepd/pkg/gate"
	"github.com/otherjamesbrown/prepd/pkg/logging"
	"github.com/otherjamesbrown/prepd/pkg/materials"
	"github.com/otherjamesbrown/prepd/pkg/meeting"
	"github.com/otherjamesbrown/prepd/pkg/observability"
	"github.com/otherjamesbrown/prepd/pkg/scheduler"
	"github.com/otherjamesbrown/prepd/pkg/store"
)

// MeetingPayload is carried by reminder, completion, retry, and snooze timers.
type MeetingPayload struct {
	MeetingID string `json:"meeting_id"`
}

// Timer dedupe keys.
func reminderTimerID(meetingID string) string { return "reminder:" + meetingID }
func completeTimerID(meetingID string) string { return "complete:" + meetingID }
func retryTimerID(meetingID string) string    { return "dispatch_retry:" + meetingID }
func snoozeTimerID(meetingID string) string   { return "snooze:" + meetingID }

// Orchestrator is the prep workflow state machine.
type Orchestrator struct {
	store      store.Store
	bus        bus.Bus
	scheduler  scheduler.Scheduler
	dispatcher *dispatch.Dispatcher
	gate       *gate.Gate
	generator  materials.Generator
	matStore   materials.Store
	retry      dispatch.RetryPolicy
	reminder   time.Duration
	logger     logging.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
}

// New creates an orchestrator. reminderOffset is how long before meeting
// start the final reminder fires.
func New(
	st store.Store,
	eventBus bus.Bus,
	sched scheduler.Scheduler,
	dispatcher *dispatch.Dispatcher,
	g *gate.Gate,
	generator materials.Generator,
	matStore materials.Store,
	retry dispatch.RetryPolicy,
	reminderOffset time.Duration,
	logger logging.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		store:      st,
		bus:        eventBus,
		scheduler:  sched,
		dispatcher: dispatcher,
		gate:       g,
		generator:  generator,
		matStore:   matStore,
		retry:      retry,
		reminder:   reminderOffset,
		logger:     logger.With(logging.F("component", "workflow")),
		metrics:    metrics,
		tracer:     observability.NewTracer(),
	}
}

// Register wires the orchestrator's handlers into the bus and scheduler.
// Call before running either.
func (o *Orchestrator) Register() {
	o.bus.Subscribe(bus.TopicPrepRequired, o.HandlePrepRequired)
	o.bus.Subscribe(bus.TopicChatCompleted, o.HandleChatCompleted)

	o.scheduler.Subscribe(scheduler.KindPrepTrigger, o.HandlePrepTrigger)
	o.scheduler.Subscribe(scheduler.KindGateTimeout, o.HandleGateTimeout)
	o.scheduler.Subscribe(scheduler.KindDispatchRetry, o.HandleDispatchRetry)
	o.scheduler.Subscribe(scheduler.KindReminder, o.HandleReminderTimer)
	o.scheduler.Subscribe(scheduler.KindComplete, o.HandleCompleteTimer)
	o.scheduler.Subscribe(scheduler.KindSnooze, o.HandleSnoozeTimer)
}

// HandlePrepTrigger fires when a meeting's prep window opens: it publishes
// PrepRequired for the event consumer to pick up.
func (o *Orchestrator) HandlePrepTrigger(ctx context.Context, timer *scheduler.Timer) error {
	ctx, span := o.tracer.StartTimerSpan(ctx, timer.Kind, timer.ID)
	defer span.End()
	o.metrics.TimersFiredTotal.WithLabelValues(timer.Kind).Inc()

	var payload calsync.PrepTriggerPayload
	if err := timer.Decode(&payload); err != nil {
		return err
	}

	m, err := o.store.GetMeeting(ctx, payload.MeetingID)
	if errors.Is(err, pderrors.ErrNotFound) {
		o.logger.Warn("Prep trigger for missing meeting",
			logging.F("meeting_id", payload.MeetingID))
		return nil
	}
	if err != nil {
		return err
	}

	if m.Status.IsTerminal() || !m.StartTime.After(time.Now()) {
		return nil
	}

	return o.bus.Publish(ctx, bus.TopicPrepRequired, bus.PrepRequired{
		MeetingID:   m.ID,
		UserID:      m.UserID,
		MeetingType: string(m.MeetingType),
		TriggerTime: time.Now().UTC(),
	})
}

// HandlePrepRequired runs the dispatch leg of the workflow: move the meeting
// to PREP_SCHEDULED, open the response gate, deliver the notification, and
// on success move to PREP_IN_PROGRESS. Safe to execute redundantly.
func (o *Orchestrator) HandlePrepRequired(ctx context.Context, env *bus.Envelope) error {
	ctx, span := o.tracer.StartEventSpan(ctx, env.Topic, env.ID)
	defer span.End()

	var ev bus.PrepRequired
	if err := env.Decode(&ev); err != nil {
		o.logger.Error("Malformed PrepRequired event", logging.Err(err))
		return nil
	}

	m, err := o.store.GetMeeting(ctx, ev.MeetingID)
	if errors.Is(err, pderrors.ErrNotFound) {
		o.logger.Error("PrepRequired for missing meeting",
			logging.F("meeting_id", ev.MeetingID))
		return nil
	}
	if err != nil {
		return err
	}

	if !m.StartTime.After(time.Now()) {
		o.logger.Debug("Meeting already started, skipping prep",
			logging.F("meeting_id", m.ID))
		return nil
	}

	switch m.Status {
	case meeting.StatusClassified:
		won, err := o.transition(ctx, m.ID, []meeting.Status{meeting.StatusClassified}, meeting.StatusPrepScheduled)
		if err != nil {
			return err
		}
		if !won {
			// Duplicate event; another execution owns the dispatch leg.
			return nil
		}
		m.Status = meeting.StatusPrepScheduled
	case meeting.StatusPrepScheduled:
		// Retry after an earlier dispatch failure, or a redelivered event.
	default:
		return nil
	}

	return o.dispatchPrep(ctx, m)
}

func (o *Orchestrator) dispatchPrep(ctx context.Context, m *meeting.Meeting) error {
	ctx, span := o.tracer.StartDispatchSpan(ctx, m.ID)
	defer span.End()

	user, err := o.store.GetUser(ctx, m.UserID)
	if errors.Is(err, pderrors.ErrNotFound) {
		o.logger.Error("Meeting owner vanished, aborting prep",
			logging.F("meeting_id", m.ID),
			logging.F("user_id", m.UserID))
		return nil
	}
	if err != nil {
		return err
	}

	sess, err := o.openOrReuseGate(ctx, m)
	if err != nil {
		return err
	}

	res, err := o.dispatcher.Dispatch(ctx, m, user, &dispatch.Notification{
		MeetingID:   m.ID,
		UserID:      user.ID,
		Subject:     "Time to prep: " + m.Title,
		Body:        prepBody(m),
		ResumeToken: sess.ResumeToken,
	})
	if err != nil {
		if errors.Is(err, pderrors.ErrChannelsExhausted) {
			return o.scheduleDispatchRetry(ctx, m, err)
		}
		return err
	}

	if !res.Skipped {
		marked, err := o.store.MarkNotified(ctx, m.ID, res.NotificationID, res.SentAt)
		if err != nil {
			return fmt.Errorf("failed to record delivery for meeting %s: %w", m.ID, err)
		}
		if !marked {
			// A concurrent execution recorded its delivery first; this
			// one is redundant but harmless under at-least-once.
			o.metrics.CASLossesTotal.WithLabelValues("mark_notified").Inc()
			o.logger.Debug("Delivery marker already set",
				logging.F("meeting_id", m.ID),
				logging.F("channel", string(res.Channel)))
		}
	}

	won, err := o.transition(ctx, m.ID, []meeting.Status{meeting.StatusPrepScheduled}, meeting.StatusPrepInProgress)
	if err != nil {
		return err
	}
	if won && !res.Skipped {
		o.logger.Info("Prep started",
			logging.F("meeting_id", m.ID),
			logging.F("channel", string(res.Channel)))
	}
	return nil
}

// openOrReuseGate opens the response gate, or returns the already open
// session when a previous execution got there first.
func (o *Orchestrator) openOrReuseGate(ctx context.Context, m *meeting.Meeting) (*meeting.ChatSession, error) {
	sess, err := o.gate.Open(ctx, m)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, pderrors.ErrConflict) {
		return nil, err
	}

	cur, err := o.store.GetMeeting(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	if cur.SessionID == "" {
		return nil, fmt.Errorf("meeting %s has an open session but no reference: %w", m.ID, pderrors.ErrConflict)
	}

	sess, err = o.store.GetSession(ctx, cur.SessionID)
	if err != nil {
		return nil, err
	}
	if sess.State == meeting.SessionWaiting {
		// A crash between session creation and the timeout Schedule
		// leaves a waiting gate with no deadline; re-arming at the
		// persisted expiry restores it and is a no-op otherwise.
		if err := o.gate.RearmTimeout(ctx, sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

func (o *Orchestrator) scheduleDispatchRetry(ctx context.Context, m *meeting.Meeting, cause error) error {
	attempts, err := o.store.RecordDispatchFailure(ctx, m.ID)
	if err != nil {
		return err
	}

	if o.retry.Exhausted(attempts) {
		if err := o.store.MarkFollowUp(ctx, m.ID); err != nil {
			return err
		}
		o.logger.Error("Dispatch retries exhausted, flagged for follow-up",
			logging.F("meeting_id", m.ID),
			logging.F("attempts", attempts),
			logging.Err(cause))
		return nil
	}

	backoff := o.retry.CalculateBackoff(attempts)
	timer, err := scheduler.NewTimer(
		retryTimerID(m.ID),
		scheduler.KindDispatchRetry,
		time.Now().Add(backoff),
		MeetingPayload{MeetingID: m.ID},
	)
	if err != nil {
		return err
	}
	if err := o.scheduler.Schedule(ctx, timer); err != nil {
		return err
	}

	o.logger.Warn("Dispatch failed on all channels, retry scheduled",
		logging.F("meeting_id", m.ID),
		logging.F("attempt", attempts),
		logging.F("backoff", backoff.String()),
		logging.Err(cause))
	return nil
}

// HandleDispatchRetry re-runs the dispatch leg after a backoff.
func (o *Orchestrator) HandleDispatchRetry(ctx context.Context, timer *scheduler.Timer) error {
	ctx, span := o.tracer.StartTimerSpan(ctx, timer.Kind, timer.ID)
	defer span.End()
	o.metrics.TimersFiredTotal.WithLabelValues(timer.Kind).Inc()

	var payload MeetingPayload
	if err := timer.Decode(&payload); err != nil {
		return err
	}

	m, err := o.store.GetMeeting(ctx, payload.MeetingID)
	if errors.Is(err, pderrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if m.Status != meeting.StatusPrepScheduled || !m.StartTime.After(time.Now()) {
		return nil
	}
	return o.dispatchPrep(ctx, m)
}

// HandleChatCompleted resolves the response gate with the user's answers
// and continues the workflow.
func (o *Orchestrator) HandleChatCompleted(ctx context.Context, env *bus.Envelope) error {
	ctx, span := o.tracer.StartEventSpan(ctx, env.Topic, env.ID)
	defer span.End()

	var ev bus.ChatCompleted
	if err := env.Decode(&ev); err != nil {
		o.logger.Error("Malformed ChatCompleted event", logging.Err(err))
		return nil
	}

	sess, err := o.gate.Resolve(ctx, ev.ResumeToken, ev.Responses)
	if errors.Is(err, pderrors.ErrStaleToken) {
		// The token may have been consumed by an earlier delivery whose
		// continuation did not finish; finishPrep is re-entrant, so
		// resuming it here is safe.
		return o.resumeClosedGate(ctx, ev.ResumeToken)
	}
	if err != nil {
		return err
	}

	return o.finishPrep(ctx, sess.MeetingID, sess.Responses)
}

// resumeClosedGate re-runs the continuation for a session that already left
// WAITING. Unknown tokens and cancelled sessions have nothing to continue.
func (o *Orchestrator) resumeClosedGate(ctx context.Context, token string) error {
	sess, err := o.store.GetSessionByToken(ctx, token)
	if errors.Is(err, pderrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	switch sess.State {
	case meeting.SessionCompleted, meeting.SessionExpired:
		return o.finishPrep(ctx, sess.MeetingID, sess.Responses)
	default:
		return nil
	}
}

// HandleGateTimeout fires when a gate's suspension window elapses. The
// workflow degrades to an empty response set rather than failing.
func (o *Orchestrator) HandleGateTimeout(ctx context.Context, timer *scheduler.Timer) error {
	ctx, span := o.tracer.StartTimerSpan(ctx, timer.Kind, timer.ID)
	defer span.End()
	o.metrics.TimersFiredTotal.WithLabelValues(timer.Kind).Inc()

	var payload gate.TimeoutPayload
	if err := timer.Decode(&payload); err != nil {
		return err
	}

	expired, err := o.gate.Expire(ctx, payload.SessionID)
	if err != nil {
		return err
	}
	if !expired {
		// The session already left WAITING, but an earlier delivery may
		// have failed partway through the continuation; finishPrep is
		// re-entrant, so resuming it with the stored responses is safe.
		sess, err := o.store.GetSession(ctx, payload.SessionID)
		if errors.Is(err, pderrors.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		switch sess.State {
		case meeting.SessionCompleted, meeting.SessionExpired:
			return o.finishPrep(ctx, payload.MeetingID, sess.Responses)
		default:
			return nil
		}
	}

	return o.finishPrep(ctx, payload.MeetingID, map[string]string{})
}

// finishPrep is the single continuation behind both gate outcomes: generate
// materials, record the handoff, and arm the final reminder. It is
// re-entrant: a redelivery that finds the status already advanced picks up
// whichever side effects are still missing, so a transient failure in the
// materials leg cannot strand the meeting at PREP_COMPLETED.
func (o *Orchestrator) finishPrep(ctx context.Context, meetingID string, responses map[string]string) error {
	m, err := o.store.GetMeeting(ctx, meetingID)
	if errors.Is(err, pderrors.ErrNotFound) {
		o.logger.Error("Continuation for missing meeting",
			logging.F("meeting_id", meetingID))
		return nil
	}
	if err != nil {
		return err
	}

	switch m.Status {
	case meeting.StatusPrepInProgress:
		won, err := o.transition(ctx, meetingID, []meeting.Status{meeting.StatusPrepInProgress}, meeting.StatusPrepCompleted)
		if err != nil {
			return err
		}
		if !won {
			// A concurrent execution just advanced the meeting; its
			// delivery owns the remaining side effects.
			return nil
		}
	case meeting.StatusPrepCompleted:
		// Redelivered continuation; finish whatever is left.
	default:
		// Cancelled mid-gate, or already past the reminder.
		return nil
	}

	if m.MaterialsRef == "" {
		mat, err := o.generator.Generate(ctx, m, responses)
		if err != nil {
			return fmt.Errorf("failed to generate materials for %s: %w", meetingID, err)
		}
		ref, err := o.matStore.Put(ctx, mat)
		if err != nil {
			return err
		}
		if err := o.store.SetMaterialsRef(ctx, meetingID, ref); err != nil {
			return err
		}

		o.logger.Info("Prep completed",
			logging.F("meeting_id", meetingID),
			logging.F("responses", len(responses)),
			logging.F("materials_ref", ref))
	}

	// Schedule replaces by id, so re-arming an already armed reminder is
	// harmless.
	timer, err := scheduler.NewTimer(
		reminderTimerID(meetingID),
		scheduler.KindReminder,
		m.StartTime.Add(-o.reminder),
		MeetingPayload{MeetingID: meetingID},
	)
	if err != nil {
		return err
	}
	return o.scheduler.Schedule(ctx, timer)
}

// HandleReminderTimer fires the final nudge: publish ReminderDue for the
// notification collaborator and arm completion at meeting end.
func (o *Orchestrator) HandleReminderTimer(ctx context.Context, timer *scheduler.Timer) error {
	ctx, span := o.tracer.StartTimerSpan(ctx, timer.Kind, timer.ID)
	defer span.End()
	o.metrics.TimersFiredTotal.WithLabelValues(timer.Kind).Inc()

	var payload MeetingPayload
	if err := timer.Decode(&payload); err != nil {
		return err
	}

	m, err := o.store.GetMeeting(ctx, payload.MeetingID)
	if errors.Is(err, pderrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	won, err := o.transition(ctx, m.ID, []meeting.Status{meeting.StatusPrepCompleted}, meeting.StatusReminderSent)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	if err := o.bus.Publish(ctx, bus.TopicReminderDue, bus.ReminderDue{MeetingID: m.ID}); err != nil {
		return err
	}

	complete, err := scheduler.NewTimer(
		completeTimerID(m.ID),
		scheduler.KindComplete,
		m.EndTime,
		MeetingPayload{MeetingID: m.ID},
	)
	if err != nil {
		return err
	}
	return o.scheduler.Schedule(ctx, complete)
}

// HandleCompleteTimer closes out the meeting once it has ended.
func (o *Orchestrator) HandleCompleteTimer(ctx context.Context, timer *scheduler.Timer) error {
	ctx, span := o.tracer.StartTimerSpan(ctx, timer.Kind, timer.ID)
	defer span.End()
	o.metrics.TimersFiredTotal.WithLabelValues(timer.Kind).Inc()

	var payload MeetingPayload
	if err := timer.Decode(&payload); err != nil {
		return err
	}

	_, err := o.transition(ctx, payload.MeetingID,
		[]meeting.Status{meeting.StatusReminderSent}, meeting.StatusCompleted)
	return err
}

// Snooze arms a one-shot nudge delay minutes from now. It never moves the
// original prep trigger.
func (o *Orchestrator) Snooze(ctx context.Context, meetingID string, delay time.Duration) error {
	m, err := o.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if m.Status.IsTerminal() {
		return fmt.Errorf("meeting %s is %s: %w", meetingID, m.Status, pderrors.ErrInvalidState)
	}

	timer, err := scheduler.NewTimer(
		snoozeTimerID(meetingID),
		scheduler.KindSnooze,
		time.Now().Add(delay),
		MeetingPayload{MeetingID: meetingID},
	)
	if err != nil {
		return err
	}
	return o.scheduler.Schedule(ctx, timer)
}

// HandleSnoozeTimer delivers the snoozed nudge as a ReminderDue event.
func (o *Orchestrator) HandleSnoozeTimer(ctx context.Context, timer *scheduler.Timer) error {
	ctx, span := o.tracer.StartTimerSpan(ctx, timer.Kind, timer.ID)
	defer span.End()
	o.metrics.TimersFiredTotal.WithLabelValues(timer.Kind).Inc()

	var payload MeetingPayload
	if err := timer.Decode(&payload); err != nil {
		return err
	}

	m, err := o.store.GetMeeting(ctx, payload.MeetingID)
	if errors.Is(err, pderrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if m.Status.IsTerminal() {
		return nil
	}

	return o.bus.Publish(ctx, bus.TopicReminderDue, bus.ReminderDue{MeetingID: m.ID})
}

// CancelMeeting terminates a meeting's workflow from any non-terminal
// state: its session is closed and its pending timers disarmed.
func (o *Orchestrator) CancelMeeting(ctx context.Context, meetingID string) error {
	m, err := o.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return err
	}
	if m.Status.IsTerminal() {
		return nil
	}

	won, err := o.transition(ctx, meetingID, []meeting.Status{m.Status}, meeting.StatusCancelled)
	if err != nil {
		return err
	}
	if !won {
		// Raced with another transition; re-read and try once more from
		// the new state.
		m, err = o.store.GetMeeting(ctx, meetingID)
		if err != nil {
			return err
		}
		if m.Status.IsTerminal() {
			return nil
		}
		if _, err := o.transition(ctx, meetingID, []meeting.Status{m.Status}, meeting.StatusCancelled); err != nil {
			return err
		}
	}

	if m.SessionID != "" {
		if err := o.cancelSession(ctx, m.SessionID); err != nil {
			return err
		}
	}

	for _, id := range []string{
		calsync.PrepTriggerTimerID(meetingID),
		retryTimerID(meetingID),
		reminderTimerID(meetingID),
		completeTimerID(meetingID),
		snoozeTimerID(meetingID),
	} {
		if err := o.scheduler.Cancel(ctx, id); err != nil {
			return err
		}
	}

	o.logger.Info("Meeting cancelled", logging.F("meeting_id", meetingID))
	return nil
}

func (o *Orchestrator) cancelSession(ctx context.Context, sessionID string) error {
	sess, err := o.store.GetSession(ctx, sessionID)
	if errors.Is(err, pderrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sess.State.IsTerminal() {
		return nil
	}

	if _, err := o.store.TransitionSession(ctx, sessionID, sess.State, meeting.SessionCancelled); err != nil {
		return err
	}
	if err := o.scheduler.Cancel(ctx, gate.TimeoutTimerID(sessionID)); err != nil {
		return err
	}
	return nil
}

// transition is the conditional-write helper behind every status move.
func (o *Orchestrator) transition(ctx context.Context, meetingID string, expected []meeting.Status, to meeting.Status) (bool, error) {
	won, err := o.store.UpdateMeetingStatus(ctx, meetingID, expected, to)
	if err != nil {
		return false, err
	}
	if won {
		o.metrics.TransitionsTotal.WithLabelValues(string(to)).Inc()
	} else {
		o.metrics.CASLossesTotal.WithLabelValues("status_" + string(to)).Inc()
	}
	return won, nil
}

func prepBody(m *meeting.Meeting) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s starts %s. A few questions to get you ready:\n",
		m.Title, m.StartTime.UTC().Format(time.RFC1123))
	for _, q := range materials.QuestionsFor(m.MeetingType) {
		fmt.Fprintf(&b, "- %s\n", q.Prompt)
	}
	return b.String()
}

var _ calsync.Canceller = (*Orchestrator)(nil)
