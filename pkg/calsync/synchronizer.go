package calsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/otherjamesbrown/prepd/pkg/bus"
	"github.com/otherjamesbrown/prepd/pkg/classify"
	pderrors "github.com/otherjamesbrown/prepd/pkg/errors"
	"github.com/otherjamesbrown/prepd/pkg/ident"
	"github.com/otherjamesbrown/prepd/pkg/logging"
	"github.com/otherjamesbrown/prepd/pkg/meeting"
	"github.com/otherjamesbrown/prepd/pkg/observability"
	"github.com/otherjamesbrown/prepd/pkg/scheduler"
	"github.com/otherjamesbrown/prepd/pkg/store"
)

// PrepTriggerPayload is carried by prep trigger timers.
type PrepTriggerPayload struct {
	MeetingID string `json:"meeting_id"`
}

// PrepTriggerTimerID returns the dedupe key for a meeting's prep trigger.
func PrepTriggerTimerID(meetingID string) string {
	return "prep:" + meetingID
}

// Report summarizes one sync pass. A pass is a partial success when some
// users fail; SyncAll only returns an error when no user could be synced.
type Report struct {
	UsersSynced int
	Created     int
	Updated     int
	Cancelled   int

	// UserErrors maps failed user ids to their fetch error.
	UserErrors map[string]error
}

// Synchronizer mirrors calendars into the store, one user at a time.
type Synchronizer struct {
	store      store.Store
	client     CalendarClient
	classifier *classify.Classifier
	scheduler  scheduler.Scheduler
	bus        bus.Bus
	canceller  Canceller
	logger     logging.Logger
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	lookahead  time.Duration
}

// NewSynchronizer creates a synchronizer with the given lookahead window.
func NewSynchronizer(
	st store.Store,
	client CalendarClient,
	classifier *classify.Classifier,
	sched scheduler.Scheduler,
	eventBus bus.Bus,
	canceller Canceller,
	lookahead time.Duration,
	logger logging.Logger,
	metrics *observability.Metrics,
) *Synchronizer {
	return &Synchronizer{
		store:      st,
		client:     client,
		classifier: classifier,
		scheduler:  sched,
		bus:        eventBus,
		canceller:  canceller,
		logger:     logger.With(logging.F("component", "calsync")),
		metrics:    metrics,
		tracer:     observability.NewTracer(),
		lookahead:  lookahead,
	}
}

// SyncAll runs one sync pass over every calendar-connected user. One user's
// provider failure never aborts the others.
func (s *Synchronizer) SyncAll(ctx context.Context) (*Report, error) {
	ctx, span := s.tracer.StartSyncSpan(ctx)
	defer span.End()

	started := time.Now()
	defer func() { s.metrics.SyncDurationSecs.Observe(time.Since(started).Seconds()) }()

	users, err := s.store.ListConnectedUsers(ctx)
	if err != nil {
		s.metrics.SyncPassesTotal.WithLabelValues("error").Inc()
		observability.RecordError(span, err)
		return nil, fmt.Errorf("failed to list connected users: %w", err)
	}

	report := &Report{UserErrors: make(map[string]error)}
	for _, user := range users {
		if err := s.syncUser(ctx, user, report); err != nil {
			s.metrics.SyncUserFailures.Inc()
			s.logger.Warn("User sync failed",
				logging.F("user_id", user.ID),
				logging.Err(err))
			report.UserErrors[user.ID] = err
			continue
		}
		report.UsersSynced++
	}

	outcome := "success"
	if len(report.UserErrors) > 0 {
		outcome = "partial"
	}
	if len(users) > 0 && report.UsersSynced == 0 {
		outcome = "error"
	}
	s.metrics.SyncPassesTotal.WithLabelValues(outcome).Inc()

	s.logger.Info("Sync pass complete",
		logging.F("users_synced", report.UsersSynced),
		logging.F("users_failed", len(report.UserErrors)),
		logging.F("created", report.Created),
		logging.F("updated", report.Updated),
		logging.F("cancelled", report.Cancelled))

	if len(users) > 0 && report.UsersSynced == 0 {
		return report, fmt.Errorf("all %d users failed to sync", len(users))
	}
	return report, nil
}

// SyncUser runs one sync pass for a single user.
func (s *Synchronizer) SyncUser(ctx context.Context, userID string) (*Report, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}

	report := &Report{UserErrors: make(map[string]error)}
	if err := s.syncUser(ctx, user, report); err != nil {
		return report, err
	}
	report.UsersSynced = 1
	return report, nil
}

func (s *Synchronizer) syncUser(ctx context.Context, user *meeting.User, report *Report) error {
	ctx, span := s.tracer.StartUserSyncSpan(ctx, user.ID)
	defer span.End()

	now := time.Now().UTC()
	events, err := s.client.FetchEvents(ctx, user, now, now.Add(s.lookahead))
	if err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("failed to fetch events: %w", err)
	}

	seen := make(map[string]struct{}, len(events))
	for _, ev := range events {
		seen[ev.ID] = struct{}{}
		if err := s.applyEvent(ctx, user, ev, now, report); err != nil {
			// A single bad event should not sink the user's whole pass.
			s.logger.Warn("Failed to apply event",
				logging.F("user_id", user.ID),
				logging.F("external_id", ev.ID),
				logging.Err(err))
		}
	}

	return s.reconcileDeletions(ctx, user, seen, now, report)
}

// reconcileDeletions cancels stored future meetings whose provider event is
// gone from the feed. Deletion surfaces only as absence, so every pass sweeps
// the user's meetings inside the fetch window against the returned event ids.
func (s *Synchronizer) reconcileDeletions(ctx context.Context, user *meeting.User, seen map[string]struct{}, now time.Time, report *Report) error {
	stored, err := s.store.ListMeetingsByUser(ctx, user.ID, now, now.Add(s.lookahead))
	if err != nil {
		return fmt.Errorf("failed to list meetings for deletion sweep: %w", err)
	}

	for _, m := range stored {
		if m.Status.IsTerminal() || m.ExternalID == "" || m.Source != s.client.Source() {
			continue
		}
		if _, ok := seen[m.ExternalID]; ok {
			continue
		}

		if err := s.canceller.CancelMeeting(ctx, m.ID); err != nil {
			return err
		}
		s.metrics.SyncEventsTotal.WithLabelValues("cancelled").Inc()
		report.Cancelled++

		s.logger.Info("Meeting cancelled, provider event deleted",
			logging.F("meeting_id", m.ID),
			logging.F("user_id", user.ID),
			logging.F("external_id", m.ExternalID))
	}
	return nil
}

func (s *Synchronizer) applyEvent(ctx context.Context, user *meeting.User, ev ExternalEvent, now time.Time, report *Report) error {
	existing, err := s.store.GetMeetingByExternalID(ctx, user.ID, ev.ID)
	if err != nil && !errors.Is(err, pderrors.ErrNotFound) {
		return err
	}

	if ev.Cancelled {
		if existing == nil {
			return nil
		}
		if err := s.canceller.CancelMeeting(ctx, existing.ID); err != nil {
			return err
		}
		s.metrics.SyncEventsTotal.WithLabelValues("cancelled").Inc()
		report.Cancelled++
		return nil
	}

	if existing == nil {
		return s.createMeeting(ctx, user, ev, now, report)
	}
	return s.updateMeeting(ctx, existing, ev, now, report)
}

func (s *Synchronizer) createMeeting(ctx context.Context, user *meeting.User, ev ExternalEvent, now time.Time, report *Report) error {
	result := s.classifier.Classify(ev.Title, ev.Description, len(ev.Attendees), ev.StartTime)
	s.metrics.ClassificationsTotal.WithLabelValues(string(result.Type)).Inc()

	trigger := result.PrepTriggerTime
	m := &meeting.Meeting{
		ID:              ident.New(ident.KindMeeting),
		ExternalID:      ev.ID,
		UserID:          user.ID,
		Source:          s.client.Source(),
		Title:           ev.Title,
		Description:     ev.Description,
		Location:        ev.Location,
		StartTime:       ev.StartTime,
		EndTime:         ev.EndTime,
		Attendees:       ev.Attendees,
		Organizer:       ev.Organizer,
		MeetingType:     result.Type,
		Status:          meeting.StatusClassified,
		PrepTriggerTime: &trigger,
		PrepHoursBefore: result.PrepHoursBefore,
		LastSyncedAt:    &now,
	}

	if err := s.store.CreateMeeting(ctx, m); err != nil {
		if errors.Is(err, pderrors.ErrAlreadyExists) {
			// Raced with a concurrent pass; the other writer owns it.
			return nil
		}
		return err
	}

	if err := s.armOrEmit(ctx, m, now); err != nil {
		return err
	}

	s.metrics.SyncEventsTotal.WithLabelValues("created").Inc()
	report.Created++

	s.logger.Info("Meeting discovered",
		logging.F("meeting_id", m.ID),
		logging.F("user_id", user.ID),
		logging.F("meeting_type", string(result.Type)),
		logging.F("prep_trigger", trigger.Format(time.RFC3339)))

	return nil
}

func (s *Synchronizer) updateMeeting(ctx context.Context, existing *meeting.Meeting, ev ExternalEvent, now time.Time, report *Report) error {
	incoming := &meeting.Meeting{
		Title:     ev.Title,
		StartTime: ev.StartTime,
		EndTime:   ev.EndTime,
		Attendees: ev.Attendees,
	}

	material := existing.MaterialChange(incoming)
	if !material &&
		existing.Description == ev.Description &&
		existing.Location == ev.Location &&
		existing.Organizer == ev.Organizer {
		return nil
	}

	upd := *existing
	upd.Title = ev.Title
	upd.Description = ev.Description
	upd.Location = ev.Location
	upd.StartTime = ev.StartTime
	upd.EndTime = ev.EndTime
	upd.Attendees = ev.Attendees
	upd.Organizer = ev.Organizer
	upd.LastSyncedAt = &now

	if material {
		result := s.classifier.Classify(ev.Title, ev.Description, len(ev.Attendees), ev.StartTime)
		s.metrics.ClassificationsTotal.WithLabelValues(string(result.Type)).Inc()
		trigger := result.PrepTriggerTime
		upd.MeetingType = result.Type
		upd.Status = meeting.StatusClassified
		upd.PrepTriggerTime = &trigger
		upd.PrepHoursBefore = result.PrepHoursBefore
	}

	applied, err := s.store.UpdateMeetingSyncFields(ctx, &upd)
	if err != nil {
		return err
	}
	if !applied {
		// Workflow already owns the record; calendar edits after prep
		// starts are ignored.
		s.metrics.CASLossesTotal.WithLabelValues("sync_update").Inc()
		s.logger.Debug("Sync update refused, meeting past prep start",
			logging.F("meeting_id", existing.ID))
		return nil
	}

	if material {
		if err := s.armOrEmit(ctx, &upd, now); err != nil {
			return err
		}
	}

	s.metrics.SyncEventsTotal.WithLabelValues("updated").Inc()
	report.Updated++
	return nil
}

// armOrEmit arms the durable prep trigger when the window is still ahead,
// or emits PrepRequired right away when the meeting was discovered (or
// reclassified) already inside its prep window.
func (s *Synchronizer) armOrEmit(ctx context.Context, m *meeting.Meeting, now time.Time) error {
	trigger := *m.PrepTriggerTime
	if trigger.After(now) {
		return s.armPrepTrigger(ctx, m.ID, trigger)
	}
	if !m.StartTime.After(now) {
		// Meeting already started; nothing to prep.
		return nil
	}
	return s.bus.Publish(ctx, bus.TopicPrepRequired, bus.PrepRequired{
		MeetingID:   m.ID,
		UserID:      m.UserID,
		MeetingType: string(m.MeetingType),
		TriggerTime: trigger,
	})
}

func (s *Synchronizer) armPrepTrigger(ctx context.Context, meetingID string, fireAt time.Time) error {
	timer, err := scheduler.NewTimer(
		PrepTriggerTimerID(meetingID),
		scheduler.KindPrepTrigger,
		fireAt,
		PrepTriggerPayload{MeetingID: meetingID},
	)
	if err != nil {
		return err
	}
	if err := s.scheduler.Schedule(ctx, timer); err != nil {
		return fmt.Errorf("failed to arm prep trigger for %s: %w", meetingID, err)
	}
	return nil
}
