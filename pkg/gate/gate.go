// Package gate manages the durable human-response window of a prep cycle.
// Opening the gate creates a chat session with a single-use resume token and
// arms a timeout timer; the workflow stays suspended until the token is
// presented or the timer fires, whichever happens first. Resolution is a
// single conditional write, so exactly one of the two paths continues the
// workflow.
package gate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	pderrors "github.com/otherjamesbrown/prepd/pkg/errors"
	"github.com/otherjamesbrown/prepd/pkg/ident"
	"github.com/otherjamesbrown/prepd/pkg/logging"
	"github.com/otherjamesbrown/prepd/pkg/meeting"
	"github.com/otherjamesbrown/prepd/pkg/observability"
	"github.com/otherjamesbrown/prepd/pkg/scheduler"
	"github.com/otherjamesbrown/prepd/pkg/store"
)

// TimeoutPayload is carried by gate timeout timers.
type TimeoutPayload struct {
	SessionID string `json:"session_id"`
	MeetingID string `json:"meeting_id"`
}

// TimeoutTimerID returns the dedupe key for a session's timeout timer.
func TimeoutTimerID(sessionID string) string {
	return "gate:" + sessionID
}

// Gate opens and resolves response windows.
type Gate struct {
	store     store.Store
	scheduler scheduler.Scheduler
	logger    logging.Logger
	metrics   *observability.Metrics
	timeout   time.Duration
}

// New creates a gate whose windows close after timeout.
func New(st store.Store, sched scheduler.Scheduler, timeout time.Duration, logger logging.Logger, metrics *observability.Metrics) *Gate {
	return &Gate{
		store:     st,
		scheduler: sched,
		logger:    logger.With(logging.F("component", "gate")),
		metrics:   metrics,
		timeout:   timeout,
	}
}

// Open creates the response window for a meeting's prep cycle: a waiting
// chat session, its resume token, and the durable timeout timer. The session
// is deliberately created before the notification is dispatched, not after
// delivery succeeds, so the resume token can ride inside the message; the
// single-open-session invariant holds either way. Returns ErrConflict when
// the meeting already has an open session.
func (g *Gate) Open(ctx context.Context, m *meeting.Meeting) (*meeting.ChatSession, error) {
	token, err := newResumeToken()
	if err != nil {
		return nil, err
	}

	sess := &meeting.ChatSession{
		ID:          ident.New(ident.KindSession),
		MeetingID:   m.ID,
		UserID:      m.UserID,
		State:       meeting.SessionWaiting,
		ResumeToken: token,
		ExpiresAt:   time.Now().UTC().Add(g.timeout),
	}

	if err := g.store.CreateSession(ctx, sess); err != nil {
		if errors.Is(err, pderrors.ErrConflict) {
			g.logger.Debug("Gate already open for meeting",
				logging.F("meeting_id", m.ID))
		}
		return nil, err
	}

	if err := g.store.SetSessionID(ctx, m.ID, sess.ID); err != nil {
		return nil, err
	}

	timer, err := scheduler.NewTimer(
		TimeoutTimerID(sess.ID),
		scheduler.KindGateTimeout,
		sess.ExpiresAt,
		TimeoutPayload{SessionID: sess.ID, MeetingID: m.ID},
	)
	if err != nil {
		return nil, err
	}
	if err := g.scheduler.Schedule(ctx, timer); err != nil {
		return nil, fmt.Errorf("failed to arm gate timeout for session %s: %w", sess.ID, err)
	}

	g.logger.Info("Response gate opened",
		logging.F("session_id", sess.ID),
		logging.F("meeting_id", m.ID),
		logging.F("expires_at", sess.ExpiresAt.Format(time.RFC3339)))

	return sess, nil
}

// RearmTimeout re-schedules a waiting session's timeout timer at its
// persisted deadline. Schedule replaces by timer id, so calling this for a
// session whose timer is still armed changes nothing; it exists for retries
// that found the gate open but cannot prove the timer outlived a crash
// between session creation and the original Schedule.
func (g *Gate) RearmTimeout(ctx context.Context, sess *meeting.ChatSession) error {
	timer, err := scheduler.NewTimer(
		TimeoutTimerID(sess.ID),
		scheduler.KindGateTimeout,
		sess.ExpiresAt,
		TimeoutPayload{SessionID: sess.ID, MeetingID: sess.MeetingID},
	)
	if err != nil {
		return err
	}
	if err := g.scheduler.Schedule(ctx, timer); err != nil {
		return fmt.Errorf("failed to re-arm gate timeout for session %s: %w", sess.ID, err)
	}
	return nil
}

// Resolve completes the window that owns the resume token, storing the
// user's responses. The token is single-use: a second presentation, or a
// presentation after timeout, returns ErrStaleToken.
func (g *Gate) Resolve(ctx context.Context, token string, responses map[string]string) (*meeting.ChatSession, error) {
	sess, won, err := g.store.ResolveSessionByToken(ctx, token, responses)
	if err != nil {
		return nil, err
	}
	if !won {
		g.metrics.StaleTokensTotal.Inc()
		g.logger.Info("Stale resume token presented")
		return nil, pderrors.ErrStaleToken
	}

	if err := g.scheduler.Cancel(ctx, TimeoutTimerID(sess.ID)); err != nil {
		// The timer handler loses its own conditional write against an
		// already completed session, so a leftover timer is harmless.
		g.logger.Warn("Failed to cancel gate timeout timer",
			logging.F("session_id", sess.ID),
			logging.Err(err))
	}

	g.metrics.GateResolutionsTotal.WithLabelValues("completed").Inc()
	g.logger.Info("Response gate resolved",
		logging.F("session_id", sess.ID),
		logging.F("meeting_id", sess.MeetingID),
		logging.F("responses", len(responses)))

	return sess, nil
}

// Expire closes a window whose timeout fired. The verdict is false when the
// session already completed; the caller then drops the timeout.
func (g *Gate) Expire(ctx context.Context, sessionID string) (bool, error) {
	expired, err := g.store.TransitionSession(ctx, sessionID,
		meeting.SessionWaiting, meeting.SessionExpired)
	if err != nil {
		return false, err
	}
	if !expired {
		g.metrics.CASLossesTotal.WithLabelValues("gate_expire").Inc()
		g.logger.Debug("Gate timeout lost to completion",
			logging.F("session_id", sessionID))
		return false, nil
	}

	g.metrics.GateResolutionsTotal.WithLabelValues("expired").Inc()
	g.logger.Info("Response gate expired",
		logging.F("session_id", sessionID))
	return true, nil
}

func newResumeToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate resume token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
