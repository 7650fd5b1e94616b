package meeting

// statusEdges defines the allowed forward edges of the meeting status
// machine. StatusCancelled is handled separately: it is reachable from any
// non-terminal status.
var statusEdges = map[Status][]Status{
	StatusDiscovered:     {StatusClassified},
	StatusClassified:     {StatusPrepScheduled},
	StatusPrepScheduled:  {StatusPrepInProgress},
	StatusPrepInProgress: {StatusPrepCompleted},
	StatusPrepCompleted:  {StatusReminderSent},
	StatusReminderSent:   {StatusCompleted},
}

// sessionEdges defines the allowed edges of the chat session state machine.
var sessionEdges = map[SessionState][]SessionState{
	SessionCreated: {SessionActive, SessionWaiting, SessionCancelled},
	SessionActive:  {SessionWaiting, SessionCancelled},
	SessionWaiting: {SessionCompleted, SessionExpired, SessionCancelled},
}

// IsTerminal reports whether s admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether the status edge from → to is allowed.
// Cancellation is allowed from any non-terminal status.
func CanTransition(from, to Status) bool {
	if to == StatusCancelled {
		return !from.IsTerminal()
	}
	for _, next := range statusEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the session state admits no further transitions.
func (s SessionState) IsTerminal() bool {
	return s == SessionCompleted || s == SessionExpired || s == SessionCancelled
}

// CanTransitionSession reports whether the session state edge from → to is allowed.
func CanTransitionSession(from, to SessionState) bool {
	for _, next := range sessionEdges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether s is one of the defined meeting statuses.
func ValidStatus(s Status) bool {
	switch s {
	case StatusDiscovered, StatusClassified, StatusPrepScheduled,
		StatusPrepInProgress, StatusPrepCompleted, StatusReminderSent,
		StatusCompleted, StatusCancelled:
		return true
	}
	return false
}
