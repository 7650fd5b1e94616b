// Package classify provides meeting type classification and prep trigger
// computation. The classifier is a pure function over its inputs: given the
// same title, description, attendee count, and rule table it always returns
// the same result. It performs no I/O and holds no mutable state.
package classify

import (
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/otherjamesbrown/prepd/config"
	"github.com/otherjamesbrown/prepd/pkg/meeting"
)

// Result is the outcome of classifying one meeting.
type Result struct {
	// Type is the assigned meeting type ("unknown" when no rule matched).
	Type meeting.Type

	// PrepHoursBefore is the lead window for the matched rule (or the
	// configured default for unknown meetings).
	PrepHoursBefore int

	// PrepTriggerTime is StartTime minus the lead window.
	PrepTriggerTime time.Time
}

// Classifier evaluates the ordered rule table from the runtime
// configuration. Rules are assumed valid; config.Load rejects malformed
// rules before a Classifier is ever constructed.
type Classifier struct {
	rules        []compiledRule
	defaultHours int
	folder       cases.Caser
}

type compiledRule struct {
	ruleType     meeting.Type
	keywords     []string // pre-normalized
	minAttendees *int
	maxAttendees *int
	prepHours    int
}

// New creates a Classifier from the validated classification config.
func New(cfg config.ClassificationConfig) *Classifier {
	folder := cases.Fold()
	c := &Classifier{
		defaultHours: cfg.DefaultPrepHours,
		folder:       folder,
	}
	for _, r := range cfg.Rules {
		cr := compiledRule{
			ruleType:     meeting.Type(r.Type),
			minAttendees: r.MinAttendees,
			maxAttendees: r.MaxAttendees,
			prepHours:    r.PrepHoursBefore,
		}
		for _, kw := range r.Keywords {
			cr.keywords = append(cr.keywords, normalize(kw, folder))
		}
		c.rules = append(c.rules, cr)
	}
	return c
}

// Classify assigns a meeting type and prep trigger time. The first rule in
// configured order whose keywords intersect the normalized
// title+description and whose attendee bounds hold wins; otherwise the
// result is TypeUnknown with the default lead window.
func (c *Classifier) Classify(title, description string, attendeeCount int, startTime time.Time) Result {
	text := normalize(title+" "+description, c.folder)

	for _, rule := range c.rules {
		if !rule.matches(text, attendeeCount) {
			continue
		}
		return Result{
			Type:            rule.ruleType,
			PrepHoursBefore: rule.prepHours,
			PrepTriggerTime: startTime.Add(-time.Duration(rule.prepHours) * time.Hour),
		}
	}

	return Result{
		Type:            meeting.TypeUnknown,
		PrepHoursBefore: c.defaultHours,
		PrepTriggerTime: startTime.Add(-time.Duration(c.defaultHours) * time.Hour),
	}
}

func (r *compiledRule) matches(text string, attendeeCount int) bool {
	if r.minAttendees != nil && attendeeCount < *r.minAttendees {
		return false
	}
	if r.maxAttendees != nil && attendeeCount > *r.maxAttendees {
		return false
	}
	for _, kw := range r.keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// normalize case-folds text (Unicode fold, not ASCII lower) and collapses
// punctuation runs to single spaces, so "1:1", "1-1", and "1/1" all reduce
// to the same token sequence.
func normalize(s string, folder cases.Caser) string {
	folded := folder.String(s)
	var b strings.Builder
	b.Grow(len(folded))
	lastSpace := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
