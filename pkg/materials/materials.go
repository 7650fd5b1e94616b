// Package materials produces the preparation document handed back to the
// user: the prep questions asked for a meeting type, and the rendered
// markdown combining meeting details with the user's responses.
package materials

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/otherjamesbrown/prepd/pkg/meeting"
)

// Question is one prep question posed during the chat session.
type Question struct {
	ID     string `yaml:"id" json:"id"`
	Prompt string `yaml:"prompt" json:"prompt"`
}

// Materials is the generated preparation document for one meeting.
type Materials struct {
	MeetingID   string            `json:"meeting_id"`
	Title       string            `json:"title"`
	MeetingType meeting.Type      `json:"meeting_type"`
	StartTime   time.Time         `json:"start_time"`
	Questions   []Question        `json:"questions"`
	Responses   map[string]string `json:"responses,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// Generator builds materials for a finished (or expired) prep cycle.
type Generator interface {
	Generate(ctx context.Context, m *meeting.Meeting, responses map[string]string) (*Materials, error)
}

// Store persists rendered materials and returns an opaque reference.
type Store interface {
	Put(ctx context.Context, mat *Materials) (string, error)
	Get(ctx context.Context, ref string) (*Materials, error)
}

var defaultQuestions = []Question{
	{ID: "goals", Prompt: "What outcomes do you want from this meeting?"},
	{ID: "context", Prompt: "Anything notable since you last met this group?"},
}

var questionsByType = map[meeting.Type][]Question{
	"one_on_one": {
		{ID: "goals", Prompt: "What do you want to cover in this 1:1?"},
		{ID: "feedback", Prompt: "Any feedback to deliver or ask for?"},
	},
	"leadership": {
		{ID: "goals", Prompt: "What decisions do you need from leadership?"},
		{ID: "risks", Prompt: "Which risks or blockers should be raised?"},
		{ID: "wins", Prompt: "Which wins are worth calling out?"},
	},
	"customer": {
		{ID: "goals", Prompt: "What is the desired outcome for the customer?"},
		{ID: "history", Prompt: "Any open issues or commitments to review?"},
	},
}

// QuestionsFor returns the prep questions for a meeting type.
func QuestionsFor(t meeting.Type) []Question {
	if qs, ok := questionsByType[t]; ok {
		return qs
	}
	return defaultQuestions
}

// TemplateGenerator is the deterministic Generator used in production. It
// pairs the type's question set with whatever responses the gate collected;
// an expired gate yields materials with the questions left unanswered.
type TemplateGenerator struct{}

// NewTemplateGenerator creates the default generator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

func (g *TemplateGenerator) Generate(ctx context.Context, m *meeting.Meeting, responses map[string]string) (*Materials, error) {
	return &Materials{
		MeetingID:   m.ID,
		Title:       m.Title,
		MeetingType: m.MeetingType,
		StartTime:   m.StartTime,
		Questions:   QuestionsFor(m.MeetingType),
		Responses:   responses,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// RenderMarkdown renders the materials as a markdown document.
func RenderMarkdown(mat *Materials) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Prep: %s\n\n", mat.Title)
	fmt.Fprintf(&b, "- **Type:** %s\n", mat.MeetingType)
	fmt.Fprintf(&b, "- **Starts:** %s\n\n", mat.StartTime.UTC().Format(time.RFC1123))

	b.WriteString("## Your preparation\n\n")

	answered := make(map[string]bool)
	for _, q := range mat.Questions {
		fmt.Fprintf(&b, "### %s\n\n", q.Prompt)
		if resp, ok := mat.Responses[q.ID]; ok && resp != "" {
			b.WriteString(resp + "\n\n")
			answered[q.ID] = true
		} else {
			b.WriteString("_No response._\n\n")
		}
	}

	// Responses that arrived without a matching question still render.
	var extras []string
	for id := range mat.Responses {
		if !answered[id] {
			extras = append(extras, id)
		}
	}
	if len(extras) > 0 {
		sort.Strings(extras)
		b.WriteString("## Additional notes\n\n")
		for _, id := range extras {
			fmt.Fprintf(&b, "- **%s:** %s\n", id, mat.Responses[id])
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "---\nGenerated %s\n", mat.GeneratedAt.UTC().Format(time.RFC3339))
	return b.String()
}

var _ Generator = (*TemplateGenerator)(nil)
