package materials

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pderrors "github.com/otherjamesbrown/prepd/pkg/errors"
	"github.com/otherjamesbrown/prepd/pkg/meeting"
)

func TestQuestionsFor(t *testing.T) {
	leadership := QuestionsFor("leadership")
	require.NotEmpty(t, leadership)
	assert.Equal(t, "goals", leadership[0].ID)

	// Unknown types fall back to the default set.
	unknown := QuestionsFor(meeting.TypeUnknown)
	assert.Equal(t, defaultQuestions, unknown)
}

func TestTemplateGeneratorPairsResponses(t *testing.T) {
	g := NewTemplateGenerator()
	m := &meeting.Meeting{
		ID:          "m-1",
		Title:       "Leadership Sync",
		MeetingType: "leadership",
		StartTime:   time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC),
	}

	mat, err := g.Generate(context.Background(), m, map[string]string{"goals": "headcount decision"})
	require.NoError(t, err)
	assert.Equal(t, "m-1", mat.MeetingID)
	assert.Equal(t, QuestionsFor("leadership"), mat.Questions)
	assert.Equal(t, "headcount decision", mat.Responses["goals"])
	assert.False(t, mat.GeneratedAt.IsZero())
}

func TestRenderMarkdown(t *testing.T) {
	mat := &Materials{
		MeetingID:   "m-1",
		Title:       "Leadership Sync",
		MeetingType: "leadership",
		StartTime:   time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC),
		Questions: []Question{
			{ID: "goals", Prompt: "What decisions do you need?"},
			{ID: "risks", Prompt: "Which risks should be raised?"},
		},
		Responses: map[string]string{
			"goals": "headcount decision",
			"notes": "bring the dashboard",
		},
		GeneratedAt: time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC),
	}

	md := RenderMarkdown(mat)
	assert.Contains(t, md, "# Prep: Leadership Sync")
	assert.Contains(t, md, "headcount decision")
	assert.Contains(t, md, "_No response._")
	assert.Contains(t, md, "## Additional notes")
	assert.Contains(t, md, "bring the dashboard")
}

func TestRenderMarkdownNoResponses(t *testing.T) {
	mat := &Materials{
		Title:       "Board Review",
		MeetingType: meeting.TypeUnknown,
		Questions:   defaultQuestions,
		GeneratedAt: time.Now(),
	}

	md := RenderMarkdown(mat)
	assert.Contains(t, md, "_No response._")
	assert.NotContains(t, md, "## Additional notes")
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	mat := &Materials{MeetingID: "m-1", Title: "Planning"}
	ref, err := st.Put(ctx, mat)
	require.NoError(t, err)
	assert.Equal(t, "materials:m-1", ref)

	got, err := st.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "Planning", got.Title)

	_, err = st.Get(ctx, "materials:nope")
	assert.ErrorIs(t, err, pderrors.ErrNotFound)
}
