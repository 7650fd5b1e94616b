package classify

import (
	"testing"
	"time"

	"github.com/otherjamesbrown/prepd/config"
	"github.com/otherjamesbrown/prepd/pkg/meeting"
)

func intPtr(v int) *int { return &v }

func testRules() config.ClassificationConfig {
	return config.ClassificationConfig{
		DefaultPrepHours: 24,
		Rules: []config.Rule{
			{
				Type:            "leadership_meeting",
				Keywords:        []string{"leadership", "exec staff"},
				MinAttendees:    intPtr(5),
				PrepHoursBefore: 72,
			},
			{
				Type:            "one_on_one",
				Keywords:        []string{"1:1", "one on one"},
				MaxAttendees:    intPtr(2),
				PrepHoursBefore: 4,
			},
			{
				Type:            "vendor_meeting",
				Keywords:        []string{"vendor", "supplier"},
				PrepHoursBefore: 24,
			},
		},
	}
}

func TestClassify(t *testing.T) {
	c := New(testRules())
	start := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		title       string
		description string
		attendees   int
		wantType    meeting.Type
		wantHours   int
	}{
		{
			name:      "leadership by keyword and attendee count",
			title:     "Leadership Team Sync",
			attendees: 12,
			wantType:  "leadership_meeting",
			wantHours: 72,
		},
		{
			name:      "leadership keyword below min attendees falls through",
			title:     "Leadership Team Sync",
			attendees: 3,
			wantType:  meeting.TypeUnknown,
			wantHours: 24,
		},
		{
			name:      "one on one with punctuated keyword",
			title:     "1:1 with Sam",
			attendees: 2,
			wantType:  "one_on_one",
			wantHours: 4,
		},
		{
			name:      "one on one over max attendees falls through",
			title:     "1:1 with Sam and team",
			attendees: 6,
			wantType:  meeting.TypeUnknown,
			wantHours: 24,
		},
		{
			name:        "keyword match in description",
			title:       "Quarterly check-in",
			description: "Annual vendor pricing discussion",
			attendees:   4,
			wantType:    "vendor_meeting",
			wantHours:   24,
		},
		{
			name:      "case insensitive match",
			title:     "VENDOR onboarding",
			attendees: 3,
			wantType:  "vendor_meeting",
			wantHours: 24,
		},
		{
			name:      "first matching rule wins",
			title:     "Leadership vendor review",
			attendees: 8,
			wantType:  "leadership_meeting",
			wantHours: 72,
		},
		{
			name:      "empty title returns unknown",
			title:     "",
			attendees: 4,
			wantType:  meeting.TypeUnknown,
			wantHours: 24,
		},
		{
			name:      "no keyword match returns unknown",
			title:     "Lunch",
			attendees: 2,
			wantType:  meeting.TypeUnknown,
			wantHours: 24,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.title, tt.description, tt.attendees, start)
			if got.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", got.Type, tt.wantType)
			}
			if got.PrepHoursBefore != tt.wantHours {
				t.Errorf("PrepHoursBefore = %d, want %d", got.PrepHoursBefore, tt.wantHours)
			}
			wantTrigger := start.Add(-time.Duration(tt.wantHours) * time.Hour)
			if !got.PrepTriggerTime.Equal(wantTrigger) {
				t.Errorf("PrepTriggerTime = %s, want %s", got.PrepTriggerTime, wantTrigger)
			}
		})
	}
}

// TestClassifyLeadershipExample pins the worked example: a 12-attendee
// "Leadership Team Sync" starting 2025-06-10T10:00Z with a 72h lead window
// triggers at 2025-06-07T10:00Z.
func TestClassifyLeadershipExample(t *testing.T) {
	c := New(testRules())
	start := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	got := c.Classify("Leadership Team Sync", "", 12, start)

	if got.Type != "leadership_meeting" {
		t.Fatalf("Type = %q, want leadership_meeting", got.Type)
	}
	want := time.Date(2025, 6, 7, 10, 0, 0, 0, time.UTC)
	if !got.PrepTriggerTime.Equal(want) {
		t.Errorf("PrepTriggerTime = %s, want %s", got.PrepTriggerTime, want)
	}
}

// TestClassifyDeterministic re-runs classification many times over the same
// input and requires an identical result each time.
func TestClassifyDeterministic(t *testing.T) {
	c := New(testRules())
	start := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	first := c.Classify("Leadership Team Sync", "quarterly goals", 12, start)
	for i := 0; i < 100; i++ {
		got := c.Classify("Leadership Team Sync", "quarterly goals", 12, start)
		if got != first {
			t.Fatalf("run %d: result %+v differs from first %+v", i, got, first)
		}
	}
}

func TestNormalize(t *testing.T) {
	folder := New(config.ClassificationConfig{DefaultPrepHours: 1}).folder

	tests := []struct {
		in   string
		want string
	}{
		{"Leadership Team Sync", "leadership team sync"},
		{"1:1 with Sam", "1 1 with sam"},
		{"  spaced   out  ", "spaced out"},
		{"Überprüfung", "überprüfung"},
		{"a---b", "a b"},
	}
	for _, tt := range tests {
		if got := normalize(tt.in, folder); got != tt.want {
			t.Errorf("normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
