package curriculum_test

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/p-n-ai/pai-elagen/internal/curriculum"
)

func TestRecord_Render(t *testing.T) {
	rec := curriculum.Record{
		StandardID:           "CCSS.ELA-LITERACY.RL.3.2",
		Description:          "Recount stories, including fables, folktales, and myths from diverse cultures.",
		LearningObjectives:   []string{"Retell the key events of a story in order", "Identify the central message of a fable"},
		AssessmentBoundaries: []string{"Texts are at grade 3 complexity"},
	}

	g := goldie.New(t)
	g.Assert(t, "record_render", []byte(rec.Render()+"\n"))
}

func TestFormatItems(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want string
	}{
		{"empty", nil, curriculum.Sentinel},
		{"blank entries", []string{" ", ""}, curriculum.Sentinel},
		{"two", []string{"a", "b  c"}, "* a\n* b c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := curriculum.FormatItems(tt.in); got != tt.want {
				t.Errorf("FormatItems() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsSentinel(t *testing.T) {
	for _, s := range []string{"*None specified*", " * none SPECIFIED * ", "*None\tspecified*"} {
		if !curriculum.IsSentinel(s) {
			t.Errorf("IsSentinel(%q) = false", s)
		}
	}
	for _, s := range []string{"None specified", "* None", ""} {
		if curriculum.IsSentinel(s) {
			t.Errorf("IsSentinel(%q) = true", s)
		}
	}
}
