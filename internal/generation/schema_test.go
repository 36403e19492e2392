package generation

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_Validate(t *testing.T) {
	v := NewValidator()

	tests := []struct {
		name    string
		schema  string
		doc     string
		wantErr bool
	}{
		{"fill ok", SchemaCurriculumFill, fillJSON, false},
		{"fill empty list", SchemaCurriculumFill, `{"learning_objectives": [], "assessment_boundaries": ["a"], "common_misconceptions": ["b"]}`, true},
		{"fill missing field", SchemaCurriculumFill, `{"learning_objectives": ["a"]}`, true},
		{"mcq map options", ItemSchema(TypeMCQ), `{"content": {"question": "Q", "answer": "A", "answer_options": {"A": "x", "B": "y"}}}`, false},
		{"mcq without options", ItemSchema(TypeMCQ), `{"content": {"question": "Q", "answer": "A"}}`, true},
		{"msq list answer", ItemSchema(TypeMSQ), msqJSON, false},
		{"fill-in", ItemSchema(TypeFillIn), fillInJSON, false},
		{"fill-in without content", ItemSchema(TypeFillIn), `{"id": "x"}`, true},
		{"self assessment", SchemaSelfAssessment, `{"overall_score": 0.9, "confident": true}`, false},
		{"self assessment out of range", SchemaSelfAssessment, `{"overall_score": 9}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.schema, tt.doc)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, ErrInvalidOutput), "error = %v", err)
		})
	}
}

func TestValidator_ErrorListIsCapped(t *testing.T) {
	err := NewValidator().Validate(SchemaCurriculumFill, `{"learning_objectives": [1, 2, 3, 4, 5]}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "more")
	assert.LessOrEqual(t, strings.Count(err.Error(), ";"), 3)
}

func TestValidator_Raw(t *testing.T) {
	v := NewValidator()

	raw, err := v.Raw(SchemaCurriculumFill)
	require.NoError(t, err)
	assert.Equal(t, "object", raw["type"])
	assert.Contains(t, raw, "properties")

	_, err = v.Raw("nope")
	assert.Error(t, err)
	assert.Error(t, v.Validate("nope", "{}"))
}
