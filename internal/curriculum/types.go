package curriculum

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel marks a field that still needs to be populated.
const Sentinel = "*None specified*"

const (
	delimiter = "---"
	idHeader  = "Standard ID"
)

var (
	// ErrStoreMissing is returned when the curriculum file does not exist.
	ErrStoreMissing = errors.New("curriculum store missing")
	// ErrNotFound is returned when no record carries the requested standard ID.
	ErrNotFound = errors.New("standard id not found")
	// ErrDuplicate is returned when appending a record whose ID already exists.
	ErrDuplicate = errors.New("standard id already present")
	// ErrInvalidField is returned when a patch names a field that cannot be patched.
	ErrInvalidField = errors.New("field cannot be patched")
)

// Field identifies one section of a curriculum record, in canonical order.
type Field int

const (
	FieldDescription Field = iota
	FieldObjectives
	FieldBoundaries
	FieldMisconceptions
	FieldDifficulty
)

// AllFields lists every record field in storage order.
var AllFields = []Field{FieldDescription, FieldObjectives, FieldBoundaries, FieldMisconceptions, FieldDifficulty}

// PatchableFields lists the fields Patch accepts.
var PatchableFields = []Field{FieldObjectives, FieldBoundaries, FieldMisconceptions}

var fieldHeaders = map[Field]string{
	FieldDescription:    "Standard Description",
	FieldObjectives:     "Learning Objectives",
	FieldBoundaries:     "Assessment Boundaries",
	FieldMisconceptions: "Common Misconceptions",
	FieldDifficulty:     "Difficulty Definitions",
}

var fieldNames = map[Field]string{
	FieldDescription:    "standard_description",
	FieldObjectives:     "learning_objectives",
	FieldBoundaries:     "assessment_boundaries",
	FieldMisconceptions: "common_misconceptions",
	FieldDifficulty:     "difficulty_definitions",
}

// Header returns the literal header text used in the file, without the colon.
func (f Field) Header() string {
	return fieldHeaders[f]
}

func (f Field) String() string {
	if n, ok := fieldNames[f]; ok {
		return n
	}
	return "unknown"
}

// Patchable reports whether Patch may rewrite this field.
func (f Field) Patchable() bool {
	return f == FieldObjectives || f == FieldBoundaries || f == FieldMisconceptions
}

// ParseField maps a snake_case field name to a Field.
func ParseField(name string) (Field, error) {
	for f, n := range fieldNames {
		if n == strings.TrimSpace(name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown curriculum field %q", name)
}

// Record is one curriculum entry keyed by its standard ID.
type Record struct {
	StandardID            string   `json:"standard_id"`
	Description           string   `json:"standard_description,omitempty"`
	LearningObjectives    []string `json:"learning_objectives,omitempty"`
	AssessmentBoundaries  []string `json:"assessment_boundaries,omitempty"`
	CommonMisconceptions  []string `json:"common_misconceptions,omitempty"`
	DifficultyDefinitions string   `json:"difficulty_definitions,omitempty"`
}

// Items returns the list value of a list field.
func (r Record) Items(f Field) []string {
	switch f {
	case FieldObjectives:
		return r.LearningObjectives
	case FieldBoundaries:
		return r.AssessmentBoundaries
	case FieldMisconceptions:
		return r.CommonMisconceptions
	}
	return nil
}

// Entry is the result of a lookup: the parsed record plus completeness flags.
type Entry struct {
	Record
	HasObjectives     bool    `json:"has_objectives"`
	HasBoundaries     bool    `json:"has_boundaries"`
	HasMisconceptions bool    `json:"has_misconceptions"`
	Malformed         []Field `json:"-"`
}

// Has reports whether a patchable field holds non-sentinel content.
func (e Entry) Has(f Field) bool {
	switch f {
	case FieldObjectives:
		return e.HasObjectives
	case FieldBoundaries:
		return e.HasBoundaries
	case FieldMisconceptions:
		return e.HasMisconceptions
	}
	return false
}

// Missing returns the patchable fields that are still unset.
func (e Entry) Missing() []Field {
	var out []Field
	for _, f := range PatchableFields {
		if !e.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Complete reports whether every patchable field is set.
func (e Entry) Complete() bool {
	return len(e.Missing()) == 0
}

// IsMalformed reports whether the section for f could not be located.
func (e Entry) IsMalformed(f Field) bool {
	for _, m := range e.Malformed {
		if m == f {
			return true
		}
	}
	return false
}

// SectionError reports a field section that could not be located in a record.
type SectionError struct {
	StandardID string
	Field      Field
	Reason     string
}

func (e *SectionError) Error() string {
	return fmt.Sprintf("section %s of %s malformed: %s", e.Field, e.StandardID, e.Reason)
}

// Fields is a partial set of list values keyed by field.
type Fields map[Field][]string

// PatchOptions controls overwrite behavior.
//
// Without Force, a field that already holds non-sentinel content is left as is
// and reported in PatchResult.Preserved. Force rewrites it with the new value.
type PatchOptions struct {
	Force bool
}

// PatchResult describes what a patch did to one record.
type PatchResult struct {
	StandardID string          `json:"standard_id"`
	Changed    bool            `json:"changed"`
	Applied    []Field         `json:"-"`
	Preserved  []Field         `json:"-"`
	Malformed  []*SectionError `json:"-"`
}

// SeedResult summarizes a bulk append-if-absent run.
type SeedResult struct {
	Appended []string `json:"appended"`
	Present  []string `json:"present"`
	Missing  []string `json:"missing"`
}
