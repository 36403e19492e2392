package generation

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Schema names.
const (
	SchemaCurriculumFill = "curriculum_fill"
	SchemaSelfAssessment = "self_assessment"
)

// ItemSchema returns the schema name for a question type.
func ItemSchema(t QuestionType) string {
	return "item_" + string(t)
}

// Validator checks model payloads against the embedded JSON schemas and
// caches each compiled schema.
type Validator struct {
	cache sync.Map // name -> *gojsonschema.Schema
}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Raw returns the schema document as a map, for use as tool parameters.
func (v *Validator) Raw(name string) (map[string]any, error) {
	data, err := schemaFS.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown schema %q: %w", name, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode schema %q: %w", name, err)
	}
	return m, nil
}

func (v *Validator) schema(name string) (*gojsonschema.Schema, error) {
	if s, ok := v.cache.Load(name); ok {
		return s.(*gojsonschema.Schema), nil
	}
	data, err := schemaFS.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown schema %q: %w", name, err)
	}
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", name, err)
	}
	v.cache.Store(name, s)
	return s, nil
}

// Validate checks the JSON document against the named schema. Violations
// wrap ErrInvalidOutput.
func (v *Validator) Validate(name, doc string) error {
	s, err := v.schema(name)
	if err != nil {
		return err
	}
	result, err := s.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if result.Valid() {
		return nil
	}

	errs := result.Errors()
	msgs := make([]string, 0, 3)
	for i, e := range errs {
		if i == 3 {
			msgs = append(msgs, fmt.Sprintf("and %d more", len(errs)-3))
			break
		}
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("%w: %s: %s", ErrInvalidOutput, name, strings.Join(msgs, "; "))
}
