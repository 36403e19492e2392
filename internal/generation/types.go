// Package generation turns a curriculum standard into an assessment item. It
// sequences the collaborators: curriculum population, passage planning, the
// completion call, output validation and normalization.
package generation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// QuestionType is the item format requested from the model.
type QuestionType string

const (
	TypeMCQ    QuestionType = "mcq"
	TypeMSQ    QuestionType = "msq"
	TypeFillIn QuestionType = "fill-in"
)

// ParseQuestionType accepts the common spellings of each type.
func ParseQuestionType(s string) (QuestionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "mcq", "multiple-choice", "multiple_choice":
		return TypeMCQ, nil
	case "msq", "multi-select", "multi_select", "multiselect":
		return TypeMSQ, nil
	case "fill-in", "fill_in", "fillin", "fill":
		return TypeFillIn, nil
	}
	return "", fmt.Errorf("%w: unknown question type %q", ErrInvalidRequest, s)
}

// HasOptions reports whether items of this type carry answer options.
func (t QuestionType) HasOptions() bool {
	return t != TypeFillIn
}

// Skills identifies the standard an item targets.
type Skills struct {
	LessonTitle            string `json:"lesson_title,omitempty"`
	SubstandardID          string `json:"substandard_id"`
	SubstandardDescription string `json:"substandard_description,omitempty"`
}

// Request is one generation request.
type Request struct {
	Type        QuestionType `json:"type"`
	Grade       string       `json:"grade"`
	Subject     string       `json:"subject"`
	Curriculum  string       `json:"curriculum"`
	Difficulty  string       `json:"difficulty"`
	Locale      string       `json:"locale,omitempty"`
	Instruction string       `json:"instruction,omitempty"`
	Skills      Skills       `json:"skills"`
}

var difficulties = map[string]bool{"easy": true, "medium": true, "hard": true}

// Normalize fills defaults and canonicalizes the type and difficulty.
func (r Request) Normalize() (Request, error) {
	qt, err := ParseQuestionType(string(r.Type))
	if err != nil {
		return r, err
	}
	r.Type = qt
	r.Skills.SubstandardID = strings.TrimSpace(r.Skills.SubstandardID)
	if r.Skills.SubstandardID == "" {
		return r, fmt.Errorf("%w: skills.substandard_id is required", ErrInvalidRequest)
	}
	if r.Grade == "" {
		r.Grade = "3"
	}
	if r.Subject == "" {
		r.Subject = "ela"
	}
	if r.Curriculum == "" {
		r.Curriculum = "common core"
	}
	if r.Locale == "" {
		r.Locale = "en-US"
	}
	r.Difficulty = strings.ToLower(strings.TrimSpace(r.Difficulty))
	if r.Difficulty == "" {
		r.Difficulty = "medium"
	}
	if !difficulties[r.Difficulty] {
		return r, fmt.Errorf("%w: unknown difficulty %q", ErrInvalidRequest, r.Difficulty)
	}
	return r, nil
}

// AnswerOption is one lettered choice.
type AnswerOption struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// Options is a list of answer options. It also decodes the {"A": "text"}
// object form some models emit, ordering keys alphabetically.
type Options []AnswerOption

func (o *Options) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var m map[string]string
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(Options, 0, len(keys))
		for _, k := range keys {
			out = append(out, AnswerOption{Key: k, Text: m[k]})
		}
		*o = out
		return nil
	}
	var list []AnswerOption
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*o = list
	return nil
}

// Answer holds one key (mcq), one text (fill-in) or several keys (msq).
// Multi answers encode as a JSON array, single answers as a string.
type Answer struct {
	Values []string
	Multi  bool
}

// Single returns the first value.
func (a Answer) Single() string {
	if len(a.Values) == 0 {
		return ""
	}
	return a.Values[0]
}

func (a Answer) MarshalJSON() ([]byte, error) {
	if a.Multi {
		if a.Values == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.Values)
	}
	return json.Marshal(a.Single())
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var vals []any
		if err := json.Unmarshal(data, &vals); err != nil {
			return err
		}
		a.Multi = true
		a.Values = a.Values[:0]
		for _, v := range vals {
			a.Values = append(a.Values, strings.TrimSpace(fmt.Sprint(v)))
		}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	a.Multi = false
	a.Values = []string{s}
	return nil
}

// Content is the body of a generated item.
type Content struct {
	Question          string   `json:"question"`
	Answer            Answer   `json:"answer"`
	AnswerOptions     Options  `json:"answer_options,omitempty"`
	AnswerExplanation string   `json:"answer_explanation,omitempty"`
	AdditionalDetails string   `json:"additional_details,omitempty"`
	ImageURL          []string `json:"image_url"`
	Passage           string   `json:"passage,omitempty"`
}

// Normalize enforces the per-type shape: option keys upper-cased, trimmed
// and deduplicated; fill-in answers resolved from a key to option text with
// options dropped; msq answers split on commas and deduplicated.
func (c Content) Normalize(t QuestionType) Content {
	c.ImageURL = []string{}
	c.Question = strings.TrimSpace(c.Question)
	c.AnswerOptions = cleanOptions(c.AnswerOptions)

	switch t {
	case TypeFillIn:
		ans := strings.TrimSpace(c.Answer.Single())
		for _, o := range c.AnswerOptions {
			if strings.EqualFold(o.Key, ans) {
				ans = o.Text
				break
			}
		}
		c.Answer = Answer{Values: []string{ans}}
		c.AnswerOptions = nil
	case TypeMSQ:
		seen := make(map[string]bool)
		var keys []string
		for _, v := range c.Answer.Values {
			for _, tok := range strings.Split(v, ",") {
				tok = strings.ToUpper(strings.TrimSpace(tok))
				if tok == "" || seen[tok] {
					continue
				}
				seen[tok] = true
				keys = append(keys, tok)
			}
		}
		c.Answer = Answer{Values: keys, Multi: true}
	default:
		c.Answer = Answer{Values: []string{strings.ToUpper(strings.TrimSpace(c.Answer.Single()))}}
	}
	return c
}

func cleanOptions(opts Options) Options {
	if len(opts) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	out := make(Options, 0, len(opts))
	for _, o := range opts {
		k := strings.ToUpper(strings.TrimSpace(o.Key))
		t := strings.TrimSpace(o.Text)
		if k == "" || t == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, AnswerOption{Key: k, Text: t})
	}
	return out
}

// Check reports structural problems that normalization cannot repair.
func (c Content) Check(t QuestionType) error {
	if c.Question == "" {
		return fmt.Errorf("question is empty")
	}
	if len(c.Answer.Values) == 0 || c.Answer.Single() == "" {
		return fmt.Errorf("answer is empty")
	}
	if !t.HasOptions() {
		return nil
	}
	if len(c.AnswerOptions) < 2 {
		return fmt.Errorf("%s needs at least 2 answer options, got %d", t, len(c.AnswerOptions))
	}
	keys := make(map[string]bool, len(c.AnswerOptions))
	for _, o := range c.AnswerOptions {
		keys[o.Key] = true
	}
	for _, v := range c.Answer.Values {
		if !keys[v] {
			return fmt.Errorf("answer %q is not an option key", v)
		}
	}
	return nil
}

// String renders the content the way the evaluator reads it:
// "Question? A) one B) two".
func (c Content) String() string {
	q := strings.TrimSpace(c.Question)
	if len(c.AnswerOptions) == 0 {
		return q
	}
	parts := make([]string, 0, len(c.AnswerOptions)+1)
	parts = append(parts, q)
	for _, o := range c.AnswerOptions {
		parts = append(parts, strings.TrimSpace(fmt.Sprintf("%s) %s", o.Key, o.Text)))
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// Item is a generated question with the request that produced it.
type Item struct {
	ID      string  `json:"id"`
	Content Content `json:"content"`
	Request Request `json:"request"`
}

var (
	ccssPrefix = regexp.MustCompile(`(?i)^CCSS\.ELA-LITERACY\.`)
	nonIDChars = regexp.MustCompile(`[^a-z0-9_]+`)
	underscore = regexp.MustCompile(`_+`)
)

// IDPrefix derives an item ID prefix from a standard ID:
// CCSS.ELA-LITERACY.L.3.1.A becomes l_3_1_a.
func IDPrefix(standardID string) string {
	s := ccssPrefix.ReplaceAllString(strings.TrimSpace(standardID), "")
	s = strings.ToLower(s)
	s = strings.NewReplacer("-", "_", ".", "_").Replace(s)
	s = nonIDChars.ReplaceAllString(s, "_")
	s = strings.Trim(underscore.ReplaceAllString(s, "_"), "_")
	if s == "" {
		return "item"
	}
	return s
}
