package generation

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/p-n-ai/pai-elagen/internal/ai"
)

//go:embed profiles/grades.yaml
var gradesYAML []byte

// DefaultGrade is used when a request names a grade the profiles don't know.
const DefaultGrade = "3"

// WordRange is an inclusive passage length target.
type WordRange struct {
	Min int `yaml:"min" json:"min"`
	Max int `yaml:"max" json:"max"`
}

// GradeProfile describes reading material suitable for one grade.
type GradeProfile struct {
	Grade       string    `yaml:"grade" json:"grade"`
	Age         string    `yaml:"age" json:"age"`
	Words       WordRange `yaml:"words" json:"words"`
	Readability string    `yaml:"readability" json:"readability"`
}

// GradeProfiles maps a grade label to its profile.
type GradeProfiles map[string]GradeProfile

// LoadGradeProfiles parses a profiles document.
func LoadGradeProfiles(data []byte) (GradeProfiles, error) {
	var doc struct {
		Grades []GradeProfile `yaml:"grades"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing grade profiles: %w", err)
	}
	if len(doc.Grades) == 0 {
		return nil, fmt.Errorf("grade profiles are empty")
	}
	out := make(GradeProfiles, len(doc.Grades))
	for _, g := range doc.Grades {
		if g.Grade == "" {
			return nil, fmt.Errorf("grade profile without grade label")
		}
		out[strings.ToUpper(g.Grade)] = g
	}
	return out, nil
}

// DefaultGradeProfiles returns the built-in K-12 profiles.
func DefaultGradeProfiles() GradeProfiles {
	p, err := LoadGradeProfiles(gradesYAML)
	if err != nil {
		panic(err)
	}
	return p
}

// For returns the profile for grade, falling back to DefaultGrade. Labels
// like "grade 4", "04" and "k" are accepted.
func (p GradeProfiles) For(grade string) GradeProfile {
	g := strings.ToUpper(strings.TrimSpace(grade))
	g = strings.TrimPrefix(g, "GRADE")
	g = strings.TrimSpace(g)
	if g != "K" {
		g = strings.TrimLeft(g, "0")
	}
	if prof, ok := p[g]; ok {
		return prof
	}
	return p[DefaultGrade]
}

// PassageStyle is the kind of reading passage a standard calls for.
type PassageStyle string

const (
	StyleNone          PassageStyle = ""
	StyleNarrative     PassageStyle = "narrative"
	StyleInformational PassageStyle = "informational"
)

// Describe returns the prompt wording for the style.
func (s PassageStyle) Describe() string {
	switch s {
	case StyleNarrative:
		return "Story, fable, or folktale"
	case StyleInformational:
		return "Article or explanatory text"
	}
	return ""
}

// PassageStyleFor reports the passage a standard needs: reading literature
// (RL.) gets a narrative, reading informational text (RI.) an article.
func PassageStyleFor(standardID string) PassageStyle {
	id := strings.ToUpper(standardID)
	switch {
	case strings.Contains(id, "RL."):
		return StyleNarrative
	case strings.Contains(id, "RI."):
		return StyleInformational
	}
	return StyleNone
}

// Passage is a generated reading passage.
type Passage struct {
	StandardID string       `json:"standard_id"`
	Grade      string       `json:"grade"`
	Style      PassageStyle `json:"style"`
	Text       string       `json:"text"`
	WordCount  int          `json:"word_count"`
	Model      string       `json:"model,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// PassageCache stores passages by standard ID.
type PassageCache interface {
	GetPassage(ctx context.Context, standardID string) (*Passage, bool, error)
	PutPassage(ctx context.Context, p *Passage) error
}

// PassageFileName returns the cache file name for a standard ID.
func PassageFileName(standardID string) string {
	return strings.NewReplacer(".", "_", ":", "_", "/", "_").Replace(standardID) + ".json"
}

// FileCache keeps one JSON file per standard in Dir.
type FileCache struct {
	Dir string
}

// NewFileCache returns a cache rooted at dir.
func NewFileCache(dir string) *FileCache {
	return &FileCache{Dir: dir}
}

func (c *FileCache) GetPassage(_ context.Context, standardID string) (*Passage, bool, error) {
	data, err := os.ReadFile(filepath.Join(c.Dir, PassageFileName(standardID)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading cached passage: %w", err)
	}
	var p Passage
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, fmt.Errorf("decoding cached passage: %w", err)
	}
	return &p, true, nil
}

func (c *FileCache) PutPassage(_ context.Context, p *Passage) error {
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("creating passage cache dir: %w", err)
	}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding passage: %w", err)
	}
	path := filepath.Join(c.Dir, PassageFileName(p.StandardID))
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing passage: %w", err)
	}
	return os.Rename(tmp, path)
}

// JSONCache is the subset of the platform cache used for passages.
type JSONCache interface {
	GetJSON(ctx context.Context, key string, v any) (bool, error)
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// RedisPassageCache stores passages in Redis/Dragonfly under passage:<id>.
type RedisPassageCache struct {
	Cache JSONCache
	TTL   time.Duration
}

func (c *RedisPassageCache) GetPassage(ctx context.Context, standardID string) (*Passage, bool, error) {
	var p Passage
	ok, err := c.Cache.GetJSON(ctx, "passage:"+standardID, &p)
	if err != nil || !ok {
		return nil, false, err
	}
	return &p, true, nil
}

func (c *RedisPassageCache) PutPassage(ctx context.Context, p *Passage) error {
	return c.Cache.SetJSON(ctx, "passage:"+p.StandardID, p, c.TTL)
}

// PassagePlanner supplies reading passages for standards that need one,
// generating on a cache miss.
type PassagePlanner struct {
	AI        ai.Completer
	Cache     PassageCache
	Profiles  GradeProfiles
	Model     string
	MaxTokens int
	now       func() time.Time
}

// NewPassagePlanner creates a planner with the built-in grade profiles.
// cache may be nil.
func NewPassagePlanner(completer ai.Completer, cache PassageCache) *PassagePlanner {
	return &PassagePlanner{
		AI:        completer,
		Cache:     cache,
		Profiles:  DefaultGradeProfiles(),
		MaxTokens: 1500,
		now:       time.Now,
	}
}

// Plan returns the passage for standardID, or nil when the standard is not
// a reading standard. Cache failures are logged and never fatal.
func (p *PassagePlanner) Plan(ctx context.Context, standardID, grade string) (*Passage, error) {
	style := PassageStyleFor(standardID)
	if style == StyleNone {
		return nil, nil
	}

	if p.Cache != nil {
		cached, ok, err := p.Cache.GetPassage(ctx, standardID)
		if err != nil {
			slog.Warn("passage cache read failed", "standard_id", standardID, "error", err)
		}
		if ok && strings.TrimSpace(cached.Text) != "" {
			return cached, nil
		}
	}

	profile := p.Profiles.For(grade)
	resp, err := p.AI.Complete(ctx, ai.CompletionRequest{
		Task:        ai.TaskPassage,
		Model:       p.Model,
		MaxTokens:   p.MaxTokens,
		Temperature: 0.8,
		Messages: []ai.Message{
			{Role: "system", Content: passageSystemPrompt},
			{Role: "user", Content: passagePrompt(standardID, style, profile)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("generating passage for %s: %w", standardID, err)
	}

	text := cleanPassage(resp.Content)
	if text == "" {
		return nil, fmt.Errorf("%w: empty passage for %s", ErrInvalidOutput, standardID)
	}

	now := time.Now
	if p.now != nil {
		now = p.now
	}
	passage := &Passage{
		StandardID: standardID,
		Grade:      profile.Grade,
		Style:      style,
		Text:       text,
		WordCount:  len(strings.Fields(text)),
		Model:      resp.Model,
		CreatedAt:  now().UTC(),
	}
	if passage.WordCount < profile.Words.Min || passage.WordCount > profile.Words.Max {
		slog.Warn("passage length outside grade target",
			"standard_id", standardID,
			"words", passage.WordCount,
			"min", profile.Words.Min,
			"max", profile.Words.Max,
		)
	}

	if p.Cache != nil {
		if err := p.Cache.PutPassage(ctx, passage); err != nil {
			slog.Warn("passage cache write failed", "standard_id", standardID, "error", err)
		}
	}
	return passage, nil
}

// cleanPassage strips code fences and a leading title line models sometimes add.
func cleanPassage(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "#") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
	}
	return strings.TrimSpace(s)
}
