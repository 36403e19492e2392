package curriculum

import (
	"strings"

	"golang.org/x/text/cases"
)

// document is a line-oriented view of the curriculum file. Joining lines with
// "\n" reproduces the original bytes exactly, so untouched regions survive a
// rewrite unchanged.
type document struct {
	lines  []string
	blocks []block
}

// block is the line span [start, end) between two delimiters.
type block struct {
	start, end int
	id         string
	sections   []section
}

// section is a header line plus the body lines that follow it, up to the next
// known header or the end of the block.
type section struct {
	field  Field
	header int
	inline string
	end    int
}

func parseDocument(content string) *document {
	d := &document{lines: strings.Split(content, "\n")}
	d.index()
	return d
}

func (d *document) String() string {
	return strings.Join(d.lines, "\n")
}

func (d *document) index() {
	d.blocks = d.blocks[:0]
	start := 0
	for i := 0; i <= len(d.lines); i++ {
		if i < len(d.lines) && !isDelimiter(d.lines[i]) {
			continue
		}
		if b, ok := parseBlock(d.lines, start, i); ok {
			d.blocks = append(d.blocks, b)
		}
		start = i + 1
	}
}

func isDelimiter(line string) bool {
	return strings.TrimSpace(line) == delimiter
}

// matchHeader reports which header a line opens. The ID header is returned as
// ok with isID set.
func matchHeader(line string) (f Field, inline string, isID, ok bool) {
	line = strings.TrimRight(line, "\r")
	if rest, found := strings.CutPrefix(line, idHeader+":"); found {
		return 0, strings.TrimSpace(rest), true, true
	}
	for _, field := range AllFields {
		if rest, found := strings.CutPrefix(line, field.Header()+":"); found {
			return field, strings.TrimSpace(rest), false, true
		}
	}
	return 0, "", false, false
}

func parseBlock(lines []string, start, end int) (block, bool) {
	b := block{start: start, end: end}
	idFound := false
	var headers []int
	for i := start; i < end; i++ {
		f, inline, isID, ok := matchHeader(lines[i])
		if !ok {
			continue
		}
		headers = append(headers, i)
		if isID {
			if !idFound {
				b.id = inline
				idFound = true
			}
			continue
		}
		b.sections = append(b.sections, section{field: f, header: i, inline: inline})
	}
	if !idFound || b.id == "" {
		return block{}, false
	}
	for n := range b.sections {
		s := &b.sections[n]
		s.end = end
		for _, h := range headers {
			if h > s.header {
				s.end = h
				break
			}
		}
	}
	return b, true
}

// locate returns the single section for f, or a SectionError when the header
// is missing or repeated.
func (b block) locate(f Field) (section, *SectionError) {
	var found []section
	for _, s := range b.sections {
		if s.field == f {
			found = append(found, s)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return section{}, &SectionError{StandardID: b.id, Field: f, Reason: "header not found"}
	default:
		return section{}, &SectionError{StandardID: b.id, Field: f, Reason: "header repeated"}
	}
}

// body returns the raw content lines of a section, with inline header text
// first.
func (d *document) body(s section) []string {
	var out []string
	if s.inline != "" {
		out = append(out, s.inline)
	}
	for i := s.header + 1; i < s.end; i++ {
		out = append(out, strings.TrimRight(d.lines[i], "\r"))
	}
	return out
}

var foldedSentinel = cases.Fold().String(compact(Sentinel))

func compact(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// IsSentinel reports whether text is the unset marker, ignoring whitespace
// and case.
func IsSentinel(text string) bool {
	return cases.Fold().String(compact(text)) == foldedSentinel
}

// items extracts list values from section body lines. Blank lines and
// sentinel lines are dropped and bullet markers are stripped.
func items(body []string) []string {
	var out []string
	for _, line := range body {
		t := strings.TrimSpace(line)
		if t == "" || IsSentinel(t) {
			continue
		}
		for _, marker := range []string{"* ", "- ", "• "} {
			if rest, ok := strings.CutPrefix(t, marker); ok {
				t = strings.TrimSpace(rest)
				break
			}
		}
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// text joins body lines verbatim, trimming only leading and trailing blank
// lines. A sentinel-only body yields "".
func text(body []string) string {
	first, last := -1, -1
	for i, line := range body {
		if strings.TrimSpace(line) != "" {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return ""
	}
	joined := strings.Join(body[first:last+1], "\n")
	if IsSentinel(joined) {
		return ""
	}
	return joined
}

func (d *document) find(id string) (block, bool) {
	id = strings.TrimSpace(id)
	for _, b := range d.blocks {
		if b.id == id {
			return b, true
		}
	}
	return block{}, false
}

// entry builds the lookup view of a block. Fields whose section cannot be
// located are reported as malformed and treated as unset.
func (d *document) entry(b block) Entry {
	e := Entry{Record: Record{StandardID: b.id}}
	for _, f := range AllFields {
		s, serr := b.locate(f)
		if serr != nil {
			e.Malformed = append(e.Malformed, f)
			continue
		}
		body := d.body(s)
		switch f {
		case FieldDescription:
			e.Description = strings.Join(strings.Fields(text(body)), " ")
		case FieldDifficulty:
			e.DifficultyDefinitions = text(body)
		case FieldObjectives:
			e.LearningObjectives = items(body)
			e.HasObjectives = len(e.LearningObjectives) > 0
		case FieldBoundaries:
			e.AssessmentBoundaries = items(body)
			e.HasBoundaries = len(e.AssessmentBoundaries) > 0
		case FieldMisconceptions:
			e.CommonMisconceptions = items(body)
			e.HasMisconceptions = len(e.CommonMisconceptions) > 0
		}
	}
	return e
}

// raw returns the block text with surrounding blank lines removed.
func (d *document) raw(b block) string {
	lines := d.lines[b.start:b.end]
	first, last := 0, len(lines)-1
	for first <= last && strings.TrimSpace(lines[first]) == "" {
		first++
	}
	for last >= first && strings.TrimSpace(lines[last]) == "" {
		last--
	}
	return strings.Join(lines[first:last+1], "\n")
}
