package curriculum

import (
	"strings"
)

// FormatItems renders list values as "* " bullets, one per line, or the
// sentinel when there are none.
func FormatItems(values []string) string {
	return strings.Join(itemLines(values), "\n")
}

func itemLines(values []string) []string {
	var out []string
	for _, v := range values {
		v = strings.Join(strings.Fields(v), " ")
		if v == "" {
			continue
		}
		out = append(out, "* "+v)
	}
	if len(out) == 0 {
		return []string{Sentinel}
	}
	return out
}

// Render produces the canonical block text for a record, without delimiters
// or a trailing newline.
func (r Record) Render() string {
	var b strings.Builder
	b.WriteString(idHeader + ": " + strings.TrimSpace(r.StandardID) + "\n")
	b.WriteString(FieldDescription.Header() + ": " + strings.Join(strings.Fields(r.Description), " ") + "\n")
	for _, f := range PatchableFields {
		b.WriteString("\n" + f.Header() + ":\n")
		b.WriteString(FormatItems(r.Items(f)) + "\n")
	}
	b.WriteString("\n" + FieldDifficulty.Header() + ":\n")
	if d := strings.TrimSpace(r.DifficultyDefinitions); d != "" {
		b.WriteString(r.DifficultyDefinitions)
	} else {
		b.WriteString(Sentinel)
	}
	return b.String()
}

// replaceSection rewrites the content lines of one section with values and
// reports whether any line changed. Blank padding around the content and every
// line outside the section are left as they are.
func (d *document) replaceSection(b block, s section, values []string) bool {
	eol := ""
	if strings.HasSuffix(d.lines[s.header], "\r") {
		eol = "\r"
	}
	rendered := itemLines(values)
	for i := range rendered {
		rendered[i] += eol
	}
	changed := false

	if s.inline != "" {
		d.lines[s.header] = s.field.Header() + ":" + eol
		changed = true
	}

	first, last := -1, -1
	for i := s.header + 1; i < s.end; i++ {
		if strings.TrimSpace(d.lines[i]) != "" {
			if first < 0 {
				first = i
			}
			last = i
		}
	}

	var next []string
	var from, to int
	if first < 0 {
		from, to = s.header+1, s.header+1
		next = rendered
		if s.end == s.header+1 && s.end < b.end {
			next = append(append([]string{}, rendered...), eol)
		}
	} else {
		from, to = first, last+1
		next = rendered
	}

	if !changed && equalLines(d.lines[from:to], next) {
		return false
	}
	out := make([]string, 0, len(d.lines)-(to-from)+len(next))
	out = append(out, d.lines[:from]...)
	out = append(out, next...)
	out = append(out, d.lines[to:]...)
	d.lines = out
	d.index()
	return true
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if strings.TrimRight(a[i], "\r") != strings.TrimRight(b[i], "\r") {
			return false
		}
	}
	return true
}

// appendBlock adds a block after the last existing record, preserving every
// existing byte and inserting a delimiter when the file does not already end
// with one.
func (d *document) appendBlock(raw string) {
	content := d.String()
	raw = strings.Trim(raw, "\n")
	var b strings.Builder
	if strings.TrimSpace(content) == "" {
		b.WriteString(raw + "\n")
	} else {
		b.WriteString(content)
		if !strings.HasSuffix(content, "\n") {
			b.WriteString("\n")
		}
		if !isDelimiter(lastNonBlank(content)) {
			b.WriteString(delimiter + "\n")
		}
		b.WriteString(raw + "\n")
	}
	d.lines = strings.Split(b.String(), "\n")
	d.index()
}

func lastNonBlank(content string) string {
	lines := strings.Split(content, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}
