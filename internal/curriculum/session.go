package curriculum

import (
	"fmt"
	"sort"
	"strings"
)

// Session holds one in-memory snapshot of the store. Reads and mutations run
// against the snapshot; Commit writes it back in a single pass.
type Session struct {
	store    *Store
	doc      *document
	original string
	exists   bool
}

func newSession(s *Store, content string, exists bool) *Session {
	return &Session{
		store:    s,
		doc:      parseDocument(content),
		original: content,
		exists:   exists,
	}
}

// IDs returns every standard ID in file order.
func (s *Session) IDs() []string {
	ids := make([]string, 0, len(s.doc.blocks))
	for _, b := range s.doc.blocks {
		ids = append(ids, b.id)
	}
	return ids
}

// Has reports whether a record with the given ID exists.
func (s *Session) Has(id string) bool {
	_, ok := s.doc.find(id)
	return ok
}

// Find returns the entry for id.
func (s *Session) Find(id string) (Entry, error) {
	if !s.exists {
		return Entry{}, fmt.Errorf("%s: %w", s.store.path, ErrStoreMissing)
	}
	b, ok := s.doc.find(id)
	if !ok {
		return Entry{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return s.doc.entry(b), nil
}

// Entries returns every record in file order.
func (s *Session) Entries() []Entry {
	out := make([]Entry, 0, len(s.doc.blocks))
	for _, b := range s.doc.blocks {
		out = append(out, s.doc.entry(b))
	}
	return out
}

// Needs returns the records with at least one unset patchable field.
func (s *Session) Needs() []Entry {
	var out []Entry
	for _, e := range s.Entries() {
		if !e.Complete() {
			out = append(out, e)
		}
	}
	return out
}

// Patch rewrites the named list sections of one record. Sections of other
// records and other sections of this record are not touched. A field that is
// already set is preserved unless opts.Force is true, and an empty value never
// clears a set field.
func (s *Session) Patch(id string, fields Fields, opts PatchOptions) (PatchResult, error) {
	res := PatchResult{StandardID: strings.TrimSpace(id)}
	for f := range fields {
		if !f.Patchable() {
			return res, fmt.Errorf("%s: %w", f, ErrInvalidField)
		}
	}
	if !s.exists {
		return res, fmt.Errorf("%s: %w", s.store.path, ErrStoreMissing)
	}
	if _, ok := s.doc.find(id); !ok {
		return res, fmt.Errorf("%s: %w", id, ErrNotFound)
	}

	order := make([]Field, 0, len(fields))
	for f := range fields {
		order = append(order, f)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	for _, f := range order {
		b, _ := s.doc.find(id)
		sec, serr := b.locate(f)
		if serr != nil {
			res.Malformed = append(res.Malformed, serr)
			continue
		}
		set := len(items(s.doc.body(sec))) > 0
		values := fields[f]
		if set && (!opts.Force || len(itemsOf(values)) == 0) {
			res.Preserved = append(res.Preserved, f)
			continue
		}
		if s.doc.replaceSection(b, sec, values) {
			res.Applied = append(res.Applied, f)
			res.Changed = true
		}
	}
	return res, nil
}

func itemsOf(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

// Append adds a full record. The ID must not already exist.
func (s *Session) Append(r Record) error {
	if strings.TrimSpace(r.StandardID) == "" {
		return fmt.Errorf("append: empty standard id")
	}
	return s.appendRaw(r.StandardID, r.Render())
}

func (s *Session) appendRaw(id, raw string) error {
	if s.Has(id) {
		return fmt.Errorf("%s: %w", id, ErrDuplicate)
	}
	s.doc.appendBlock(raw)
	s.exists = true
	return nil
}

// Dirty reports whether the snapshot differs from what was read.
func (s *Session) Dirty() bool {
	return s.doc.String() != s.original
}

// Commit writes the snapshot back when it changed. It reports whether a write
// happened.
func (s *Session) Commit() (bool, error) {
	if !s.Dirty() {
		return false, nil
	}
	content := s.doc.String()
	if err := s.store.write(content); err != nil {
		return false, err
	}
	s.original = content
	return true, nil
}
