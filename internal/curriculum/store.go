// Package curriculum implements the flat-file curriculum store: a single text
// file of delimiter-separated records keyed by standard ID. Lookups parse the
// file on demand, patches rewrite individual sections in place, and appends
// add whole records only when their ID is absent.
package curriculum

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store is a handle on one curriculum file. A Store serializes its own
// read-modify-write cycles; callers in other processes must coordinate
// externally.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store backed by the file at path. The file need not exist
// yet: Append creates it.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Open reads the whole file into a session. A missing file yields an empty
// session whose reads fail with ErrStoreMissing.
func (s *Store) Open() (*Session, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return newSession(s, "", false), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading curriculum %s: %w", s.path, err)
	}
	return newSession(s, string(data), true), nil
}

// Update runs fn against a fresh session under the store lock and commits the
// result if fn succeeds.
func (s *Store) Update(fn func(*Session) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, err := s.Open()
	if err != nil {
		return false, err
	}
	if err := fn(sess); err != nil {
		return false, err
	}
	return sess.Commit()
}

// Find returns the record for id with its completeness flags.
func (s *Store) Find(id string) (Entry, error) {
	sess, err := s.Open()
	if err != nil {
		return Entry{}, err
	}
	return sess.Find(id)
}

// Entries returns all records in file order.
func (s *Store) Entries() ([]Entry, error) {
	sess, err := s.Open()
	if err != nil {
		return nil, err
	}
	if !sess.exists {
		return nil, fmt.Errorf("%s: %w", s.path, ErrStoreMissing)
	}
	return sess.Entries(), nil
}

// Needs returns records that still carry at least one unset field.
func (s *Store) Needs() ([]Entry, error) {
	sess, err := s.Open()
	if err != nil {
		return nil, err
	}
	if !sess.exists {
		return nil, fmt.Errorf("%s: %w", s.path, ErrStoreMissing)
	}
	return sess.Needs(), nil
}

// Patch rewrites list sections of one record. Nothing is written when the ID
// is absent or no section changed.
func (s *Store) Patch(id string, fields Fields, opts PatchOptions) (PatchResult, error) {
	var res PatchResult
	_, err := s.Update(func(sess *Session) error {
		var err error
		res, err = sess.Patch(id, fields, opts)
		return err
	})
	return res, err
}

// Append adds a new record. It fails with ErrDuplicate if the ID exists and
// creates the file if it does not exist yet.
func (s *Store) Append(r Record) error {
	_, err := s.Update(func(sess *Session) error {
		return sess.Append(r)
	})
	return err
}

// Seed copies records for the target IDs from a source corpus file, skipping
// IDs already present. Blocks are appended in target order in a single write.
func (s *Store) Seed(sourcePath string, ids []string) (SeedResult, error) {
	data, err := os.ReadFile(sourcePath)
	if err != nil {
		return SeedResult{}, fmt.Errorf("reading source corpus %s: %w", sourcePath, err)
	}
	src := parseDocument(string(data))

	var res SeedResult
	_, err = s.Update(func(sess *Session) error {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			if sess.Has(id) {
				res.Present = append(res.Present, id)
				continue
			}
			b, ok := src.find(id)
			if !ok {
				res.Missing = append(res.Missing, id)
				continue
			}
			if err := sess.appendRaw(id, src.raw(b)); err != nil {
				return err
			}
			res.Appended = append(res.Appended, id)
		}
		return nil
	})
	return res, err
}

func (s *Store) write(content string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating curriculum dir: %w", err)
	}
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(s.path); err == nil {
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(dir, ".curriculum-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing curriculum: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing curriculum: %w", err)
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return fmt.Errorf("setting curriculum mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing curriculum %s: %w", s.path, err)
	}
	return nil
}

// IDs returns every standard ID in file order.
func (s *Store) IDs() ([]string, error) {
	sess, err := s.Open()
	if err != nil {
		return nil, err
	}
	if !sess.exists {
		return nil, fmt.Errorf("%s: %w", s.path, ErrStoreMissing)
	}
	return sess.IDs(), nil
}
