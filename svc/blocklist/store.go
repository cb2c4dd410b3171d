// Package blocklist persists blocked identifiers (address or content
// fingerprints) as newline-delimited flat text, loaded fully into memory
// for lookup. Writes are append-only and serialized through a single
// writer; readers may briefly miss the newest append, which is
// acceptable given the short read window. Entries never age out; bans
// are permanent until the file is edited by an operator.
package blocklist

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"checkpost/metrics"
)

type Store struct {
	path string

	mu      sync.RWMutex
	entries map[string]struct{}

	// Serializes appends; separate from mu so readers are not blocked by
	// a slow disk.
	writeMu sync.Mutex
}

// Open loads the list. A missing file yields an empty store; the file is
// created on first Add.
func Open(path string) (*Store, error) {
	s := &Store{path: path, entries: make(map[string]struct{})}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Reload() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.entries = make(map[string]struct{})
		s.mu.Unlock()
		metrics.BlocklistSize.Set(0)
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "open blocklist")
	}
	defer f.Close()

	entries := make(map[string]struct{})
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries[line] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, "read blocklist")
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	metrics.BlocklistSize.Set(float64(len(entries)))
	return nil
}

func (s *Store) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

// Add appends an identifier as a single O_APPEND write of one line,
// never read-modify-write, so a concurrent crash cannot corrupt
// earlier entries.
func (s *Store) Add(id string) error {
	id = strings.TrimSpace(id)
	if id == "" || strings.ContainsAny(id, "\n\r") {
		return errors.New("invalid blocklist identifier")
	}
	if s.Contains(id) {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return errors.Wrap(err, "create blocklist dir")
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "open blocklist for append")
	}
	_, werr := f.WriteString(id + "\n")
	cerr := f.Close()
	if werr != nil {
		return errors.Wrap(werr, "append blocklist entry")
	}
	if cerr != nil {
		return errors.Wrap(cerr, "close blocklist")
	}

	s.mu.Lock()
	s.entries[id] = struct{}{}
	size := len(s.entries)
	s.mu.Unlock()
	metrics.BlocklistSize.Set(float64(size))
	return nil
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
