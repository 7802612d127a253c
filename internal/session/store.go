// Package session holds the durable, dot-path addressable state behind
// conversations: chat history and cached extraction results per session.
package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spherical/doc-chat/internal/domain"
	"github.com/spherical/doc-chat/internal/observability"
)

// FailureRecorder is told about every failed flush.
type FailureRecorder interface {
	PersistFailed()
}

// Store is a JSON-file backed tree of nested maps addressed by dotted keys.
// Every mutation rewrites the whole file while holding the store mutex.
type Store struct {
	mu       sync.Mutex
	path     string
	data     map[string]interface{}
	logger   *observability.Logger
	failures FailureRecorder
}

// Open loads the store at path. A missing or unreadable file yields an empty store.
func Open(path string, logger *observability.Logger) *Store {
	if logger == nil {
		logger = observability.Nop()
	}
	s := &Store{
		path:   path,
		data:   map[string]interface{}{},
		logger: logger.WithOperation("session_store"),
	}

	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.logger.Info().Str("path", path).Msg("session file not found, starting empty")
	case err != nil:
		s.logger.Error().Err(err).Str("path", path).Msg("failed to read session file, starting empty")
	default:
		var loaded map[string]interface{}
		if err := json.Unmarshal(raw, &loaded); err != nil || loaded == nil {
			s.logger.Error().Err(err).Str("path", path).Msg("session file is corrupt, starting empty")
		} else {
			s.data = loaded
		}
	}

	return s
}

// WithFailureRecorder attaches a recorder for flush failures.
func (s *Store) WithFailureRecorder(r FailureRecorder) *Store {
	s.failures = r
	return s
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns a copy of the value at key, or def when any segment is missing,
// an intermediate value is not a map, or the value is an empty map.
func (s *Store) Get(key string, def interface{}) interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := lookup(s.data, key)
	if !ok {
		return def
	}
	cp, err := toJSONValue(v)
	if err != nil {
		return def
	}
	return cp
}

// Set stores value at key, creating intermediate maps, and persists the store.
// Persistence failures are logged; the in-memory value is kept.
func (s *Store) Set(key string, value interface{}) {
	s.Update(key, func(interface{}) interface{} { return value })
}

// Update replaces the value at key with fn(current) and persists the store,
// all under the store mutex. current is nil when the key is absent.
func (s *Store) Update(key string, fn func(current interface{}) interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := lookup(s.data, key)
	if ok {
		current, _ = toJSONValue(current)
	}
	next, err := toJSONValue(fn(current))
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("value is not JSON encodable, not stored")
		return
	}

	assign(s.data, key, next)
	s.flushLocked()
}

// flushLocked writes the whole tree to a temp file and renames it into place.
func (s *Store) flushLocked() {
	if err := s.writeFile(); err != nil {
		perr := domain.PersistenceError("failed to persist session store", err)
		s.logger.Error().Err(perr).Str("path", s.path).Msg("session store write failed")
		if s.failures != nil {
			s.failures.PersistFailed()
		}
	}
}

func (s *Store) writeFile() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".sessions-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

// lookup walks dotted key segments through nested maps.
func lookup(root map[string]interface{}, key string) (interface{}, bool) {
	var cur interface{} = root
	for _, seg := range strings.Split(key, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	if m, ok := cur.(map[string]interface{}); ok && len(m) == 0 {
		return nil, false
	}
	return cur, true
}

// assign sets the leaf at key, creating or replacing intermediate maps.
func assign(root map[string]interface{}, key string, value interface{}) {
	segs := strings.Split(key, ".")
	cur := root
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

// toJSONValue converts v into its generic JSON form so that stored values look
// the same before and after a reload.
func toJSONValue(v interface{}) (interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
