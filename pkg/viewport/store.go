package viewport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// Store keeps one ViewState per document id. It is the single source of
// truth consulted when switching between documents. States are deleted with
// their document and can be persisted to a JSON file between sessions.
type Store struct {
	mu     sync.Mutex
	states map[int]ViewState
}

// NewStore creates an empty view-state store.
func NewStore() *Store {
	return &Store{states: map[int]ViewState{}}
}

// Get returns the stored state for a document, if any.
func (s *Store) Get(docID int) (ViewState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[docID]
	return st, ok
}

// Set stores the state for a document, replacing any previous one.
func (s *Store) Set(docID int, st ViewState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[docID] = st
}

// Delete removes a document's state. Called when the document is deleted.
func (s *Store) Delete(docID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, docID)
}

// SaveToFile writes all states to a JSON file, creating the directory if
// needed.
func (s *Store) SaveToFile(filename string) error {
	s.mu.Lock()
	out := make(map[string]ViewState, len(s.states))
	for id, st := range s.states {
		out[strconv.Itoa(id)] = st
	}
	s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal view states: %w", err)
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// LoadFromFile replaces the store contents with states read from a JSON
// file. Entries with non-numeric keys or out-of-range zoom are dropped
// rather than failing the whole load.
func (s *Store) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}
	var raw map[string]ViewState
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse state file: %w", err)
	}

	states := make(map[int]ViewState, len(raw))
	for key, st := range raw {
		id, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		if st.Zoom < MinZoom || st.Zoom > MaxZoom {
			continue
		}
		states[id] = st
	}

	s.mu.Lock()
	s.states = states
	s.mu.Unlock()
	return nil
}
