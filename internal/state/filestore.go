package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore persists the state document as a JSON file. Every save writes a
// sibling temp file and renames it over the target, so a crash mid-write
// leaves the previous document intact.
type FileStore struct {
	path string

	mu  sync.Mutex
	doc Document
}

func Open(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("state file path is required")
	}
	s := &FileStore{path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		s.doc = Document{Phase: PhaseIdle, UpdatedAt: time.Now().UTC()}
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", path, err)
	}
	if !doc.Phase.Valid() {
		return nil, fmt.Errorf("state file %s has unknown phase %q", path, doc.Phase)
	}
	s.doc = doc
	return s, nil
}

// Document returns a copy of the current state.
func (s *FileStore) Document() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.doc
	doc.Position = s.doc.Position.clone()
	return doc
}

// Update applies fn to the document and persists the result. A phase change
// made inside fn must be a legal transition. If fn or the write fails the
// in-memory document is left unchanged.
func (s *FileStore) Update(fn func(*Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.doc
	next.Position = s.doc.Position.clone()
	if err := fn(&next); err != nil {
		return err
	}
	if !CanTransition(s.doc.Phase, next.Phase) {
		return &TransitionError{From: s.doc.Phase, To: next.Phase}
	}
	next.UpdatedAt = time.Now().UTC()
	prev := s.doc
	s.doc = next
	if err := s.save(); err != nil {
		s.doc = prev
		return err
	}
	return nil
}

// Transition moves to the given phase without touching the rest of the
// document.
func (s *FileStore) Transition(to Phase) error {
	return s.Update(func(doc *Document) error {
		doc.Phase = to
		return nil
	})
}

func (s *FileStore) save() error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	payload, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
