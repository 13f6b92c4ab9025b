package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the queue as one JSON array on disk. Every change is
// written to a temp file, synced and renamed over the old one, so a crash
// leaves either the old or the new contents.
type FileStore struct {
	mu       sync.Mutex
	path     string
	commands []Command
}

// OpenFileStore loads path (a missing file is an empty queue).
func OpenFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = "commands.json"
	}
	s := &FileStore{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		s.commands = []Command{}
	case err != nil:
		return nil, fmt.Errorf("read command queue: %w", err)
	case len(data) == 0:
		s.commands = []Command{}
	default:
		if err := json.Unmarshal(data, &s.commands); err != nil {
			return nil, fmt.Errorf("parse command queue %s: %w", path, err)
		}
		if s.commands == nil {
			s.commands = []Command{}
		}
	}
	return s, nil
}

// Append persists cmd. On error the queue is unchanged.
func (s *FileStore) Append(cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Command, len(s.commands), len(s.commands)+1)
	copy(next, s.commands)
	next = append(next, cmd)

	if err := s.write(next); err != nil {
		return err
	}
	s.commands = next
	return nil
}

// Drain clears the file and returns what it held. If the clear cannot be
// written nothing is returned and the queue is unchanged.
func (s *FileStore) Drain() ([]Command, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.commands) == 0 {
		return []Command{}, nil
	}
	if err := s.write([]Command{}); err != nil {
		return nil, err
	}
	out := s.commands
	s.commands = []Command{}
	return out, nil
}

// Len returns the number of queued commands.
func (s *FileStore) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commands), nil
}

// Close is a no-op; every change is already on disk.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) write(commands []Command) error {
	data, err := json.Marshal(commands)
	if err != nil {
		return fmt.Errorf("encode command queue: %w", err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write command queue: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync command queue: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close command queue: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace command queue: %w", err)
	}

	// Persist the rename itself. Not every platform supports syncing a directory.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}
