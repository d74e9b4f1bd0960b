// Package checkpoint persists session state between engine invocations so an
// interrupted interview resumes from the last completed step. Two backends
// exist: JSON files for development and SQLite for anything shared.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"specsmith/pkg/session"
)

// ErrNotFound is returned when no checkpoint exists for a session.
var ErrNotFound = errors.New("checkpoint not found")

// SessionInfo summarizes a stored session for listings.
type SessionInfo struct {
	SessionID string        `json:"session_id"`
	Stage     session.Stage `json:"stage"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Store is the persistence boundary for session checkpoints. Implementations
// are constructed explicitly and injected; there is no package-level instance.
type Store interface {
	// Put replaces the checkpoint for state.SessionID.
	Put(ctx context.Context, state *session.State) error
	// Get loads the checkpoint for a session, or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*session.State, error)
	// Delete removes a checkpoint. Deleting an absent session is not an error.
	Delete(ctx context.Context, sessionID string) error
	// List returns summaries of all stored sessions, newest first.
	List(ctx context.Context) ([]SessionInfo, error)
	// Close releases backend resources.
	Close() error
}

// FileStore keeps one JSON file per session under a base directory.
type FileStore struct {
	baseDir string
}

// NewFileStore creates the base directory if needed.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory %s: %w", baseDir, err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Put implements Store. The write goes through a temp file and rename so a
// crash mid-write never leaves a truncated checkpoint.
func (s *FileStore) Put(_ context.Context, state *session.State) error {
	if state == nil || state.SessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint for session %s: %w", state.SessionID, err)
	}

	filename := s.filename(state.SessionID)
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint for session %s: %w", state.SessionID, err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("failed to commit checkpoint for session %s: %w", state.SessionID, err)
	}
	return nil
}

// Get implements Store.
func (s *FileStore) Get(_ context.Context, sessionID string) (*session.State, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session ID cannot be empty")
	}

	data, err := os.ReadFile(s.filename(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read checkpoint for session %s: %w", sessionID, err)
	}

	var state session.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint for session %s: %w", sessionID, err)
	}
	return &state, nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID cannot be empty")
	}
	if err := os.Remove(s.filename(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint for session %s: %w", sessionID, err)
	}
	return nil
}

// List implements Store.
func (s *FileStore) List(ctx context.Context) ([]SessionInfo, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	var infos []SessionInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "SESSION_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		sessionID := strings.TrimSuffix(strings.TrimPrefix(name, "SESSION_"), ".json")

		state, err := s.Get(ctx, sessionID)
		if err != nil {
			// A checkpoint written by a newer version or corrupted on disk
			// should not hide the rest of the listing.
			continue
		}
		infos = append(infos, SessionInfo{
			SessionID: state.SessionID,
			Stage:     state.CurrentStage,
			UpdatedAt: state.UpdatedAt,
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

// Close implements Store.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) filename(sessionID string) string {
	return filepath.Join(s.baseDir, fmt.Sprintf("SESSION_%s.json", sessionID))
}
