// Package file stores token sets in a local JSON file for the terminal
// client.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/satriahrh/bmschat/domain/entities"
	"github.com/satriahrh/bmschat/domain/repositories"
)

// TokenRepository keeps every token set in one JSON file. Each write
// replaces the file through a rename, so a crash never leaves a token set
// half written.
type TokenRepository struct {
	path string
	mu   sync.Mutex
}

// Ensure TokenRepository implements the TokenRepository interface
var _ repositories.TokenRepository = (*TokenRepository)(nil)

type tokenFile struct {
	Sessions map[string]entities.TokenSet `json:"sessions"`
}

// NewTokenRepository creates a repository backed by path. The file and its
// directory are created on the first Save.
func NewTokenRepository(path string) (*TokenRepository, error) {
	if path == "" {
		return nil, errors.New("token file path cannot be empty")
	}
	return &TokenRepository{path: path}, nil
}

// Save implements repositories.TokenRepository
func (r *TokenRepository) Save(ctx context.Context, tokens entities.TokenSet) error {
	if tokens.SessionID == "" {
		return errors.New("session ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.read()
	if err != nil {
		return err
	}
	f.Sessions[tokens.SessionID] = tokens
	return r.write(f)
}

// Get implements repositories.TokenRepository
func (r *TokenRepository) Get(ctx context.Context, sessionID string) (*entities.TokenSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.read()
	if err != nil {
		return nil, err
	}
	tokens, ok := f.Sessions[sessionID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &tokens, nil
}

// Latest returns the most recently updated token set
func (r *TokenRepository) Latest(ctx context.Context) (*entities.TokenSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.read()
	if err != nil {
		return nil, err
	}

	var latest *entities.TokenSet
	for _, tokens := range f.Sessions {
		if latest == nil || tokens.UpdatedAt.After(latest.UpdatedAt) {
			t := tokens
			latest = &t
		}
	}
	if latest == nil {
		return nil, repositories.ErrNotFound
	}
	return latest, nil
}

// Delete implements repositories.TokenRepository
func (r *TokenRepository) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.read()
	if err != nil {
		return err
	}
	if _, ok := f.Sessions[sessionID]; !ok {
		return repositories.ErrNotFound
	}
	delete(f.Sessions, sessionID)
	return r.write(f)
}

// DeleteStale implements repositories.TokenRepository
func (r *TokenRepository) DeleteStale(ctx context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := r.read()
	if err != nil {
		return 0, err
	}

	removed := 0
	for id, tokens := range f.Sessions {
		if tokens.UpdatedAt.Before(before) {
			delete(f.Sessions, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, r.write(f)
}

func (r *TokenRepository) read() (*tokenFile, error) {
	f := &tokenFile{Sessions: make(map[string]entities.TokenSet)}

	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	if len(data) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to decode token file: %w", err)
	}
	if f.Sessions == nil {
		f.Sessions = make(map[string]entities.TokenSet)
	}
	return f, nil
}

func (r *TokenRepository) write(f *tokenFile) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token file: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary token file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return fmt.Errorf("failed to set token file mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}
