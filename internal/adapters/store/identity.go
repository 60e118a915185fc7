// Package store keeps the local identity in a small YAML file.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/dkeye/meshroom/internal/domain"
)

type IdentityFile struct {
	path string
	mu   sync.Mutex
}

func NewIdentityFile(path string) *IdentityFile {
	return &IdentityFile{path: path}
}

func (f *IdentityFile) Path() string { return f.path }

// Load returns the stored identity. A missing file is not an error: ok is false.
// An unreadable peer id is dropped so the server hands out a new one.
func (f *IdentityFile) Load() (id domain.LocalIdentity, ok bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.LocalIdentity{}, false, nil
	}
	if err != nil {
		return domain.LocalIdentity{}, false, fmt.Errorf("read identity: %w", err)
	}
	if err := yaml.Unmarshal(b, &id); err != nil {
		return domain.LocalIdentity{}, false, fmt.Errorf("parse identity %s: %w", f.path, err)
	}
	if id.PeerID != "" && id.PeerID.Validate() != nil {
		log.Warn().Str("module", "store").Str("peer", string(id.PeerID)).Msg("stored peer id invalid, dropping")
		id.PeerID = ""
	}
	return id, true, nil
}

// Save writes id atomically through a temp file in the same directory.
func (f *IdentityFile) Save(id domain.LocalIdentity) error {
	b, err := yaml.Marshal(id)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("identity dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".identity-*")
	if err != nil {
		return fmt.Errorf("identity temp: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write identity: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write identity: %w", err)
	}
	log.Debug().Str("module", "store").Str("peer", string(id.PeerID)).Msg("identity saved")
	return nil
}

// Clear forgets the peer id but keeps the display name.
func (f *IdentityFile) Clear() error {
	id, ok, err := f.Load()
	if err != nil || !ok {
		return err
	}
	if id.DisplayName == "" {
		f.mu.Lock()
		defer f.mu.Unlock()
		if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	id.PeerID = ""
	return f.Save(id)
}
