// Package walletstate persists the last known wallet snapshot per user so a
// restarted session shows balances before the first sync completes.
package walletstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/azebets/walletsync/internal/domain"
)

const defaultStateDir = "./wal/state"

// Store reads and writes one user's wallet snapshot as a JSON file.
type Store struct {
	path string
}

// State is the persisted file content.
type State struct {
	SavedAt time.Time             `json:"saved_at"`
	Wallet  domain.WalletSnapshot `json:"wallet"`
}

// NewStore creates a store under dir for the given scope, usually the user id.
func NewStore(dir, scope string) (*Store, error) {
	if dir == "" {
		dir = defaultStateDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create wallet state dir")
	}

	name := sanitizeScope(scope)
	if name == "" {
		name = "anonymous"
	}

	return &Store{path: filepath.Join(dir, fmt.Sprintf("%s.json", name))}, nil
}

// Path returns the file backing the store.
func (s *Store) Path() string {
	return s.path
}

// Load reads the snapshot. A missing or empty file yields nil.
func (s *Store) Load() (*State, error) {
	if s == nil || s.path == "" {
		return nil, nil
	}

	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read wallet state")
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.Wrap(err, "decode wallet state")
	}
	return &state, nil
}

// Save writes the snapshot atomically via a temp file.
func (s *Store) Save(state State) error {
	if s == nil || s.path == "" {
		return nil
	}

	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode wallet state")
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write wallet state temp file")
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrap(err, "persist wallet state")
	}
	return nil
}

// sanitizeScope lowercases value and collapses every run of characters
// outside [a-z0-9] into one underscore.
func sanitizeScope(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}

	var b strings.Builder
	prevUnderscore := false
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevUnderscore = false
			continue
		}
		if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
