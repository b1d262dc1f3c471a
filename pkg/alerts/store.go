package alerts

import (
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/bitranox/check-zpools-sub001/internal/fsatomic"
)

// Store persists the alert state mapping. The state file is owner
// read/write only and its directory owner read/write/execute only.
type Store struct {
	path   string
	logger zerolog.Logger
}

func NewStore(path string, logger zerolog.Logger) *Store {
	return &Store{
		path:   path,
		logger: logger.With().Str("component", "alert-store").Logger(),
	}
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

// Load reads the persisted state. A missing file is an empty state. An
// unreadable or corrupt file is logged as a warning and also yields an
// empty state; corruption must never keep the daemon from starting.
// Damage below the top level (a signature mapped to null) is dropped
// per record, so everything handed out maps to a non-nil record.
func (s *Store) Load() State {
	var state State
	ok, err := fsatomic.LoadJSON(s.path, &state)
	if err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("alert state unreadable, starting empty")
		return State{}
	}
	if !ok || state == nil {
		return State{}
	}
	for sig, rec := range state {
		if rec == nil {
			s.logger.Warn().Str("signature", sig).Str("path", s.path).Msg("null alert state record dropped")
			delete(state, sig)
		}
	}
	return state
}

// Save atomically replaces the whole mapping on disk.
func (s *Store) Save(state State) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return err
	}
	return fsatomic.SaveJSON(s.path, state, 0o600)
}
