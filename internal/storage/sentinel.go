// Package storage owns the file-based control sentinels that sit beside the
// relational state store: KILL_SWITCH and PAUSE_SWITCH. Writing one is an
// atomic create-temp-then-rename, shrunk down to a zero-byte flag file.
package storage

import (
	"os"
	"path/filepath"
)

const (
	KillSwitchFile  = "KILL_SWITCH"
	PauseSwitchFile = "PAUSE_SWITCH"
)

// Sentinels checks for and creates/removes the kill and pause control files
// in a configured directory.
type Sentinels struct {
	dir string
}

// NewSentinels returns a Sentinels rooted at dir. dir must already exist.
func NewSentinels(dir string) *Sentinels {
	return &Sentinels{dir: dir}
}

func (s *Sentinels) path(name string) string {
	return filepath.Join(s.dir, name)
}

// Exists reports whether the named sentinel file is currently present.
func (s *Sentinels) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// KillRequested reports whether KILL_SWITCH is present.
func (s *Sentinels) KillRequested() bool { return s.Exists(KillSwitchFile) }

// PauseRequested reports whether PAUSE_SWITCH is present.
func (s *Sentinels) PauseRequested() bool { return s.Exists(PauseSwitchFile) }

// Create writes the named sentinel file via a temp-file-then-rename so a
// concurrent reader never observes a partially written file (irrelevant for
// a zero-byte flag, but kept for uniformity with the state store's writes).
func (s *Sentinels) Create(name string) error {
	target := s.path(name)
	tmp := target + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, target)
}

// Remove deletes the named sentinel file if present; removing an absent
// file is not an error.
func (s *Sentinels) Remove(name string) error {
	err := os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CreateKillSwitch creates KILL_SWITCH.
func (s *Sentinels) CreateKillSwitch() error { return s.Create(KillSwitchFile) }

// RemoveKillSwitch removes KILL_SWITCH.
func (s *Sentinels) RemoveKillSwitch() error { return s.Remove(KillSwitchFile) }

// CreatePauseSwitch creates PAUSE_SWITCH.
func (s *Sentinels) CreatePauseSwitch() error { return s.Create(PauseSwitchFile) }

// RemovePauseSwitch removes PAUSE_SWITCH.
func (s *Sentinels) RemovePauseSwitch() error { return s.Remove(PauseSwitchFile) }
