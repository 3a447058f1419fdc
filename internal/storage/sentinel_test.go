package storage

import "testing"

func TestSentinelsCreateAndRemove(t *testing.T) {
	dir := t.TempDir()
	s := NewSentinels(dir)

	if s.KillRequested() {
		t.Fatalf("expected no kill switch initially")
	}
	if err := s.CreateKillSwitch(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.KillRequested() {
		t.Fatalf("expected kill switch present after create")
	}
	if err := s.RemoveKillSwitch(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.KillRequested() {
		t.Fatalf("expected kill switch gone after remove")
	}
}

func TestSentinelsRemoveAbsentIsNotError(t *testing.T) {
	s := NewSentinels(t.TempDir())
	if err := s.RemovePauseSwitch(); err != nil {
		t.Fatalf("expected no error removing an absent sentinel, got %v", err)
	}
}

func TestSentinelsPauseIndependentOfKill(t *testing.T) {
	s := NewSentinels(t.TempDir())
	if err := s.CreatePauseSwitch(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.KillRequested() {
		t.Fatalf("pause switch must not set kill")
	}
	if !s.PauseRequested() {
		t.Fatalf("expected pause switch present")
	}
}
