package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func newPairingStore(t *testing.T) *FilePairingStore {
	t.Helper()
	s, err := NewFilePairingStore(filepath.Join(t.TempDir(), "pairings.json"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPairingRoundTrip(t *testing.T) {
	s := newPairingStore(t)

	if s.IsPaired("user-1", "telegram") {
		t.Fatal("unpaired user reported as paired")
	}

	code, err := s.RequestPairing("user-1", "telegram", "chat-9", "default")
	if err != nil {
		t.Fatal(err)
	}
	if len(code) != 8 {
		t.Fatalf("expected 8-hex code, got %q", code)
	}

	if err := s.Approve(code); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !s.IsPaired("user-1", "telegram") {
		t.Fatal("approved user not reported as paired")
	}
	if s.IsPaired("user-1", "discord") {
		t.Fatal("pairing must be channel-scoped")
	}
}

func TestPairingCodeSingleUse(t *testing.T) {
	s := newPairingStore(t)
	code, _ := s.RequestPairing("u", "telegram", "c", "default")
	if err := s.Approve(code); err != nil {
		t.Fatal(err)
	}
	if err := s.Approve(code); !errors.Is(err, ErrPairingCodeUnknown) {
		t.Fatalf("reused code should be unknown, got %v", err)
	}
}

func TestPairingLockoutAfterRepeatedFailures(t *testing.T) {
	s := newPairingStore(t)
	for i := 0; i < pairingMaxFailures; i++ {
		if err := s.Approve("deadbeef"); !errors.Is(err, ErrPairingCodeUnknown) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if err := s.Approve("deadbeef"); !errors.Is(err, ErrPairingLocked) {
		t.Fatalf("expected lockout, got %v", err)
	}
}

func TestPairingPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairings.json")
	s1, err := NewFilePairingStore(path)
	if err != nil {
		t.Fatal(err)
	}
	code, _ := s1.RequestPairing("u", "discord", "c", "default")
	if err := s1.Approve(code); err != nil {
		t.Fatal(err)
	}

	s2, err := NewFilePairingStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if !s2.IsPaired("u", "discord") {
		t.Fatal("pairing lost across reopen")
	}
}
