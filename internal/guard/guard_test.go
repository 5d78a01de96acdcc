package guard

import (
	"errors"
	"testing"
)

func TestReentrancy_EnterExit(t *testing.T) {
	var g Reentrancy
	if err := g.Enter(); err != nil {
		t.Fatalf("first Enter should succeed: %v", err)
	}
	if err := g.Enter(); !errors.Is(err, ErrReentrancy) {
		t.Errorf("nested Enter should fail, got %v", err)
	}
	g.Exit()
	if err := g.Enter(); err != nil {
		t.Errorf("Enter after Exit should succeed: %v", err)
	}
}

func TestReentrancy_ExitWithoutEnterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic on unmatched Exit")
		}
	}()
	var g Reentrancy
	g.Exit()
}

func TestBlockGap(t *testing.T) {
	g := NewBlockGap(2)

	// No recorded deposit: exits pass.
	if err := g.CheckExit("alice", 100); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	g.RecordDeposit("alice", 100)
	if err := g.CheckExit("alice", 100); !errors.Is(err, ErrBlockGap) {
		t.Errorf("same-block exit should fail, got %v", err)
	}
	if err := g.CheckExit("alice", 101); !errors.Is(err, ErrBlockGap) {
		t.Errorf("one-block exit should fail with gap 2, got %v", err)
	}
	if err := g.CheckExit("alice", 102); err != nil {
		t.Errorf("gap elapsed, expected pass: %v", err)
	}

	// Other actors are unaffected.
	if err := g.CheckExit("bob", 100); err != nil {
		t.Errorf("unexpected error for other actor: %v", err)
	}
}
