// Package gate implements the local authentication gate protecting hidden
// threads. Gate failures are local-only: a wrong PIN never touches the
// remote layer or any thread state.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"thread-sync/internal/repositories"
)

var (
	ErrGateNotSet = errors.New("gate: no credential set")
	ErrWrongPIN   = errors.New("gate: wrong pin")
	ErrEmptyPIN   = errors.New("gate: empty pin")
)

// Gate verifies a PIN-style credential before a user may hide threads or
// view their hidden list. A successful verify unlocks the session until
// Lock is called; the re-prompt cadence is the caller's policy.
type Gate struct {
	store repositories.GateRepository

	mu       sync.Mutex
	unlocked map[string]bool
}

// New constructs a Gate over the credential store.
func New(store repositories.GateRepository) *Gate {
	return &Gate{store: store, unlocked: make(map[string]bool)}
}

// Present reports whether the user has set a credential.
func (g *Gate) Present(ctx context.Context, userID string) (bool, error) {
	_, err := g.store.GetHash(ctx, userID)
	if errors.Is(err, repositories.ErrGateNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load gate credential: %w", err)
	}
	return true, nil
}

// Create sets the credential and unlocks the session. Overwriting requires
// the session to already be unlocked when a credential exists.
func (g *Gate) Create(ctx context.Context, userID, pin string) error {
	if pin == "" {
		return ErrEmptyPIN
	}

	present, err := g.Present(ctx, userID)
	if err != nil {
		return err
	}
	if present && !g.Unlocked(userID) {
		return ErrWrongPIN
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	if err := g.store.SaveHash(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("save gate credential: %w", err)
	}

	g.setUnlocked(userID, true)
	return nil
}

// Verify checks the PIN and unlocks the session on success.
func (g *Gate) Verify(ctx context.Context, userID, pin string) error {
	hash, err := g.store.GetHash(ctx, userID)
	if errors.Is(err, repositories.ErrGateNotFound) {
		return ErrGateNotSet
	}
	if err != nil {
		return fmt.Errorf("load gate credential: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) != nil {
		return ErrWrongPIN
	}

	g.setUnlocked(userID, true)
	return nil
}

// Unlocked reports whether the user's session has passed the gate.
func (g *Gate) Unlocked(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unlocked[userID]
}

// Lock re-locks the session, e.g. when the client backgrounds.
func (g *Gate) Lock(userID string) {
	g.setUnlocked(userID, false)
}

func (g *Gate) setUnlocked(userID string, v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unlocked[userID] = v
}
