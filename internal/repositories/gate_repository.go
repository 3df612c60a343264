package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

var ErrGateNotFound = errors.New("gate credential not found")

// GateRepository persists hidden-thread gate credentials.
type GateRepository interface {
	GetHash(ctx context.Context, userID string) (string, error)
	SaveHash(ctx context.Context, userID, hash string) error
}

// GateRepo is a sqlx implementation of GateRepository.
type GateRepo struct {
	db *sqlx.DB
}

// NewGateRepo constructs a GateRepo.
func NewGateRepo(db *sqlx.DB) *GateRepo {
	return &GateRepo{db: db}
}

// GetHash loads the stored credential hash for the user.
func (r *GateRepo) GetHash(ctx context.Context, userID string) (string, error) {
	var hash string
	err := r.db.GetContext(ctx, &hash, `SELECT pin_hash FROM thread_gates WHERE user_id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrGateNotFound
	}
	return hash, err
}

// SaveHash upserts the credential hash for the user.
func (r *GateRepo) SaveHash(ctx context.Context, userID, hash string) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO thread_gates (user_id, pin_hash) VALUES ($1, $2)
        ON CONFLICT (user_id) DO UPDATE SET pin_hash = EXCLUDED.pin_hash`, userID, hash)
	return err
}

// MemoryGateRepo keeps credentials in memory for tests and dev mode.
type MemoryGateRepo struct {
	hashes map[string]string
}

// NewMemoryGateRepo constructs an empty MemoryGateRepo.
func NewMemoryGateRepo() *MemoryGateRepo {
	return &MemoryGateRepo{hashes: make(map[string]string)}
}

func (r *MemoryGateRepo) GetHash(ctx context.Context, userID string) (string, error) {
	hash, ok := r.hashes[userID]
	if !ok {
		return "", ErrGateNotFound
	}
	return hash, nil
}

func (r *MemoryGateRepo) SaveHash(ctx context.Context, userID, hash string) error {
	r.hashes[userID] = hash
	return nil
}
