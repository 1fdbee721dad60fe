package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mindhaven/counseling-backend/internal/models"
)

// CounselorRepository handles counselor persistence
type CounselorRepository struct {
	db *sqlx.DB
}

// NewCounselorRepository creates a new counselor repository
func NewCounselorRepository(db *sqlx.DB) *CounselorRepository {
	return &CounselorRepository{db: db}
}

// GetByID retrieves a counselor by ID. Returns nil if not found.
func (r *CounselorRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Counselor, error) {
	var counselor models.Counselor
	query := `SELECT * FROM counselors WHERE id = $1`

	err := r.db.GetContext(ctx, &counselor, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get counselor: %w", err)
	}

	return &counselor, nil
}

// ListActive retrieves all active counselors
func (r *CounselorRepository) ListActive(ctx context.Context) ([]*models.Counselor, error) {
	var counselors []*models.Counselor
	query := `SELECT * FROM counselors WHERE active = TRUE ORDER BY display_name`

	err := r.db.SelectContext(ctx, &counselors, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list counselors: %w", err)
	}

	return counselors, nil
}
