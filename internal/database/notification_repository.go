package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mindhaven/counseling-backend/internal/models"
)

// NotificationRepository handles in-app notification persistence
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Insert stores a new notification
func (r *NotificationRepository) Insert(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, title, message, metadata, read, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)`

	_, err := r.db.ExecContext(ctx, query,
		n.ID, n.UserID, n.Title, n.Message, n.Metadata, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}

	return nil
}
