package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification represents an in-app notification row
type Notification struct {
	ID        uuid.UUID `json:"id" db:"id"`
	UserID    uuid.UUID `json:"user_id" db:"user_id"`
	Title     string    `json:"title" db:"title"`
	Message   string    `json:"message" db:"message"`
	Metadata  JSONB     `json:"metadata,omitempty" db:"metadata"`
	Read      bool      `json:"read" db:"read"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewNotification creates an unread notification for a user
func NewNotification(userID uuid.UUID, title, message string, metadata map[string]interface{}) *Notification {
	return &Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		Message:   message,
		Metadata:  JSONB(metadata),
		CreatedAt: time.Now(),
	}
}
