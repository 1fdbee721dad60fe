package models

import (
	"time"

	"github.com/google/uuid"
)

// Counselor represents a counselor profile with per-modality session rates.
// Rates are stored in whole VND; the gateway's minor-unit scaling happens in
// the payment pipeline, never here.
type Counselor struct {
	ID          uuid.UUID `json:"id" db:"id"`
	UserID      uuid.UUID `json:"user_id" db:"user_id"`
	DisplayName string    `json:"display_name" db:"display_name"`
	Specialty   string    `json:"specialty" db:"specialty"`
	OnlineRate  int64     `json:"online_rate" db:"online_rate"`
	OfflineRate int64     `json:"offline_rate" db:"offline_rate"`
	Active      bool      `json:"active" db:"active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
