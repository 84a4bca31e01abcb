package entity

import (
	"time"

	"github.com/google/uuid"
)

// Records are never hard-deleted; installments are soft-cancelled through their status.
type BaseNoDelete struct {
	ID        uuid.UUID `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
