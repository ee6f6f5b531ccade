package storage

import (
	"time"

	"github.com/google/uuid"
)

// ProjectRecord is a stored project without its definition.
type ProjectRecord struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Revision  int       `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
