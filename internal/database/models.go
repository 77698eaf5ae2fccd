package database

import (
	"time"

	"github.com/nfowler/go-realm/internal/types"
)

// UserRecord is the persisted shape of a realm identity. Ids are assigned
// by the realm, not by the database, so they stay stable across restarts.
type UserRecord struct {
	ID          int
	Name        string
	HashedKey   string
	Preferences types.Preferences
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
