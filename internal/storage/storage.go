// Package storage defines the catalog persistence interface for model versions,
// promotions, and users.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// VersionRecord is the catalog row of a persisted model version. Metadata is
// the JSON-encoded version metadata, opaque to this package.
type VersionRecord struct {
	ID        string
	Algorithm string
	Scheme    string
	CreatedAt time.Time
	Metadata  string
}

// Promotion is one change of the current model version.
type Promotion struct {
	VersionID  string
	PromotedAt time.Time
}

// User is an entry in the credential store.
type User struct {
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// Storage defines catalog operations.
type Storage interface {
	// Version catalog
	InsertVersion(ctx context.Context, rec *VersionRecord) error
	GetVersion(ctx context.Context, id string) (*VersionRecord, error)
	ListVersions(ctx context.Context) ([]*VersionRecord, error)

	// Promotion history
	RecordPromotion(ctx context.Context, p Promotion) error
	LastPromotion(ctx context.Context) (*Promotion, error)

	// Users
	PutUser(ctx context.Context, u *User) error
	CreateUserIfMissing(ctx context.Context, u *User) (bool, error)
	GetUser(ctx context.Context, username string) (*User, error)
	CountUsers(ctx context.Context) (int64, error)

	Close() error
}
