package auth

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/hyperjump/bazaar/internal/config"
	"github.com/hyperjump/bazaar/internal/storage"
)

// dummyHash is compared against when the user does not exist.
var dummyHash, _ = HashPassword("bazaar-dummy-password")

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(h), nil
}

// CheckPassword compares password with a bcrypt hash.
func CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

// ValidRole reports whether role is known.
func ValidRole(role string) bool {
	return role == RoleAdmin || role == RoleUser
}

// UserWriter stores users.
type UserWriter interface {
	PutUser(ctx context.Context, u *storage.User) error
	CreateUserIfMissing(ctx context.Context, u *storage.User) (bool, error)
}

// AddUser creates or replaces a user with a freshly hashed password.
func AddUser(ctx context.Context, store UserWriter, username, password, role string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return fmt.Errorf("username and password are required")
	}
	if !ValidRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	return store.PutUser(ctx, &storage.User{Username: username, PasswordHash: hash, Role: role})
}

// Bootstrap creates configured users that do not exist yet. Existing users are
// left unchanged so that passwords set with useradd survive restarts.
func Bootstrap(ctx context.Context, store UserWriter, users []config.BootstrapUser) (int, error) {
	created := 0
	for _, bu := range users {
		role := bu.Role
		if role == "" {
			role = RoleUser
		}
		if !ValidRole(role) {
			return created, fmt.Errorf("bootstrap user %s: unknown role %q", bu.Username, role)
		}
		if _, err := bcrypt.Cost([]byte(bu.PasswordHash)); err != nil {
			return created, fmt.Errorf("bootstrap user %s: password_hash is not a bcrypt hash", bu.Username)
		}
		ok, err := store.CreateUserIfMissing(ctx, &storage.User{
			Username:     bu.Username,
			PasswordHash: bu.PasswordHash,
			Role:         role,
		})
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	return created, nil
}
