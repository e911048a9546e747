// Package auth issues and validates short-lived signed bearer tokens.
//
// Tokens are HS256 JWTs carrying the subject and role. They are stateless:
// there is no revocation, and a token stays valid until it expires.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/bazaar/internal/storage"
	"github.com/hyperjump/bazaar/pkg/utils"
)

// TokenTTL is the lifetime of an issued token.
const TokenTTL = 30 * time.Minute

// Roles.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Kind classifies token validation failures.
type Kind int

const (
	KindInvalid Kind = iota
	KindExpired
)

func (k Kind) String() string {
	if k == KindExpired {
		return "expired"
	}
	return "invalid"
}

// Error is a token validation failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Kind == KindExpired {
		return "token has expired"
	}
	return "could not validate credentials"
}

func (e *Error) Unwrap() error { return e.Err }

// ErrInvalidCredentials is returned by IssueToken for an unknown user or wrong password.
var ErrInvalidCredentials = errors.New("incorrect username or password")

// Claims are the JWT claims of an access token.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Token is an issued access token.
type Token struct {
	Raw       string
	Subject   string
	Role      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Identity is the authenticated caller of a request.
type Identity struct {
	Subject string
	Role    string
}

// IsAdmin reports whether the identity may use admin operations.
func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// CredentialStore looks up users by name.
type CredentialStore interface {
	GetUser(ctx context.Context, username string) (*storage.User, error)
}

// Gateway issues and validates tokens.
type Gateway struct {
	secret []byte
	users  CredentialStore
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides time.Now for issuing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// NewGateway creates a Gateway signing with secret.
func NewGateway(secret string, users CredentialStore, opts ...Option) (*Gateway, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth secret is empty")
	}
	g := &Gateway{secret: []byte(secret), users: users, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = utils.OrNop(g.logger)
	return g, nil
}

// IssueToken verifies username and password and returns a token expiring TokenTTL from now.
func (g *Gateway) IssueToken(ctx context.Context, username, password string) (Token, error) {
	u, err := g.users.GetUser(ctx, username)
	if errors.Is(err, storage.ErrNotFound) {
		// Keep timing close to the wrong-password path.
		_ = CheckPassword(dummyHash, password)
		return Token{}, ErrInvalidCredentials
	}
	if err != nil {
		return Token{}, fmt.Errorf("failed to look up user: %w", err)
	}
	if err := CheckPassword(u.PasswordHash, password); err != nil {
		g.logger.Debug("password mismatch", zap.String("username", username))
		return Token{}, ErrInvalidCredentials
	}
	return g.Sign(u.Username, u.Role)
}

// Sign creates a token for subject without checking credentials.
func (g *Gateway) Sign(subject, role string) (Token, error) {
	now := g.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(TokenTTL)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return Token{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return Token{
		Raw:       raw,
		Subject:   subject,
		Role:      role,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Validate checks the signature and expiry of raw and returns its identity.
func (g *Gateway) Validate(raw string) (Identity, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return Identity{}, &Error{Kind: KindExpired, Err: err}
	}
	if err != nil {
		return Identity{}, &Error{Kind: KindInvalid, Err: err}
	}
	if claims.Subject == "" {
		return Identity{}, &Error{Kind: KindInvalid, Err: errors.New("token has no subject")}
	}
	return Identity{Subject: claims.Subject, Role: claims.Role}, nil
}
