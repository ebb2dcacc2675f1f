package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/xenking/marketplace/internal/domain/fault"
)

// Role is the kind of account an API key acts for.
type Role string

const (
	RoleUser     Role = "user"
	RoleSeller   Role = "seller"
	RoleDelivery Role = "delivery"
	RoleAdmin    Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleSeller, RoleDelivery, RoleAdmin:
		return true
	}
	return false
}

var (
	ErrUnauthenticated = fault.New(fault.Unauthorized, "missing or invalid API key")
	ErrForbidden       = fault.New(fault.Forbidden, "insufficient permissions")
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID        string
	KeyHash   string
	Name      string
	SubjectID string
	Role      Role
	Scopes    []string
}

// Principal is the authenticated caller of a request. SubjectID is the user,
// seller, delivery person or admin id depending on Role.
type Principal struct {
	KeyID     string
	SubjectID string
	Role      Role
}

// Is reports whether the principal has one of the roles.
func (p Principal) Is(roles ...Role) bool {
	return slices.Contains(roles, p.Role)
}

// Require returns ErrForbidden unless the principal has one of the roles.
func (p Principal) Require(roles ...Role) error {
	if p.Is(roles...) {
		return nil
	}
	return ErrForbidden
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// HashKey returns the hex HMAC-SHA256 of key under pepper. Only hashes are
// stored.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	// FindByHash returns the active key with the hash or ErrUnauthenticated.
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
