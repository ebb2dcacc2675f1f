package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/marketplace/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "X-API-Key"

// Authenticator resolves API keys into principals, authenticating requests
// via HMAC-SHA256 hashed API keys.
type Authenticator struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewAuthenticator creates an Authenticator with the given API key
// repository and HMAC pepper.
func NewAuthenticator(apikeys auth.Repository, pepper []byte) *Authenticator {
	return &Authenticator{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Middleware attaches the principal of a valid X-API-Key to the request
// context. Requests without the header pass through anonymously; an invalid
// key is rejected with 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		p, err := a.authenticate(r, key)
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthenticated) {
				zctx.From(ctx).Warn("API key lookup failed", zap.Error(err))
			}
			writeError(ctx, w, auth.ErrUnauthenticated)
			return
		}

		ctx = auth.WithPrincipal(ctx, p)
		ctx = zctx.With(ctx, zap.String("subject_id", p.SubjectID), zap.String("role", string(p.Role)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) authenticate(r *http.Request, key string) (auth.Principal, error) {
	hexHash := auth.HashKey(a.pepper, key)

	info, err := a.apikeys.FindByHash(r.Context(), hexHash)
	if err != nil {
		return auth.Principal{}, err
	}

	// The repository matched on the hash; compare again in constant time in
	// case it returned a different row.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return auth.Principal{}, auth.ErrUnauthenticated
	}
	computed, _ := hex.DecodeString(hexHash)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return auth.Principal{}, auth.ErrUnauthenticated
	}
	if !info.Role.Valid() {
		return auth.Principal{}, auth.ErrUnauthenticated
	}

	return auth.Principal{
		KeyID:     info.ID,
		SubjectID: info.SubjectID,
		Role:      info.Role,
	}, nil
}

// RequireAuth rejects anonymous requests with 401.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.FromContext(r.Context()); !ok {
			writeError(r.Context(), w, auth.ErrUnauthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects anonymous requests with 401 and principals without
// one of the roles with 403.
func RequireRole(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.FromContext(r.Context())
			if !ok {
				writeError(r.Context(), w, auth.ErrUnauthenticated)
				return
			}
			if err := p.Require(roles...); err != nil {
				writeError(r.Context(), w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// principal returns the caller. Routes behind RequireAuth always have one.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.FromContext(r.Context())
	return p
}
