package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Identity is what the host told us about the caller.
type Identity struct {
	Email string // externally authenticated email, empty for anonymous visitors
	Admin string // administrator user name, empty unless RequireAdmin passed
}

// Subject returns the value anti-forgery tokens are bound to.
func (i Identity) Subject() string {
	if i.Admin != "" {
		return "admin:" + i.Admin
	}
	return i.Email
}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// IdentityFrom returns the identity stored in ctx, or the anonymous identity.
func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityContextKey).(Identity)
	return id
}

// HostIdentity reads caller identity supplied by the hosting site.
// The caller email arrives in a header set by the trusted front proxy; administrators
// authenticate with HTTP basic auth against a bcrypt hash.
type HostIdentity struct {
	Header    string // e.g. X-Forwarded-Email
	AdminUser string
	AdminHash []byte // bcrypt hash; empty denies every admin request
}

// Resolve attaches the caller email from the identity header to the request context.
func (h HostIdentity) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := IdentityFrom(r.Context())
		if h.Header != "" {
			id.Email = strings.TrimSpace(r.Header.Get(h.Header))
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// CheckAdmin reports whether user and password match the configured administrator.
// INVARIANT: always runs the bcrypt comparison when a hash is configured
func (h HostIdentity) CheckAdmin(user, password string) bool {
	if len(h.AdminHash) == 0 || h.AdminUser == "" {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.AdminUser)) == 1
	passOK := bcrypt.CompareHashAndPassword(h.AdminHash, []byte(password)) == nil
	return userOK && passOK
}

// RequireAdmin rejects requests without valid administrator credentials.
// POST: the request context carries Identity.Admin when next runs
func (h HostIdentity) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !h.CheckAdmin(user, pass) {
			slog.Warn("auth_denied", "path", r.URL.Path, "user", user, "ip", ClientIP(r))
			w.Header().Set("WWW-Authenticate", `Basic realm="membership admin", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		id := IdentityFrom(r.Context())
		id.Admin = user
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// HashPassword returns a bcrypt hash suitable for MEMBERSHIP_ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
