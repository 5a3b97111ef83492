package auth

import (
	"context"
	"net/http"

	domainauth "github.com/NordCoder/Studymate/internal/domain/auth"
)

type ctxKey int

const identityKey ctxKey = 1

// Authenticator is the slice of Manager that request guards need.
type Authenticator interface {
	Authenticate(bearerHeader string) (domainauth.Identity, error)
}

func WithIdentity(ctx context.Context, id domainauth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromCtx returns the caller set by Middleware or UnaryAuthInterceptor.
func IdentityFromCtx(ctx context.Context) (domainauth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(domainauth.Identity)
	return id, ok
}

// Middleware rejects requests without a valid bearer token and stores the
// caller's Identity in the request context.
func Middleware(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
