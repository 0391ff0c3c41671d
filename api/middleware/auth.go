package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/storefrontlabs/billing-sync/api/responses"
	pkgauth "github.com/storefrontlabs/billing-sync/pkg/auth"
	"github.com/storefrontlabs/billing-sync/pkg/config"
	pkgerrors "github.com/storefrontlabs/billing-sync/pkg/errors"
	"github.com/storefrontlabs/billing-sync/pkg/logger"
)

type ctxKey string

const (
	ctxCaller ctxKey = "caller"
	ctxScope  ctxKey = "scope"
)

// CallerFromContext returns the authenticated caller's subject, if any.
func CallerFromContext(ctx context.Context) string {
	caller, _ := ctx.Value(ctxCaller).(string)
	return caller
}

// Auth validates a bearer service token and requires the given scope.
func Auth(cfg config.JWTConfig, requiredScope string, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgauth.ParseServiceToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}
			if !claims.HasScope(requiredScope) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "insufficient scope"))
				return
			}

			ctx := context.WithValue(r.Context(), ctxCaller, claims.Subject)
			ctx = context.WithValue(ctx, ctxScope, claims.Scope)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"caller": claims.Subject,
					"scope":  claims.Scope,
				})
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
