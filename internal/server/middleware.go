package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/hnrobert/securedash/internal/auth"
	"github.com/hnrobert/securedash/internal/logger"
)

type ctxKey string

const ctxSession ctxKey = "session"

// withSession builds the request's auth.Session from the session cookie, or
// an unauthenticated one. The store is read fresh so accounts registered or
// changed by other requests are seen immediately.
func (a *App) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := auth.NewSession()
		if au, _, err := a.authenticator(); err != nil {
			logger.Error("Loading credential store for %s failed: %v", r.URL.Path, err)
		} else if tok := readToken(r, au.CookieName()); tok != "" {
			if s, err := au.Verify(tok); err == nil {
				sess = s
			}
		}
		ctx := context.WithValue(r.Context(), ctxSession, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func readToken(r *http.Request, cookieName string) string {
	// Prefer cookie.
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	// Fallback: Authorization: Bearer <token>
	authz := r.Header.Get("Authorization")
	if authz != "" {
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}

// sessionFrom never returns nil.
func sessionFrom(r *http.Request) *auth.Session {
	if v := r.Context().Value(ctxSession); v != nil {
		if s, ok := v.(*auth.Session); ok {
			return s
		}
	}
	return auth.NewSession()
}

func (a *App) isAdmin(r *http.Request) bool {
	s := sessionFrom(r)
	return s.Authenticated() && a.cfg.IsAdmin(s.Username)
}

func (a *App) requireAuth(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !sessionFrom(r).Authenticated() {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		h(w, r)
	}
}

func (a *App) requireAdmin(h http.HandlerFunc) http.HandlerFunc {
	return a.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if !a.isAdmin(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		h(w, r)
	})
}
