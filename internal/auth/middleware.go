package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	appErrors "github.com/unclebandit/campaign-mailer/internal/errors"
)

// Authenticate requires a valid bearer token and stores the caller on the request context.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			deny(w, fmt.Errorf("%w: missing bearer token", appErrors.ErrUnauthorized))
			return
		}
		caller, err := a.Parse(strings.TrimSpace(token))
		if err != nil {
			deny(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
	})
}

// RequireAdmin admits admin and super_admin callers.
func RequireAdmin(next http.Handler) http.Handler {
	return requireRole(next, (*Caller).IsAdmin)
}

// RequirePrivileged admits only callers allowed to create, send, delete or clear.
func RequirePrivileged(next http.Handler) http.Handler {
	return requireRole(next, (*Caller).IsPrivileged)
}

func requireRole(next http.Handler, allowed func(*Caller) bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := CallerFrom(r.Context())
		if c == nil {
			deny(w, appErrors.ErrUnauthorized)
			return
		}
		if !allowed(c) {
			deny(w, fmt.Errorf("%w: insufficient privileges", appErrors.ErrForbidden))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// deny writes err with the status the error taxonomy assigns it.
func deny(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErrors.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
