package identity

import (
	"log/slog"
	"net/http"

	"github.com/meridian-sms/meridian-sms/internal/shared"
)

// Cookie and header names for the OTP channels. Clients may present
// either; the cookie wins when both are set.
const (
	ParentSessionCookie  = "meridian_parent_session"
	StudentSessionCookie = "meridian_student_session"
	ParentSessionHeader  = "X-Parent-Session"
	StudentSessionHeader = "X-Student-Session"
)

// Middleware resolves the request identity once per request and scopes
// it, together with the selected institution, into context for guards
// and permission checks downstream.
type Middleware struct {
	Resolver *Resolver
	Logger   *slog.Logger
}

// Resolve is the chi middleware entry point.
func (m Middleware) Resolve(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		creds := credentialsFromRequest(r)
		id, err := m.Resolver.Resolve(r.Context(), creds)
		if err != nil {
			// Only context cancellation reaches here; the client is
			// gone and the result must not be applied.
			if m.Logger != nil {
				m.Logger.Debug("identity resolution abandoned", slog.Any("error", err))
			}
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}

		ctx := ContextWithIdentity(r.Context(), id)
		if sess := shared.SessionFromContext(ctx); sess != nil {
			if inst := sess.Get(shared.SessionInstitutionKey); inst != "" {
				ctx = shared.ContextWithInstitution(ctx, inst)
			}
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func credentialsFromRequest(r *http.Request) Credentials {
	creds := Credentials{
		ParentOTPToken:  tokenFrom(r, ParentSessionCookie, ParentSessionHeader),
		StudentOTPToken: tokenFrom(r, StudentSessionCookie, StudentSessionHeader),
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil && sess.User() != "" {
		creds.PrimarySessionID = sess.ID
	}
	return creds
}

func tokenFrom(r *http.Request, cookieName, headerName string) string {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	return r.Header.Get(headerName)
}

func bearerOrCookie(r *http.Request, cookieName string) string {
	header := ParentSessionHeader
	if cookieName == StudentSessionCookie {
		header = StudentSessionHeader
	}
	return tokenFrom(r, cookieName, header)
}
