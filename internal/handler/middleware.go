package handler

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"security-service/internal/token"
	"security-service/internal/util"
)

type contextKey string

const subjectContextKey contextKey = "auth.subject"

// AuthMiddleware guards protected routes with the token validator. Any
// status other than VALID answers 401; the distinct statuses stay in
// the logs only.
func AuthMiddleware(tokens *token.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			status := tokens.Validate(tokenString)
			if status != token.StatusValid {
				util.Debug("Request rejected by auth middleware",
					util.String("path", r.URL.Path),
					util.String("token_status", string(status)),
				)
				respondWithError(w, http.StatusUnauthorized,
					errors.New("unauthorized"), "Authentication required")
				return
			}

			subject, err := tokens.Subject(tokenString)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized,
					errors.New("unauthorized"), "Authentication required")
				return
			}

			ctx := context.WithValue(r.Context(), subjectContextKey, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext returns the authenticated user id set by
// AuthMiddleware.
func SubjectFromContext(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectContextKey).(string)
	return subject, ok
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

// clientIP returns the request origin address without the port. RealIP
// middleware has already folded X-Forwarded-For into RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
