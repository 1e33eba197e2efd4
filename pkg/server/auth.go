package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/solarautopilot/solarautopilot/pkg/log"
)

// updateAuthMiddleware only lets through requests carrying a bearer ID token
// issued to the configured update email. Scheduled callers like Cloud
// Scheduler authenticate this way.
func (s *Server) updateAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		if s.bypassAuth {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			log.Ctx(ctx).WarnContext(ctx, "missing authorization header")
			writeJSONError(w, "missing authorization header", http.StatusUnauthorized)
			return
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
			writeJSONError(w, "invalid auth header", http.StatusBadRequest)
			return
		}

		email, subject, err := s.authenticateToken(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "token validation failed", slog.Any("error", err))
			writeJSONError(w, "invalid id token", http.StatusUnauthorized)
			return
		}
		if subtle.ConstantTimeCompare([]byte(email), []byte(s.updateEmail)) != 1 {
			log.Ctx(ctx).WarnContext(ctx, "email mismatch", slog.String("got", email), slog.String("want", s.updateEmail))
			writeJSONError(w, "forbidden", http.StatusForbidden)
			return
		}

		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("authSubject", subject)))
		log.Ctx(ctx).DebugContext(ctx, "authenticated request", slog.String("email", email))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) authenticateToken(ctx context.Context, token string) (string, string, error) {
	if s.verifier == nil {
		return "", "", errors.New("no token verifier configured")
	}
	idToken, err := s.verifier(ctx, token)
	if err != nil {
		return "", "", fmt.Errorf("failed to verify token: %w", err)
	}
	var claims struct {
		Email         string `json:"email"`
		EmailVerified *bool  `json:"email_verified"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", "", fmt.Errorf("failed to parse claims: %w", err)
	}
	if claims.Email == "" {
		return "", "", errors.New("token has no email")
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return "", "", errors.New("token email is not verified")
	}
	return claims.Email, idToken.Subject, nil
}
