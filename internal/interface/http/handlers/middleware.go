// Package handlers holds the HTTP building blocks shared by the API server:
// the response envelope, authentication and actor middleware, request
// logging and the composite health checker.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/lingotutor/gamification-engine/internal/domain/shared"
	"github.com/lingotutor/gamification-engine/pkg/logger"
)

// Header names.
const (
	HeaderAPIKey = "X-API-Key"
	HeaderUserID = "X-User-ID"
)

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// APIKeyAuth accepts requests whose key matches one of the bcrypt hashes.
type APIKeyAuth struct {
	hashes [][]byte
}

// NewAPIKeyAuth creates a new API key authenticator. With no hashes every
// request is accepted.
func NewAPIKeyAuth(hashes []string) *APIKeyAuth {
	a := &APIKeyAuth{}
	for _, h := range hashes {
		if h = strings.TrimSpace(h); h != "" {
			a.hashes = append(a.hashes, []byte(h))
		}
	}
	return a
}

// Enabled reports whether keys are checked at all.
func (a *APIKeyAuth) Enabled() bool { return len(a.hashes) > 0 }

// IsValid checks if an API key is valid.
func (a *APIKeyAuth) IsValid(key string) bool {
	for _, h := range a.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			return true
		}
	}
	return false
}

// Middleware rejects requests without a valid X-API-Key (or Bearer token).
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(HeaderAPIKey)
		if key == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				key = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if key == "" {
			WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "API key is required")
			return
		}
		if !a.IsValid(key) {
			WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "Invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ACTOR MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

type actorKey struct{}

// RequireActor resolves X-User-ID through users and stores the acting user
// in the request context.
func RequireActor(users shared.UserDirectory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(HeaderUserID))
			if id == "" {
				WriteError(w, http.StatusUnauthorized, CodeUnauthorized, HeaderUserID+" header is required")
				return
			}
			u, err := users.GetUser(r.Context(), id)
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "unknown user")
					return
				}
				WriteDomainError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), actorKey{}, *u)
			ctx = logger.WithContext(ctx, logger.FromContext(ctx).With(logger.UserID(u.ID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Actor returns the acting user stored by RequireActor.
func Actor(ctx context.Context) (shared.User, bool) {
	u, ok := ctx.Value(actorKey{}).(shared.User)
	return u, ok
}

// RequireAdmin rejects actors without the admin role. Must run after
// RequireActor.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u, ok := Actor(r.Context()); !ok || !u.IsAdmin() {
			WriteError(w, http.StatusForbidden, CodeForbidden, "administrator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// FEATURE GATE
// ══════════════════════════════════════════════════════════════════════════════

// FlagChecker answers per-user feature flag lookups.
type FlagChecker interface {
	IsEnabledFor(name, userID string) bool
}

// RequireFeature answers 404 when the flag is off for the acting user.
func RequireFeature(flags FlagChecker, name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, _ := Actor(r.Context())
			if flags != nil && !flags.IsEnabledFor(name, u.ID) {
				WriteError(w, http.StatusNotFound, CodeFeatureOff, "feature "+name+" is disabled")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// RequestLogger logs one line per request and puts a request-scoped logger
// into the context.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	log = logger.OrDefault(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLog := log.With(slog.String("request_id", middleware.GetReqID(r.Context())))
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), reqLog)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			reqLog.Log(r.Context(), level, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				logger.Latency(start),
				slog.String("ip", r.RemoteAddr),
			)
		})
	}
}
