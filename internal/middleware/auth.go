package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shortstat/shortstat/internal/auth"
	"github.com/shortstat/shortstat/internal/cache"
	"github.com/shortstat/shortstat/internal/model"
	"github.com/shortstat/shortstat/internal/repository"
)

// minAuthDuration pads every auth attempt to the same wall time so
// response latency does not leak which check failed.
const minAuthDuration = 200 * time.Millisecond

// AuthConfig holds the auth middleware's collaborators.
type AuthConfig struct {
	Logger     *slog.Logger
	Repository *repository.Repository
	Cache      *cache.Cache
}

// Auth authenticates API requests. The key comes from the
// Authorization or X-API-Key header; verified auth contexts are
// cached in Redis under a quick hash of the full key so the Argon2id
// verification only runs on cache misses.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()
			defer func() {
				if elapsed := time.Since(startTime); elapsed < minAuthDuration {
					time.Sleep(minAuthDuration - elapsed)
				}
			}()

			key := extractAPIKey(r)
			if key == "" {
				denyAuth(cfg.Logger, w, r, "missing_key")
				return
			}

			parsed, err := auth.ParseAPIKey(key)
			if err != nil {
				denyAuth(cfg.Logger, w, r, "invalid_format")
				return
			}

			cacheKey := auth.QuickHash(key)
			if authCtx, _ := cfg.Cache.GetAuthContext(r.Context(), cacheKey); authCtx != nil {
				admitAuth(cfg.Logger, r, authCtx, true)
				next.ServeHTTP(w, r.WithContext(auth.ContextWithAuth(r.Context(), authCtx)))
				return
			}

			candidates, err := cfg.Repository.GetAPIKeysByPrefix(r.Context(), parsed.Prefix)
			if err != nil {
				cfg.Logger.Error("database error during auth",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeAuthError(w)
				return
			}

			matched := verifyAgainst(key, candidates)
			if matched == nil {
				denyAuth(cfg.Logger, w, r, "invalid_key")
				return
			}

			authCtx := &model.AuthContext{
				KeyID:         matched.ID,
				KeyPrefix:     matched.KeyPrefix,
				UserID:        matched.UserID,
				Scopes:        matched.Scopes,
				RateLimitTier: matched.RateLimitTier,
			}
			_ = cfg.Cache.SetAuthContext(r.Context(), cacheKey, authCtx)

			// Off the request path, and off the request context too: the
			// request may finish before the write lands.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = cfg.Repository.UpdateAPIKeyLastUsed(ctx, matched.ID)
			}()

			admitAuth(cfg.Logger, r, authCtx, false)
			next.ServeHTTP(w, r.WithContext(auth.ContextWithAuth(r.Context(), authCtx)))
		})
	}
}

// verifyAgainst checks the presented key against every candidate;
// the prefix is not unique by construction, just unlikely to collide.
func verifyAgainst(key string, candidates []*model.APIKey) *model.APIKey {
	for _, candidate := range candidates {
		match, err := auth.VerifyKey(key, candidate.KeyHash)
		if err != nil {
			continue
		}
		if match {
			return candidate
		}
	}
	return nil
}

func denyAuth(logger *slog.Logger, w http.ResponseWriter, r *http.Request, reason string) {
	logger.Warn("authentication failed",
		slog.String("reason", reason),
		slog.String("ip", r.RemoteAddr),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	)
	writeAuthError(w)
}

func admitAuth(logger *slog.Logger, r *http.Request, authCtx *model.AuthContext, cacheHit bool) {
	logger.Info("authentication successful",
		slog.String("key_id", authCtx.KeyID),
		slog.String("key_prefix", authCtx.KeyPrefix),
		slog.String("user_id", authCtx.UserID),
		slog.String("ip", r.RemoteAddr),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.Bool("cache_hit", cacheHit),
		slog.String("request_id", GetRequestID(r.Context())),
	)
}

// extractAPIKey reads the key from "Authorization: Bearer <key>" or,
// failing that, "X-API-Key: <key>".
func extractAPIKey(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return r.Header.Get("X-API-Key")
}

// writeAuthError answers 401 with one fixed body for every failure
// mode so callers cannot probe which part of the key was wrong.
func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"Invalid or missing API key","code":"UNAUTHORIZED"}`))
}
