package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/mindcare/backend/pkg/utils"
)

type ctxKey int

const userIDKey ctxKey = iota

// UserIDHeader carries the caller identity when no JWT secret is configured.
const UserIDHeader = "X-User-ID"

// UserID returns the identity attached by Identity, or "" for anonymous callers.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// WithUserID attaches id to ctx.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// Identity resolves the caller. With a secret, a Bearer token must be a valid HS256 JWT
// and its subject becomes the user id; without one, the X-User-ID header is taken as is.
// Requests with no credentials stay anonymous.
func Identity(secret string, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.With("component", "identity")
	key := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID string

			if secret == "" {
				userID = strings.TrimSpace(r.Header.Get(UserIDHeader))
			} else if raw := bearerToken(r); raw != "" {
				sub, err := verifySubject(raw, key)
				if err != nil {
					log.Debugw("rejected bearer token", "error", err)
					utils.RespondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
					return
				}
				userID = sub
			}

			if userID != "" {
				r = r.WithContext(WithUserID(r.Context(), userID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	// 浏览器 WebSocket 无法自定义请求头
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func verifySubject(raw string, key []byte) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.Subject == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.Subject, nil
}
