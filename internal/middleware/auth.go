package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/mir00r/failover-controller/internal/config"
	"github.com/mir00r/failover-controller/pkg/logger"
)

// AuthMiddleware validates HMAC-signed bearer tokens on the status API. The
// API is read-only, so a single shared-secret token check is the whole
// policy; there are no per-path rules or user roles.
type AuthMiddleware struct {
	config config.AuthConfig
	logger *logger.Logger
}

// NewAuthMiddleware creates a bearer token auth middleware
func NewAuthMiddleware(cfg config.AuthConfig, log *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		config: cfg,
		logger: log.MiddlewareLogger("auth"),
	}
}

// Middleware validates the Authorization header on every request
func (a *AuthMiddleware) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extractBearerToken(r)
			if err != nil {
				a.reject(w, r, err)
				return
			}

			if err := a.validateToken(token); err != nil {
				a.reject(w, r, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// validateToken parses and verifies an HMAC-signed token
func (a *AuthMiddleware) validateToken(tokenString string) error {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.config.SecretKey), nil
	})
	if err != nil {
		return fmt.Errorf("token validation failed: %w", err)
	}

	if !token.Valid {
		return fmt.Errorf("token is not valid")
	}

	return nil
}

// reject logs and writes an unauthorized response
func (a *AuthMiddleware) reject(w http.ResponseWriter, r *http.Request, err error) {
	a.logger.WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"error":  err.Error(),
	}).Warn("Request rejected by auth middleware")

	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}

// extractBearerToken pulls the token out of the Authorization header
func extractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("Authorization header is not a bearer token")
	}

	return parts[1], nil
}
