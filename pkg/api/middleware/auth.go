package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/necyber/elephie/pkg/api/response"
	"github.com/necyber/elephie/pkg/logger"
)

// AuthFailureMessage is returned for every rejected token.
const AuthFailureMessage = "Could not validate API Key"

// ErrMissingUsername is returned for tokens without a username claim.
var ErrMissingUsername = errors.New("auth: token has no username claim")

// JWTAuth validates "Authorization: Bearer <token>" against an HS256 shared
// secret and stores the username claim in the request context. Any failure
// answers 403.
func JWTAuth(secret string, log logger.Logger) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			username, err := verifyBearer(r.Header.Get("Authorization"), key)
			if err != nil {
				log.Debug("token rejected", "error", err, "path", r.URL.Path)
				response.Error(w, http.StatusForbidden, response.ErrCodeForbidden, AuthFailureMessage, requestIDOrUnknown(r.Context()))
				return
			}
			next.ServeHTTP(w, r.WithContext(withUsername(r.Context(), username)))
		})
	}
}

func verifyBearer(header string, key []byte) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errors.New("auth: missing bearer token")
	}
	return ParseToken(strings.TrimSpace(token), key)
}

// ParseToken verifies a token and returns its username claim.
func ParseToken(token string, key []byte) (string, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("auth: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return "", errors.New("auth: invalid claims")
	}
	username, _ := claims["username"].(string)
	if username == "" {
		return "", ErrMissingUsername
	}
	return username, nil
}

// IssueToken mints an HS256 token for username. A zero ttl mints a token
// without expiry.
func IssueToken(secret, username string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("auth: secret is required")
	}
	if username == "" {
		return "", ErrMissingUsername
	}
	claims := jwt.MapClaims{
		"username": username,
		"iat":      now.Unix(),
	}
	if ttl > 0 {
		claims["exp"] = now.Add(ttl).Unix()
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
