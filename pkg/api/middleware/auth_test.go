package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/necyber/elephie/pkg/api/response"
	"github.com/necyber/elephie/pkg/logger"
)

const testSecret = "shared_key"

func TestJWTAuth(t *testing.T) {
	now := time.Now()
	valid, err := IssueToken(testSecret, "alice", time.Hour, now)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "alice", time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	wrongKey, err := IssueToken("other", "alice", 0, now)
	require.NoError(t, err)
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "alice"}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"username": "alice"}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantUser string
	}{
		{"valid token", "Bearer " + valid, http.StatusOK, "alice"},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, "alice"},
		{"missing header", "", http.StatusForbidden, ""},
		{"no scheme", valid, http.StatusForbidden, ""},
		{"expired", "Bearer " + expired, http.StatusForbidden, ""},
		{"wrong key", "Bearer " + wrongKey, http.StatusForbidden, ""},
		{"no username claim", "Bearer " + noUser, http.StatusForbidden, ""},
		{"unexpected algorithm", "Bearer " + hs512, http.StatusForbidden, ""},
		{"garbage", "Bearer not.a.token", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			handler := JWTAuth(testSecret, logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser = Username(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.wantUser, gotUser)
			if tt.wantCode == http.StatusForbidden {
				var resp response.ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, AuthFailureMessage, resp.Error.Message)
				assert.Equal(t, response.ErrCodeForbidden, resp.Error.Code)
			}
		})
	}
}

func TestIssueToken(t *testing.T) {
	now := time.Unix(1700000000, 0)

	token, err := IssueToken(testSecret, "bob", 0, now)
	require.NoError(t, err)
	user, err := ParseToken(token, []byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, "bob", user)

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	require.NoError(t, err)
	_, hasExp := parsed.Claims.(jwt.MapClaims)["exp"]
	assert.False(t, hasExp, "zero ttl mints tokens without expiry")

	_, err = IssueToken("", "bob", 0, now)
	assert.Error(t, err)
	_, err = IssueToken(testSecret, "", 0, now)
	assert.ErrorIs(t, err, ErrMissingUsername)
}
