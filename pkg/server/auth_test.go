package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/solarautopilot/solarautopilot/pkg/types"
)

func TestUpdateAuthMiddleware(t *testing.T) {
	key := newOIDCTestKey(t)
	otherKey := newOIDCTestKey(t)

	srv := newTestServer(&mockStorage{}, &mockESS{}, &mockPrices{})
	srv.bypassAuth = false
	srv.verifier = key.verifier()
	srv.updateEmail = "scheduler@example.com"

	var reached bool
	handler := srv.updateAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(authHeader string) *httptest.ResponseRecorder {
		reached = false
		req := httptest.NewRequest(http.MethodPost, "/api/update", nil)
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	t.Run("Valid", func(t *testing.T) {
		w := serve("Bearer " + key.token(t, "scheduler@example.com", time.Now().Add(time.Hour)))
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, reached)
	})

	t.Run("MissingHeader", func(t *testing.T) {
		w := serve("")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, reached)

		var resp map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, "missing authorization header", resp["error"])
	})

	t.Run("NotBearer", func(t *testing.T) {
		w := serve("Basic dXNlcjpwYXNz")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.False(t, reached)
	})

	t.Run("WrongEmail", func(t *testing.T) {
		w := serve("Bearer " + key.token(t, "someone@example.com", time.Now().Add(time.Hour)))
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.False(t, reached)
	})

	t.Run("Expired", func(t *testing.T) {
		w := serve("Bearer " + key.token(t, "scheduler@example.com", time.Now().Add(-time.Hour)))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, reached)
	})

	t.Run("WrongKey", func(t *testing.T) {
		w := serve("Bearer " + otherKey.token(t, "scheduler@example.com", time.Now().Add(time.Hour)))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, reached)
	})

	t.Run("Garbage", func(t *testing.T) {
		w := serve("Bearer not-a-token")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.False(t, reached)
	})
}

func TestUpdateRequiresAuth(t *testing.T) {
	key := newOIDCTestKey(t)
	db, sys, prices := cycleMocks(testSettings, types.CurrentSettingsVersion)
	srv := initializedServer(t, db, sys, prices)
	srv.bypassAuth = false
	srv.verifier = key.verifier()
	srv.updateEmail = "scheduler@example.com"
	handler := srv.setupHandler()

	t.Run("Update", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/update", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		db.AssertNotCalled(t, "GetSettings", mock.Anything)
	})

	t.Run("Settings", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, settingsRequest(t, testSettings))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("ReadsAreOpen", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
