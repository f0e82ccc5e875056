package httputil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSONOrError(t *testing.T) {
	type assignRequest struct {
		RoleID int64 `json:"role_id"`
	}

	tests := []struct {
		name   string
		body   string
		wantOK bool
	}{
		{"valid", `{"role_id": 3}`, true},
		{"malformed", `{"role_id":`, false},
		{"unknown field", `{"role_id": 3, "admin": true}`, false},
		{"wrong type", `{"role_id": "three"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			w := httptest.NewRecorder()

			var req assignRequest
			ok := ParseJSONOrError(w, r, &req)

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, int64(3), req.RoleID)
			} else {
				assert.Equal(t, http.StatusBadRequest, w.Code)
				assert.Contains(t, w.Body.String(), "invalid JSON")
			}
		})
	}
}

func TestPathParams(t *testing.T) {
	r := mux.SetURLVars(httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{
		"id":      "42",
		"user":    "rep-1",
		"garbage": "4x2",
	})

	id, err := ParsePathInt64(r, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	_, err = ParsePathInt64(r, "garbage")
	assert.EqualError(t, err, "invalid integer for garbage: 4x2")

	_, err = ParsePathInt64(r, "missing")
	assert.EqualError(t, err, "missing path parameter: missing")

	user, err := ParsePathString(r, "user")
	require.NoError(t, err)
	assert.Equal(t, "rep-1", user)

	w := httptest.NewRecorder()
	_, ok := ParsePathStringOrError(w, r, "missing")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	_, ok = ParsePathInt64OrError(w, r, "garbage")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestParseQueryInt(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		want    int
		wantErr bool
	}{
		{"default", "", 50, false},
		{"value", "?limit=10", 10, false},
		{"not a number", "?limit=ten", 0, true},
		{"below min", "?limit=0", 0, true},
		{"above max", "?limit=1001", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/events"+tt.query, nil)
			got, err := ParseQueryInt(r, "limit", 50, 1, 1000)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQueryStringAndTime(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/events?risk=HIGH&since=2026-03-01T10:00:00Z&until=yesterday", nil)

	assert.Equal(t, "HIGH", ParseQueryString(r, "risk", "LOW"))
	assert.Equal(t, "any", ParseQueryString(r, "type", "any"))

	since, err := ParseQueryTime(r, "since")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), since)

	_, err = ParseQueryTime(r, "until")
	assert.Error(t, err)

	zero, err := ParseQueryTime(r, "missing")
	require.NoError(t, err)
	assert.True(t, zero.IsZero())
}

func TestRequireHelpers(t *testing.T) {
	w := httptest.NewRecorder()
	assert.True(t, RequireNonEmpty(w, "Auditor", "name"))
	assert.True(t, RequirePositive(w, 1, "role_id"))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	assert.False(t, RequireNonEmpty(w, "", "name"))
	assert.Contains(t, w.Body.String(), "name is required")

	w = httptest.NewRecorder()
	assert.False(t, RequirePositive(w, -3, "role_id"))
	assert.Contains(t, w.Body.String(), "role_id must be positive")
}

func TestValidateAll_StopsAtFirstFailure(t *testing.T) {
	calls := 0
	w := httptest.NewRecorder()

	ok := ValidateAll(w,
		func() (bool, string) { calls++; return true, "" },
		func() (bool, string) { calls++; return false, "action is required" },
		func() (bool, string) { calls++; return false, "never reported" },
	)

	assert.False(t, ok)
	assert.Equal(t, 2, calls)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "action is required")
	assert.NotContains(t, w.Body.String(), "never reported")
}
