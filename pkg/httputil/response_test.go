package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/posalpro/posalpro/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	err := WriteJSON(w, http.StatusAccepted, map[string]bool{"granted": true})

	assert.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"granted":true}`, w.Body.String())
}

func TestWriteSuccessStatuses(t *testing.T) {
	w := httptest.NewRecorder()
	require.NoError(t, WriteSuccess(w, []string{}))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	require.NoError(t, WriteCreated(w, map[string]int{"id": 1}))
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	WriteNoContent(w)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestErrorWriters(t *testing.T) {
	tests := []struct {
		name   string
		write  func(http.ResponseWriter, string)
		status int
	}{
		{"bad request", WriteBadRequest, http.StatusBadRequest},
		{"unauthorized", WriteUnauthorized, http.StatusUnauthorized},
		{"forbidden", WriteForbidden, http.StatusForbidden},
		{"not found", WriteNotFoundError, http.StatusNotFound},
		{"conflict", WriteConflict, http.StatusConflict},
		{"unavailable", WriteServiceUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w, "role not found")

			assert.Equal(t, tt.status, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, "role not found", resp.Error)
			assert.Empty(t, resp.RequestID)
		})
	}
}

func TestErrorWriters_EchoRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(observability.RequestHeaderID, "req-42")

	WriteForbidden(w, "insufficient permissions")

	assert.Equal(t, "req-42", decodeError(t, w).RequestID)
}

func TestWriteInternalError_HidesDetails(t *testing.T) {
	var logs bytes.Buffer
	logger := observability.NewLogger(observability.DebugLevel, &logs)

	r := httptest.NewRequest(http.MethodGet, "/api/rbac/roles", nil)
	r = r.WithContext(observability.WithLogger(r.Context(), logger))
	w := httptest.NewRecorder()

	WriteInternalError(w, r, errors.New("pq: relation \"roles\" does not exist"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "internal server error", decodeError(t, w).Error)
	assert.NotContains(t, w.Body.String(), "relation")
	assert.Contains(t, logs.String(), "relation")
	assert.Contains(t, logs.String(), "/api/rbac/roles")
}
