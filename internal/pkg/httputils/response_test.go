package httputils

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"tush00nka/bbbab_teamchat/internal/pkg/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorMapsKinds(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{apperr.New(apperr.Unauthenticated, "login"), http.StatusUnauthorized},
		{apperr.New(apperr.Forbidden, "no"), http.StatusForbidden},
		{apperr.NotFoundf("channel not found"), http.StatusNotFound},
		{apperr.Conflictf("dup"), http.StatusConflict},
		{apperr.Invalidf("bad"), http.StatusUnprocessableEntity},
		{apperr.Wrap(errors.New("db"), apperr.Unavailable, "datastore unavailable"), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		rec := httptest.NewRecorder()
		WriteError(rec, tt.err)
		assert.Equal(t, tt.status, rec.Code, tt.err.Error())
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
}

func TestWriteErrorHidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, apperr.Wrap(errors.New("pq: password authentication failed"), apperr.Unavailable, "datastore unavailable"))

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "datastore unavailable", body.Message)
	assert.Equal(t, "unavailable", body.Error)
	assert.NotContains(t, rec.Body.String(), "password")
}
