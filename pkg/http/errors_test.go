package http_test

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	pkghttp "github.com/mwalcott3/vigil/pkg/http"
	"github.com/stretchr/testify/assert"
)

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteError(w, 400, "test_error", "Test message")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.Equal(t, "test_error", resp.Error)
	assert.Equal(t, "Test message", resp.Message)
	assert.Empty(t, resp.Details)
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteErrorWithDetails(w, 400, "test_error", "Test message", "Additional details")

	assert.Equal(t, 400, w.Code)

	var resp pkghttp.ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, "test_error", resp.Error)
	assert.Equal(t, "Test message", resp.Message)
	assert.Equal(t, "Additional details", resp.Details)
}

func TestCommonErrorWriters(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w *httptest.ResponseRecorder)
		wantStatus int
		wantError  string
	}{
		{
			name:       "bad request",
			write:      func(w *httptest.ResponseRecorder) { pkghttp.WriteBadRequest(w, "msg") },
			wantStatus: 400,
			wantError:  "bad_request",
		},
		{
			name:       "unauthorized",
			write:      func(w *httptest.ResponseRecorder) { pkghttp.WriteUnauthorized(w, "msg") },
			wantStatus: 401,
			wantError:  "unauthorized",
		},
		{
			name:       "forbidden",
			write:      func(w *httptest.ResponseRecorder) { pkghttp.WriteForbidden(w, "msg") },
			wantStatus: 403,
			wantError:  "forbidden",
		},
		{
			name:       "not found",
			write:      func(w *httptest.ResponseRecorder) { pkghttp.WriteNotFound(w, "msg") },
			wantStatus: 404,
			wantError:  "not_found",
		},
		{
			name:       "conflict",
			write:      func(w *httptest.ResponseRecorder) { pkghttp.WriteConflict(w, "msg") },
			wantStatus: 409,
			wantError:  "conflict",
		},
		{
			name:       "too many requests",
			write:      func(w *httptest.ResponseRecorder) { pkghttp.WriteTooManyRequests(w, "msg") },
			wantStatus: 429,
			wantError:  "rate_limit_exceeded",
		},
		{
			name:       "internal error",
			write:      func(w *httptest.ResponseRecorder) { pkghttp.WriteInternalError(w, "msg") },
			wantStatus: 500,
			wantError:  "internal_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp pkghttp.ErrorResponse
			json.Unmarshal(w.Body.Bytes(), &resp)
			assert.Equal(t, tt.wantError, resp.Error)
			assert.Equal(t, "msg", resp.Message)
		})
	}
}

func TestWriteTooManyRequestsAfter(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteTooManyRequestsAfter(w, "Too many attempts", 90*time.Second)

	assert.Equal(t, 429, w.Code)
	assert.Equal(t, "90", w.Header().Get("Retry-After"))

	var resp pkghttp.ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, "rate_limit_exceeded", resp.Error)
}

func TestWriteTooManyRequestsAfter_FloorsAtOneSecond(t *testing.T) {
	w := httptest.NewRecorder()

	// Sub-second remainders still produce a usable Retry-After
	pkghttp.WriteTooManyRequestsAfter(w, "Too many attempts", 200*time.Millisecond)

	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestWriteLocked(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteLocked(w, "Account temporarily locked", 30*time.Minute)

	assert.Equal(t, 403, w.Code)
	assert.Equal(t, "1800", w.Header().Get("Retry-After"))

	var resp pkghttp.ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, "account_locked", resp.Error)
	assert.Equal(t, "Account temporarily locked", resp.Message)
}
