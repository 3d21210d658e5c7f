package handlers_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/mwalcott3/vigil/internal/handlers"
	"github.com/mwalcott3/vigil/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestUnlockAccount_Success(t *testing.T) {
	var gotAdmin, gotIdentity string
	mock := &handlers.MockAdminOps{
		UnlockAccountFunc: func(ctx context.Context, adminID, identity, ip string) error {
			gotAdmin = adminID
			gotIdentity = identity
			return nil
		},
	}

	handler := handlers.NewAdminHandler(mock, nil)
	req := handlers.NewTestRequest(t, "POST", "/admin/unlock", handlers.UnlockRequest{
		Identity: "locked@example.com",
	})
	req = handlers.WithAuthContext(req, "admin123", "admin@example.com", "admin")

	w := httptest.NewRecorder()
	handler.UnlockAccount(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "admin123", gotAdmin)
	assert.Equal(t, "locked@example.com", gotIdentity)
}

func TestUnlockAccount_InvalidIdentity(t *testing.T) {
	called := false
	mock := &handlers.MockAdminOps{
		UnlockAccountFunc: func(ctx context.Context, adminID, identity, ip string) error {
			called = true
			return nil
		},
	}

	handler := handlers.NewAdminHandler(mock, nil)
	req := handlers.NewTestRequest(t, "POST", "/admin/unlock", handlers.UnlockRequest{
		Identity: "not-an-email",
	})
	req = handlers.WithAuthContext(req, "admin123", "admin@example.com", "admin")

	w := httptest.NewRecorder()
	handler.UnlockAccount(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
	assert.False(t, called)
}

func TestUnlockAccount_ServiceFailure(t *testing.T) {
	mock := &handlers.MockAdminOps{
		UnlockAccountFunc: func(ctx context.Context, adminID, identity, ip string) error {
			return errors.New("store down")
		},
	}

	handler := handlers.NewAdminHandler(mock, nil)
	req := handlers.NewTestRequest(t, "POST", "/admin/unlock", handlers.UnlockRequest{
		Identity: "locked@example.com",
	})
	req = handlers.WithAuthContext(req, "admin123", "admin@example.com", "admin")

	w := httptest.NewRecorder()
	handler.UnlockAccount(w, req)

	handlers.AssertErrorResponse(t, w, 500, "internal_error")
}

func TestUnlockIP_Success(t *testing.T) {
	var gotTarget string
	mock := &handlers.MockAdminOps{
		UnlockIPFunc: func(ctx context.Context, adminID, targetIP, ip string) error {
			gotTarget = targetIP
			return nil
		},
	}

	handler := handlers.NewAdminHandler(mock, nil)
	req := handlers.NewTestRequest(t, "POST", "/admin/unlock-ip", handlers.UnlockIPRequest{
		IPAddress: "203.0.113.99",
	})
	req = handlers.WithAuthContext(req, "admin123", "admin@example.com", "admin")

	w := httptest.NewRecorder()
	handler.UnlockIP(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "203.0.113.99", gotTarget)
}

func TestUnlockIP_RejectsGarbageAddress(t *testing.T) {
	handler := handlers.NewAdminHandler(&handlers.MockAdminOps{}, nil)
	req := handlers.NewTestRequest(t, "POST", "/admin/unlock-ip", handlers.UnlockIPRequest{
		IPAddress: "not.an.ip.address",
	})
	req = handlers.WithAuthContext(req, "admin123", "admin@example.com", "admin")

	w := httptest.NewRecorder()
	handler.UnlockIP(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestBulkUnlock_ReturnsCount(t *testing.T) {
	mock := &handlers.MockAdminOps{
		BulkUnlockFunc: func(ctx context.Context, adminID string, identities []string, ip string) (int, error) {
			return len(identities), nil
		},
	}

	handler := handlers.NewAdminHandler(mock, nil)
	req := handlers.NewTestRequest(t, "POST", "/admin/bulk-unlock", handlers.BulkUnlockRequest{
		Identities: []string{"a@example.com", "b@example.com", "c@example.com"},
	})
	req = handlers.WithAuthContext(req, "admin123", "admin@example.com", "admin")

	w := httptest.NewRecorder()
	handler.BulkUnlock(w, req)

	var resp map[string]int
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, 3, resp["unlocked"])
}

func TestBulkUnlock_PartialFailureStillReports(t *testing.T) {
	mock := &handlers.MockAdminOps{
		BulkUnlockFunc: func(ctx context.Context, adminID string, identities []string, ip string) (int, error) {
			return 2, errors.New("one identity failed")
		},
	}

	handler := handlers.NewAdminHandler(mock, nil)
	req := handlers.NewTestRequest(t, "POST", "/admin/bulk-unlock", handlers.BulkUnlockRequest{
		Identities: []string{"a@example.com", "b@example.com", "c@example.com"},
	})
	req = handlers.WithAuthContext(req, "admin123", "admin@example.com", "admin")

	w := httptest.NewRecorder()
	handler.BulkUnlock(w, req)

	// A batch that unlocked anything at all reports the partial count
	var resp map[string]int
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, 2, resp["unlocked"])
}

func TestBulkUnlock_EmptyBatchRejected(t *testing.T) {
	handler := handlers.NewAdminHandler(&handlers.MockAdminOps{}, nil)
	req := handlers.NewTestRequest(t, "POST", "/admin/bulk-unlock", handlers.BulkUnlockRequest{
		Identities: []string{},
	})
	req = handlers.WithAuthContext(req, "admin123", "admin@example.com", "admin")

	w := httptest.NewRecorder()
	handler.BulkUnlock(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestEmergencyUnlock_Success(t *testing.T) {
	mock := &handlers.MockAdminOps{
		EmergencyUnlockAllFunc: func(ctx context.Context, adminID, code, ip string) (int64, error) {
			assert.Equal(t, "CONFIRM-UNLOCK-ALL", code)
			return 42, nil
		},
	}

	handler := handlers.NewAdminHandler(mock, nil)
	req := handlers.NewTestRequest(t, "POST", "/admin/emergency-unlock", handlers.EmergencyUnlockRequest{
		ConfirmationCode: "CONFIRM-UNLOCK-ALL",
	})
	req = handlers.WithAuthContext(req, "admin123", "admin@example.com", "admin")

	w := httptest.NewRecorder()
	handler.EmergencyUnlock(w, req)

	var resp map[string]int64
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, int64(42), resp["unlocked"])
}

func TestEmergencyUnlock_WrongCode(t *testing.T) {
	mock := &handlers.MockAdminOps{
		EmergencyUnlockAllFunc: func(ctx context.Context, adminID, code, ip string) (int64, error) {
			return 0, models.ErrForbidden
		},
	}

	handler := handlers.NewAdminHandler(mock, nil)
	req := handlers.NewTestRequest(t, "POST", "/admin/emergency-unlock", handlers.EmergencyUnlockRequest{
		ConfirmationCode: "wrong",
	})
	req = handlers.WithAuthContext(req, "admin123", "admin@example.com", "admin")

	w := httptest.NewRecorder()
	handler.EmergencyUnlock(w, req)

	handlers.AssertErrorResponse(t, w, 403, "forbidden")
}

func TestMaintenance_Toggle(t *testing.T) {
	mock := &handlers.MockAdminOps{}
	handler := handlers.NewAdminHandler(mock, nil)

	req := handlers.NewTestRequest(t, "POST", "/admin/maintenance", handlers.MaintenanceRequest{Enabled: true})
	req = handlers.WithAuthContext(req, "admin123", "admin@example.com", "admin")

	w := httptest.NewRecorder()
	handler.Maintenance(w, req)

	var resp map[string]bool
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp["maintenance"])

	req = handlers.NewTestRequest(t, "POST", "/admin/maintenance", handlers.MaintenanceRequest{Enabled: false})
	req = handlers.WithAuthContext(req, "admin123", "admin@example.com", "admin")

	w = httptest.NewRecorder()
	handler.Maintenance(w, req)

	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.False(t, resp["maintenance"])
}
