package controllers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/faeln1/membersync/internal/app/repositories"
	"github.com/faeln1/membersync/internal/app/services"
	"github.com/stretchr/testify/assert"
)

func TestWebhookStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad mac", services.ErrSignature), http.StatusUnauthorized},
		{services.ErrMalformedPayload, http.StatusBadRequest},
		{services.ErrTenantUnresolved, http.StatusBadRequest},
		{fmt.Errorf("%w: member id", services.ErrMissingIdentity), http.StatusBadRequest},
		{errors.New("database down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, webhookStatus(tc.err), tc.err.Error())
	}
}

func TestDirectoryStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, directoryStatus(services.ErrTenantUnresolved))
	assert.Equal(t, http.StatusBadRequest, directoryStatus(fmt.Errorf("%w: x", services.ErrInvalidStatus)))
	assert.Equal(t, http.StatusNotFound, directoryStatus(repositories.ErrTenantNotFound))
	assert.Equal(t, http.StatusInternalServerError, directoryStatus(errors.New("boom")))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "biz_1", sanitizeFilename("biz_1"))
	assert.Equal(t, "a_b_c", sanitizeFilename("a/b c"))
	assert.Equal(t, "tenant", sanitizeFilename(""))
}

type pingerFunc func() error

func (f pingerFunc) Ping(ctx context.Context) error { return f() }

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthController(nil).Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReady(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthController(pingerFunc(func() error { return nil })).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthController(pingerFunc(func() error { return errors.New("db gone") })).Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"db gone"}`, rec.Body.String())
}
