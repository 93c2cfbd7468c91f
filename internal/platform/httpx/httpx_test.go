package httpx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-billing/internal/shared"
)

func TestRespondErrorMapsDomainErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", fmt.Errorf("bills: %w", shared.ErrNotFound), http.StatusNotFound},
		{"conflict", fmt.Errorf("x: %w", shared.ErrConflict), http.StatusConflict},
		{"idempotency", shared.ErrIdempotencyConflict, http.StatusConflict},
		{"validation", ErrValidation, http.StatusBadRequest},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			RespondError(rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestRespondErrorWritesFieldErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("create: %w", shared.FieldErrors{"taxRate": "Percentage cannot exceed 100%"}))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Percentage cannot exceed 100%", body.Errors["taxRate"])
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	var target struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"a","extra":1}`))
	require.ErrorIs(t, DecodeJSON(req, &target), ErrValidation)
}

func TestIDParam(t *testing.T) {
	r := chi.NewRouter()
	var got int64
	var gotErr error
	r.Get("/bills/{id}", func(w http.ResponseWriter, r *http.Request) {
		got, gotErr = IDParam(r, "id")
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bills/42", nil))
	require.NoError(t, gotErr)
	assert.Equal(t, int64(42), got)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/bills/zero", nil))
	require.ErrorIs(t, gotErr, ErrValidation)
}
