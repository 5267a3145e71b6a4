package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/efreitasn/bourse/internal/domain"
)

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]string{"product_id": "p1"})

	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}
	if w.Code != http.StatusCreated {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusCreated)
	}
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if result["product_id"] != "p1" {
		t.Errorf("product_id = %q", result["product_id"])
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusNotFound, "order_not_found", "no such order")

	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if w.Code != http.StatusNotFound || resp.Error != "order_not_found" || resp.Message != "no such order" {
		t.Errorf("got %d %+v", w.Code, resp)
	}
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{&domain.ValidationError{Message: "quantity must be a positive integer"}, 400, "validation_error"},
		{domain.ErrProductNotFound, 404, "product_not_found"},
		{domain.ErrOrderNotFound, 404, "order_not_found"},
		{domain.ErrWebhookNotFound, 404, "webhook_not_found"},
		{domain.ErrProductAlreadyExists, 409, "product_already_exists"},
		{domain.ErrOutOfStock, 409, "out_of_stock"},
		{fmt.Errorf("%w: observed 10.00, current 11.00", domain.ErrPriceStale), 409, "price_stale"},
		{domain.ErrInvalidTransition, 409, "invalid_transition"},
		{domain.ErrInsufficientStock, 409, "insufficient_stock"},
		{domain.ErrNotOrderOwner, 403, "not_order_owner"},
		{&domain.ConfigError{Field: "base_price", Err: errors.New("must be greater than 0")}, 422, "configuration_error"},
		{fmt.Errorf("%w: %w", domain.ErrUnavailable, &domain.StoreError{Op: "get_product", Err: errors.New("database is locked")}), 503, "unavailable"},
		{errors.New("boom"), 500, "internal_error"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteDomainError(w, tt.err)

			var resp errorResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if resp.Error != tt.code {
				t.Errorf("error = %q, want %q", resp.Error, tt.code)
			}
			if strings.Contains(resp.Message, "database is locked") {
				t.Errorf("store detail leaked: %q", resp.Message)
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	type target struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name        string
		contentType string
		body        string
		wantErr     bool
	}{
		{"valid", "application/json", `{"name":"test"}`, false},
		{"charset", "application/json; charset=utf-8", `{"name":"test"}`, false},
		{"missing content type", "", `{"name":"test"}`, true},
		{"wrong content type", "text/plain", `{"name":"test"}`, true},
		{"malformed", "application/json", `{"name":`, true},
		{"unknown field", "application/json", `{"name":"x","extra":1}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			var v target
			err := ParseJSON(r, &v)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && v.Name != "test" {
				t.Errorf("name = %q", v.Name)
			}
		})
	}
}
