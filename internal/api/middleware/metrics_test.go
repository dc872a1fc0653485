package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health/live", "/health/live"},
		{"/api/v1/articles", "/api/v1/articles"},
		{"/api/v1/articles/0b7c5a1e-3f7d-4c4e-9a57-6d2a1c6e8f10", "/api/v1/articles/{id}"},
		{"/api/v1/articles/0b7c5a1e-3f7d-4c4e-9a57-6d2a1c6e8f10/submit", "/api/v1/articles/{id}/submit"},
		{"/api/v1/users/0b7c5a1e-3f7d-4c4e-9a57-6d2a1c6e8f10/roles/editor", "/api/v1/users/{id}/roles/{role}"},
		{"/api/v1/users/0b7c5a1e-3f7d-4c4e-9a57-6d2a1c6e8f10/roles", "/api/v1/users/{id}/roles"},
		{"/api/v1/notifications/unread-count", "/api/v1/notifications/unread-count"},
		{"/api/v1/settings", "/api/v1/settings"},
		{"/api/v1/settings/keys", "/api/v1/settings/keys"},
		{"/api/v1/settings/site.contact_email", "/api/v1/settings/{key}"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, хотели %q", tt.path, got, tt.want)
		}
	}
}

func TestMetricsMiddleware_PassesStatus(t *testing.T) {
	handler := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/articles", nil))
	if rec.Code != http.StatusCreated {
		t.Errorf("код = %d, хотели 201", rec.Code)
	}
}
