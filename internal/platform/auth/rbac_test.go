package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHasRole(t *testing.T) {
	tests := []struct {
		have []string
		want []string
		ok   bool
	}{
		{[]string{"receptionist"}, []string{"receptionist"}, true},
		{[]string{"receptionist"}, []string{"admin"}, false},
		{[]string{"admin"}, []string{"receptionist"}, true},
		{nil, []string{"receptionist"}, false},
		{[]string{"doctor", "receptionist"}, []string{"nurse", "receptionist"}, true},
	}
	for _, tt := range tests {
		if got := HasRole(tt.have, tt.want...); got != tt.ok {
			t.Errorf("HasRole(%v, %v) = %v, want %v", tt.have, tt.want, got, tt.ok)
		}
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		code  int
	}{
		{"allowed", []string{"receptionist"}, http.StatusOK},
		{"admin bypass", []string{"admin"}, http.StatusOK},
		{"forbidden", []string{"doctor"}, http.StatusForbidden},
		{"no roles", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req = req.WithContext(WithUser(context.Background(), "u1", tt.roles))
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := RequireRole("receptionist")(ok)(c)
			if tt.code == http.StatusOK {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				if rec.Code != http.StatusOK {
					t.Errorf("expected 200, got %d", rec.Code)
				}
				return
			}
			expectStatus(t, err, tt.code)
		})
	}
}
