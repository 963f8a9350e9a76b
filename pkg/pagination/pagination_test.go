package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func contextFor(query string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	return e.NewContext(req, httptest.NewRecorder())
}

func TestFromContext(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"limit=10&offset=20", 10, 20},
		{"limit=0", DefaultLimit, 0},
		{"limit=-5&offset=-1", DefaultLimit, 0},
		{"limit=1000", MaxLimit, 0},
		{"limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			p := FromContext(contextFor(tt.query))
			if p.Limit != tt.wantLimit {
				t.Errorf("expected limit %d, got %d", tt.wantLimit, p.Limit)
			}
			if p.Offset != tt.wantOffset {
				t.Errorf("expected offset %d, got %d", tt.wantOffset, p.Offset)
			}
		})
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}

	if got := Page(items, Params{Limit: 2, Offset: 1}); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("expected [2 3], got %v", got)
	}
	if got := Page(items, Params{Limit: 10, Offset: 3}); len(got) != 2 || got[1] != 5 {
		t.Errorf("expected [4 5], got %v", got)
	}
	if got := Page(items, Params{Limit: 2, Offset: 5}); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil page, got %#v", got)
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	if r := NewResponse(nil, 100, Params{Limit: 20, Offset: 0}); !r.HasMore {
		t.Error("expected has_more=true for offset 0 of 100")
	}
	if r := NewResponse(nil, 100, Params{Limit: 20, Offset: 80}); r.HasMore {
		t.Error("expected has_more=false on the last page")
	}
	if r := NewResponse(nil, 0, Params{Limit: 20, Offset: 0}); r.HasMore {
		t.Error("expected has_more=false for empty list")
	}
}
