package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequireScope(t *testing.T) {
	t.Parallel()

	run := func(scopes interface{}, required string) (int, bool) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		if scopes != nil {
			c.Set("scopes", scopes)
		}
		RequireScope(required)(c)
		return w.Code, !c.IsAborted()
	}

	tests := []struct {
		name       string
		scopes     interface{}
		required   string
		wantStatus int
		wantCalled bool
	}{
		{"admin bypasses required scope", []string{ScopeAdmin}, ScopeAccountsWrite, http.StatusOK, true},
		{"matching scope allowed", []string{ScopePostsRead}, ScopePostsRead, http.StatusOK, true},
		{"missing scope forbidden", []string{ScopePostsRead}, ScopePostsWrite, http.StatusForbidden, false},
		{"no scopes in context", nil, ScopePostsRead, http.StatusForbidden, false},
		{"wrong scopes type", "posts:read", ScopePostsRead, http.StatusForbidden, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			status, called := run(tc.scopes, tc.required)
			if status != tc.wantStatus {
				t.Fatalf("status = %d, want %d", status, tc.wantStatus)
			}
			if called != tc.wantCalled {
				t.Fatalf("called = %v, want %v", called, tc.wantCalled)
			}
		})
	}
}
