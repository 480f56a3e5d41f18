package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"calld/internal/auth"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, user, tenant, role string, chain ...gin.HandlerFunc) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	handlers := []gin.HandlerFunc{func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), user, tenant, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}}
	handlers = append(handlers, chain...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })

	r := gin.New()
	r.GET("/x", handlers...)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	if code := serve(t, "u", "t", RoleSuperAdmin, RequireTenant(), RequireAnyRole(RoleAdmin)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_UserDeniedAdminRoutes(t *testing.T) {
	if code := serve(t, "u", "t", RoleUser, RequireTenant(), RequireAnyRole(RoleAdmin)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireTenant(t *testing.T) {
	if code := serve(t, "u", "", RoleAdmin, RequireTenant(), RequireAnyRole(RoleAdmin)); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestRequireUser(t *testing.T) {
	if code := serve(t, "", "t", RoleAdmin, RequireTenant(), RequireUser()); code != http.StatusForbidden {
		t.Fatalf("expected 403 for a service token, got %d", code)
	}
	if code := serve(t, "alice", "t", RoleUser, RequireTenant(), RequireUser()); code != http.StatusOK {
		t.Fatalf("expected 200 for a user token, got %d", code)
	}
}
