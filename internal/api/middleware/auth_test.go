package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func engine(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthRequired(secret, nil), Tenant())
	r.GET("/whoami", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"tenant": c.GetString("tenant_id"), "roles": c.GetStringSlice("roles")})
	})
	r.GET("/admin", RequireRole("admin"), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func sign(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func get(r *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired_TenantResolution(t *testing.T) {
	r := engine("s3cret")

	cases := []struct {
		name   string
		claims Claims
		want   string
	}{
		{"tenant claim", Claims{TenantID: "t1", Organization: "org", RegisteredClaims: jwt.RegisteredClaims{Subject: "sub"}}, "t1"},
		{"organization", Claims{Organization: "org", RegisteredClaims: jwt.RegisteredClaims{Subject: "sub"}}, "org"},
		{"subject", Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "sub"}}, "sub"},
	}
	for _, tc := range cases {
		rec := get(r, "/whoami", sign(t, "s3cret", tc.claims))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: %d", tc.name, rec.Code)
		}
		if want := `"tenant":"` + tc.want + `"`; !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("%s: body=%s", tc.name, rec.Body.String())
		}
	}

	if rec := get(r, "/whoami", sign(t, "s3cret", Claims{})); rec.Code != http.StatusForbidden {
		t.Fatalf("no tenant: %d", rec.Code)
	}
}

func TestAuthRequired_EmptySecretRejectsHMAC(t *testing.T) {
	r := engine("")
	if rec := get(r, "/whoami", sign(t, "", Claims{TenantID: "t1"})); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	r := engine("s3cret")

	user := sign(t, "s3cret", Claims{TenantID: "t1", Role: "user"})
	if rec := get(r, "/admin", user); rec.Code != http.StatusForbidden {
		t.Fatalf("user: %d", rec.Code)
	}

	admin := Claims{TenantID: "t1"}
	admin.RealmAccess.Roles = []string{"offline_access", "admin"}
	if rec := get(r, "/admin", sign(t, "s3cret", admin)); rec.Code != http.StatusNoContent {
		t.Fatalf("realm admin: %d", rec.Code)
	}
}
