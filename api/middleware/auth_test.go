package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/daniellecour/storefront-backend/pkg/auth"
	"github.com/daniellecour/storefront-backend/pkg/config"
	"github.com/daniellecour/storefront-backend/pkg/enums"
)

type stubSessionChecker struct {
	live map[string]bool
}

func (s *stubSessionChecker) HasSession(_ context.Context, accessID string) (bool, error) {
	return s.live[accessID], nil
}

func authTestConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "middleware-test-secret",
		Issuer:            "storefront-test",
		ExpirationMinutes: 5,
	}
}

func mintToken(t *testing.T, userID uuid.UUID, role enums.Role, jti string) string {
	t.Helper()
	token, err := auth.MintAccessToken(authTestConfig(), time.Now(), auth.AccessTokenPayload{
		UserID: userID,
		Role:   role,
		JTI:    jti,
	})
	if err != nil {
		t.Fatalf("minting token: %v", err)
	}
	return token
}

func identityEcho(t *testing.T, wantUser uuid.UUID, wantRole enums.Role) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := UserIDFromContext(r.Context()); got != wantUser {
			t.Errorf("user id = %s, want %s", got, wantUser)
		}
		if got := RoleFromContext(r.Context()); got != wantRole {
			t.Errorf("role = %s, want %s", got, wantRole)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthAcceptsLiveSession(t *testing.T) {
	t.Parallel()

	userID := uuid.New()
	checker := &stubSessionChecker{live: map[string]bool{"sess-1": true}}
	handler := Auth(authTestConfig(), checker, nil)(identityEcho(t, userID, enums.RoleUser))

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, userID, enums.RoleUser, "sess-1"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestAuthRejectsMissingRevokedAndGarbageTokens(t *testing.T) {
	t.Parallel()

	checker := &stubSessionChecker{live: map[string]bool{}}
	handler := Auth(authTestConfig(), checker, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("handler must not run")
	}))

	cases := map[string]string{
		"missing": "",
		"garbage": "Bearer not.a.jwt",
		"revoked": "Bearer " + mintToken(t, uuid.New(), enums.RoleUser, "sess-revoked"),
	}
	for name, header := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status = %d, want 401", name, rec.Code)
		}
	}
}

func TestRequireRoleBlocksNonAdmins(t *testing.T) {
	t.Parallel()

	handler := RequireRole(enums.RoleAdmin, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/dashboard", nil)
	req = req.WithContext(WithIdentity(req.Context(), uuid.New(), enums.RoleUser))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("shopper hitting admin surface: status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/dashboard", nil)
	req = req.WithContext(WithIdentity(req.Context(), uuid.New(), enums.RoleAdmin))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("admin blocked: status = %d, want 204", rec.Code)
	}
}
