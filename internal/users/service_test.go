package users

import (
	"context"
	"testing"
	"time"

	"github.com/daniellecour/storefront-backend/pkg/auth"
	"github.com/daniellecour/storefront-backend/pkg/config"
	"github.com/daniellecour/storefront-backend/pkg/db/models"
	"github.com/daniellecour/storefront-backend/pkg/enums"
	pkgerrors "github.com/daniellecour/storefront-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type stubSessions struct {
	registered map[string]uuid.UUID
	revoked    []string
}

func newStubSessions() *stubSessions {
	return &stubSessions{registered: map[string]uuid.UUID{}}
}

func (s *stubSessions) Register(_ context.Context, accessID string, userID uuid.UUID) error {
	s.registered[accessID] = userID
	return nil
}

func (s *stubSessions) Revoke(_ context.Context, accessID string) error {
	s.revoked = append(s.revoked, accessID)
	return nil
}

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "users-service-test-secret",
		Issuer:            "storefront-test",
		ExpirationMinutes: 15,
	}
}

func testPasswordConfig() config.PasswordConfig {
	return config.PasswordConfig{
		ArgonMemoryKB:    1024,
		ArgonTime:        1,
		ArgonParallelism: 1,
		ArgonSaltLen:     16,
		ArgonKeyLen:      32,
	}
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:users_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.User{}); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	return conn
}

func newTestService(t *testing.T) (Service, *gorm.DB, *stubSessions) {
	t.Helper()
	conn := newTestDB(t)
	sessions := newStubSessions()
	svc, err := NewService(NewRepository(conn), sessions, testJWTConfig(), testPasswordConfig())
	if err != nil {
		t.Fatalf("building service: %v", err)
	}
	return svc, conn, sessions
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	dto, err := svc.Register(ctx, RegisterInput{
		Username: "ines",
		Password: "correct horse",
		Email:    "ines@example.com",
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if dto.Role != enums.RoleUser {
		t.Fatalf("new accounts default to the user role, got %q", dto.Role)
	}
	if !dto.IsActive {
		t.Fatal("new accounts start active")
	}

	_, err = svc.Register(ctx, RegisterInput{Username: "ines", Password: "other"})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("duplicate username should conflict, got %v", err)
	}

	_, err = svc.Register(ctx, RegisterInput{Username: "   ", Password: "x"})
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("blank username should fail validation, got %v", err)
	}
}

func TestLoginMintsTokenAndRegistersSession(t *testing.T) {
	t.Parallel()

	svc, conn, sessions := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "ines", Password: "correct horse"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := svc.Login(ctx, "ines", "correct horse")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if result.Token == "" {
		t.Fatal("login returns a token")
	}
	if result.User.LastLoginAt == nil {
		t.Fatal("login stamps last_login_at")
	}

	claims, err := auth.ParseAccessToken(testJWTConfig(), result.Token)
	if err != nil {
		t.Fatalf("parsing minted token: %v", err)
	}
	if claims.UserID != result.User.ID {
		t.Fatalf("token subject %s, want %s", claims.UserID, result.User.ID)
	}
	if _, ok := sessions.registered[claims.ID]; !ok {
		t.Fatalf("session %q was not registered", claims.ID)
	}

	var stored models.User
	if err := conn.First(&stored, "id = ?", result.User.ID).Error; err != nil {
		t.Fatalf("reloading user: %v", err)
	}
	if stored.LastLoginAt == nil || time.Since(*stored.LastLoginAt) > time.Minute {
		t.Fatal("last login was not persisted")
	}
}

func TestLoginRejectsBadCredentialsAndDisabledAccounts(t *testing.T) {
	t.Parallel()

	svc, conn, _ := newTestService(t)
	ctx := context.Background()

	dto, err := svc.Register(ctx, RegisterInput{Username: "ines", Password: "correct horse"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err = svc.Login(ctx, "ines", "wrong password")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("wrong password should be unauthorized, got %v", err)
	}

	_, err = svc.Login(ctx, "nobody", "correct horse")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("unknown user should be unauthorized, got %v", err)
	}

	if err := conn.Model(&models.User{}).Where("id = ?", dto.ID).Update("is_active", false).Error; err != nil {
		t.Fatalf("disabling user: %v", err)
	}
	_, err = svc.Login(ctx, "ines", "correct horse")
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeUnauthorized {
		t.Fatalf("disabled account should be unauthorized, got %v", err)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	t.Parallel()

	svc, _, sessions := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "ines", Password: "pw"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	result, err := svc.Login(ctx, "ines", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	claims, err := auth.ParseAccessToken(testJWTConfig(), result.Token)
	if err != nil {
		t.Fatalf("parsing token: %v", err)
	}

	if err := svc.Logout(ctx, claims.ID); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if len(sessions.revoked) != 1 || sessions.revoked[0] != claims.ID {
		t.Fatalf("expected session %q revoked, got %v", claims.ID, sessions.revoked)
	}

	if err := svc.Logout(ctx, "  "); err == nil {
		t.Fatal("blank access id should be rejected")
	}
}

func TestUpdateProfileKeepsRoleImmutable(t *testing.T) {
	t.Parallel()

	svc, conn, _ := newTestService(t)
	ctx := context.Background()

	dto, err := svc.Register(ctx, RegisterInput{Username: "ines", Password: "original"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	email := "new@example.com"
	first := "Ines"
	newPassword := "rotated"
	updated, err := svc.UpdateProfile(ctx, dto.ID, UpdateProfileInput{
		Email:     &email,
		FirstName: &first,
		Password:  &newPassword,
	})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Email != email || updated.FirstName != first {
		t.Fatalf("unexpected profile after update: %+v", updated)
	}
	if updated.Role != enums.RoleUser {
		t.Fatalf("role changed through profile update: %q", updated.Role)
	}

	if _, err := svc.Login(ctx, "ines", "original"); err == nil {
		t.Fatal("old password should stop working")
	}
	if _, err := svc.Login(ctx, "ines", "rotated"); err != nil {
		t.Fatalf("new password should work: %v", err)
	}

	empty := ""
	if _, err := svc.UpdateProfile(ctx, dto.ID, UpdateProfileInput{Password: &empty}); err == nil {
		t.Fatal("empty password should be rejected")
	}

	var stored models.User
	if err := conn.First(&stored, "id = ?", dto.ID).Error; err != nil {
		t.Fatalf("reloading user: %v", err)
	}
	if stored.Role != enums.RoleUser {
		t.Fatalf("stored role mutated: %q", stored.Role)
	}
}

func TestListPagesThroughUsers(t *testing.T) {
	t.Parallel()

	svc, conn, _ := newTestService(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		user := &models.User{
			Username:     "user-" + uuid.NewString()[:8],
			PasswordHash: "x",
			IsActive:     true,
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		if err := conn.Create(user).Error; err != nil {
			t.Fatalf("seeding user: %v", err)
		}
	}

	page, err := svc.List(ctx, ListParams{Limit: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Items) != 3 || page.Cursor == "" {
		t.Fatalf("expected first page of 3 with cursor, got %d items cursor=%q", len(page.Items), page.Cursor)
	}

	rest, err := svc.List(ctx, ListParams{Limit: 3, Cursor: page.Cursor})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(rest.Items) != 2 || rest.Cursor != "" {
		t.Fatalf("expected final page of 2, got %d items cursor=%q", len(rest.Items), rest.Cursor)
	}

	seen := map[uuid.UUID]bool{}
	for _, item := range append(page.Items, rest.Items...) {
		if seen[item.ID] {
			t.Fatalf("user %s appeared twice", item.ID)
		}
		seen[item.ID] = true
	}

	if _, err := svc.List(ctx, ListParams{Cursor: "not-base64"}); err == nil {
		t.Fatal("invalid cursor should be rejected")
	}
}
