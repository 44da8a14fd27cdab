package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/smallbiznis/orgboard/internal/auth/domain"
	"github.com/smallbiznis/orgboard/internal/auth/repository"
	"github.com/smallbiznis/orgboard/internal/clock"
	"github.com/smallbiznis/orgboard/pkg/db"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, clk clock.Clock) authdomain.Service {
	t.Helper()

	dbConn, err := db.NewTest()
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := dbConn.AutoMigrate(&authdomain.User{}, &authdomain.Session{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	repo, sessionRepo := repository.New(dbConn)
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("failed to create snowflake node: %v", err)
	}

	return New(zap.NewNop(), repo, sessionRepo, node, clk)
}

func TestSignupNormalizesEmail(t *testing.T) {
	svc := newTestService(t, clock.NewSystemClock())

	user, err := svc.Signup(context.Background(), authdomain.SignupRequest{
		Email:    " Alice@Example.COM ",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("failed to sign up: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("expected normalized email, got %s", user.Email)
	}
	if user.DisplayName != "Alice" && user.DisplayName != "alice" {
		t.Fatalf("expected derived display name, got %s", user.DisplayName)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	svc := newTestService(t, clock.NewSystemClock())

	if _, err := svc.Signup(context.Background(), authdomain.SignupRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	}); err != nil {
		t.Fatalf("failed to sign up: %v", err)
	}

	_, err := svc.Signup(context.Background(), authdomain.SignupRequest{
		Email:    "alice@example.com",
		Password: "another-password",
	})
	if err != authdomain.ErrUserExists {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestSignupWeakPassword(t *testing.T) {
	svc := newTestService(t, clock.NewSystemClock())

	_, err := svc.Signup(context.Background(), authdomain.SignupRequest{
		Email:    "alice@example.com",
		Password: "short",
	})
	if err != authdomain.ErrWeakPassword {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	svc := newTestService(t, clock.NewSystemClock())

	if _, err := svc.Signup(context.Background(), authdomain.SignupRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	}); err != nil {
		t.Fatalf("failed to sign up: %v", err)
	}

	_, err := svc.Login(context.Background(), authdomain.LoginRequest{
		Email:    "alice@example.com",
		Password: "wrong-password",
	})
	if err != authdomain.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthenticateRoundTrip(t *testing.T) {
	svc := newTestService(t, clock.NewSystemClock())

	user, err := svc.Signup(context.Background(), authdomain.SignupRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("failed to sign up: %v", err)
	}

	result, err := svc.Login(context.Background(), authdomain.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("failed to log in: %v", err)
	}
	if result.Token == "" {
		t.Fatal("expected session token")
	}

	session, err := svc.Authenticate(context.Background(), result.Token)
	if err != nil {
		t.Fatalf("failed to authenticate: %v", err)
	}
	if session.UserID != user.ID {
		t.Fatalf("expected session for user %s, got %s", user.ID, session.UserID)
	}
}

func TestAuthenticateExpiredSession(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := newTestService(t, clk)

	if _, err := svc.Signup(context.Background(), authdomain.SignupRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	}); err != nil {
		t.Fatalf("failed to sign up: %v", err)
	}

	result, err := svc.Login(context.Background(), authdomain.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("failed to log in: %v", err)
	}

	clk.Advance(8 * 24 * time.Hour)

	_, err = svc.Authenticate(context.Background(), result.Token)
	if err != authdomain.ErrSessionExpired {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	svc := newTestService(t, clock.NewSystemClock())

	if _, err := svc.Signup(context.Background(), authdomain.SignupRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	}); err != nil {
		t.Fatalf("failed to sign up: %v", err)
	}

	result, err := svc.Login(context.Background(), authdomain.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("failed to log in: %v", err)
	}

	if err := svc.Logout(context.Background(), result.Token); err != nil {
		t.Fatalf("failed to log out: %v", err)
	}

	_, err = svc.Authenticate(context.Background(), result.Token)
	if err != authdomain.ErrInvalidSession {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	svc := newTestService(t, clock.NewSystemClock())

	user, err := svc.Signup(context.Background(), authdomain.SignupRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("failed to sign up: %v", err)
	}

	result, err := svc.Login(context.Background(), authdomain.LoginRequest{
		Email:    "alice@example.com",
		Password: "correct-password",
	})
	if err != nil {
		t.Fatalf("failed to log in: %v", err)
	}

	if err := svc.ChangePassword(context.Background(), user.ID, "wrong-password", "next-password"); err != authdomain.ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	if err := svc.ChangePassword(context.Background(), user.ID, "correct-password", "next-password"); err != nil {
		t.Fatalf("failed to change password: %v", err)
	}

	if _, err := svc.Authenticate(context.Background(), result.Token); err != authdomain.ErrInvalidSession {
		t.Fatalf("expected ErrInvalidSession after password change, got %v", err)
	}

	if _, err := svc.Login(context.Background(), authdomain.LoginRequest{
		Email:    "alice@example.com",
		Password: "next-password",
	}); err != nil {
		t.Fatalf("failed to log in with new password: %v", err)
	}
}
