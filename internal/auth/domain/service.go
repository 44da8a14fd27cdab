package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// SignupRequest carries the fields needed to register an account.
type SignupRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
}

// LoginRequest carries login credentials plus client metadata recorded
// on the resulting session.
type LoginRequest struct {
	Email     string `json:"email" binding:"required"`
	Password  string `json:"password" binding:"required"`
	UserAgent string `json:"-"`
	IPAddress string `json:"-"`
}

// LoginResult is the outcome of a successful login. Token is the raw
// session token handed to the client; only its hash is stored.
type LoginResult struct {
	User      *User
	Token     string
	ExpiresAt time.Time
}

// UpdateProfileRequest carries profile fields a user may change. Nil
// pointers leave the current value untouched.
type UpdateProfileRequest struct {
	DisplayName *string `json:"display_name"`
	AvatarURL   *string `json:"avatar_url"`
}

// Service exposes account and session operations.
type Service interface {
	Signup(ctx context.Context, req SignupRequest) (*User, error)
	Login(ctx context.Context, req LoginRequest) (*LoginResult, error)
	Logout(ctx context.Context, rawToken string) error
	Authenticate(ctx context.Context, rawToken string) (*Session, error)
	GetUser(ctx context.Context, id snowflake.ID) (*User, error)
	UpdateProfile(ctx context.Context, id snowflake.ID, req UpdateProfileRequest) (*User, error)
	ChangePassword(ctx context.Context, id snowflake.ID, current, next string) error
}
