package domain

import "errors"

var (
	// ErrUserExists is returned when signing up with an email that is
	// already registered.
	ErrUserExists = errors.New("user already exists")

	// ErrUserNotFound is returned when a user lookup misses.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidCredentials is returned when login fails. It covers both
	// unknown emails and wrong passwords so callers cannot probe accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidSession is returned when a session token does not resolve
	// to an active session.
	ErrInvalidSession = errors.New("invalid session")

	// ErrSessionExpired is returned when a session exists but its expiry
	// has passed.
	ErrSessionExpired = errors.New("session expired")

	// ErrWeakPassword is returned when a new password fails policy checks.
	ErrWeakPassword = errors.New("password does not meet requirements")

	// ErrInvalidEmail is returned when an email address fails validation.
	ErrInvalidEmail = errors.New("invalid email address")
)
