package storage

import "errors"

var (
	ErrUserExists           = errors.New("user already exists")
	ErrUserNotFound         = errors.New("user not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrVerificationNotFound = errors.New("verification not found")
	ErrBookNotFound         = errors.New("book not found")
)
