package models

import (
	"time"

	"books_service/internal/roles"
)

type User struct {
	ID         string
	Email      string
	Username   string
	PassHash   string
	IsVerified bool
	Role       roles.Role
	CreatedAt  time.Time
}

// PublicUser is the projection exposed to callers. It never carries the
// password hash.
type PublicUser struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Username   string     `json:"username"`
	IsVerified bool       `json:"is_verified"`
	Role       roles.Role `json:"role"`
	CreatedAt  time.Time  `json:"created_at"`
}

func (u User) Public() PublicUser {
	return PublicUser{
		ID:         u.ID,
		Email:      u.Email,
		Username:   u.Username,
		IsVerified: u.IsVerified,
		Role:       u.Role,
		CreatedAt:  u.CreatedAt,
	}
}

// Session binds a user to one refresh-token lineage. RefreshTokenHash is a
// one-way hash of the current refresh token; the raw token is never stored.
type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash string
	ExpiresAt        time.Time
	CreatedAt        time.Time
}

type EmailVerification struct {
	ID        string
	UserID    string
	Token     string
	CreatedAt time.Time
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

type Book struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Author          string    `json:"author"`
	PublicationDate time.Time `json:"publication_date"`
	Genres          []string  `json:"genres"`
	CreatedAt       time.Time `json:"created_at"`
}

// EmailMessage is the payload published to the mail queue.
type EmailMessage struct {
	Email   string `json:"to"`
	Subject string `json:"subject"`
	Token   string `json:"token"`
}
