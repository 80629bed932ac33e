package models

import (
	"time"

	"github.com/learnlens/backend/pkg/docstore"
)

// Role represents user role in the platform.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
)

// User is the users/{id} document.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Identity is the authenticated caller as seen by the recorder and handlers.
type Identity struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	ExpiresAt   time.Time `json:"-"`
}

// Valid reports whether the identity names a user and hasn't expired at now.
func (i Identity) Valid(now time.Time) bool {
	if i.ID == "" {
		return false
	}
	return i.ExpiresAt.IsZero() || now.Before(i.ExpiresAt)
}

// UserFromDocument decodes a users/{id} document. Missing role defaults to student.
func UserFromDocument(d *docstore.Document) User {
	role := Role(d.Data.String("role"))
	if role != RoleInstructor {
		role = RoleStudent
	}
	return User{
		ID:           d.ID,
		Email:        d.Data.String("email"),
		DisplayName:  d.Data.String("displayName"),
		Role:         role,
		PasswordHash: d.Data.String("passwordHash"),
		CreatedAt:    d.Data.Time("createdAt"),
	}
}

// Fields encodes u for storage.
func (u User) Fields() docstore.Fields {
	return docstore.Fields{
		"email":        u.Email,
		"displayName":  u.DisplayName,
		"role":         string(u.Role),
		"passwordHash": u.PasswordHash,
		"createdAt":    u.CreatedAt,
	}
}

// Identity returns the identity of u.
func (u User) Identity() Identity {
	return Identity{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName, Role: u.Role}
}
