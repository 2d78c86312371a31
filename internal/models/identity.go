package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the caller roles recognised by the gateway.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleTeacher UserRole = "TEACHER"
	RoleParent  UserRole = "PARENT"
	RoleStudent UserRole = "STUDENT"
)

// JWTClaims represents the access-token payload issued by the auth service.
type JWTClaims struct {
	UserID      string   `json:"user_id"`
	Role        UserRole `json:"role"`
	Email       string   `json:"email"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the per-request authenticated caller derived from a verified
// token. It lives only for the duration of the request.
type Identity struct {
	UserID      string
	Email       string
	Role        UserRole
	Permissions []string
}
