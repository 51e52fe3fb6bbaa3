package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the access token payload issued by the campus identity provider.
type JWTClaims struct {
	UserID     string     `json:"user_id"`
	Role       Role       `json:"role"`
	Program    Program    `json:"program,omitempty"`
	Department Department `json:"department,omitempty"`
	FullName   string     `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}

// Actor projects the claims onto the workflow actor.
func (c *JWTClaims) Actor() Actor {
	if c == nil {
		return Actor{}
	}
	return Actor{
		UserID:     c.UserID,
		Role:       c.Role,
		Program:    c.Program,
		Department: c.Department,
	}
}
