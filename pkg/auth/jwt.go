package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidJWT      = errors.New("invalid JWT token")
	ErrExpiredJWT      = errors.New("JWT token expired")
	ErrUnauthenticated = errors.New("authentication required")
)

// Role enumerates the tracking core's role hierarchy.
type Role string

const (
	RoleEmployee   Role = "employee"
	RoleGroupAdmin Role = "group-admin"
	RoleManagement Role = "management"
	RoleSuperAdmin Role = "super-admin"
)

// Claims represents JWT claims carrying the tenant/role context the core
// needs to authorize REST and socket requests without a DB round trip.
type Claims struct {
	UserID       string `json:"user_id"`
	CompanyID    string `json:"company_id"`
	Email        string `json:"email"`
	Role         Role   `json:"role"`
	GroupAdminID string `json:"group_admin_id,omitempty"`
	ManagerID    string `json:"manager_id,omitempty"`
	jwt.RegisteredClaims
}

// GenerateJWT creates a new JWT token. Token issuance itself happens
// upstream of this core; this exists so tests can mint fixtures.
func GenerateJWT(claims Claims, secret []byte, ttl time.Duration) (string, error) {
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateJWT validates a JWT token and returns its claims.
func ValidateJWT(tokenString string, secret []byte) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredJWT
		}
		return nil, ErrInvalidJWT
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, ErrInvalidJWT
}
