package auth

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// verifyJWT validates an HS256 token and maps its claims to an identity.
// The subject names the caller; an optional "role" claim names the role.
func verifyJWT(tokenString string, secretKey []byte, issuer string) (Identity, error) {
	claims := jwt.MapClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return secretKey, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, fmt.Errorf("token has no subject")
	}

	role := RoleUser
	if r, ok := claims["role"].(string); ok && r != "" {
		role = r
	}

	return Identity{CallerID: sub, Role: role}, nil
}
