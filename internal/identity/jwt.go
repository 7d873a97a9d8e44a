package identity

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt"
	"github.com/staffroom/staffroom/internal/types"
)

const (
	userIdClaim = "user-id"
	nameClaim   = "name"
	avatarClaim = "avatar"
)

// JWTVerifier verifies HS256 tokens locally. It is used in
// single-binary deployments where the token service and the relay
// share a signing key.
type JWTVerifier struct {
	signingKey []byte
}

func NewJWTVerifier(signingKey []byte) *JWTVerifier {
	return &JWTVerifier{signingKey: signingKey}
}

func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (types.Identity, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.signingKey, nil
	})
	if err != nil {
		return types.Identity{}, &AuthError{Message: "invalid token", Err: err}
	}

	if !token.Valid {
		return types.Identity{}, &AuthError{Message: "invalid token"}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return types.Identity{}, &AuthError{Message: "invalid token claims"}
	}

	userId, ok := claims[userIdClaim].(float64)
	if !ok {
		return types.Identity{}, &AuthError{Message: "invalid user id claim"}
	}

	ident := types.Identity{Id: int(userId)}
	if name, ok := claims[nameClaim].(string); ok {
		ident.Name = name
	}
	if avatar, ok := claims[avatarClaim].(string); ok {
		ident.Avatar = avatar
	}

	return ident, nil
}

// NewToken mints an HS256 token for the given identity. Used by tests
// and local development tooling.
func NewToken(signingKey []byte, ident types.Identity, exp int64) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		userIdClaim: ident.Id,
		nameClaim:   ident.Name,
		avatarClaim: ident.Avatar,
		"exp":       exp,
	})

	return token.SignedString(signingKey)
}
