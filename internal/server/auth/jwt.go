// Package auth issues and verifies the HS256 tokens that carry actor
// identity. The sync core trusts these claims; enrollment and credential
// management live outside this service.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/trialware/diarysync/internal/common"
)

// Claims extends the registered claims with the actor identity stamped
// onto every event the holder produces.
type Claims struct {
	jwt.RegisteredClaims
	ActorID   string `json:"actor_id"`
	ActorRole string `json:"actor_role"`
}

func GenerateToken(actorID, actorRole string, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		ActorID:   actorID,
		ActorRole: actorRole,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ActorFromToken verifies a token and returns the actor identity it
// carries.
func ActorFromToken(tokenString string, secretKey []byte) (actorID, actorRole string, err error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	})
	if err != nil {
		return "", "", err
	}

	if !token.Valid {
		return "", "", common.ErrInvalidToken
	}

	return claims.ActorID, claims.ActorRole, nil
}
