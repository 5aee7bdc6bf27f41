package security

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/campusloop/loyalty/internal/config"
	"github.com/campusloop/loyalty/internal/models"
)

// UserClaims are the JWT claims carried by a login token.
type UserClaims struct {
	Utorid string `json:"utorid"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// IssueUserToken signs a login token for the user.
func IssueUserToken(jwtCfg config.JWTConfig, user *models.User) (string, time.Time, error) {
	if jwtCfg.Secret == "" {
		return "", time.Time{}, fmt.Errorf("security: missing jwt secret")
	}
	expiresAt := time.Now().Add(jwtCfg.Expiry)
	claims := &UserClaims{
		Utorid: user.Utorid,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Utorid,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, errSign := token.SignedString([]byte(jwtCfg.Secret))
	if errSign != nil {
		return "", time.Time{}, fmt.Errorf("security: sign token: %w", errSign)
	}
	return signed, expiresAt, nil
}

// ParseUserToken verifies a login token and returns its claims.
func ParseUserToken(secret, tokenString string) (*UserClaims, error) {
	token, errParse := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("security: unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if errParse != nil {
		return nil, fmt.Errorf("security: parse token: %w", errParse)
	}
	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("security: invalid token")
	}
	return claims, nil
}
