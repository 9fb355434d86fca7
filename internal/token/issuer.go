package token

import (
	"context"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Issuer mints session tokens for an authorized user. Finish calls it
// exactly once per pairing request.
type Issuer interface {
	Issue(ctx context.Context, userID string) (string, error)
}

// JWTIssuer signs HS256 session tokens.
type JWTIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewJWTIssuer(secret, issuer string, ttl time.Duration) *JWTIssuer {
	return &JWTIssuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
	}
}

func (i *JWTIssuer) Issue(ctx context.Context, userID string) (string, error) {
	now := NowTimeFunc()

	claims := jwtlib.MapClaims{
		"iss":    i.issuer,
		"sub":    userID,
		"userId": userID,
		"iat":    now.Unix(),
		"exp":    now.Add(i.ttl).Unix(),
		"jti":    uuid.New().String(),
	}

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}

	return signed, nil
}

// Verify parses a session token and returns the user id it was issued
// for. Used by the middleware that authenticates the approving device.
func (i *JWTIssuer) Verify(tokenString string) (string, error) {
	token, err := jwtlib.Parse(tokenString, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwtlib.WithIssuer(i.issuer), jwtlib.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("parse session token: %w", err)
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid session token")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("session token missing subject")
	}

	return sub, nil
}
