package security

import (
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const tokenIssuer = "exef"

// JWTService issues and validates the HS256 bearer tokens of the API.
// Tokens carry the identity ID as subject; validation on the HTTP side is
// done by the echo-jwt middleware with the same secret, so the signing
// parameters here must stay in sync with the middleware config.
type JWTService struct {
	secret []byte
}

func NewJWTService(secret string) *JWTService {
	return &JWTService{secret: []byte(secret)}
}

// GenerateToken issues a token for an identity. The email travels as a
// private claim so handlers can log the acting principal without a lookup.
func (j *JWTService) GenerateToken(identityID, email string, expiration time.Duration) (string, error) {
	now := time.Now()

	builder := jwt.NewBuilder().
		Issuer(tokenIssuer).
		Subject(identityID).
		IssuedAt(now).
		Expiration(now.Add(expiration))
	if email != "" {
		builder = builder.Claim("email", email)
	}
	token, err := builder.Build()
	if err != nil {
		return "", fmt.Errorf("failed to build token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, j.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return string(signed), nil
}

// ValidateToken parses and verifies a signed token, including expiry.
func (j *JWTService) ValidateToken(tokenString string) (jwt.Token, error) {
	token, err := jwt.Parse([]byte(tokenString),
		jwt.WithKey(jwa.HS256, j.secret),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithValidate(true))
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return token, nil
}
