package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidCredential reports a credential that failed verification.
var ErrInvalidCredential = errors.New("invalid credential")

// Validator resolves a presented credential to a user identity.
// Called once per connection at admission time.
type Validator interface {
	Validate(credential string) (userID string, err error)
}

// JWTValidator verifies HS256-signed tokens with a shared secret.
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator creates a validator for the given HMAC secret.
func NewJWTValidator(secret []byte) *JWTValidator {
	return &JWTValidator{secret: secret}
}

// Validate parses and verifies the token and returns its subject.
func (v *JWTValidator) Validate(credential string) (string, error) {
	if credential == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}

	token, err := jwt.Parse(credential, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidCredential)
	}
	return sub, nil
}

// AcceptAny treats any non-empty credential as the user id itself. Used
// when no verification secret is configured; not for production.
type AcceptAny struct{}

// Validate returns the credential as the user id.
func (AcceptAny) Validate(credential string) (string, error) {
	if credential == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}
	return credential, nil
}

// Static maps fixed credentials to user ids. Test and development use only.
type Static map[string]string

// Validate looks the credential up in the map.
func (s Static) Validate(credential string) (string, error) {
	userID, ok := s[credential]
	if !ok {
		return "", ErrInvalidCredential
	}
	return userID, nil
}
