package lti

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AssertionLifetime is exp - iat of a client assertion.
const AssertionLifetime = 65 * time.Second

// ClientAssertion builds the private_key_jwt used for the client-credentials
// grant against the platform token endpoint.
func (k *ToolKey) ClientAssertion(clientID, tokenURL string, now time.Time) (string, error) {
	iat := now.Add(-5 * time.Second)
	return k.Sign(jwt.RegisteredClaims{
		Issuer:    clientID,
		Subject:   clientID,
		Audience:  jwt.ClaimStrings{tokenURL},
		IssuedAt:  jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(iat.Add(AssertionLifetime)),
		ID:        uuid.NewString(),
	})
}
