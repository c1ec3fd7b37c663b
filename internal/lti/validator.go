package lti

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mind-engage/lti-hubsync/internal/logger"
)

// Validator decodes platform id_tokens. It holds no per-request state.
type Validator struct {
	Fetcher *JWKSFetcher
}

func NewValidator(f *JWKSFetcher) *Validator {
	if f == nil {
		f = NewJWKSFetcher(nil, 0, nil)
	}
	return &Validator{Fetcher: f}
}

// Validate decodes rawJWT and checks the launch claim sets.
func (v *Validator) Validate(ctx context.Context, rawJWT, jwksEndpoint, audience string, verify bool) (Claims, error) {
	claims, err := v.Decode(ctx, rawJWT, jwksEndpoint, audience, verify)
	if err != nil {
		return nil, err
	}
	if _, err := ValidateLaunchRequest(claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// Decode returns the payload of rawJWT. With verify=false neither the
// signature nor the audience is checked.
func (v *Validator) Decode(ctx context.Context, rawJWT, jwksEndpoint, audience string, verify bool) (Claims, error) {
	kid, err := headerKID(rawJWT)
	if err != nil {
		return nil, err
	}
	log := logger.C(ctx)

	if !verify {
		log.Debug().Msg("id_token signature verification disabled")
		mc := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(rawJWT, mc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
		}
		return Claims(mc), nil
	}

	key, err := v.Fetcher.Key(ctx, jwksEndpoint, kid)
	if err != nil {
		return nil, err
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()})}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	mc := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(rawJWT, mc, func(*jwt.Token) (any, error) { return key, nil }, opts...)
	if err != nil {
		return nil, mapJWTError(err)
	}
	return Claims(mc), nil
}

func headerKID(raw string) (string, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return "", ErrMalformedToken
	}
	hb, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[0], "="))
	if err != nil {
		return "", fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}
	var h struct {
		KID string `json:"kid"`
	}
	if err := json.Unmarshal(hb, &h); err != nil {
		return "", fmt.Errorf("%w: header: %v", ErrMalformedToken, err)
	}
	return h.KID, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrAudienceMismatch, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	default:
		return fmt.Errorf("lti: id_token rejected: %w", err)
	}
}
