package lti

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateVerifiedRoundTrip(t *testing.T) {
	p := newPlatform(t)
	v := NewValidator(NewJWKSFetcher(p.srv.Client(), 0, nil))

	claims, err := v.Validate(context.Background(), p.sign(t, resourceLinkClaims()), p.jwksURL(), testClientID, true)
	require.NoError(t, err)
	assert.Equal(t, "8", claims.String("sub"))
	assert.Equal(t, MessageResourceLink, claims.String(ClaimMessageType))
}

func TestValidateAudienceMismatch(t *testing.T) {
	p := newPlatform(t)
	v := NewValidator(NewJWKSFetcher(p.srv.Client(), 0, nil))

	_, err := v.Validate(context.Background(), p.sign(t, resourceLinkClaims()), p.jwksURL(), "someone-else", true)
	assert.ErrorIs(t, err, ErrAudienceMismatch)
}

func TestValidateUnverifiedSkipsAudience(t *testing.T) {
	p := newPlatform(t)
	v := NewValidator(NewJWKSFetcher(p.srv.Client(), 0, nil))

	_, err := v.Validate(context.Background(), p.sign(t, resourceLinkClaims()), "http://unused.invalid", "someone-else", false)
	require.NoError(t, err)
	assert.Equal(t, int32(0), p.fetches.Load())
}

func TestValidateExpired(t *testing.T) {
	p := newPlatform(t)
	v := NewValidator(NewJWKSFetcher(p.srv.Client(), 0, nil))
	c := resourceLinkClaims()
	c["exp"] = float64(time.Now().Add(-time.Hour).Unix())

	_, err := v.Validate(context.Background(), p.sign(t, c), p.jwksURL(), testClientID, true)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestValidateBadSignature(t *testing.T) {
	p := newPlatform(t)
	v := NewValidator(NewJWKSFetcher(p.srv.Client(), 0, nil))

	forged := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims(resourceLinkClaims()))
	forged.Header["kid"] = p.kid
	raw, err := forged.SignedString(newRSAKey(t))
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), raw, p.jwksURL(), testClientID, true)
	assert.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestValidateUnknownKID(t *testing.T) {
	p := newPlatform(t)
	v := NewValidator(NewJWKSFetcher(p.srv.Client(), 0, nil))

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims(resourceLinkClaims()))
	tok.Header["kid"] = "rotated-away"
	raw, err := tok.SignedString(p.key)
	require.NoError(t, err)

	_, err = v.Validate(context.Background(), raw, p.jwksURL(), testClientID, true)
	var nk *NoMatchingKeyError
	require.True(t, errors.As(err, &nk))
	assert.Equal(t, "rotated-away", nk.KID)
}

func TestValidateMalformed(t *testing.T) {
	v := NewValidator(nil)
	for _, raw := range []string{"", "abc", "a.b", "a.b.c.d", "!!.e30.sig"} {
		_, err := v.Validate(context.Background(), raw, "", "", false)
		assert.ErrorIs(t, err, ErrMalformedToken, "token %q", raw)
	}
}

func TestValidateClaimsFailure(t *testing.T) {
	p := newPlatform(t)
	v := NewValidator(NewJWKSFetcher(p.srv.Client(), 0, nil))
	c := resourceLinkClaims()
	c[ClaimVersion] = "1.2.0"

	_, err := v.Validate(context.Background(), p.sign(t, c), p.jwksURL(), testClientID, true)
	var ve *UnsupportedVersionError
	assert.True(t, errors.As(err, &ve))
}

func TestFetchKeysUnavailable(t *testing.T) {
	bodies := map[string]string{
		"/html":      "<html>not json</html>",
		"/no-keys":   `{"other":[]}`,
		"/not-array": `{"keys":{"kid":"x"}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/500" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(bodies[r.URL.Path]))
	}))
	defer srv.Close()

	f := NewJWKSFetcher(srv.Client(), 0, nil)
	for _, p := range []string{"/html", "/no-keys", "/not-array", "/500"} {
		_, err := f.Fetch(context.Background(), srv.URL+p)
		assert.ErrorIs(t, err, ErrKeysUnavailable, p)
	}
}

func TestFetchSkipsUnparseableKeys(t *testing.T) {
	p := newPlatform(t)
	good, err := json.Marshal(jose.JSONWebKey{Key: &p.key.PublicKey, KeyID: p.kid, Algorithm: "RS256", Use: "sig"})
	require.NoError(t, err)
	body := `{"keys":[{"kty":"RSA","kid":"broken"},{"kty":"nope","kid":"odd"},` + string(good) + `]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	set, err := NewJWKSFetcher(srv.Client(), 0, nil).Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)

	pub, err := set.Match(p.kid)
	require.NoError(t, err)
	assert.Equal(t, p.key.PublicKey.E, pub.E)

	_, err = set.Match("broken")
	var nk *NoMatchingKeyError
	assert.True(t, errors.As(err, &nk))
}

func TestFetcherCacheRefetchesOnKIDMiss(t *testing.T) {
	p := newPlatform(t)
	f := NewJWKSFetcher(p.srv.Client(), time.Hour, nil)
	ctx := context.Background()

	_, err := f.Key(ctx, p.jwksURL(), p.kid)
	require.NoError(t, err)
	_, err = f.Key(ctx, p.jwksURL(), p.kid)
	require.NoError(t, err)
	assert.Equal(t, int32(1), p.fetches.Load(), "second lookup served from cache")

	p.key = newRSAKey(t)
	p.kid = "platform-key-2"
	pub, err := f.Key(ctx, p.jwksURL(), "platform-key-2")
	require.NoError(t, err)
	assert.Equal(t, p.key.PublicKey.N, pub.N)
	assert.Equal(t, int32(2), p.fetches.Load())
}
