package lti

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testClientID = "client-1"
	testIssuer   = "https://moodle.example"
)

func newRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	k, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return k
}

// platform simulates the LMS side: it signs id_tokens and serves its JWKS.
type platform struct {
	key     *rsa.PrivateKey
	kid     string
	srv     *httptest.Server
	fetches atomic.Int32
}

func newPlatform(t *testing.T) *platform {
	t.Helper()
	p := &platform{key: newRSAKey(t), kid: "platform-key-1"}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		p.fetches.Add(1)
		set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
			Key:       &p.key.PublicKey,
			KeyID:     p.kid,
			Algorithm: "RS256",
			Use:       "sig",
		}}}
		_ = json.NewEncoder(w).Encode(set)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *platform) jwksURL() string { return p.srv.URL + "/mod/lti/certs.php" }

func (p *platform) sign(t *testing.T, claims Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims(claims))
	tok.Header["kid"] = p.kid
	s, err := tok.SignedString(p.key)
	require.NoError(t, err)
	return s
}

func resourceLinkClaims() Claims {
	now := time.Now()
	return Claims{
		"iss":              testIssuer,
		"aud":              testClientID,
		"sub":              "8",
		"exp":              float64(now.Add(time.Hour).Unix()),
		"iat":              float64(now.Unix()),
		"nonce":            "nonce-1",
		"email":            "foo@example.com",
		"name":             "Foo Bar",
		"given_name":       "Foo",
		"family_name":      "Bar",
		ClaimMessageType:   MessageResourceLink,
		ClaimVersion:       Version,
		ClaimDeploymentID:  "1",
		ClaimTargetLinkURI: "https://hub.example/",
		ClaimRoles: []any{
			"http://purl.imsglobal.org/vocab/lis/v2/membership#Learner",
		},
		ClaimResourceLink: map[string]any{"id": "4", "title": "Notebooks"},
		ClaimContext: map[string]any{
			"id":    "3",
			"label": "Intro 101",
			"title": "Intro to notebooks",
		},
		ClaimLIS: map[string]any{"person_sourcedid": ""},
		ClaimLaunchPresentation: map[string]any{
			"return_url": "https://moodle.example/mod/lti/return.php",
		},
	}
}

func writeKeyPEM(t *testing.T, k *rsa.PrivateKey, pkcs8 bool) string {
	t.Helper()
	var block *pem.Block
	if pkcs8 {
		der, err := x509.MarshalPKCS8PrivateKey(k)
		require.NoError(t, err)
		block = &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	} else {
		block = &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(k)}
	}
	path := filepath.Join(t.TempDir(), "rsa_private.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}
