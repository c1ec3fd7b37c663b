package lti

import (
	"crypto"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

// ToolKey is the tool's RSA signing key. KID is the RFC 7638 SHA-256
// thumbprint of the public key, so it is stable across restarts.
type ToolKey struct {
	Private *rsa.PrivateKey
	KID     string
}

// LoadPrivateKey reads a PEM file (PKCS#1 or PKCS#8).
func LoadPrivateKey(path string) (*ToolKey, error) {
	if path == "" {
		return nil, ErrKeyEnvironment
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", ErrKeyPermission, path)
		}
		return nil, fmt.Errorf("lti: read private key: %w", err)
	}
	return ParsePrivateKey(b)
}

func ParsePrivateKey(pemBytes []byte) (*ToolKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return NewToolKey(k)
	}
	k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	rk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return NewToolKey(rk)
}

func NewToolKey(priv *rsa.PrivateKey) (*ToolKey, error) {
	if priv == nil {
		return nil, ErrInvalidKey
	}
	jwk := jose.JSONWebKey{Key: &priv.PublicKey}
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("lti: key thumbprint: %w", err)
	}
	return &ToolKey{Private: priv, KID: base64.RawURLEncoding.EncodeToString(tp)}, nil
}

// PublicJWK is the verification key published to platforms.
func (k *ToolKey) PublicJWK() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       &k.Private.PublicKey,
		KeyID:     k.KID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}
}

func (k *ToolKey) JWKS() jose.JSONWebKeySet {
	return jose.JSONWebKeySet{Keys: []jose.JSONWebKey{k.PublicJWK()}}
}

// Sign produces an RS256 compact JWT carrying the key's kid.
func (k *ToolKey) Sign(claims jwt.Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = k.KID
	return tok.SignedString(k.Private)
}
