package lti

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-jose/go-jose/v4"
	gocache "github.com/patrickmn/go-cache"

	"github.com/mind-engage/lti-hubsync/internal/logger"
	"github.com/mind-engage/lti-hubsync/internal/metrics"
)

// JWKS is a platform key set as fetched. Keys that failed to parse are
// dropped.
type JWKS struct {
	Keys []jose.JSONWebKey
}

// Match returns the RSA public key with the given kid.
func (s JWKS) Match(kid string) (*rsa.PublicKey, error) {
	for _, k := range s.Keys {
		if k.KeyID != kid {
			continue
		}
		if pub, ok := k.Key.(*rsa.PublicKey); ok {
			return pub, nil
		}
	}
	return nil, &NoMatchingKeyError{KID: kid}
}

// JWKSFetcher retrieves platform key sets. With a positive TTL, sets are
// cached per endpoint; kid lookups that miss the cached set refetch once.
type JWKSFetcher struct {
	HTTP    *http.Client
	Metrics *metrics.Metrics

	cache *gocache.Cache
}

func NewJWKSFetcher(hc *http.Client, ttl time.Duration, m *metrics.Metrics) *JWKSFetcher {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	f := &JWKSFetcher{HTTP: hc, Metrics: m}
	if ttl > 0 {
		f.cache = gocache.New(ttl, 2*ttl)
	}
	return f
}

// Fetch performs one GET against endpoint, bypassing the cache.
func (f *JWKSFetcher) Fetch(ctx context.Context, endpoint string) (JWKS, error) {
	set, err := f.fetch(ctx, endpoint)
	f.Metrics.JWKSFetch(metrics.Result(err))
	if err != nil {
		return JWKS{}, err
	}
	if f.cache != nil {
		f.cache.Set(endpoint, set, gocache.DefaultExpiration)
	}
	return set, nil
}

// Key resolves kid against the endpoint's key set.
func (f *JWKSFetcher) Key(ctx context.Context, endpoint, kid string) (*rsa.PublicKey, error) {
	if f.cache != nil {
		if v, ok := f.cache.Get(endpoint); ok {
			if pub, err := v.(JWKS).Match(kid); err == nil {
				return pub, nil
			}
			logger.C(ctx).Debug().Str("kid", kid).Msg("kid not in cached jwks, refetching")
		}
	}
	set, err := f.Fetch(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return set.Match(kid)
}

func (f *JWKSFetcher) fetch(ctx context.Context, endpoint string) (JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return JWKS{}, fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.HTTP.Do(req)
	if err != nil {
		return JWKS{}, fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return JWKS{}, fmt.Errorf("%w: status %d", ErrKeysUnavailable, resp.StatusCode)
	}

	var doc map[string]json.RawMessage
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&doc); err != nil {
		return JWKS{}, fmt.Errorf("%w: %v", ErrKeysUnavailable, err)
	}
	rawKeys, ok := doc["keys"]
	if !ok {
		return JWKS{}, fmt.Errorf("%w: no keys member", ErrKeysUnavailable)
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawKeys, &items); err != nil {
		return JWKS{}, fmt.Errorf("%w: keys is not an array", ErrKeysUnavailable)
	}

	log := logger.C(ctx)
	set := JWKS{Keys: make([]jose.JSONWebKey, 0, len(items))}
	for _, raw := range items {
		var k jose.JSONWebKey
		if err := k.UnmarshalJSON(raw); err != nil {
			log.Debug().Err(err).Msg("skipping unparseable jwk")
			continue
		}
		set.Keys = append(set.Keys, k)
	}
	return set, nil
}
