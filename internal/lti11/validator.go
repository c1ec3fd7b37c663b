// Package lti11 accepts legacy LTI 1.1 basic launches signed with OAuth1
// HMAC-SHA1.
package lti11

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mind-engage/lti-hubsync/internal/replay"
)

var (
	ErrUnknownConsumer = errors.New("lti11: oauth_consumer_key not known")
	ErrStaleTimestamp  = errors.New("lti11: oauth_timestamp too old")
	ErrFutureTimestamp = errors.New("lti11: oauth_timestamp in the future")
	ErrNonceReused     = errors.New("lti11: oauth_nonce + oauth_timestamp already used")
	ErrBadSignature    = errors.New("lti11: invalid oauth_signature")
	ErrMissingRole     = errors.New("lti11: user role not included in the launch")
)

type MissingParamError struct{ Name string }

func (e *MissingParamError) Error() string { return "lti11: " + e.Name + " missing" }

const (
	// DefaultSkew is the tolerated clock difference with the consumer.
	DefaultSkew = 30 * time.Second
	nonceTTL    = 3 * DefaultSkew
)

// Validator checks launch requests against a consumer key → secret map.
// Timestamps older than the validator itself are refused since nonces from
// before it existed cannot be checked.
type Validator struct {
	Consumers map[string]string
	Replay    replay.Store
	Skew      time.Duration

	started time.Time
	now     func() time.Time
}

func NewValidator(consumers map[string]string, rs replay.Store) *Validator {
	if rs == nil {
		rs = replay.NewMemory(0)
	}
	return &Validator{
		Consumers: consumers,
		Replay:    rs,
		Skew:      DefaultSkew,
		started:   time.Now().Truncate(time.Second),
		now:       time.Now,
	}
}

// Validate verifies a POSTed launch. launchURL is the absolute URL the
// consumer signed (scheme from the outermost proxy hop).
func (v *Validator) Validate(ctx context.Context, launchURL string, form url.Values) error {
	key := form.Get("oauth_consumer_key")
	if key == "" {
		return &MissingParamError{Name: "oauth_consumer_key"}
	}
	secret, ok := v.Consumers[key]
	if !ok {
		return ErrUnknownConsumer
	}
	if form.Get("oauth_signature") == "" {
		return &MissingParamError{Name: "oauth_signature"}
	}
	rawTS := form.Get("oauth_timestamp")
	if rawTS == "" {
		return &MissingParamError{Name: "oauth_timestamp"}
	}
	f, err := strconv.ParseFloat(rawTS, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrStaleTimestamp, rawTS)
	}
	ts := time.Unix(int64(f), 0)
	now := v.now()
	if now.Sub(ts) > v.Skew || ts.Before(v.started) {
		return ErrStaleTimestamp
	}
	if ts.After(now.Add(v.Skew)) {
		return ErrFutureTimestamp
	}
	nonce := form.Get("oauth_nonce")
	if nonce == "" {
		return &MissingParamError{Name: "oauth_nonce"}
	}

	base, err := BaseString(http.MethodPost, launchURL, form)
	if err != nil {
		return fmt.Errorf("lti11: launch url: %w", err)
	}
	if !signatureEqual(SignHMACSHA1(base, secret, ""), form.Get("oauth_signature")) {
		return ErrBadSignature
	}

	// The nonce must outlive the window in which ts is still accepted.
	ttl := max(nonceTTL, ts.Add(v.Skew).Sub(now)+time.Second)
	fresh, err := v.Replay.Use(ctx, "lti11_nonce", strconv.FormatInt(ts.Unix(), 10)+"|"+nonce, ttl)
	if err != nil {
		return fmt.Errorf("lti11: replay store: %w", err)
	}
	if !fresh {
		return ErrNonceReused
	}
	return nil
}
