package lti

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// StateCookieName carries the signed login state between login and callback.
const StateCookieName = "lti13_oauth_state"

// LoginState is created at login and consumed once at callback. NextURL is
// always root-relative.
type LoginState struct {
	StateID string `json:"state_id"`
	NextURL string `json:"next_url,omitempty"`
}

type stateClaims struct {
	LoginState
	jwt.RegisteredClaims
}

// StateCodec signs LoginState as an HS256 JWT.
type StateCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateCodec uses secret as the HMAC key; an empty secret gets a random
// per-process key, which invalidates in-flight logins on restart.
func NewStateCodec(secret []byte, ttl time.Duration) *StateCodec {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &StateCodec{secret: secret, ttl: ttl, now: time.Now}
}

func NewLoginState(nextURL string) LoginState {
	return LoginState{
		StateID: strings.ReplaceAll(uuid.NewString(), "-", ""),
		NextURL: nextURL,
	}
}

func (c *StateCodec) Encode(st LoginState) (string, error) {
	now := c.now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, stateClaims{
		LoginState: st,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	})
	return tok.SignedString(c.secret)
}

func (c *StateCodec) Decode(raw string) (LoginState, error) {
	var sc stateClaims
	_, err := jwt.ParseWithClaims(raw, &sc, func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return LoginState{}, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if sc.StateID == "" {
		return LoginState{}, ErrInvalidState
	}
	return sc.LoginState, nil
}

// Cookie wraps an encoded state for cross-site form_post callbacks.
func (c *StateCodec) Cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     StateCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
}

// Nonce derives the OIDC nonce from the encoded state.
func Nonce(state string) string {
	sum := sha256.Sum256([]byte(state))
	return hex.EncodeToString(sum[:])
}

var nextInTarget = regexp.MustCompile(`(?i)next=(.*)`)

// ResolveNextURL picks the post-login target: an explicit next parameter,
// else a next= embedded in target_link_uri, else target_link_uri itself
// unless it points at the hub root. The result is sanitized.
func ResolveNextURL(next, targetLinkURI string) string {
	if next == "" {
		switch {
		case strings.Contains(targetLinkURI, "next"):
			if m := nextInTarget.FindStringSubmatch(targetLinkURI); m != nil {
				if u, err := url.QueryUnescape(m[1]); err == nil {
					next = u
				} else {
					next = m[1]
				}
			}
		case !strings.HasSuffix(targetLinkURI, "/hub"):
			next = targetLinkURI
		}
	}
	if next == "" {
		return ""
	}
	return SanitizeNextURL(next)
}

// SanitizeNextURL drops scheme and host and forces an absolute path so the
// redirect cannot leave the hub. Backslashes are escaped first because
// browsers treat them as slashes.
func SanitizeNextURL(raw string) string {
	raw = strings.ReplaceAll(raw, `\`, "%5C")
	u, err := url.Parse(raw)
	if err != nil {
		return "/"
	}
	out := "/" + strings.TrimLeft(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		out += "#" + u.EscapedFragment()
	}
	return out
}
