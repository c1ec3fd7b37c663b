// Package auth issues and verifies the hub session created after a launch.
package auth

import (
	"crypto/rand"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mind-engage/lti-hubsync/internal/lti"
)

const SessionCookieName = "hub_session"

var ErrNoSession = errors.New("auth: no session")

type Claims struct {
	Sub               string `json:"sub"`
	Role              string `json:"role"`
	CourseID          string `json:"course_id,omitempty"`
	LMSUserID         string `json:"lms_user_id,omitempty"`
	LaunchReturnURL   string `json:"launch_return_url,omitempty"`
	DeepLinkReturnURL string `json:"deep_link_return_url,omitempty"`
	DeepLinkData      string `json:"deep_link_data,omitempty"`
	DeploymentID      string `json:"deployment_id,omitempty"`
	PlatformIssuer    string `json:"platform_iss,omitempty"`
	jwt.RegisteredClaims
}

// Identity rebuilds the launch identity carried by the session.
func (c *Claims) Identity() *lti.Identity {
	return &lti.Identity{
		Username:          c.Sub,
		Role:              lti.Role(c.Role),
		CourseID:          c.CourseID,
		LMSUserID:         c.LMSUserID,
		LaunchReturnURL:   c.LaunchReturnURL,
		DeepLinkReturnURL: c.DeepLinkReturnURL,
		DeepLinkData:      c.DeepLinkData,
		DeploymentID:      c.DeploymentID,
		PlatformIssuer:    c.PlatformIssuer,
	}
}

type SessionService struct {
	hmac []byte
	ttl  time.Duration
	now  func() time.Time
}

// NewSessionService signs sessions with secret. An empty secret gets a
// random per-process key.
func NewSessionService(secret string, ttl time.Duration) *SessionService {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &SessionService{hmac: key, ttl: ttl, now: time.Now}
}

func (s *SessionService) IssueJWT(id *lti.Identity) (string, error) {
	now := s.now()
	claims := &Claims{
		Sub:               id.Username,
		Role:              string(id.Role),
		CourseID:          id.CourseID,
		LMSUserID:         id.LMSUserID,
		LaunchReturnURL:   id.LaunchReturnURL,
		DeepLinkReturnURL: id.DeepLinkReturnURL,
		DeepLinkData:      id.DeepLinkData,
		DeploymentID:      id.DeploymentID,
		PlatformIssuer:    id.PlatformIssuer,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "ltihub",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(s.hmac)
}

func (s *SessionService) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return s.hmac, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	c, ok := token.Claims.(*Claims)
	if !ok || c.Sub == "" {
		return nil, ErrNoSession
	}
	return c, nil
}

// IssueSession sets the session cookie. The cookie has to survive the
// cross-site form_post that ends the launch, hence SameSite=None.
func (s *SessionService) IssueSession(w http.ResponseWriter, id *lti.Identity) error {
	tok, err := s.IssueJWT(id)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    tok,
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	})
	return nil
}
