package lti

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/mind-engage/lti-hubsync/internal/logger"
	"github.com/mind-engage/lti-hubsync/internal/normalize"
)

type Role string

const (
	RoleLearner    Role = "Learner"
	RoleInstructor Role = "Instructor"
)

// Identity is the hub-side user derived from a successful launch.
type Identity struct {
	Username        string
	Role            Role
	CourseID        string
	LMSUserID       string
	LaunchReturnURL string
	Nonce           string

	// Deep-linking launches only.
	DeepLinkReturnURL string
	DeepLinkData      string
	DeploymentID      string
	PlatformIssuer    string
}

// launchClaims is the subset of the payload used to build an Identity.
type launchClaims struct {
	Issuer       string   `mapstructure:"iss"`
	Subject      string   `mapstructure:"sub"`
	Nonce        string   `mapstructure:"nonce"`
	Email        string   `mapstructure:"email"`
	Name         string   `mapstructure:"name"`
	GivenName    string   `mapstructure:"given_name"`
	FamilyName   string   `mapstructure:"family_name"`
	DeploymentID string   `mapstructure:"https://purl.imsglobal.org/spec/lti/claim/deployment_id"`
	Roles        []string `mapstructure:"https://purl.imsglobal.org/spec/lti/claim/roles"`

	Context struct {
		ID    string `mapstructure:"id"`
		Label string `mapstructure:"label"`
		Title string `mapstructure:"title"`
	} `mapstructure:"https://purl.imsglobal.org/spec/lti/claim/context"`

	LIS struct {
		PersonSourcedID string `mapstructure:"person_sourcedid"`
	} `mapstructure:"https://purl.imsglobal.org/spec/lti/claim/lis"`

	Custom struct {
		LMSUserID string `mapstructure:"lms_user_id"`
	} `mapstructure:"https://purl.imsglobal.org/spec/lti/claim/custom"`

	LaunchPresentation struct {
		ReturnURL string `mapstructure:"return_url"`
	} `mapstructure:"https://purl.imsglobal.org/spec/lti/claim/launch_presentation"`

	DeepLinking struct {
		ReturnURL string `mapstructure:"deep_link_return_url"`
		Data      string `mapstructure:"data"`
	} `mapstructure:"https://purl.imsglobal.org/spec/lti-dl/claim/deep_linking_settings"`
}

func decodeLaunch(c Claims) (launchClaims, error) {
	var lc launchClaims
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &lc,
	})
	if err != nil {
		return lc, err
	}
	if err := dec.Decode(map[string]any(c)); err != nil {
		return lc, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return lc, nil
}

// Authenticator turns a callback id_token into an Identity.
type Authenticator struct {
	Validator    *Validator
	JWKSEndpoint string
	Audience     string
	Verify       bool
}

func (a *Authenticator) Authenticate(ctx context.Context, idToken string) (*Identity, error) {
	claims, err := a.Validator.Validate(ctx, idToken, a.JWKSEndpoint, a.Audience, a.Verify)
	if err != nil {
		return nil, err
	}
	id, err := IdentityFromClaims(claims)
	if err != nil {
		return nil, err
	}
	logger.C(ctx).Debug().
		Str("user", id.Username).
		Str("role", string(id.Role)).
		Str("course", id.CourseID).
		Msg("lti launch authenticated")
	return id, nil
}

// IdentityFromClaims maps validated claims to an Identity.
func IdentityFromClaims(c Claims) (*Identity, error) {
	lc, err := decodeLaunch(c)
	if err != nil {
		return nil, err
	}
	username := resolveUsername(lc)
	if username == "" {
		return nil, ErrUsernameUnresolved
	}

	var courseID string
	if lc.Context.Label != "" {
		courseID = normalize.MustFormat(lc.Context.Label)
	}

	lmsUserID := lc.Subject
	if lmsUserID == "" {
		lmsUserID = username
	}

	return &Identity{
		Username:          username,
		Role:              RoleFromClaims(lc.Roles),
		CourseID:          courseID,
		LMSUserID:         lmsUserID,
		LaunchReturnURL:   lc.LaunchPresentation.ReturnURL,
		Nonce:             lc.Nonce,
		DeepLinkReturnURL: lc.DeepLinking.ReturnURL,
		DeepLinkData:      lc.DeepLinking.Data,
		DeploymentID:      lc.DeploymentID,
		PlatformIssuer:    lc.Issuer,
	}, nil
}

// resolveUsername walks the username sources in priority order. The custom
// lms_user_id is an opaque platform id and is used verbatim.
func resolveUsername(lc launchClaims) string {
	if lc.Email != "" {
		if u, err := normalize.EmailToUsername(lc.Email); err == nil && u != "" {
			return u
		}
	}
	if lc.Name != "" {
		return normalize.MustFormat(lc.Name)
	}
	if lc.GivenName != "" || lc.FamilyName != "" {
		return normalize.MustFormat(strings.TrimSpace(lc.GivenName + " " + lc.FamilyName))
	}
	if lc.LIS.PersonSourcedID != "" {
		return strings.ToLower(lc.LIS.PersonSourcedID)
	}
	return lc.Custom.LMSUserID
}

// RoleFromClaims defaults to Learner; the last recognized entry wins.
func RoleFromClaims(roles []string) Role {
	role := RoleLearner
	for _, r := range roles {
		switch {
		case strings.Contains(r, "Instructor"):
			role = RoleInstructor
		case strings.Contains(r, "Learner"), strings.Contains(r, "Student"):
			role = RoleLearner
		}
	}
	return role
}
