package lti

// Claim URIs used by launches.
const (
	ClaimPrefix   = "https://purl.imsglobal.org/spec/lti/claim/"
	DLClaimPrefix = "https://purl.imsglobal.org/spec/lti-dl/claim/"

	ClaimMessageType        = ClaimPrefix + "message_type"
	ClaimVersion            = ClaimPrefix + "version"
	ClaimDeploymentID       = ClaimPrefix + "deployment_id"
	ClaimTargetLinkURI      = ClaimPrefix + "target_link_uri"
	ClaimRoles              = ClaimPrefix + "roles"
	ClaimResourceLink       = ClaimPrefix + "resource_link"
	ClaimContext            = ClaimPrefix + "context"
	ClaimLIS                = ClaimPrefix + "lis"
	ClaimCustom             = ClaimPrefix + "custom"
	ClaimLaunchPresentation = ClaimPrefix + "launch_presentation"
	ClaimDeepLinkSettings   = DLClaimPrefix + "deep_linking_settings"
	ClaimContentItems       = DLClaimPrefix + "content_items"
	ClaimDLData             = DLClaimPrefix + "data"

	MessageResourceLink        = "LtiResourceLinkRequest"
	MessageDeepLinking         = "LtiDeepLinkingRequest"
	MessageDeepLinkingResponse = "LtiDeepLinkingResponse"
	Version                    = "1.3.0"
)

// Claims is a decoded id_token payload keyed by claim name.
type Claims map[string]any

// GeneralRequiredClaims must be present in every launch, in check order.
var GeneralRequiredClaims = []string{
	"iss",
	"aud",
	"sub",
	"exp",
	"iat",
	"nonce",
	ClaimMessageType,
	ClaimVersion,
	ClaimDeploymentID,
	ClaimTargetLinkURI,
	ClaimRoles,
}

// ResourceLinkRequiredClaims applies to LtiResourceLinkRequest launches.
var ResourceLinkRequiredClaims = []string{ClaimMessageType, ClaimResourceLink}

// DeepLinkingRequiredClaims applies to LtiDeepLinkingRequest launches.
var DeepLinkingRequiredClaims = []string{ClaimMessageType, ClaimVersion, ClaimDeepLinkSettings}

// LoginRequestParams are required, non-empty, on the OIDC login initiation.
var LoginRequestParams = []string{"client_id", "login_hint", "lti_message_hint", "target_link_uri"}

func (c Claims) String(name string) string {
	s, _ := c[name].(string)
	return s
}

func (c Claims) Object(name string) map[string]any {
	m, _ := c[name].(map[string]any)
	return m
}

// ValidateLaunchRequest checks a decoded payload against the claim sets.
// The first failure is returned.
func ValidateLaunchRequest(c Claims) (bool, error) {
	for _, name := range GeneralRequiredClaims {
		if _, ok := c[name]; !ok {
			return false, &MissingClaimError{Name: name}
		}
	}
	if c.String(ClaimVersion) != Version {
		return false, &UnsupportedVersionError{Got: c[ClaimVersion]}
	}
	if ctx, ok := c[ClaimContext]; ok && ctx != nil {
		m, _ := ctx.(map[string]any)
		if label, _ := m["label"].(string); label == "" {
			return false, ErrMissingContextLabel
		}
	}

	switch c.String(ClaimMessageType) {
	case MessageDeepLinking:
		for _, name := range DeepLinkingRequiredClaims {
			if _, ok := c[name]; !ok {
				return false, &MissingClaimError{Name: name}
			}
		}
		if u, _ := c.Object(ClaimDeepLinkSettings)["deep_link_return_url"].(string); u == "" {
			return false, ErrMissingDeepLinkReturnURL
		}
	case MessageResourceLink:
		for _, name := range ResourceLinkRequiredClaims {
			if _, ok := c[name]; !ok {
				return false, &MissingClaimError{Name: name}
			}
		}
		if id, _ := c.Object(ClaimResourceLink)["id"].(string); id == "" {
			return false, ErrMissingResourceLinkID
		}
	default:
		return false, &UnsupportedMessageTypeError{Got: c[ClaimMessageType]}
	}
	return true, nil
}

// ValidateLoginRequest checks step one of the OIDC flow.
func ValidateLoginRequest(args map[string]string) (bool, error) {
	for _, p := range LoginRequestParams {
		if args[p] == "" {
			return false, &MissingLoginParamError{Name: p}
		}
	}
	return true, nil
}
