package lti

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedToken           = errors.New("lti: malformed id_token")
	ErrSignatureInvalid         = errors.New("lti: id_token signature invalid")
	ErrAudienceMismatch         = errors.New("lti: id_token audience mismatch")
	ErrTokenExpired             = errors.New("lti: id_token expired")
	ErrKeysUnavailable          = errors.New("lti: platform jwks unavailable")
	ErrMissingContextLabel      = errors.New("lti: context claim has an empty label")
	ErrMissingResourceLinkID    = errors.New("lti: resource_link claim has an empty id")
	ErrMissingDeepLinkReturnURL = errors.New("lti: deep_linking_settings claim has an empty deep_link_return_url")
	ErrUsernameUnresolved       = errors.New("lti: unable to resolve a username from the launch")
	ErrInvalidState             = errors.New("lti: invalid or missing login state")

	ErrKeyEnvironment = errors.New("lti: LTI13_PRIVATE_KEY is not set")
	ErrKeyPermission  = errors.New("lti: private key file is not readable")
	ErrInvalidKey     = errors.New("lti: private key is not an RSA PEM key")
)

type NoMatchingKeyError struct{ KID string }

func (e *NoMatchingKeyError) Error() string {
	return fmt.Sprintf("lti: no key in platform jwks matches kid %q", e.KID)
}

type MissingClaimError struct{ Name string }

func (e *MissingClaimError) Error() string {
	return fmt.Sprintf("lti: required claim %s not included in request", e.Name)
}

type UnsupportedVersionError struct{ Got any }

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("lti: incorrect value %v for version claim", e.Got)
}

type UnsupportedMessageTypeError struct{ Got any }

func (e *UnsupportedMessageTypeError) Error() string {
	return fmt.Sprintf("lti: incorrect value %v for message_type claim", e.Got)
}

type MissingLoginParamError struct{ Name string }

func (e *MissingLoginParamError) Error() string {
	return fmt.Sprintf("lti: required login arg %s missing or empty", e.Name)
}
