package lti

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mind-engage/lti-hubsync/internal/logger"
)

// ToolJWKSHandler serves the tool's public key so the platform can verify
// client assertions and deep-linking responses. The PEM is read on every
// request so key rotation only needs a file swap.
type ToolJWKSHandler struct {
	KeyPath     string
	CacheMaxAge time.Duration
}

func (h *ToolJWKSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.C(r.Context())
	key, err := LoadPrivateKey(h.KeyPath)
	if err != nil {
		log.Error().Err(err).Str("path", h.KeyPath).Msg("tool jwks: cannot load private key")
		http.Error(w, "jwks: key unavailable", http.StatusInternalServerError)
		return
	}
	payload, err := json.Marshal(key.JWKS())
	if err != nil {
		http.Error(w, "jwks: marshal error", http.StatusInternalServerError)
		return
	}

	maxAge := h.CacheMaxAge
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	etag := computeETag(payload)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age="+strconv.Itoa(int(maxAge.Seconds())))
	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	_, _ = w.Write(payload)
}

func computeETag(b []byte) string {
	sum := sha256.Sum256(b)
	return `W/"` + base64.RawURLEncoding.EncodeToString(sum[:]) + `"`
}

var toolScopes = []string{
	"https://purl.imsglobal.org/spec/lti-ags/scope/lineitem",
	"https://purl.imsglobal.org/spec/lti-ags/scope/lineitem.readonly",
	"https://purl.imsglobal.org/spec/lti-ags/scope/result.readonly",
	"https://purl.imsglobal.org/spec/lti-ags/scope/score",
	"https://purl.imsglobal.org/spec/lti-nrps/scope/contextmembership.readonly",
}

// ToolConfigHandler returns the JSON used to register the tool with a
// platform. URLs are derived from the request host.
type ToolConfigHandler struct {
	Title       string
	Description string
}

type placement struct {
	Placement     string            `json:"placement"`
	MessageType   string            `json:"message_type"`
	WindowTarget  string            `json:"windowTarget,omitempty"`
	TargetLinkURI string            `json:"target_link_uri"`
	CustomFields  map[string]string `json:"custom_fields,omitempty"`
}

type toolConfig struct {
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	Scopes           []string          `json:"scopes"`
	Extensions       []toolExtension   `json:"extensions"`
	CustomFields     map[string]string `json:"custom_fields"`
	PublicJWKURL     string            `json:"public_jwk_url"`
	TargetLinkURI    string            `json:"target_link_uri"`
	OIDCInitiation   string            `json:"oidc_initiation_url"`
	DeepLinkingURL   string            `json:"deep_linking_url"`
	ToolRedirectURIs []string          `json:"redirect_uris"`
}

type toolExtension struct {
	Platform     string `json:"platform"`
	PrivacyLevel string `json:"privacy_level"`
	Settings     struct {
		Platform   string      `json:"platform"`
		Placements []placement `json:"placements"`
	} `json:"settings"`
}

var customFields = map[string]string{
	"email":       "$Person.email.primary",
	"lms_user_id": "$User.id",
}

func (h *ToolConfigHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	base := RequestProtocol(r) + "://" + r.Host + "/"
	title := h.Title
	if title == "" {
		title = "Notebook Hub"
	}
	desc := h.Description
	if desc == "" {
		desc = "Learning Tools Interoperability (LTI) v1.3 tool."
	}

	ext := toolExtension{Platform: "moodle", PrivacyLevel: "public"}
	ext.Settings.Platform = "moodle"
	ext.Settings.Placements = []placement{
		{
			Placement:     "course_navigation",
			MessageType:   MessageResourceLink,
			WindowTarget:  "_blank",
			TargetLinkURI: base,
			CustomFields:  customFields,
		},
		{
			Placement:     "assignment_selection",
			MessageType:   MessageDeepLinking,
			TargetLinkURI: base + "hub/file_select",
		},
	}

	cfg := toolConfig{
		Title:            title,
		Description:      desc,
		Scopes:           toolScopes,
		Extensions:       []toolExtension{ext},
		CustomFields:     customFields,
		PublicJWKURL:     base + "hub/lti13/jwks",
		TargetLinkURI:    base,
		OIDCInitiation:   base + "hub/oauth_login",
		DeepLinkingURL:   base + "hub/file_select",
		ToolRedirectURIs: []string{base + "hub/oauth_callback"},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cfg)
}

// RequestProtocol honours the first hop of X-Forwarded-Proto.
func RequestProtocol(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
