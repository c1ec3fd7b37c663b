package lti11

import (
	"net/http"
	"strings"

	"github.com/mind-engage/lti-hubsync/internal/logger"
	"github.com/mind-engage/lti-hubsync/internal/lti"
	"github.com/mind-engage/lti-hubsync/internal/metrics"
	"github.com/mind-engage/lti-hubsync/internal/normalize"
)

// LaunchHandler serves POST /hub/lti/launch.
type LaunchHandler struct {
	Validator *Validator
	Sessions  lti.SessionIssuer
	Metrics   *metrics.Metrics
}

// IdentityFromForm maps the launch parameters to a hub identity. Only the
// first entry of roles is considered.
func IdentityFromForm(form map[string][]string) (*lti.Identity, error) {
	get := func(k string) string {
		if v := form[k]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	roles := get("roles")
	if roles == "" {
		return nil, ErrMissingRole
	}
	first, _, _ := strings.Cut(roles, ",")

	username := get("ext_user_username")
	if username == "" {
		return nil, &MissingParamError{Name: "ext_user_username"}
	}
	id := &lti.Identity{
		Username:        username,
		Role:            lti.RoleFromClaims([]string{first}),
		LMSUserID:       get("user_id"),
		LaunchReturnURL: get("launch_presentation_return_url"),
	}
	if id.LMSUserID == "" {
		id.LMSUserID = username
	}
	if label := get("context_label"); label != "" {
		cid, err := normalize.FormatString(label)
		if err != nil {
			return nil, err
		}
		id.CourseID = cid
	}
	return id, nil
}

func (h *LaunchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.C(r.Context())
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	launchURL := lti.RequestProtocol(r) + "://" + r.Host + r.URL.RequestURI()
	if err := h.Validator.Validate(r.Context(), launchURL, r.PostForm); err != nil {
		log.Warn().Err(err).Str("consumer", r.PostForm.Get("oauth_consumer_key")).Msg("lti11 launch rejected")
		h.Metrics.Launch("1.1", "rejected")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	id, err := IdentityFromForm(r.PostForm)
	if err != nil {
		log.Warn().Err(err).Msg("lti11 launch incomplete")
		h.Metrics.Launch("1.1", "rejected")
		http.Error(w, "bad launch", http.StatusBadRequest)
		return
	}
	if err := h.Sessions.IssueSession(w, id); err != nil {
		log.Error().Err(err).Msg("issue hub session")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	h.Metrics.Launch("1.1", "ok")

	next := "/home"
	if custom := r.PostForm.Get("custom_next"); custom != "" {
		next = lti.SanitizeNextURL(custom)
	}
	log.Info().Str("user", id.Username).Str("role", string(id.Role)).Msg("lti11 user logged in")
	http.Redirect(w, r, next, http.StatusFound)
}
