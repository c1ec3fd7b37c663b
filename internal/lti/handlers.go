package lti

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/lti-hubsync/internal/logger"
	"github.com/mind-engage/lti-hubsync/internal/metrics"
	"github.com/mind-engage/lti-hubsync/internal/replay"
)

// SessionIssuer establishes the hub session for an authenticated launch.
type SessionIssuer interface {
	IssueSession(w http.ResponseWriter, id *Identity) error
}

// Handlers implements the OIDC login and callback endpoints.
type Handlers struct {
	AuthorizeURL string
	CallbackURL  string

	States   *StateCodec
	Auth     *Authenticator
	Sessions SessionIssuer
	// Replay, when set, makes every login state single-use.
	Replay  replay.Store
	Metrics *metrics.Metrics
}

// Mount registers the login flow under r (mounted at /hub).
func (h *Handlers) Mount(r chi.Router) {
	r.Get("/oauth_login", h.Login)
	r.Post("/oauth_login", h.Login)
	r.Post("/oauth_callback", h.Callback)
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	args := make(map[string]string, len(r.Form))
	for k, v := range r.Form {
		if len(v) > 0 {
			args[k] = v[0]
		}
	}
	log := logger.C(r.Context())
	if _, err := ValidateLoginRequest(args); err != nil {
		log.Info().Err(err).Msg("lti13 login rejected")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	next := ResolveNextURL(args["next"], args["target_link_uri"])
	if raw := args["next"]; raw != "" && raw != next {
		log.Warn().Str("next", raw).Str("using", next).Msg("ignoring next url")
	}
	state, err := h.States.Encode(NewLoginState(next))
	if err != nil {
		log.Error().Err(err).Msg("encode login state")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, h.States.Cookie(state))

	q := url.Values{}
	q.Set("response_type", "id_token")
	q.Set("scope", "openid")
	q.Set("response_mode", "form_post")
	q.Set("prompt", "none")
	q.Set("client_id", args["client_id"])
	q.Set("login_hint", args["login_hint"])
	q.Set("lti_message_hint", args["lti_message_hint"])
	q.Set("nonce", Nonce(state))
	q.Set("redirect_uri", h.CallbackURL)
	q.Set("state", state)

	target := h.AuthorizeURL
	if u, err := url.Parse(target); err == nil {
		merged := u.Query()
		for k, v := range q {
			merged[k] = v
		}
		u.RawQuery = merged.Encode()
		target = u.String()
	}
	log.Debug().Str("client_id", args["client_id"]).Msg("redirecting to platform authorize url")
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.C(ctx)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}

	st, raw, err := h.checkState(ctx, r)
	if err != nil {
		log.Warn().Err(err).Msg("lti13 callback state mismatch")
		h.Metrics.Launch("1.3", "forbidden")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	id, err := h.Auth.Authenticate(ctx, r.PostForm.Get("id_token"))
	if err != nil || id == nil {
		log.Warn().Err(err).Msg("lti13 launch rejected")
		h.Metrics.Launch("1.3", "rejected")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if id.Nonce != "" && id.Nonce != Nonce(raw) {
		log.Warn().Msg("lti13 id_token nonce does not match login state")
		h.Metrics.Launch("1.3", "rejected")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if err := h.Sessions.IssueSession(w, id); err != nil {
		log.Error().Err(err).Msg("issue hub session")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	expired := h.States.Cookie("")
	expired.MaxAge = -1
	http.SetCookie(w, expired)
	h.Metrics.Launch("1.3", "ok")

	next := "/home"
	switch {
	case r.PostForm.Get("custom_next") != "":
		next = SanitizeNextURL(r.PostForm.Get("custom_next"))
	case st.NextURL != "":
		next = st.NextURL
	}
	log.Info().Str("user", id.Username).Str("next", next).Msg("lti13 user logged in")
	http.Redirect(w, r, next, http.StatusFound)
}

var errStateReused = errors.New("lti: login state already consumed")

func (h *Handlers) checkState(ctx context.Context, r *http.Request) (LoginState, string, error) {
	c, err := r.Cookie(StateCookieName)
	if err != nil {
		return LoginState{}, "", ErrInvalidState
	}
	if form := r.PostForm.Get("state"); form == "" || form != c.Value {
		return LoginState{}, "", ErrInvalidState
	}
	st, err := h.States.Decode(c.Value)
	if err != nil {
		return LoginState{}, "", err
	}
	if h.Replay != nil {
		ok, err := h.Replay.Use(ctx, "lti13_state", st.StateID, 24*time.Hour)
		if err != nil {
			return LoginState{}, "", err
		}
		if !ok {
			return LoginState{}, "", errStateReused
		}
	}
	return st, c.Value, nil
}
