package lti

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/lti-hubsync/internal/replay"
)

type fakeSessions struct{ got []*Identity }

func (f *fakeSessions) IssueSession(w http.ResponseWriter, id *Identity) error {
	f.got = append(f.got, id)
	http.SetCookie(w, &http.Cookie{Name: "hub_session", Value: id.Username})
	return nil
}

func newTestHandlers(t *testing.T, p *platform) (*Handlers, *fakeSessions, http.Handler) {
	t.Helper()
	sessions := &fakeSessions{}
	h := &Handlers{
		AuthorizeURL: "https://moodle.example/mod/lti/auth.php",
		CallbackURL:  "https://hub.example/hub/oauth_callback",
		States:       NewStateCodec([]byte("state-secret"), time.Hour),
		Auth: &Authenticator{
			Validator:    NewValidator(NewJWKSFetcher(p.srv.Client(), 0, nil)),
			JWKSEndpoint: p.jwksURL(),
			Audience:     testClientID,
			Verify:       true,
		},
		Sessions: sessions,
		Replay:   replay.NewMemory(0),
	}
	r := chi.NewRouter()
	r.Route("/hub", h.Mount)
	return h, sessions, r
}

func loginForm(next string) url.Values {
	f := url.Values{}
	f.Set("iss", testIssuer)
	f.Set("client_id", testClientID)
	f.Set("login_hint", "185")
	f.Set("lti_message_hint", "msg-hint")
	f.Set("target_link_uri", "https://hub.example/hub/file_select")
	if next != "" {
		f.Set("next", next)
	}
	return f
}

func postForm(router http.Handler, path string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func stateCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == StateCookieName {
			return c
		}
	}
	t.Fatal("state cookie not set")
	return nil
}

func TestLoginRedirectsToPlatform(t *testing.T) {
	p := newPlatform(t)
	_, _, router := newTestHandlers(t, p)

	rec := postForm(router, "/hub/oauth_login", loginForm(""))
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "moodle.example", loc.Host)
	q := loc.Query()
	ck := stateCookie(t, rec)

	assert.Equal(t, "id_token", q.Get("response_type"))
	assert.Equal(t, "openid", q.Get("scope"))
	assert.Equal(t, "form_post", q.Get("response_mode"))
	assert.Equal(t, "none", q.Get("prompt"))
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, "185", q.Get("login_hint"))
	assert.Equal(t, "msg-hint", q.Get("lti_message_hint"))
	assert.Equal(t, "https://hub.example/hub/oauth_callback", q.Get("redirect_uri"))
	assert.Equal(t, ck.Value, q.Get("state"))
	assert.Equal(t, Nonce(ck.Value), q.Get("nonce"))
	assert.True(t, ck.HttpOnly)
	assert.True(t, ck.Secure)
}

func TestLoginRejectsMissingParam(t *testing.T) {
	p := newPlatform(t)
	_, _, router := newTestHandlers(t, p)
	f := loginForm("")
	f.Del("lti_message_hint")

	rec := postForm(router, "/hub/oauth_login", f)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "lti_message_hint")
}

func TestCallbackEstablishesSession(t *testing.T) {
	p := newPlatform(t)
	_, sessions, router := newTestHandlers(t, p)

	login := postForm(router, "/hub/oauth_login", loginForm("https://evil.example/user-redirect/lab"))
	ck := stateCookie(t, login)

	claims := resourceLinkClaims()
	claims["nonce"] = Nonce(ck.Value)
	form := url.Values{"state": {ck.Value}, "id_token": {p.sign(t, claims)}}

	rec := postForm(router, "/hub/oauth_callback", form, ck)
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, "/user-redirect/lab", rec.Header().Get("Location"))
	require.Len(t, sessions.got, 1)
	assert.Equal(t, "foo", sessions.got[0].Username)
	assert.Equal(t, "intro_101", sessions.got[0].CourseID)

	// the same state cannot be replayed
	rec = postForm(router, "/hub/oauth_callback", form, ck)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCallbackCustomNextAndDefault(t *testing.T) {
	p := newPlatform(t)
	h, _, router := newTestHandlers(t, p)

	st, err := h.States.Encode(NewLoginState(""))
	require.NoError(t, err)
	ck := h.States.Cookie(st)
	claims := resourceLinkClaims()
	claims["nonce"] = Nonce(st)

	form := url.Values{"state": {st}, "id_token": {p.sign(t, claims)}}
	rec := postForm(router, "/hub/oauth_callback", form, ck)
	assert.Equal(t, "/home", rec.Header().Get("Location"))

	st2, err := h.States.Encode(NewLoginState("/lab"))
	require.NoError(t, err)
	claims["nonce"] = Nonce(st2)
	form = url.Values{"state": {st2}, "id_token": {p.sign(t, claims)}, "custom_next": {"https://x.example/tree/intro"}}
	rec = postForm(router, "/hub/oauth_callback", form, h.States.Cookie(st2))
	assert.Equal(t, "/tree/intro", rec.Header().Get("Location"))
}

func TestCallbackForbidden(t *testing.T) {
	p := newPlatform(t)
	h, sessions, router := newTestHandlers(t, p)
	st, err := h.States.Encode(NewLoginState("/lab"))
	require.NoError(t, err)
	good := resourceLinkClaims()
	good["nonce"] = Nonce(st)

	t.Run("state mismatch", func(t *testing.T) {
		form := url.Values{"state": {"something-else"}, "id_token": {p.sign(t, good)}}
		rec := postForm(router, "/hub/oauth_callback", form, h.States.Cookie(st))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("no cookie", func(t *testing.T) {
		form := url.Values{"state": {st}, "id_token": {p.sign(t, good)}}
		rec := postForm(router, "/hub/oauth_callback", form)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("invalid launch", func(t *testing.T) {
		st, err := h.States.Encode(NewLoginState(""))
		require.NoError(t, err)
		bad := resourceLinkClaims()
		bad["nonce"] = Nonce(st)
		bad[ClaimVersion] = "1.1"
		form := url.Values{"state": {st}, "id_token": {p.sign(t, bad)}}
		rec := postForm(router, "/hub/oauth_callback", form, h.States.Cookie(st))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	t.Run("nonce mismatch", func(t *testing.T) {
		st, err := h.States.Encode(NewLoginState(""))
		require.NoError(t, err)
		form := url.Values{"state": {st}, "id_token": {p.sign(t, resourceLinkClaims())}}
		rec := postForm(router, "/hub/oauth_callback", form, h.States.Cookie(st))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
	assert.Empty(t, sessions.got)
}
