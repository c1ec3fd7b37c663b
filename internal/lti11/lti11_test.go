package lti11

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/lti-hubsync/internal/lti"
)

const launchURL = "https://hub.example/hub/lti/launch"

func TestBaseStringRFC5849Example(t *testing.T) {
	form := url.Values{
		"c2":                     {""},
		"a3":                     {"2 q"},
		"oauth_consumer_key":     {"9djdj82h48djs9d2"},
		"oauth_token":            {"kkk9d7dh3k39sjv7"},
		"oauth_signature_method": {"HMAC-SHA1"},
		"oauth_timestamp":        {"137131201"},
		"oauth_nonce":            {"7d8f3e4a"},
		"oauth_signature":        {"ignored"},
	}
	got, err := BaseString("post", "http://EXAMPLE.com:80/request?b5=%3D%253D&a3=a&c%40=&a2=r%20b", form)
	require.NoError(t, err)
	want := "POST&http%3A%2F%2Fexample.com%2Frequest&a2%3Dr%2520b%26a3%3D2%2520q%26a3%3Da%26b5%3D%253D%25253D%26c%2540%3D%26c2%3D%26oauth_consumer_key%3D9djdj82h48djs9d2%26oauth_nonce%3D7d8f3e4a%26oauth_signature_method%3DHMAC-SHA1%26oauth_timestamp%3D137131201%26oauth_token%3Dkkk9d7dh3k39sjv7"
	assert.Equal(t, want, got)
}

func TestPercentEncode(t *testing.T) {
	assert.Equal(t, "Ladies%20%2B%20Gentlemen", percentEncode("Ladies + Gentlemen"))
	assert.Equal(t, "An%20encoded%20string%21", percentEncode("An encoded string!"))
	assert.Equal(t, "Dogs%2C%20Cats%20%26%20Mice", percentEncode("Dogs, Cats & Mice"))
	assert.Equal(t, "-._~", percentEncode("-._~"))
	assert.Equal(t, "%E2%98%83", percentEncode("☃"))
}

func signedLaunch(t *testing.T, secret string, ts time.Time, nonce string) url.Values {
	t.Helper()
	form := url.Values{
		"oauth_consumer_key":     {"moodle"},
		"oauth_signature_method": {"HMAC-SHA1"},
		"oauth_timestamp":        {strconv.FormatInt(ts.Unix(), 10)},
		"oauth_nonce":            {nonce},
		"oauth_version":          {"1.0"},
		"lti_message_type":       {"basic-lti-launch-request"},
		"roles":                  {"Instructor,Learner"},
		"ext_user_username":      {"teacher1"},
		"user_id":                {"42"},
		"context_label":          {"Intro 101"},
	}
	base, err := BaseString(http.MethodPost, launchURL, form)
	require.NoError(t, err)
	form.Set("oauth_signature", SignHMACSHA1(base, secret, ""))
	return form
}

func newTestValidator(now time.Time) *Validator {
	v := NewValidator(map[string]string{"moodle": "s3cret"}, nil)
	v.started = now.Add(-time.Minute)
	v.now = func() time.Time { return now }
	return v
}

func TestValidateAcceptsSignedLaunchOnce(t *testing.T) {
	now := time.Now()
	v := newTestValidator(now)
	form := signedLaunch(t, "s3cret", now.Add(-5*time.Second), "n-1")

	require.NoError(t, v.Validate(context.Background(), launchURL, form))
	assert.ErrorIs(t, v.Validate(context.Background(), launchURL, form), ErrNonceReused)
}

type ttlStore struct {
	seen map[string]time.Duration
}

func (s *ttlStore) Use(_ context.Context, kind, value string, ttl time.Duration) (bool, error) {
	k := kind + "|" + value
	if _, ok := s.seen[k]; ok {
		return false, nil
	}
	s.seen[k] = ttl
	return true, nil
}

func TestValidateFutureTimestamps(t *testing.T) {
	now := time.Now()
	ctx := context.Background()

	t.Run("beyond skew", func(t *testing.T) {
		form := signedLaunch(t, "s3cret", now.Add(time.Hour), "fut-1")
		assert.ErrorIs(t, newTestValidator(now).Validate(ctx, launchURL, form), ErrFutureTimestamp)
	})

	t.Run("nonce kept while timestamp is valid", func(t *testing.T) {
		store := &ttlStore{seen: map[string]time.Duration{}}
		v := newTestValidator(now)
		v.Replay = store
		v.Skew = 5 * time.Minute
		ts := now.Add(4 * time.Minute)
		require.NoError(t, v.Validate(ctx, launchURL, signedLaunch(t, "s3cret", ts, "fut-2")))
		require.Len(t, store.seen, 1)
		for _, ttl := range store.seen {
			assert.GreaterOrEqual(t, ttl, ts.Add(v.Skew).Sub(now))
		}
	})
}

func TestValidateBadSignatureKeepsNonce(t *testing.T) {
	now := time.Now()
	ctx := context.Background()
	v := newTestValidator(now)

	forged := signedLaunch(t, "guess", now, "shared")
	assert.ErrorIs(t, v.Validate(ctx, launchURL, forged), ErrBadSignature)
	assert.NoError(t, v.Validate(ctx, launchURL, signedLaunch(t, "s3cret", now, "shared")))
}

func TestValidateRejects(t *testing.T) {
	now := time.Now()
	ctx := context.Background()

	t.Run("wrong secret", func(t *testing.T) {
		err := newTestValidator(now).Validate(ctx, launchURL, signedLaunch(t, "other", now, "a"))
		assert.ErrorIs(t, err, ErrBadSignature)
	})
	t.Run("tampered", func(t *testing.T) {
		form := signedLaunch(t, "s3cret", now, "b")
		form.Set("ext_user_username", "admin")
		assert.ErrorIs(t, newTestValidator(now).Validate(ctx, launchURL, form), ErrBadSignature)
	})
	t.Run("different url", func(t *testing.T) {
		form := signedLaunch(t, "s3cret", now, "c")
		assert.ErrorIs(t, newTestValidator(now).Validate(ctx, "https://other.example/hub/lti/launch", form), ErrBadSignature)
	})
	t.Run("too old", func(t *testing.T) {
		form := signedLaunch(t, "s3cret", now.Add(-31*time.Second), "d")
		assert.ErrorIs(t, newTestValidator(now).Validate(ctx, launchURL, form), ErrStaleTimestamp)
	})
	t.Run("before start", func(t *testing.T) {
		v := newTestValidator(now)
		v.started = now
		form := signedLaunch(t, "s3cret", now.Add(-2*time.Second), "e")
		assert.ErrorIs(t, v.Validate(ctx, launchURL, form), ErrStaleTimestamp)
	})
	t.Run("unknown consumer", func(t *testing.T) {
		form := signedLaunch(t, "s3cret", now, "f")
		form.Set("oauth_consumer_key", "canvas")
		assert.ErrorIs(t, newTestValidator(now).Validate(ctx, launchURL, form), ErrUnknownConsumer)
	})
	for _, p := range []string{"oauth_consumer_key", "oauth_signature", "oauth_timestamp", "oauth_nonce"} {
		t.Run("missing "+p, func(t *testing.T) {
			form := signedLaunch(t, "s3cret", now, "g")
			form.Del(p)
			var mp *MissingParamError
			require.True(t, errors.As(newTestValidator(now).Validate(ctx, launchURL, form), &mp))
			assert.Equal(t, p, mp.Name)
		})
	}
}

func TestIdentityFromForm(t *testing.T) {
	id, err := IdentityFromForm(url.Values{
		"roles":             {"Learner,Instructor"},
		"ext_user_username": {"student1"},
		"context_label":     {"Intro 101"},
	})
	require.NoError(t, err)
	assert.Equal(t, lti.RoleLearner, id.Role)
	assert.Equal(t, "student1", id.LMSUserID)
	assert.Equal(t, "intro_101", id.CourseID)

	_, err = IdentityFromForm(url.Values{"ext_user_username": {"x"}})
	assert.ErrorIs(t, err, ErrMissingRole)
}

type recordingSessions struct{ ids []*lti.Identity }

func (r *recordingSessions) IssueSession(_ http.ResponseWriter, id *lti.Identity) error {
	r.ids = append(r.ids, id)
	return nil
}

func TestLaunchHandler(t *testing.T) {
	now := time.Now()
	sessions := &recordingSessions{}
	h := &LaunchHandler{Validator: newTestValidator(now), Sessions: sessions}

	post := func(form url.Values, proto string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/hub/lti/launch", strings.NewReader(form.Encode()))
		req.Host = "hub.example"
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Forwarded-Proto", proto)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	form := signedLaunch(t, "s3cret", now, "h-1")
	form.Set("custom_next", "https://evil.example/tree/intro_101")
	base, err := BaseString(http.MethodPost, launchURL, form)
	require.NoError(t, err)
	form.Set("oauth_signature", SignHMACSHA1(base, "s3cret", ""))

	rec := post(form, "https,http")
	require.Equal(t, http.StatusFound, rec.Code, rec.Body.String())
	assert.Equal(t, "/tree/intro_101", rec.Header().Get("Location"))
	require.Len(t, sessions.ids, 1)
	assert.Equal(t, "teacher1", sessions.ids[0].Username)
	assert.Equal(t, lti.RoleInstructor, sessions.ids[0].Role)

	rec = post(signedLaunch(t, "s3cret", now, "h-2"), "https")
	assert.Equal(t, "/home", rec.Header().Get("Location"))

	rec = post(signedLaunch(t, "s3cret", now, "h-3"), "http")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
