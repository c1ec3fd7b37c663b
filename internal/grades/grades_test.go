package grades

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/lti-hubsync/internal/gradebook"
	"github.com/mind-engage/lti-hubsync/internal/lti"
)

type platform struct {
	srv      *httptest.Server
	key      *rsa.PublicKey
	noToken  bool
	mu       sync.Mutex
	scores   []Score
	ctypes   []string
	paths    []string
	tokenReq map[string]string
}

func newPlatform(t *testing.T, pub *rsa.PublicKey) *platform {
	p := &platform{key: pub}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		p.mu.Lock()
		p.tokenReq = map[string]string{}
		for k := range r.PostForm {
			p.tokenReq[k] = r.PostForm.Get(k)
		}
		p.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if p.noToken {
			_, _ = w.Write([]byte(`{"token_type":"Bearer"}`))
			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/lineitems", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		base := "http://" + r.Host
		if r.URL.Query().Get("page") == "2" {
			_ = json.NewEncoder(w).Encode([]LineItem{{ID: base + "/lineitems/7?type_id=1", Label: "Lab 1", ScoreMaximum: 10}})
			return
		}
		w.Header().Set("Link", `<`+base+`/lineitems?page=2>; rel="next", <`+base+`/lineitems?page=1>; rel="first"`)
		_ = json.NewEncoder(w).Encode([]LineItem{{ID: base + "/lineitems/1?type_id=1", Label: "Quiz"}})
	})
	mux.HandleFunc("/lineitems/7/scores", func(w http.ResponseWriter, r *http.Request) {
		var sc Score
		require.NoError(t, json.NewDecoder(r.Body).Decode(&sc))
		p.mu.Lock()
		p.scores = append(p.scores, sc)
		p.ctypes = append(p.ctypes, r.Header.Get("Content-Type"))
		p.paths = append(p.paths, r.URL.String())
		p.mu.Unlock()
		if sc.UserID == "13" {
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	})
	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

type fixture struct {
	sender *Sender
	plat   *platform
	book   *gradebook.SQLStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	key, err := lti.NewToolKey(priv)
	require.NoError(t, err)
	plat := newPlatform(t, &priv.PublicKey)

	ctx := context.Background()
	book, err := gradebook.Open(ctx, gradebook.Path(t.TempDir(), "intro_101"), "intro_101")
	require.NoError(t, err)
	t.Cleanup(func() { _ = book.Close() })
	require.NoError(t, book.UpdateCourse(ctx, plat.srv.URL+"/lineitems"))

	books := func(_ context.Context, cid string) (Book, error) {
		if cid != "intro_101" {
			return nil, errors.New("no such course")
		}
		return book, nil
	}
	s := NewSender("client-1", plat.srv.URL+"/token", key, books, plat.srv.Client())
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return &fixture{sender: s, plat: plat, book: book}
}

func (f *fixture) grade(t *testing.T, student, lmsID string, score float64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.book.UpsertStudent(ctx, gradebook.Student{ID: student, LMSUserID: lmsID}))
	require.NoError(t, f.book.SetGrade(ctx, "lab_1", student, score))
}

func TestSendGrades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.book.RegisterAssignment(ctx, "lab_1", 20)
	require.NoError(t, err)
	f.grade(t, "alice", "12", 7.5)
	f.grade(t, "bob", "13", 9)
	f.grade(t, "carol", "14", 10)

	rep, err := f.sender.SendGrades(ctx, "intro_101", "lab_1")
	require.NoError(t, err)
	assert.Equal(t, Report{Posted: 2, Failed: 1}, rep)

	require.Len(t, f.plat.scores, 3)
	first := f.plat.scores[0]
	assert.Equal(t, "12", first.UserID)
	assert.Equal(t, 7.5, first.ScoreGiven)
	assert.Equal(t, 10.0, first.ScoreMaximum, "line item maximum wins")
	assert.Equal(t, "FullyGraded", first.GradingProgress)
	assert.Equal(t, "Completed", first.ActivityProgress)
	assert.Equal(t, "2026-03-01T12:00:00Z", first.Timestamp)
	assert.Equal(t, "/lineitems/7/scores", f.plat.paths[0])
	assert.Equal(t, "application/vnd.ims.lis.v1.score+json", f.plat.ctypes[0])

	req := f.plat.tokenReq
	assert.Equal(t, "client_credentials", req["grant_type"])
	assert.Equal(t, AssertionType, req["client_assertion_type"])
	assert.Equal(t, strings.Join(Scopes, " "), req["scope"])

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(req["client_assertion"], claims, func(*jwt.Token) (any, error) {
		return f.plat.key, nil
	}, jwt.WithTimeFunc(f.sender.now))
	require.NoError(t, err)
	assert.Equal(t, "client-1", claims.Issuer)
	assert.Equal(t, "client-1", claims.Subject)
	assert.Equal(t, jwt.ClaimStrings{f.plat.srv.URL + "/token"}, claims.Audience)
	assert.Equal(t, lti.AssertionLifetime, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
	assert.NotEmpty(t, claims.ID)

	raw, err := json.Marshal(first)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"comment"`)
}

func TestSendGradesErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown assignment", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.sender.SendGrades(ctx, "intro_101", "nope")
		var missing *MissingInfoError
		assert.ErrorAs(t, err, &missing)
	})

	t.Run("no grades", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.book.RegisterAssignment(ctx, "lab_1", 10)
		require.NoError(t, err)
		_, err = f.sender.SendGrades(ctx, "intro_101", "lab_1")
		assert.ErrorIs(t, err, ErrAssignmentWithoutGrades)
		assert.Nil(t, f.plat.tokenReq, "no token requested")
	})

	t.Run("missing access token", func(t *testing.T) {
		f := newFixture(t)
		f.plat.noToken = true
		_, err := f.book.RegisterAssignment(ctx, "lab_1", 10)
		require.NoError(t, err)
		f.grade(t, "alice", "12", 5)
		_, err = f.sender.SendGrades(ctx, "intro_101", "lab_1")
		var crit *CriticalError
		assert.ErrorAs(t, err, &crit)
	})

	t.Run("no matching line item", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.book.RegisterAssignment(ctx, "final", 10)
		require.NoError(t, err)
		require.NoError(t, f.book.UpsertStudent(ctx, gradebook.Student{ID: "alice", LMSUserID: "12"}))
		require.NoError(t, f.book.SetGrade(ctx, "final", "alice", 5))
		_, err = f.sender.SendGrades(ctx, "intro_101", "final")
		var missing *MissingInfoError
		assert.ErrorAs(t, err, &missing)
	})

	t.Run("every post rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.book.RegisterAssignment(ctx, "lab_1", 10)
		require.NoError(t, err)
		f.grade(t, "bob", "13", 4)
		rep, err := f.sender.SendGrades(ctx, "intro_101", "lab_1")
		assert.ErrorIs(t, err, ErrNothingPosted)
		assert.Equal(t, Report{Failed: 1}, rep)
	})

	t.Run("unknown course", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.sender.SendGrades(ctx, "other", "lab_1")
		var crit *CriticalError
		assert.ErrorAs(t, err, &crit)
	})
}

func TestNextLinkAndMatch(t *testing.T) {
	h := http.Header{}
	h.Add("Link", `<https://lms.example/li?page=3>; rel="last", </li?page=2>; rel="next"`)
	assert.Equal(t, "https://lms.example/li?page=2", nextLink(h, "https://lms.example/li?page=1"))
	assert.Empty(t, nextLink(http.Header{}, "https://lms.example/li"))

	assert.Equal(t, "https://lms.example/li/7/scores", ScoresURL("https://lms.example/li/7?type_id=1"))

	items := []LineItem{{ID: "a", Label: "Homework ONE"}, {ID: "b", Label: "Lab 2"}}
	it, ok := MatchLineItem(items, "homework one")
	require.True(t, ok)
	assert.Equal(t, "a", it.ID)
	it, ok = MatchLineItem(items, "lab_2")
	require.True(t, ok)
	assert.Equal(t, "b", it.ID)
	_, ok = MatchLineItem(items, "lab 3")
	assert.False(t, ok)
}

type stubSender struct{ err error }

func (s stubSender) SendGrades(context.Context, string, string) (Report, error) {
	return Report{Posted: 1}, s.err
}

func TestHandler(t *testing.T) {
	cases := []struct {
		err  error
		code int
		body string
	}{
		{nil, http.StatusOK, `"success":true`},
		{&CriticalError{Msg: "x"}, http.StatusBadRequest, msgCritical},
		{ErrAssignmentWithoutGrades, http.StatusBadRequest, msgNoGrades},
		{&MissingInfoError{Msg: "x"}, http.StatusBadRequest, msgMissingInfo},
		{ErrNothingPosted, http.StatusBadRequest, msgFailed},
		{errors.New("other"), http.StatusBadRequest, msgFailed},
	}
	for _, tc := range cases {
		r := chi.NewRouter()
		r.Method(http.MethodPost, "/hub"+Route, &Handler{Sender: stubSender{err: tc.err}})
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hub/grades/intro_101/lab_1", nil))
		assert.Equal(t, tc.code, rec.Code)
		assert.Contains(t, rec.Body.String(), tc.body)
	}
}
