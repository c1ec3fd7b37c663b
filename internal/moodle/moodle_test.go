package moodle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten(t *testing.T) {
	form := url.Values{}
	flatten(form, "", map[string]any{
		"courses": []any{map[string]any{"id": 1, "name": "course1"}},
		"plain":   "x",
	})
	assert.Equal(t, "1", form.Get("courses[0][id]"))
	assert.Equal(t, "course1", form.Get("courses[0][name]"))
	assert.Equal(t, "x", form.Get("plain"))
	assert.Len(t, form, 3)
}

// fakeMoodle answers the two web service functions from fixed data.
type fakeMoodle struct {
	mu      sync.Mutex
	courses []map[string]any
	users   map[int][]map[string]any
	calls   []string
}

func (f *fakeMoodle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	f.calls = append(f.calls, r.PostForm.Get("wsfunction"))
	f.mu.Unlock()
	if r.PostForm.Get("wstoken") != "tok" || r.PostForm.Get("moodlewsrestformat") != "json" {
		_ = json.NewEncoder(w).Encode(map[string]any{"exception": "moodle_exception", "errorcode": "invalidtoken", "message": "Invalid token"})
		return
	}
	switch r.PostForm.Get("wsfunction") {
	case FuncGetCourses:
		_ = json.NewEncoder(w).Encode(f.courses)
	case FuncGetEnrolledUsers:
		id, _ := strconv.Atoi(r.PostForm.Get("courseid"))
		_ = json.NewEncoder(w).Encode(f.users[id])
	default:
		_ = json.NewEncoder(w).Encode(map[string]any{"exception": "webservice_access_exception", "errorcode": "accessexception", "message": "Access control exception"})
	}
}

func user(id int, username, email string, roles ...string) map[string]any {
	rs := make([]map[string]any, 0, len(roles))
	for _, r := range roles {
		rs = append(rs, map[string]any{"roleid": 1, "shortname": r})
	}
	return map[string]any{"id": id, "username": username, "fullname": "First " + username, "email": email, "roles": rs}
}

func newFake() *fakeMoodle {
	return &fakeMoodle{
		courses: []map[string]any{
			{"id": 1, "shortname": "Site", "displayname": "Site home", "categoryid": 0},
			{"id": 2, "shortname": "Intro 101", "displayname": "Intro to notebooks", "categoryid": 5},
			{"id": 3, "shortname": "2024-Stats", "displayname": "Statistics", "categoryid": 6},
			{"id": 4, "shortname": "Other", "displayname": "Other", "categoryid": 9},
		},
		users: map[int][]map[string]any{
			2: {
				user(10, "teacher", "teacher@example.com", "editingteacher"),
				user(11, "ta", "ta@example.com", "student", "teaching_assistant"),
				user(12, "alice", "alice@example.com", "student"),
				user(13, "ghost", "ghost@example.com"),
				user(14, "weird", "weird@example.com", "guest"),
			},
			3: {user(12, "alice", "alice@example.com", "student")},
		},
	}
}

func newTestLoader(t *testing.T, f *fakeMoodle) *Loader {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return &Loader{Client: NewClient(srv.URL, "tok", "", srv.Client()), BaseURL: "https://moodle.example/"}
}

func TestLoadWithCategories(t *testing.T) {
	l := newTestLoader(t, newFake())
	l.Categories = &Categories{JupyterHub: 5, NbGrader: 6}

	courses, err := l.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, courses, 2)

	intro := courses[0]
	assert.Equal(t, "intro_101", intro.CourseID)
	assert.False(t, intro.Grading)
	assert.Equal(t, "https://moodle.example/mod/lti/services.php/2/lineitems", intro.LMSLineItemsEndpoint)
	require.Len(t, intro.Instructors, 1)
	assert.Equal(t, "editingteacher", intro.Instructors[0].Role)
	require.Len(t, intro.Graders, 1)
	assert.Equal(t, "ta", intro.Graders[0].Username)
	require.Len(t, intro.Students, 1, "users without a known role are left out")
	assert.Equal(t, "First", intro.Students[0].FirstName)

	stats := courses[1]
	assert.Equal(t, "a_2024-stats", stats.CourseID)
	assert.True(t, stats.Grading)
	assert.Len(t, stats.Students, 1)
}

func TestLoadCoursesFilters(t *testing.T) {
	l := newTestLoader(t, newFake())
	l.Filters = []Filter{In("id", 2, 4), Eq("title", "Other")}
	courses, err := l.LoadCourses(context.Background())
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, 4, courses[0].ID)

	l.Filters = []Filter{{Field: "id"}}
	_, err = l.LoadCourses(context.Background())
	assert.ErrorIs(t, err, ErrEmptyFilter)

	l.Filters = []Filter{Eq("colour", "red")}
	_, err = l.LoadCourses(context.Background())
	var ufe *UnknownFieldError
	assert.True(t, errors.As(err, &ufe))
}

func TestCallErrors(t *testing.T) {
	f := newFake()
	srv := httptest.NewServer(f)
	defer srv.Close()
	ctx := context.Background()

	err := NewClient(srv.URL, "bad", "", srv.Client()).Call(ctx, FuncGetCourses, nil, nil)
	var ae *APIError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "invalidtoken", ae.ErrorCode)

	err = NewClient(srv.URL, "tok", "", srv.Client()).Call(ctx, "core_user_delete_users", nil, nil)
	var pe *PermissionError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "core_user_delete_users", pe.Function)

	html := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body>maintenance</body></html>"))
	}))
	defer html.Close()
	err = NewClient(html.URL, "tok", "", html.Client()).Call(ctx, FuncGetCourses, nil, nil)
	require.True(t, errors.As(err, &ae))
	assert.Contains(t, ae.Body, "maintenance")
}

func TestFormatUserNames(t *testing.T) {
	u, err := FormatUser(RawUser{ID: 1, Email: "Jane.Doe+lms@example.com", FirstName: "Jane", LastName: "Doe"})
	require.NoError(t, err)
	assert.Equal(t, "janedoe", u.Username)
	assert.Equal(t, "Jane", u.FirstName)

	u, err = FormatUser(RawUser{ID: 2, Email: "bob@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "bob", u.FirstName)
	assert.Equal(t, "", u.LastName)

	_, err = FormatUser(RawUser{ID: 3})
	assert.Error(t, err)
}

func TestCategoryRows(t *testing.T) {
	l := newTestLoader(t, newFake())
	rows, err := l.CategoryRows(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, CategoryRow{Title: "Intro to notebooks", CourseID: "intro_101", Category: 5}, rows[1])
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("id=2, 3")
	require.NoError(t, err)
	assert.Equal(t, Filter{Field: "id", Values: []string{"2", "3"}}, f)

	_, err = ParseFilter("nonsense")
	assert.Error(t, err)
}
