// Package moodle talks to the Moodle web service API and turns its
// responses into the course and user records used by the sync engine.
package moodle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mind-engage/lti-hubsync/internal/logger"
)

const DefaultEndpoint = "/webservice/rest/server.php"

const (
	FuncGetCourses       = "core_course_get_courses"
	FuncGetEnrolledUsers = "core_enrol_get_enrolled_users"
)

// Functions lists what the external service must allow.
var Functions = []string{FuncGetCourses, FuncGetEnrolledUsers}

type Client struct {
	URL      string
	Token    string
	Endpoint string
	HTTP     *http.Client
}

func NewClient(apiURL, token, endpoint string, hc *http.Client) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{URL: strings.TrimRight(apiURL, "/"), Token: token, Endpoint: endpoint, HTTP: hc}
}

// Call invokes a web service function and decodes the JSON result into out.
// params may be a map or slice nesting; it is flattened to the key[0][sub]
// form Moodle expects.
func (c *Client) Call(ctx context.Context, function string, params map[string]any, out any) error {
	form := url.Values{}
	flatten(form, "", params)
	log := logger.C(ctx)
	log.Debug().Str("function", function).Int("params", len(form)).Msg("calling moodle")

	form.Set("wstoken", c.Token)
	form.Set("moodlewsrestformat", "json")
	form.Set("wsfunction", function)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL+c.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("moodle: %s: %w", function, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fmt.Errorf("moodle: %s: read body: %w", function, err)
	}
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("moodle: %s: http %d", function, resp.StatusCode)
	}
	return decodeResponse(function, body, out)
}

func decodeResponse(function string, body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return &APIError{Function: function, Body: string(body)}
	}
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var ex APIError
		if err := json.Unmarshal(trimmed, &ex); err == nil && ex.Exception != "" {
			if ex.Exception == "webservice_access_exception" {
				return &PermissionError{Function: function}
			}
			ex.Function = function
			return &ex
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("moodle: %s: decode: %w", function, err)
	}
	return nil
}

// flatten writes nested maps and slices as courses[0][id]=1 style keys.
func flatten(dst url.Values, prefix string, v any) {
	key := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "[" + k + "]"
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		vals := map[string]reflect.Value{}
		for _, k := range rv.MapKeys() {
			ks := fmt.Sprint(k.Interface())
			keys = append(keys, ks)
			vals[ks] = rv.MapIndex(k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flatten(dst, key(k), vals[k].Interface())
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			flatten(dst, key(strconv.Itoa(i)), rv.Index(i).Interface())
		}
	case reflect.Invalid:
		dst.Set(prefix, "")
	default:
		dst.Set(prefix, fmt.Sprint(v))
	}
}

// Courses returns every course visible to the token, the site course
// included.
func (c *Client) Courses(ctx context.Context) ([]RawCourse, error) {
	var out []RawCourse
	err := c.Call(ctx, FuncGetCourses, nil, &out)
	return out, err
}

func (c *Client) EnrolledUsers(ctx context.Context, courseID int) ([]RawUser, error) {
	var out []RawUser
	err := c.Call(ctx, FuncGetEnrolledUsers, map[string]any{"courseid": courseID}, &out)
	return out, err
}
