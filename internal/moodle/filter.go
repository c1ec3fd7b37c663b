package moodle

import (
	"fmt"
	"strconv"
	"strings"
)

// Filter keeps courses whose Field equals one of Values. Numeric fields are
// compared by their decimal form.
type Filter struct {
	Field  string
	Values []string
}

// Eq is the exact-match form of Filter.
func Eq(field string, value any) Filter {
	return Filter{Field: field, Values: []string{fmt.Sprint(value)}}
}

// In is the set-membership form of Filter.
func In(field string, values ...any) Filter {
	f := Filter{Field: field, Values: make([]string, 0, len(values))}
	for _, v := range values {
		f.Values = append(f.Values, fmt.Sprint(v))
	}
	return f
}

func courseField(c *Course, field string) (string, error) {
	switch strings.ToLower(field) {
	case "id":
		return strconv.Itoa(c.ID), nil
	case "course_id", "short_name", "shortname":
		return c.CourseID, nil
	case "title":
		return c.Title, nil
	case "category":
		return strconv.Itoa(c.Category), nil
	case "lms_lineitems_endpoint":
		return c.LMSLineItemsEndpoint, nil
	}
	return "", &UnknownFieldError{Field: field}
}

// Match reports whether c passes every filter.
func Match(c *Course, filters []Filter) (bool, error) {
	for _, f := range filters {
		if len(f.Values) == 0 {
			return false, fmt.Errorf("%w: %s", ErrEmptyFilter, f.Field)
		}
		got, err := courseField(c, f.Field)
		if err != nil {
			return false, err
		}
		found := false
		for _, v := range f.Values {
			if v == got {
				found = true
				break
			}
		}
		if !found {
			return false, nil
		}
	}
	return true, nil
}

// ParseFilter reads "field=v1,v2" as used on the command line.
func ParseFilter(s string) (Filter, error) {
	field, vals, ok := strings.Cut(s, "=")
	field = strings.TrimSpace(field)
	if !ok || field == "" {
		return Filter{}, fmt.Errorf("moodle: bad filter %q, want field=value[,value]", s)
	}
	f := Filter{Field: field}
	for _, v := range strings.Split(vals, ",") {
		if v = strings.TrimSpace(v); v != "" {
			f.Values = append(f.Values, v)
		}
	}
	if _, err := courseField(&Course{}, field); err != nil {
		return Filter{}, err
	}
	return f, nil
}
