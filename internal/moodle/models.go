package moodle

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mind-engage/lti-hubsync/internal/normalize"
)

var validate = validator.New()

// RawCourse is one element of core_course_get_courses.
type RawCourse struct {
	ID          int    `json:"id" validate:"gt=0"`
	ShortName   string `json:"shortname" validate:"required"`
	FullName    string `json:"fullname"`
	DisplayName string `json:"displayname"`
	CategoryID  int    `json:"categoryid"`
}

type RawRole struct {
	RoleID    int    `json:"roleid"`
	ShortName string `json:"shortname"`
}

// RawUser is one element of core_enrol_get_enrolled_users.
type RawUser struct {
	ID        int       `json:"id" validate:"gt=0"`
	Username  string    `json:"username"`
	FullName  string    `json:"fullname"`
	FirstName string    `json:"firstname"`
	LastName  string    `json:"lastname"`
	Email     string    `json:"email" validate:"required"`
	Roles     []RawRole `json:"roles"`
}

type User struct {
	ID        int      `json:"id" yaml:"id"`
	Username  string   `json:"username" yaml:"username"`
	Email     string   `json:"email" yaml:"email"`
	FirstName string   `json:"first_name" yaml:"first_name"`
	LastName  string   `json:"last_name" yaml:"last_name"`
	Roles     []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	// Role is the highest ranked entry of Roles.
	Role string `json:"role,omitempty" yaml:"role,omitempty"`
}

type Course struct {
	ID                   int    `json:"id" yaml:"id"`
	CourseID             string `json:"course_id" yaml:"course_id"`
	Title                string `json:"title" yaml:"title"`
	Category             int    `json:"category" yaml:"category"`
	Instructors          []User `json:"instructors" yaml:"instructors"`
	Graders              []User `json:"graders" yaml:"graders"`
	Students             []User `json:"students" yaml:"students"`
	LMSLineItemsEndpoint string `json:"lms_lineitems_endpoint" yaml:"lms_lineitems_endpoint"`
	// Grading marks courses that get a grader service and gradebook.
	Grading bool `json:"nbgrader,omitempty" yaml:"nbgrader,omitempty"`
}

// Users returns instructors, graders and students in that order.
func (c *Course) Users() []User {
	out := make([]User, 0, len(c.Instructors)+len(c.Graders)+len(c.Students))
	out = append(out, c.Instructors...)
	out = append(out, c.Graders...)
	return append(out, c.Students...)
}

// LineItemsEndpoint is the AGS line-items URL of a Moodle course.
func LineItemsEndpoint(baseURL string, courseID int) string {
	return fmt.Sprintf("%s/mod/lti/services.php/%d/lineitems", strings.TrimRight(baseURL, "/"), courseID)
}

func FormatCourse(raw RawCourse, baseURL string) (Course, error) {
	if err := validate.Struct(raw); err != nil {
		return Course{}, fmt.Errorf("moodle: course %d: %w", raw.ID, err)
	}
	cid, err := normalize.FormatString(raw.ShortName)
	if err != nil {
		return Course{}, err
	}
	title := raw.DisplayName
	if title == "" {
		title = raw.FullName
	}
	return Course{
		ID:                   raw.ID,
		CourseID:             cid,
		Title:                title,
		Category:             raw.CategoryID,
		Instructors:          []User{},
		Graders:              []User{},
		Students:             []User{},
		LMSLineItemsEndpoint: LineItemsEndpoint(baseURL, raw.ID),
	}, nil
}

func FormatUser(raw RawUser) (User, error) {
	if err := validate.Struct(raw); err != nil {
		return User{}, fmt.Errorf("moodle: user %d: %w", raw.ID, err)
	}
	src := raw.Username
	if src == "" {
		src = raw.Email
	}
	username, err := normalize.EmailToUsername(src)
	if err != nil {
		return User{}, err
	}
	first, last, err := userNames(raw)
	if err != nil {
		return User{}, err
	}
	roles := make([]string, 0, len(raw.Roles))
	for _, r := range raw.Roles {
		roles = append(roles, r.ShortName)
	}
	return User{
		ID:        raw.ID,
		Username:  username,
		Email:     raw.Email,
		FirstName: first,
		LastName:  last,
		Roles:     roles,
	}, nil
}

// userNames prefers fullname, then firstname/lastname, then the email
// username as first name.
func userNames(raw RawUser) (string, string, error) {
	if f := strings.Fields(raw.FullName); len(f) > 0 {
		return f[0], strings.Join(f[1:], " "), nil
	}
	if raw.FirstName != "" || raw.LastName != "" {
		return raw.FirstName, raw.LastName, nil
	}
	u, err := normalize.EmailToUsername(raw.Email)
	return u, "", err
}
