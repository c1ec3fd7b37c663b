package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ErrMissingEnv is wrapped by every validation failure so callers can report
// a configuration problem without inspecting the details.
var ErrMissingEnv = errors.New("config: required environment not set")

// EnvError lists the offending variables.
type EnvError struct{ Vars []string }

func (e *EnvError) Error() string {
	return fmt.Sprintf("config: missing or invalid environment: %s", strings.Join(e.Vars, ", "))
}

func (e *EnvError) Unwrap() error { return ErrMissingEnv }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("env"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

func check(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		names = append(names, fe.Field())
	}
	return &EnvError{Vars: names}
}

// ValidateHub fails fast when the LTI 1.3 tool registration is incomplete.
func (c Config) ValidateHub() error { return check(c.LTI13) }

// ValidateMoodle checks the web-service settings needed by the sync CLI.
func (c Config) ValidateMoodle() error { return check(c.Moodle) }

// ValidateGrades checks what the grade sender needs.
func (c Config) ValidateGrades() error { return check(c.Grades()) }

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) []string {
	var loaded []string
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err == nil {
			loaded = append(loaded, f)
		}
	}
	return loaded
}
