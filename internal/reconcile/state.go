// Package reconcile turns the courses fetched from Moodle into hub
// configuration: admin users, whitelist, access groups, grader service
// tokens and services. Side effects (OS accounts, grader directories,
// gradebook records) go through injected collaborators.
package reconcile

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"
	"sort"
)

// BasePort is the port of the grader service of the first course.
const BasePort = 9000

// Service is one grader notebook server registered with the hub.
type Service struct {
	Name        string            `json:"name" yaml:"name"`
	Admin       bool              `json:"admin" yaml:"admin"`
	URL         string            `json:"url" yaml:"url"`
	Command     []string          `json:"command" yaml:"command"`
	User        string            `json:"user" yaml:"user"`
	Cwd         string            `json:"cwd" yaml:"cwd"`
	APIToken    string            `json:"api_token" yaml:"api_token"`
	Environment map[string]string `json:"environment" yaml:"environment"`
}

// State accumulates over a run. Groups are append-only: feeding the same
// course twice duplicates its members.
type State struct {
	AdminUsers map[string]struct{}
	Whitelist  map[string]struct{}
	Groups     map[string][]string
	Tokens     map[string]string // token -> grader identity
	Services   []Service

	// Courses accepted by the filters and Failures logged while applying them.
	Courses  int
	Failures int
}

func NewState() *State {
	return &State{
		AdminUsers: map[string]struct{}{},
		Whitelist:  map[string]struct{}{},
		Groups:     map[string][]string{},
		Tokens:     map[string]string{},
	}
}

func FormgradeGroup(courseID string) string { return "formgrade-" + courseID }
func NbgraderGroup(courseID string) string { return "nbgrader-" + courseID }

// NewService describes the grader server of courseID listening on
// BasePort+index.
func NewService(courseID, grader, token, homeRoot string, index int) Service {
	return Service{
		Name:  courseID,
		Admin: true,
		URL:   fmt.Sprintf("http://127.0.0.1:%d", BasePort+index),
		Command: []string{
			"jupyterhub-singleuser",
			"--group=" + FormgradeGroup(courseID),
			"--debug",
			"--allow-root",
		},
		User:        grader,
		Cwd:         filepath.Join(homeRoot, grader),
		APIToken:    token,
		Environment: map[string]string{"JUPYTERHUB_SERVICE_USER": grader},
	}
}

// NewToken returns 32 random bytes, hex encoded.
func NewToken(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, 32)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", fmt.Errorf("reconcile: token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func sorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Admins returns the admin users in lexical order.
func (s *State) Admins() []string { return sorted(s.AdminUsers) }

// Allowed returns the whitelist in lexical order.
func (s *State) Allowed() []string { return sorted(s.Whitelist) }

// GroupNames returns the group names in lexical order.
func (s *State) GroupNames() []string {
	out := make([]string, 0, len(s.Groups))
	for k := range s.Groups {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
