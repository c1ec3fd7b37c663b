package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LTI13 is the tool registration shared by the hub and the grade sender.
type LTI13 struct {
	AuthorizeURL string `env:"LTI13_AUTHORIZE_URL" validate:"required,url"`
	CallbackURL  string `env:"LTI13_CALLBACK_URL" validate:"required,url"`
	ClientID     string `env:"LTI13_CLIENT_ID" validate:"required"`
	JWKSEndpoint string `env:"LTI13_ENDPOINT" validate:"required,url"`
	TokenURL     string `env:"LTI13_TOKEN_URL" validate:"required,url"`
	PrivateKey   string `env:"LTI13_PRIVATE_KEY" validate:"required"` // PEM file path

	// Audience checked against the id_token aud claim; defaults to ClientID.
	Audience        string
	VerifySignature bool
	JWKSCacheTTL    time.Duration
	StateSecret     string
	ToolTitle       string
}

// Moodle holds the web-service credentials used by the sync CLI.
type Moodle struct {
	APIURL   string `env:"MOODLE_API_URL" validate:"required,url"`
	APIToken string `env:"MOODLE_API_TOKEN" validate:"required"`
	BaseURL  string `env:"MOODLE_BASE_URL" validate:"required,url"`
	Endpoint string

	JupyterhubCategoryID string `env:"MOODLE_JUPYTERHUB_CATEGORY_ID" validate:"omitempty,number"`
	NbgraderCategoryID   string `env:"MOODLE_NBGRADER_CATEGORY_ID" validate:"omitempty,number"`
}

// Grades is the subset of LTI13 the grade sender needs.
type Grades struct {
	ClientID   string `env:"LTI13_CLIENT_ID" validate:"required"`
	TokenURL   string `env:"LTI13_TOKEN_URL" validate:"required,url"`
	PrivateKey string `env:"LTI13_PRIVATE_KEY" validate:"required"`
}

type Config struct {
	HTTPAddr    string
	PublicURL   string
	CORSOrigins []string
	HTTPTimeout time.Duration

	LTI13  LTI13
	Moodle Moodle

	// Legacy LTI 1.1 consumers, key -> secret.
	LTI11Consumers map[string]string
	ReplayRedisURL string

	SessionSecret string
	SessionTTL    time.Duration

	HomeRoot   string
	SharedRoot string

	HubConfigTemplate string
	HubConfigOut      string
	HubConfigFormat   string // python|yaml

	SyncDBDriver string
	SyncDBDSN    string
}

func FromEnv() Config {
	clientID := os.Getenv("LTI13_CLIENT_ID")
	return Config{
		HTTPAddr:    envOr("HTTP_ADDR", ":8000"),
		PublicURL:   os.Getenv("PUBLIC_URL"),
		CORSOrigins: csvOr("CORS_ORIGINS", "http://localhost:8000"),
		HTTPTimeout: envDuration("HTTP_TIMEOUT", 15*time.Second),

		LTI13: LTI13{
			AuthorizeURL:    os.Getenv("LTI13_AUTHORIZE_URL"),
			CallbackURL:     os.Getenv("LTI13_CALLBACK_URL"),
			ClientID:        clientID,
			JWKSEndpoint:    os.Getenv("LTI13_ENDPOINT"),
			TokenURL:        os.Getenv("LTI13_TOKEN_URL"),
			PrivateKey:      os.Getenv("LTI13_PRIVATE_KEY"),
			Audience:        envOr("LTI13_AUDIENCE", clientID),
			VerifySignature: envBool("LTI13_VERIFY_SIGNATURE", true),
			JWKSCacheTTL:    envDuration("LTI13_JWKS_CACHE_TTL", 0),
			StateSecret:     os.Getenv("LTI13_STATE_SECRET"),
			ToolTitle:       envOr("LTI13_TOOL_TITLE", "Notebook Hub"),
		},
		Moodle: Moodle{
			APIURL:               os.Getenv("MOODLE_API_URL"),
			APIToken:             os.Getenv("MOODLE_API_TOKEN"),
			BaseURL:              os.Getenv("MOODLE_BASE_URL"),
			Endpoint:             envOr("MOODLE_API_ENDPOINT", "/webservice/rest/server.php"),
			JupyterhubCategoryID: os.Getenv("MOODLE_JUPYTERHUB_CATEGORY_ID"),
			NbgraderCategoryID:   os.Getenv("MOODLE_NBGRADER_CATEGORY_ID"),
		},

		LTI11Consumers: pairsOr("LTI11_CONSUMERS", ""),
		ReplayRedisURL: os.Getenv("REPLAY_REDIS_URL"),

		SessionSecret: os.Getenv("SESSION_SECRET"),
		SessionTTL:    envDuration("SESSION_TTL", 8*time.Hour),

		HomeRoot:   envOr("HOME_ROOT", "/home"),
		SharedRoot: envOr("SHARED_ROOT", "/shared"),

		HubConfigTemplate: envOr("HUB_CONFIG_TEMPLATE", "default_jupyterhub_config.py"),
		HubConfigOut:      envOr("HUB_CONFIG_OUT", "/srv/jupyterhub/jupyterhub_config.py"),
		HubConfigFormat:   envOr("HUB_CONFIG_FORMAT", "python"),

		SyncDBDriver: envOr("SYNC_DB_DRIVER", "sqlite"),
		SyncDBDSN:    os.Getenv("SYNC_DB_DSN"),
	}
}

// Grades extracts the grade sender settings.
func (c Config) Grades() Grades {
	return Grades{ClientID: c.LTI13.ClientID, TokenURL: c.LTI13.TokenURL, PrivateKey: c.LTI13.PrivateKey}
}

// Categories returns the Moodle category ids used to select courses, or
// ok=false when category filtering is not configured.
func (m Moodle) Categories() (jupyterhub, nbgrader int, ok bool) {
	if m.JupyterhubCategoryID == "" || m.NbgraderCategoryID == "" {
		return 0, 0, false
	}
	j, err1 := strconv.Atoi(m.JupyterhubCategoryID)
	n, err2 := strconv.Atoi(m.NbgraderCategoryID)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return j, n, true
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// pairsOr parses "k1:v1,k2:v2".
func pairsOr(k, def string) map[string]string {
	out := map[string]string{}
	for _, p := range csvOr(k, def) {
		key, val, ok := strings.Cut(p, ":")
		if ok && key != "" {
			out[key] = val
		}
	}
	return out
}
