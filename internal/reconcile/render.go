package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatPython Format = "python"
	FormatYAML   Format = "yaml"
)

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "python", "py":
		return FormatPython, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("reconcile: unknown config format %q", s)
}

var ErrEmptyTemplate = errors.New("reconcile: base config template is empty")

const generatedWarning = "# Generated by ltisync from Moodle enrolments.\n# Manual changes will be overwritten on the next sync."

// ReadBase loads the base config template. A missing or empty file is an
// error.
func ReadBase(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reconcile: base template: %w", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyTemplate, path)
	}
	return string(b), nil
}

// Renderer merges a State into the hub config template.
type Renderer struct {
	Format Format
}

func (r Renderer) Render(w io.Writer, base string, st *State) error {
	switch r.Format {
	case FormatYAML:
		return renderYAML(w, base, st)
	case FormatPython, "":
		return renderPython(w, base, st)
	}
	return fmt.Errorf("reconcile: unknown config format %q", r.Format)
}

var pythonTmpl = template.Must(template.New("hub").Funcs(template.FuncMap{
	"set": pySet,
	"py":  pyLiteral,
}).Parse(`{{.Warning}}


{{.Base}}

c.Authenticator.allowed_users = {{set .State.Allowed}}

c.Authenticator.admin_users = {{set .State.Admins}}

c.JupyterHub.load_groups = {{py .State.Groups}}

c.JupyterHub.services = {{py .State.Services}}

c.JupyterHub.api_tokens = {{py .State.Tokens}}
`))

func renderPython(w io.Writer, base string, st *State) error {
	return pythonTmpl.Execute(w, map[string]any{
		"Warning": generatedWarning,
		"Base":    strings.TrimRight(base, "\n"),
		"State":   st,
	})
}

type yamlUsers struct {
	AdminUsers []string            `yaml:"admin_users"`
	Whitelist  []string            `yaml:"whitelist"`
	Groups     map[string][]string `yaml:"groups"`
	Tokens     map[string]string   `yaml:"tokens"`
	Services   []Service           `yaml:"services"`
}

func renderYAML(w io.Writer, base string, st *State) error {
	doc := map[string]any{}
	if err := yaml.Unmarshal([]byte(base), &doc); err != nil {
		return fmt.Errorf("reconcile: base template: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	users := yamlUsers{
		AdminUsers: st.Admins(),
		Whitelist:  st.Allowed(),
		Groups:     st.Groups,
		Tokens:     st.Tokens,
		Services:   st.Services,
	}
	raw, err := yaml.Marshal(users)
	if err != nil {
		return err
	}
	extra := map[string]any{}
	if err := yaml.Unmarshal(raw, &extra); err != nil {
		return err
	}
	for k, v := range extra {
		doc[k] = v
	}
	if _, err := io.WriteString(w, generatedWarning+"\n"); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func pySet(items []string) string {
	if len(items) == 0 {
		return "set()"
	}
	parts := make([]string, len(items))
	for i, s := range items {
		parts[i] = pyString(s)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// pyLiteral renders v as a Python literal by way of its JSON form.
func pyLiteral(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var tree any
	if err := json.Unmarshal(b, &tree); err != nil {
		return "", err
	}
	var sb strings.Builder
	writePy(&sb, tree)
	return sb.String(), nil
}

func writePy(sb *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		sb.WriteString("None")
	case bool:
		if t {
			sb.WriteString("True")
		} else {
			sb.WriteString("False")
		}
	case float64:
		sb.WriteString(strconv.FormatFloat(t, 'f', -1, 64))
	case string:
		sb.WriteString(pyString(t))
	case []any:
		sb.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				sb.WriteString(", ")
			}
			writePy(sb, e)
		}
		sb.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(pyString(k))
			sb.WriteString(": ")
			writePy(sb, t[k])
		}
		sb.WriteByte('}')
	}
}

var pyEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\r", `\r`, "\t", `\t`)

func pyString(s string) string { return "'" + pyEscaper.Replace(s) + "'" }
