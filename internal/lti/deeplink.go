package lti

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mind-engage/lti-hubsync/internal/logger"
)

// ContentItem is one ltiResourceLink offered back to the platform.
type ContentItem struct {
	Type  string `json:"type"`
	Title string `json:"title"`
	URL   string `json:"url"`
	Text  string `json:"text,omitempty"`
}

// Notebook is a selectable file under the course shared folder.
type Notebook struct {
	Path  string `json:"path"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ListNotebooks returns the *.ipynb files under root sorted by path, skipping
// anything hidden.
func ListNotebooks(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".ipynb") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(out)
	return out, err
}

// AssignmentLink builds the hub URL that pulls the course repository and
// opens the notebook.
func AssignmentLink(base, courseID, relPath string) string {
	q := url.Values{}
	q.Set("repo", "/home/jovyan/shared/"+courseID)
	q.Set("branch", "master")
	q.Set("urlpath", "tree/"+courseID+"/"+relPath)
	return strings.TrimRight(base, "/") + "/?next=" + escapeAll("/user-redirect/git-pull") + "?" + escapeAll(q.Encode())
}

func escapeAll(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

type deepLinkClaims struct {
	Nonce        string        `json:"nonce"`
	MessageType  string        `json:"https://purl.imsglobal.org/spec/lti/claim/message_type"`
	Version      string        `json:"https://purl.imsglobal.org/spec/lti/claim/version"`
	DeploymentID string        `json:"https://purl.imsglobal.org/spec/lti/claim/deployment_id"`
	ContentItems []ContentItem `json:"https://purl.imsglobal.org/spec/lti-dl/claim/content_items"`
	Data         string        `json:"https://purl.imsglobal.org/spec/lti-dl/claim/data,omitempty"`
	jwt.RegisteredClaims
}

// DeepLinkingResponse signs the LtiDeepLinkingResponse message returned to
// the platform.
func (k *ToolKey) DeepLinkingResponse(clientID string, id *Identity, items []ContentItem, now time.Time) (string, error) {
	return k.Sign(deepLinkClaims{
		Nonce:        uuid.NewString(),
		MessageType:  MessageDeepLinkingResponse,
		Version:      Version,
		DeploymentID: id.DeploymentID,
		ContentItems: items,
		Data:         id.DeepLinkData,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    clientID,
			Audience:  jwt.ClaimStrings{id.PlatformIssuer},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
	})
}

// FileSelectHandler lists the course notebooks and signs a deep-linking
// response for the selected ones (all of them when none is selected).
type FileSelectHandler struct {
	ClientID   string
	KeyPath    string
	SharedRoot string
	// Identity resolves the session of the instructor doing the selection.
	Identity func(r *http.Request) (*Identity, bool)
}

type fileSelectResponse struct {
	Files             []Notebook `json:"files"`
	DeepLinkReturnURL string     `json:"deep_link_return_url"`
	JWT               string     `json:"jwt"`
}

func (h *FileSelectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logger.C(r.Context())
	id, ok := h.Identity(r)
	if !ok || id == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if id.CourseID == "" || id.DeepLinkReturnURL == "" {
		http.Error(w, "not a deep linking session", http.StatusBadRequest)
		return
	}

	shared := path.Join(h.SharedRoot, id.CourseID)
	files, err := ListNotebooks(filepath.FromSlash(shared))
	if err != nil {
		log.Warn().Err(err).Str("dir", shared).Msg("file select: cannot list notebooks")
		files = nil
	}

	base := RequestProtocol(r) + "://" + r.Host
	wanted := map[string]bool{}
	for _, p := range r.URL.Query()["path"] {
		wanted[p] = true
	}
	all := len(wanted) == 0

	var (
		listed []Notebook
		items  []ContentItem
	)
	for _, rel := range files {
		nb := Notebook{Path: rel, Title: path.Base(rel), URL: AssignmentLink(base, id.CourseID, rel)}
		listed = append(listed, nb)
		if all || wanted[rel] {
			items = append(items, ContentItem{Type: "ltiResourceLink", Title: nb.Title, URL: nb.URL})
			delete(wanted, rel)
		}
	}
	if len(wanted) > 0 {
		http.Error(w, "unknown file selected", http.StatusBadRequest)
		return
	}

	key, err := LoadPrivateKey(h.KeyPath)
	if err != nil {
		log.Error().Err(err).Msg("file select: cannot load private key")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if items == nil {
		items = []ContentItem{}
	}
	signed, err := key.DeepLinkingResponse(h.ClientID, id, items, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("file select: sign response")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if listed == nil {
		listed = []Notebook{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(fileSelectResponse{
		Files:             listed,
		DeepLinkReturnURL: id.DeepLinkReturnURL,
		JWT:               signed,
	})
}
