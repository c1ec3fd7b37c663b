package grades

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	ScopeScore            = "https://purl.imsglobal.org/spec/lti-ags/scope/score"
	ScopeLineItem         = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem"
	ScopeResultReadonly   = "https://purl.imsglobal.org/spec/lti-ags/scope/result.readonly"
	ScopeLineItemReadonly = "https://purl.imsglobal.org/spec/lti-ags/scope/lineitem.readonly"

	AssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

	mediaLineItems = "application/vnd.ims.lis.v2.lineitemcontainer+json"
	mediaScore     = "application/vnd.ims.lis.v1.score+json"

	maxPages = 100
)

// Scopes requested for a send.
var Scopes = []string{ScopeScore, ScopeLineItem, ScopeResultReadonly, ScopeLineItemReadonly}

type LineItem struct {
	ID             string  `json:"id"`
	Label          string  `json:"label"`
	ScoreMaximum   float64 `json:"scoreMaximum"`
	ResourceID     string  `json:"resourceId,omitempty"`
	ResourceLinkID string  `json:"resourceLinkId,omitempty"`
}

type Score struct {
	Timestamp        string  `json:"timestamp"`
	UserID           string  `json:"userId"`
	ScoreGiven       float64 `json:"scoreGiven"`
	ScoreMaximum     float64 `json:"scoreMaximum"`
	GradingProgress  string  `json:"gradingProgress"`
	ActivityProgress string  `json:"activityProgress"`
	Comment          string  `json:"comment,omitempty"`
}

// fetchToken runs the client-credentials grant authenticated by a signed
// client assertion.
func (s *Sender) fetchToken(ctx context.Context) (*oauth2.Token, error) {
	assertion, err := s.Key.ClientAssertion(s.ClientID, s.TokenURL, s.clock())
	if err != nil {
		return nil, &CriticalError{Msg: "sign client assertion", Err: err}
	}
	cfg := clientcredentials.Config{
		ClientID:  s.ClientID,
		TokenURL:  s.TokenURL,
		Scopes:    Scopes,
		AuthStyle: oauth2.AuthStyleInParams,
		EndpointParams: url.Values{
			"client_assertion_type": {AssertionType},
			"client_assertion":      {assertion},
		},
	}
	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, s.httpClient()))
	if err != nil {
		return nil, &CriticalError{Msg: "access token", Err: err}
	}
	return tok, nil
}

// lineItems follows Link rel="next" until the last page.
func (s *Sender) lineItems(ctx context.Context, tok *oauth2.Token, endpoint string) ([]LineItem, error) {
	var all []LineItem
	visited := map[string]bool{}
	next := endpoint
	for page := 0; next != "" && page < maxPages; page++ {
		if visited[next] {
			break
		}
		visited[next] = true

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, next, nil)
		if err != nil {
			return nil, err
		}
		tok.SetAuthHeader(req)
		req.Header.Set("Accept", mediaLineItems)
		res, err := s.httpClient().Do(req)
		if err != nil {
			return nil, err
		}
		var items []LineItem
		if err := decodeOK(res, "list line items", &items); err != nil {
			return nil, err
		}
		if len(items) == 0 {
			break
		}
		all = append(all, items...)
		next = nextLink(res.Header, next)
	}
	return all, nil
}

func decodeOK(res *http.Response, op string, out any) error {
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("%s: %s: %s", op, res.Status, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// nextLink extracts the rel="next" target of a Link header, resolved
// against base.
func nextLink(h http.Header, base string) string {
	for _, v := range h.Values("Link") {
		for _, part := range strings.Split(v, ",") {
			segs := strings.Split(part, ";")
			target := strings.TrimSpace(segs[0])
			if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
				continue
			}
			for _, p := range segs[1:] {
				k, val, ok := strings.Cut(strings.TrimSpace(p), "=")
				if !ok || !strings.EqualFold(k, "rel") {
					continue
				}
				for _, rel := range strings.Fields(strings.Trim(val, `"`)) {
					if rel == "next" {
						return resolve(base, target[1:len(target)-1])
					}
				}
			}
		}
	}
	return ""
}

func resolve(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// ScoresURL is the scores container of a line item.
func ScoresURL(lineItemID string) string {
	return strings.Replace(lineItemID, "?type_id=1", "", 1) + "/scores"
}

func (s *Sender) postScore(ctx context.Context, tok *oauth2.Token, lineItemID string, sc Score) error {
	body, err := json.Marshal(sc)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ScoresURL(lineItemID), bytes.NewReader(body))
	if err != nil {
		return err
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Content-Type", mediaScore)
	res, err := s.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("post score: %s: %s", res.Status, strings.TrimSpace(string(b)))
	}
	return nil
}
