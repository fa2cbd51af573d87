package tracker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const searchFields = "summary,description,issuetype,status,priority,labels," +
	"components,comment,issuelinks,subtasks,fixVersions,parent"

// Client talks to a Jira-style REST API. Fetched tickets pass through a
// small LRU so repeated batch requests within one session stay cheap.
type Client struct {
	http       *http.Client
	baseURL    string
	email      string
	apiToken   string
	fieldMap   FieldMap
	childDepth int
	cache      *lru.Cache[string, Ticket]
}

type Option func(*Client)

// WithChildDepth bounds child discovery. The default of 1 caps cost
// against dense or cyclic link graphs.
func WithChildDepth(depth int) Option {
	return func(c *Client) {
		if depth >= 0 {
			c.childDepth = depth
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(baseURL, email, apiToken string, fm FieldMap, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("tracker base url is required")
	}
	cache, err := lru.New[string, Ticket](512)
	if err != nil {
		return nil, err
	}
	c := &Client{
		http:       &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		email:      email,
		apiToken:   apiToken,
		fieldMap:   fm,
		childDepth: 1,
		cache:      cache,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) authHeader() string {
	creds := base64.StdEncoding.EncodeToString([]byte(c.email + ":" + c.apiToken))
	return "Basic " + creds
}

func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, *FetchError) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{Kind: FetchNotFound, Err: err}
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: FetchNotFound, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, &FetchError{Kind: FetchAuthFailure, Err: fmt.Errorf("status %s", resp.Status)}
	case resp.StatusCode == http.StatusNotFound:
		return nil, &FetchError{Kind: FetchNotFound, Err: fmt.Errorf("status %s", resp.Status)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &FetchError{
			Kind:       FetchRateLimited,
			RetryAfter: retryAfter(resp.Header),
			Err:        fmt.Errorf("status %s", resp.Status),
		}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{Kind: FetchNotFound, Err: fmt.Errorf("status %s: %s", resp.Status, body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{Kind: FetchNotFound, Err: err}
	}
	return body, nil
}

func retryAfter(h http.Header) time.Duration {
	if secs, err := strconv.Atoi(h.Get("Retry-After")); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// FetchTicket fetches and normalizes one ticket by key.
func (c *Client) FetchTicket(ctx context.Context, key string) (Ticket, error) {
	if t, ok := c.cache.Get(key); ok {
		return t, nil
	}
	body, ferr := c.get(ctx, "/rest/api/3/issue/"+url.PathEscape(key), nil)
	if ferr != nil {
		ferr.Key = key
		return Ticket{}, ferr
	}
	t, err := Normalize(body, c.fieldMap)
	if err != nil {
		return Ticket{}, &FetchError{Kind: FetchNotFound, Key: key, Err: err}
	}
	c.cache.Add(key, t)
	return t, nil
}

// FetchTickets fetches a batch of tickets by key. A failed ticket never
// aborts the batch; the caller receives M of N plus the failure list.
func (c *Client) FetchTickets(ctx context.Context, keys []string) ([]Ticket, []Failure) {
	var tickets []Ticket
	var failures []Failure
	for _, key := range keys {
		t, err := c.FetchTicket(ctx, key)
		if err != nil {
			fe, ok := err.(*FetchError)
			if !ok {
				fe = &FetchError{Kind: FetchNotFound, Key: key, Err: err}
			}
			failures = append(failures, Failure{Key: key, Err: fe})
			continue
		}
		tickets = append(tickets, t)
	}
	return tickets, failures
}

// search runs a JQL query and normalizes the result set.
func (c *Client) search(ctx context.Context, jql string) ([]Ticket, *FetchError) {
	q := url.Values{}
	q.Set("jql", jql)
	q.Set("maxResults", "100")
	q.Set("fields", searchFields+","+c.fieldMap.AcceptanceCriteria)

	body, ferr := c.get(ctx, "/rest/api/3/search", q)
	if ferr != nil {
		return nil, ferr
	}
	var wrap struct {
		Issues []json.RawMessage `json:"issues"`
	}
	if err := json.Unmarshal(body, &wrap); err != nil {
		return nil, &FetchError{Kind: FetchNotFound, Err: err}
	}
	var out []Ticket
	for _, raw := range wrap.Issues {
		t, err := Normalize(raw, c.fieldMap)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

// FetchChildren discovers direct children of an epic. The classic epic-link
// JQL is tried first, then the next-gen parent form.
func (c *Client) FetchChildren(ctx context.Context, epicKey string) ([]Ticket, error) {
	queries := []string{
		fmt.Sprintf("%q = %s", "Epic Link", epicKey),
		fmt.Sprintf("parent = %s", epicKey),
	}
	for _, jql := range queries {
		children, ferr := c.search(ctx, jql)
		if ferr != nil {
			if ferr.Kind == FetchAuthFailure || ferr.Kind == FetchRateLimited {
				return nil, ferr
			}
			continue
		}
		if len(children) > 0 {
			return children, nil
		}
	}
	return nil, nil
}

// Expand widens a ticket set with discovered children, recursing at most
// childDepth levels. Story children come from subtasks already on the
// ticket; epic children come from link resolution.
func (c *Client) Expand(ctx context.Context, tickets []Ticket) []Ticket {
	seen := make(map[string]bool, len(tickets))
	for _, t := range tickets {
		seen[t.Key] = true
	}
	frontier := tickets
	out := tickets
	for depth := 0; depth < c.childDepth; depth++ {
		var next []Ticket
		for _, t := range frontier {
			if t.Kind != "Epic" {
				continue
			}
			children, err := c.FetchChildren(ctx, t.Key)
			if err != nil {
				continue
			}
			for _, child := range children {
				if seen[child.Key] {
					continue
				}
				seen[child.Key] = true
				if child.ParentKey == "" {
					child.ParentKey = t.Key
				}
				next = append(next, child)
			}
		}
		if len(next) == 0 {
			break
		}
		out = append(out, next...)
		frontier = next
	}
	return out
}

// TestConnection probes the authenticated-user endpoint.
func (c *Client) TestConnection(ctx context.Context) error {
	_, ferr := c.get(ctx, "/rest/api/3/myself", nil)
	if ferr != nil {
		return ferr
	}
	return nil
}
