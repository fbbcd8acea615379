// Package transport is the HTTP client for the threereco REST API.
//
// A single [Client] carries the base URL, the bearer token and the session
// cookie jar. Requests are described with [Request]; [Send] decodes the JSON
// body into a typed [Result] instead of returning loosely typed fields.
// Non-2xx responses become [*APIError] values whose message is taken from a
// JSON {error, message} body or from a plain text body.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every request unless overridden with WithTimeout.
const DefaultTimeout = 30 * time.Second

// Client issues requests against the API. It is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     zerolog.Logger

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient bases the client on a copy of hc. A cookie jar is added to
// the copy when hc has none; hc itself is never modified.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			copied := *hc
			c.httpClient = &copied
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithLogger sets the request logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithAuthToken sets an initial bearer token.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// New creates a client for the API rooted at baseURL (scheme and host, no /api suffix).
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("transport: invalid base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("transport: base url %q must include scheme and host", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Jar == nil {
		c.httpClient.Jar = newSessionJar()
	}
	return c, nil
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// SetAuthToken sets the bearer token attached to subsequent requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// AuthToken returns the current bearer token, if any.
func (c *Client) AuthToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// ClearCredentials forgets the bearer token and every session cookie.
// Cookies are only dropped when the client owns its jar.
func (c *Client) ClearCredentials() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()

	if jar, ok := c.httpClient.Jar.(*sessionJar); ok {
		jar.reset()
	}
}

// Cookies returns the cookies the jar would send to the API.
func (c *Client) Cookies() []*http.Cookie {
	if c.httpClient.Jar == nil {
		return nil
	}
	return c.httpClient.Jar.Cookies(c.baseURL)
}

// sessionJar is a cookie jar that can be emptied while requests are in flight.
type sessionJar struct {
	mu  sync.Mutex
	jar *cookiejar.Jar
}

func newSessionJar() *sessionJar {
	j := &sessionJar{}
	j.reset()
	return j
}

func (j *sessionJar) reset() {
	// cookiejar.New only fails for a broken PublicSuffixList; nil never does.
	jar, _ := cookiejar.New(nil)
	j.mu.Lock()
	j.jar = jar
	j.mu.Unlock()
}

func (j *sessionJar) current() *cookiejar.Jar {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jar
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.current().SetCookies(u, cookies)
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	return j.current().Cookies(u)
}

// Request describes one API call.
type Request struct {
	Method string
	// Path is relative to the base URL and already escaped, e.g.
	// "/api/businesses/42". Ids go through url.PathEscape.
	Path  string
	Query url.Values
	// Body is JSON-encoded unless it is a []byte.
	Body any
	// Accept defaults to application/json.
	Accept string
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Do sends req and reads the whole response. Non-2xx responses are returned
// together with an *APIError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug().Err(err).Str("method", httpReq.Method).Str("path", req.Path).Msg("request failed")
		return nil, fmt.Errorf("transport: %s %s: %w", httpReq.Method, req.Path, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: read response body: %w", err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}

	c.logger.Debug().
		Str("method", httpReq.Method).
		Str("path", req.Path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("api request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, newAPIError(resp)
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	rel := strings.TrimLeft(req.Path, "/")
	unescaped, err := url.PathUnescape(rel)
	if err != nil {
		return nil, fmt.Errorf("transport: path %q: %w", req.Path, err)
	}
	target := *c.baseURL
	target.Path = c.baseURL.Path + "/" + unescaped
	target.RawPath = c.baseURL.EscapedPath() + "/" + rel
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch b := req.Body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(b)
		contentType = "application/octet-stream"
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("transport: marshal request body: %w", err)
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("transport: create request: %w", err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	accept := req.Accept
	if accept == "" {
		accept = "application/json"
	}
	httpReq.Header.Set("Accept", accept)
	if token := c.AuthToken(); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	return httpReq, nil
}
