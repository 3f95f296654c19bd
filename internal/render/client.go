package render

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/TobiSchelling/ftdigest/internal/retry"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Options configures the HTTP client.
type Options struct {
	// BaseURL is the site root, e.g. "https://www.ft.com".
	BaseURL string
	// LoginPath is the path of the login page relative to BaseURL.
	LoginPath string
	// ProbePath is fetched to check whether the session is logged in.
	ProbePath string
	// SuccessSelector matches only on pages rendered for a logged-in user.
	SuccessSelector string
	UserAgent       string
	Timeout         time.Duration
	Retry           retry.Config
}

// DefaultOptions targets the live site's login flow.
func DefaultOptions(baseURL string) Options {
	return Options{
		BaseURL:         baseURL,
		LoginPath:       "/login",
		ProbePath:       "/myft",
		SuccessSelector: `a[href="/myft"]`,
		UserAgent:       defaultUserAgent,
		Timeout:         30 * time.Second,
		Retry:           retry.DefaultConfig(),
	}
}

// sessionJar is the http.CookieJar handed to the http.Client. The client
// reads its Jar field without locking, so the field must never be
// reassigned; instead the backing jar is swapped here, under a mutex, so
// a re-login can replace cookies while fetches are in flight.
type sessionJar struct {
	mu  sync.Mutex
	jar *cookiejar.Jar
}

func (j *sessionJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jar.SetCookies(u, cookies)
}

func (j *sessionJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jar.Cookies(u)
}

// replace swaps the backing jar. In-flight requests see either the old
// or the new cookie set, never a torn one.
func (j *sessionJar) replace(jar *cookiejar.Jar) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jar = jar
}

// Client fetches rendered pages over HTTP, carrying the session cookies
// in a jar. It implements Fetcher and session.Authenticator.
type Client struct {
	opts Options
	http *http.Client
	jar  *sessionJar
}

// NewClient creates a Client. The cookie jar starts empty; cookies arrive
// through Login or ImportCookies.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("render: base URL is required")
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	c := &Client{opts: opts, jar: &sessionJar{jar: jar}}
	c.http = &http.Client{
		Jar:     c.jar,
		Timeout: opts.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return c, nil
}

// Fetch retrieves a page, retrying transient failures with bounded
// backoff. A 404/410 maps to ErrNotFound; a deadline maps to ErrTimeout.
func (c *Client) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	var page *Page
	cfg := c.opts.Retry
	cfg.Retryable = isTransient

	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		p, err := c.fetchOnce(ctx, pageURL)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (c *Client) fetchOnce(ctx context.Context, pageURL string) (*Page, error) {
	resp, err := c.get(ctx, pageURL)
	if err != nil {
		return nil, classifyTransportError(pageURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, pageURL)
	case resp.StatusCode >= 500:
		return nil, &NetworkError{URL: pageURL, Err: fmt.Errorf("server returned %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("fetching %s: unexpected status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{URL: pageURL, Err: err}
	}
	return &Page{
		URL:        pageURL,
		HTML:       string(body),
		StatusCode: resp.StatusCode,
		FetchedAt:  time.Now(),
	}, nil
}

func (c *Client) get(ctx context.Context, pageURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	return c.http.Do(req)
}

func (c *Client) postForm(ctx context.Context, actionURL string, values url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, actionURL, strings.NewReader(values.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.http.Do(req)
}

// ExportCookies serializes the jar's cookies for the base URL into an
// opaque blob for persistence.
func (c *Client) ExportCookies() ([]byte, error) {
	base, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	return json.Marshal(c.jar.Cookies(base))
}

// ImportCookies replaces the jar's contents with a previously exported blob.
func (c *Client) ImportCookies(blob []byte) error {
	var cookies []*http.Cookie
	if err := json.Unmarshal(blob, &cookies); err != nil {
		return fmt.Errorf("decoding cookie blob: %w", err)
	}
	base, err := url.Parse(c.opts.BaseURL)
	if err != nil {
		return fmt.Errorf("parsing base URL: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("creating cookie jar: %w", err)
	}
	jar.SetCookies(base, cookies)
	c.jar.replace(jar)
	return nil
}

func (c *Client) resolve(path string) string {
	return strings.TrimRight(c.opts.BaseURL, "/") + path
}

// isTransient decides whether a fetch error deserves another attempt.
// Structural outcomes (not found, 4xx) do not.
func isTransient(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return false
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, ErrTimeout)
}

// classifyTransportError maps transport failures onto the package's
// error taxonomy.
func classifyTransportError(pageURL string, err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %s", ErrTimeout, pageURL)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %s", ErrTimeout, pageURL)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, pageURL)
	}
	return &NetworkError{URL: pageURL, Err: err}
}
