// Package site is the HTTP adapter for the appointment site. It implements
// appointment.SiteClient and classify.Follower on top of a session.Context.
package site

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/slotgrab/internal/domain/appointment"
	"github.com/example/slotgrab/internal/session"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config points the client at the site's hosts.
type Config struct {
	BaseURL   string // pages and submit, e.g. https://www.91160.com
	GateURL   string // schedule API, e.g. https://gate.91160.com
	UserURL   string // account pages, e.g. https://user.91160.com
	Timeout   time.Duration
	UserAgent string
}

func (c Config) WithDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://www.91160.com"
	}
	if c.GateURL == "" {
		c.GateURL = "https://gate.91160.com"
	}
	if c.UserURL == "" {
		c.UserURL = "https://user.91160.com"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.GateURL = strings.TrimRight(c.GateURL, "/")
	c.UserURL = strings.TrimRight(c.UserURL, "/")
	return c
}

// Client talks to the site with one session. Lookups use a client whose jar
// ignores Set-Cookie so concurrent queries never write session state; the claim
// path uses the writable jar.
type Client struct {
	cfg  Config
	sess *session.Context

	lookup *http.Client // read-only jar, follows redirects
	check  *http.Client // read-only jar, no redirects
	claim  *http.Client // writable jar, no redirects
	follow *http.Client // writable jar, follows redirects
}

func New(cfg Config, sess *session.Context) *Client {
	cfg = cfg.WithDefaults()
	noRedirect := func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.MaxIdleConnsPerHost = 16
	return &Client{
		cfg:    cfg,
		sess:   sess,
		lookup: &http.Client{Timeout: cfg.Timeout, Transport: tr, Jar: sess.ReadOnlyJar()},
		check:  &http.Client{Timeout: cfg.Timeout, Transport: tr, Jar: sess.ReadOnlyJar(), CheckRedirect: noRedirect},
		claim:  &http.Client{Timeout: cfg.Timeout, Transport: tr, Jar: sess.Jar(), CheckRedirect: noRedirect},
		follow: &http.Client{Timeout: cfg.Timeout, Transport: tr, Jar: sess.Jar()},
	}
}

var _ appointment.SiteClient = (*Client)(nil)

// ProbeReferenceTime reads the server clock from the Date header of a cheap
// static resource.
func (c *Client) ProbeReferenceTime(ctx context.Context) (time.Time, error) {
	res, status, _, err := c.do(ctx, c.lookup, http.MethodGet, c.cfg.BaseURL+"/favicon.ico", "", nil, nil, nil)
	if err != nil {
		return time.Time{}, err
	}
	date := res.Header.Get("Date")
	if date == "" {
		return time.Time{}, fmt.Errorf("no Date header (status=%d)", status)
	}
	t, err := http.ParseTime(date)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse Date header %q: %w", date, err)
	}
	return t, nil
}

// IsSessionValid reports whether the account index page loads without a
// redirect to the login page.
func (c *Client) IsSessionValid(ctx context.Context) (bool, error) {
	if c.sess.AccessHash() == "" {
		return false, nil
	}
	_, status, _, err := c.do(ctx, c.check, http.MethodGet, c.cfg.UserURL+"/user/index.html", "", nil, nil, nil)
	if err != nil {
		return false, err
	}
	switch {
	case status == http.StatusOK:
		return true, nil
	case status >= 300 && status < 400, status == http.StatusUnauthorized, status == http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("session check: unexpected status %d", status)
	}
}

// Follow fetches a redirect target, following any further redirects. When the
// chain ends somewhere other than target the final URL is set as Location.
func (c *Client) Follow(ctx context.Context, target string) (appointment.RawResponse, error) {
	res, status, body, err := c.do(ctx, c.follow, http.MethodGet, target, "", nil, nil, nil)
	if err != nil {
		return appointment.RawResponse{}, err
	}
	out := appointment.RawResponse{StatusCode: status, Header: res.Header, Body: body}
	// Location carries the page the chain landed on so callers can see where
	// the redirects ended.
	if res.Request != nil && res.Request.URL != nil {
		if final := res.Request.URL.String(); final != target {
			out.Location = final
		}
	}
	return out, nil
}

func (c *Client) baseHeaders(referer string) http.Header {
	h := http.Header{}
	h.Set("User-Agent", c.cfg.UserAgent)
	h.Set("Origin", c.cfg.BaseURL)
	if referer == "" {
		referer = c.cfg.BaseURL + "/"
	}
	h.Set("Referer", referer)
	return h
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, rawURL, contentType string, query url.Values, body []byte, headers http.Header) (*http.Response, int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, nil, err
	}
	if headers == nil {
		headers = c.baseHeaders("")
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}

	res, err := hc.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res, res.StatusCode, nil, err
	}
	return res, res.StatusCode, b, nil
}

// isLoginURL reports whether a location points at a login page.
func isLoginURL(loc string) bool {
	l := strings.ToLower(loc)
	return strings.Contains(l, "/login") || strings.Contains(l, "login.html")
}

var errLoginRedirect = fmt.Errorf("redirected to login: %w", appointment.ErrSessionInvalid)

func resolve(base *url.URL, loc string) string {
	if loc == "" {
		return ""
	}
	u, err := base.Parse(loc)
	if err != nil {
		return loc
	}
	return u.String()
}

// statusErr wraps non-2xx statuses, mapping auth failures to ErrSessionInvalid.
func statusErr(what string, status int) error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("%s: status %d: %w", what, status, appointment.ErrSessionInvalid)
	}
	return fmt.Errorf("%s: status %d", what, status)
}

var errNoAccessHash = errors.Join(session.ErrNoAccessHash, appointment.ErrSessionInvalid)
