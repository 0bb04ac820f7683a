// Package session holds the authenticated site session: cookies, the access hash
// the schedule API wants, and the claim markers written before a submit.
//
// A Context has one writer. Availability lookups run concurrently and only read;
// they go through ReadOnlyJar so response cookies cannot race with the claim
// cycle. The claim cycle uses Jar and SetClaimMarkers.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
)

// Cookie names the site uses.
const (
	CookieAccessHash = "access_hash"
	cookieUserData   = "User_datas"
	cookieUserName   = "UserName_datas"
)

// ErrNoAccessHash means the cookie set has no access_hash: the user never logged in.
var ErrNoAccessHash = errors.New("session has no access_hash cookie")

// Cookie is the browser export format a session file stores.
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
	HTTPOnly bool   `json:"httpOnly,omitempty"`
}

type Context struct {
	mu      sync.RWMutex
	jar     *cookiejar.Jar
	site    *url.URL
	cookies map[string]Cookie
	access  string
}

// New builds a session scoped to siteURL (e.g. https://www.91160.com). Cookies
// without a domain are bound to the parent domain of that host so they reach
// every subdomain the site uses.
func New(siteURL string, cookies []Cookie) (*Context, error) {
	u, err := url.Parse(siteURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid site url %q", siteURL)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c := &Context{jar: jar, site: u, cookies: make(map[string]Cookie)}
	for _, ck := range cookies {
		c.set(ck)
	}
	return c, nil
}

// parentDomain turns www.example.com into .example.com so cookies reach every
// subdomain the site uses. IPs and short hosts get "" (host-only cookies).
func parentDomain(host string) string {
	if net.ParseIP(host) != nil {
		return ""
	}
	parts := strings.Split(host, ".")
	if len(parts) <= 2 {
		return ""
	}
	return "." + strings.Join(parts[len(parts)-2:], ".")
}

// set must be called with mu held (or before the Context is shared).
func (c *Context) set(ck Cookie) {
	if ck.Name == "" {
		return
	}
	if ck.Path == "" {
		ck.Path = "/"
	}
	if ck.Domain == "" {
		ck.Domain = parentDomain(c.site.Hostname())
	}
	c.cookies[ck.Name] = ck
	if ck.Name == CookieAccessHash {
		c.access = ck.Value
	}

	hc := &http.Cookie{Name: ck.Name, Value: ck.Value, Path: ck.Path, Secure: ck.Secure, HttpOnly: ck.HTTPOnly}
	target := &url.URL{Scheme: c.site.Scheme, Host: c.site.Hostname(), Path: "/"}
	if d := strings.TrimPrefix(ck.Domain, "."); strings.Contains(d, ".") && net.ParseIP(d) == nil {
		hc.Domain = d
		target.Host = d
	}
	c.jar.SetCookies(target, []*http.Cookie{hc})
}

// AccessHash is the access_hash cookie value, sent as user_key to the schedule API.
func (c *Context) AccessHash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access
}

// Value returns a cookie value by name.
func (c *Context) Value(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cookies[name].Value
}

// UserID extracts the site user id from the user data cookies.
func (c *Context) UserID() string {
	for _, name := range []string{cookieUserData, cookieUserName} {
		if id := userIDFromCookie(c.Value(name)); id != "" {
			return id
		}
	}
	return ""
}

func userIDFromCookie(raw string) string {
	if raw == "" {
		return ""
	}
	if dec, err := url.QueryUnescape(raw); err == nil {
		raw = dec
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return ""
	}
	for _, k := range []string{"fid", "uid", "id"} {
		switch x := v[k].(type) {
		case string:
			if x != "" {
				return x
			}
		case float64:
			if x != 0 {
				return fmt.Sprintf("%.0f", x)
			}
		}
	}
	return ""
}

// SetClaimMarkers writes the per-doctor cookies the submit endpoint checks.
// Only the claim cycle may call it. Empty values are skipped.
func (c *Context) SetClaimMarkers(departmentID, doctorID, beneficiaryID, detailID string) {
	uid := c.UserID()
	if uid == "" || departmentID == "" || doctorID == "" {
		return
	}
	suffix := fmt.Sprintf("%s_%s_%s", uid, departmentID, doctorID)
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, value := range map[string]string{
		"member_id_" + suffix: beneficiaryID,
		"detl_id_" + suffix:   detailID,
		"accept_" + suffix:    "1",
	} {
		if value != "" {
			c.set(Cookie{Name: name, Value: value})
		}
	}
}

// Snapshot returns every cookie the session knows, for persisting.
func (c *Context) Snapshot() []Cookie {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Cookie, 0, len(c.cookies))
	for _, ck := range c.cookies {
		out = append(out, ck)
	}
	return out
}

// Jar is the writable jar for the claim cycle's HTTP client.
func (c *Context) Jar() http.CookieJar { return lockedJar{c} }

// ReadOnlyJar sends session cookies but drops anything a response tries to set.
func (c *Context) ReadOnlyJar() http.CookieJar { return readOnlyJar{c} }

type lockedJar struct{ c *Context }

func (j lockedJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.c.mu.Lock()
	defer j.c.mu.Unlock()
	j.c.jar.SetCookies(u, cookies)
	for _, hc := range cookies {
		if hc.MaxAge < 0 {
			continue
		}
		ck := Cookie{Name: hc.Name, Value: hc.Value, Domain: hc.Domain, Path: hc.Path, Secure: hc.Secure, HTTPOnly: hc.HttpOnly}
		if ck.Domain == "" {
			ck.Domain = u.Hostname()
		}
		j.c.cookies[hc.Name] = ck
		if hc.Name == CookieAccessHash {
			j.c.access = hc.Value
		}
	}
}

func (j lockedJar) Cookies(u *url.URL) []*http.Cookie {
	j.c.mu.RLock()
	defer j.c.mu.RUnlock()
	return j.c.jar.Cookies(u)
}

type readOnlyJar struct{ c *Context }

func (readOnlyJar) SetCookies(*url.URL, []*http.Cookie) {}

func (j readOnlyJar) Cookies(u *url.URL) []*http.Cookie {
	j.c.mu.RLock()
	defer j.c.mu.RUnlock()
	return j.c.jar.Cookies(u)
}
