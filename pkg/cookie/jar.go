// Package cookie provides an http.CookieJar that can list, remove and
// persist the cookies it holds.
//
// Matching follows net/http/cookiejar with the public suffix list from
// golang.org/x/net/publicsuffix. Cookies with an expiry are written to a
// [Store] and loaded back by [NewJar]; session cookies stay in memory.
package cookie

import (
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Cookie is a stored cookie.
type Cookie struct {
	Name     string        `msgpack:"n"`
	Value    string        `msgpack:"v"`
	Domain   string        `msgpack:"d"`
	Path     string        `msgpack:"p"`
	HostOnly bool          `msgpack:"h"`
	Expires  time.Time     `msgpack:"e"`
	Secure   bool          `msgpack:"s"`
	HttpOnly bool          `msgpack:"ho"`
	SameSite http.SameSite `msgpack:"ss"`
}

func (c *Cookie) key() string {
	return c.Domain + ";" + c.Path + ";" + c.Name
}

func (c *Cookie) persistent() bool {
	return !c.Expires.IsZero()
}

func (c *Cookie) expired(now time.Time) bool {
	return c.persistent() && !c.Expires.After(now)
}

// HTTP converts c to an *http.Cookie.
func (c *Cookie) HTTP() *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
		SameSite: c.SameSite,
	}
	if !c.HostOnly {
		hc.Domain = c.Domain
	}
	return hc
}

func (c *Cookie) origin() *url.URL {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: c.Domain, Path: c.Path}
}

// Jar is an http.CookieJar backed by a Store. It is safe for concurrent use.
type Jar struct {
	store Store

	mu      sync.Mutex
	jar     *cookiejar.Jar
	cookies map[string]*Cookie
	now     func() time.Time
}

// NewJar creates a jar and loads the unexpired cookies of store into it.
// A nil store keeps cookies in memory only.
func NewJar(store Store) (*Jar, error) {
	if store == nil {
		store = NewMemory()
	}
	j := &Jar{
		store:   store,
		cookies: make(map[string]*Cookie),
		now:     time.Now,
	}
	j.jar = newCookieJar()

	var stale []string
	for c, err := range store.All() {
		if err != nil {
			return nil, err
		}
		if c.expired(j.now()) {
			stale = append(stale, c.key())
			continue
		}
		j.cookies[c.key()] = c
		j.jar.SetCookies(c.origin(), []*http.Cookie{c.HTTP()})
	}
	for _, k := range stale {
		if err := store.Delete(k); err != nil {
			return nil, err
		}
	}
	return j, nil
}

func newCookieJar() *cookiejar.Jar {
	// cookiejar.New only fails on invalid options.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return jar
}

// SetCookies implements http.CookieJar. Persistence errors are dropped
// because the interface has no error return; Add reports them.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.setCookies(u, cookies)
}

// Cookies implements http.CookieJar.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.jar.Cookies(u)
}

// Add stores cookies as if u had set them and reports persistence errors.
func (j *Jar) Add(u *url.URL, cookies ...*http.Cookie) error {
	return j.setCookies(u, cookies)
}

// Get returns the cookie named name that would be sent to u, or nil.
func (j *Jar) Get(u *url.URL, name string) *http.Cookie {
	for _, c := range j.Cookies(u) {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// All returns every unexpired cookie in the jar, sorted by domain, path and
// name.
func (j *Jar) All() []*Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := j.now()
	out := make([]*Cookie, 0, len(j.cookies))
	for _, c := range j.cookies {
		if !c.expired(now) {
			cc := *c
			out = append(out, &cc)
		}
	}
	slices.SortFunc(out, func(a, b *Cookie) int {
		return strings.Compare(a.key(), b.key())
	})
	return out
}

// Remove deletes every cookie named name that would be sent to u.
func (j *Jar) Remove(u *url.URL, name string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	var errs []error
	for k, c := range j.cookies {
		if c.Name != name || !domainMatch(u.Hostname(), c) || !pathMatch(u.Path, c.Path) {
			continue
		}
		gone := c.HTTP()
		gone.MaxAge = -1
		j.jar.SetCookies(c.origin(), []*http.Cookie{gone})
		delete(j.cookies, k)
		errs = append(errs, j.store.Delete(k))
	}
	return errors.Join(errs...)
}

// Clear removes every cookie from the jar and the store.
func (j *Jar) Clear() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jar = newCookieJar()
	clear(j.cookies)
	return j.store.Clear()
}

// Close closes the store.
func (j *Jar) Close() error {
	return j.store.Close()
}

func (j *Jar) setCookies(u *url.URL, cookies []*http.Cookie) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.jar.SetCookies(u, cookies)

	now := j.now()
	var errs []error
	for _, hc := range cookies {
		c := fromHTTP(u, hc, now)
		k := c.key()
		if c.expired(now) {
			delete(j.cookies, k)
			errs = append(errs, j.store.Delete(k))
			continue
		}
		// cookiejar rejects cookies for foreign domains; mirror it.
		if !domainMatch(u.Hostname(), c) {
			continue
		}
		j.cookies[k] = c
		if c.persistent() {
			errs = append(errs, j.store.Put(k, c))
		} else {
			errs = append(errs, j.store.Delete(k))
		}
	}
	return errors.Join(errs...)
}

func fromHTTP(u *url.URL, hc *http.Cookie, now time.Time) *Cookie {
	c := &Cookie{
		Name:     hc.Name,
		Value:    hc.Value,
		Path:     hc.Path,
		Secure:   hc.Secure,
		HttpOnly: hc.HttpOnly,
		SameSite: hc.SameSite,
	}
	if hc.Domain != "" {
		c.Domain = strings.TrimPrefix(strings.ToLower(hc.Domain), ".")
	} else {
		c.Domain = strings.ToLower(u.Hostname())
		c.HostOnly = true
	}
	if c.Path == "" || !strings.HasPrefix(c.Path, "/") {
		c.Path = defaultPath(u.Path)
	}
	switch {
	case hc.MaxAge < 0:
		c.Expires = time.Unix(1, 0)
	case hc.MaxAge > 0:
		c.Expires = now.Add(time.Duration(hc.MaxAge) * time.Second)
	case !hc.Expires.IsZero():
		c.Expires = hc.Expires
	}
	return c
}

// defaultPath is the RFC 6265 section 5.1.4 default-path of a request path.
func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}

func domainMatch(host string, c *Cookie) bool {
	host = strings.ToLower(host)
	if c.HostOnly {
		return host == c.Domain
	}
	return host == c.Domain || strings.HasSuffix(host, "."+c.Domain)
}

// pathMatch is the RFC 6265 section 5.1.4 path-match.
func pathMatch(reqPath, cookiePath string) bool {
	if reqPath == "" {
		reqPath = "/"
	}
	if reqPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
}
