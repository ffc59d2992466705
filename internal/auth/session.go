package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/elearn-tools/moodlegrab/internal/utils"
)

// Session is an HTTP client with a cookie jar that survives between runs.
// The jar file doubles as the manual fallback credential store: when the
// automated login breaks, cookies copied from a browser session go here.
type Session struct {
	Client  *utils.GrabHTTPClient
	jar     *recordingJar
	jarPath string
}

type storedCookie struct {
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Domain   string    `json:"domain"`
	Path     string    `json:"path"`
	Expires  time.Time `json:"expires,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HTTPOnly bool      `json:"httponly,omitempty"`
}

// recordingJar wraps the standard cookie jar and keeps a flat copy of every
// cookie it has seen, since net/http/cookiejar offers no way to enumerate
// its contents for persistence.
type recordingJar struct {
	inner   *cookiejar.Jar
	mu      sync.Mutex
	cookies map[string]storedCookie
}

func newRecordingJar() (*recordingJar, error) {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &recordingJar{
		inner:   inner,
		cookies: make(map[string]storedCookie),
	}, nil
}

func (j *recordingJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	for _, c := range cookies {
		domain := c.Domain
		if domain == "" {
			domain = u.Hostname()
		}
		path := c.Path
		if path == "" {
			path = "/"
		}
		key := domain + ";" + path + ";" + c.Name
		if c.MaxAge < 0 || (!c.Expires.IsZero() && c.Expires.Before(time.Now())) {
			delete(j.cookies, key)
		} else {
			j.cookies[key] = storedCookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   domain,
				Path:     path,
				Expires:  c.Expires,
				Secure:   c.Secure,
				HTTPOnly: c.HttpOnly,
			}
		}
	}
	j.mu.Unlock()
	j.inner.SetCookies(u, cookies)
}

func (j *recordingJar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

func (j *recordingJar) snapshot() []storedCookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]storedCookie, 0, len(j.cookies))
	for _, c := range j.cookies {
		out = append(out, c)
	}
	return out
}

// NewSession builds a session client, loading any previously saved cookies
// from jarPath. A missing jar file is not an error.
func NewSession(jarPath string, cfg utils.HTTPClientConfig) (*Session, error) {
	jar, err := newRecordingJar()
	if err != nil {
		return nil, fmt.Errorf("error creating cookie jar: %v", err)
	}
	cfg.Jar = jar
	if cfg.UserAgent == "" {
		cfg.UserAgent = utils.DefaultSSOUserAgent
	}
	s := &Session{
		Client:  utils.NewGrabHTTPClient(cfg),
		jar:     jar,
		jarPath: jarPath,
	}
	if err := s.loadCookies(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Session) loadCookies() error {
	data, err := os.ReadFile(s.jarPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("error reading cookie jar %s: %v", s.jarPath, err)
	}
	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("error parsing cookie jar %s: %v", s.jarPath, err)
	}
	byDomain := make(map[string][]*http.Cookie)
	for _, c := range stored {
		if !c.Expires.IsZero() && c.Expires.Before(time.Now()) {
			continue
		}
		byDomain[c.Domain] = append(byDomain[c.Domain], &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		})
	}
	for domain, cookies := range byDomain {
		u := &url.URL{Scheme: "https", Host: domain, Path: "/"}
		s.jar.SetCookies(u, cookies)
	}
	return nil
}

// Save writes the jar back to disk. Call on shutdown so the next run can
// skip the SSO dance.
func (s *Session) Save() error {
	data, err := json.MarshalIndent(s.jar.snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.jarPath, data, 0600); err != nil {
		return fmt.Errorf("error writing cookie jar %s: %v", s.jarPath, err)
	}
	return nil
}
