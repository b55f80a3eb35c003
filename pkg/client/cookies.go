package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// FileJar is an http.CookieJar that can be loaded from and saved to a JSON file, so cookies set
// by one invocation are sent by the next.
type FileJar struct {
	path string
	jar  *cookiejar.Jar

	mu   sync.Mutex
	seen map[string]*url.URL
}

type savedCookies map[string][]*http.Cookie

// OpenFileJar returns a jar backed by path. A missing file yields an empty jar.
func OpenFileJar(path string) (*FileJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	fj := &FileJar{path: path, jar: jar, seen: make(map[string]*url.URL)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fj, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cookie file %s: %w", path, err)
	}
	var saved savedCookies
	if err := json.Unmarshal(data, &saved); err != nil {
		return nil, fmt.Errorf("failed to parse cookie file %s: %w", path, err)
	}
	for rawURL, cookies := range saved {
		u, err := url.Parse(rawURL)
		if err != nil {
			continue
		}
		fj.SetCookies(u, cookies)
	}
	return fj, nil
}

func (j *FileJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.jar.SetCookies(u, cookies)
	key := u.Scheme + "://" + u.Host
	j.mu.Lock()
	j.seen[key] = &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
	j.mu.Unlock()
}

func (j *FileJar) Cookies(u *url.URL) []*http.Cookie {
	return j.jar.Cookies(u)
}

// Save writes every cookie the jar would send to the hosts it has seen.
func (j *FileJar) Save() error {
	j.mu.Lock()
	saved := make(savedCookies, len(j.seen))
	for key, u := range j.seen {
		if cookies := j.jar.Cookies(u); len(cookies) > 0 {
			saved[key] = cookies
		}
	}
	j.mu.Unlock()

	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return fmt.Errorf("failed to create cookie directory: %w", err)
	}
	if err := os.WriteFile(j.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cookie file %s: %w", j.path, err)
	}
	return nil
}
