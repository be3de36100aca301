package federation

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Remote is a peer node. The canonical URL is the identity; Name is a
// display alias only.
type Remote struct {
	Name  string `yaml:"name" json:"name"`
	URL   string `yaml:"url" json:"url"`
	Token string `yaml:"token,omitempty" json:"-"`
}

// CanonicalURL normalizes a remote address: lowercased scheme and host,
// default scheme https, no trailing slash.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("remote url is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid remote url %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("remote url %q has no host", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimRight(u.Path, "/")
	u.Fragment = ""
	u.RawQuery = ""
	return u.String(), nil
}

// remotesFileName is the registry file inside the data root.
const remotesFileName = "remotes.yaml"

// Registry is the durable set of known remotes, keyed by canonical URL.
type Registry struct {
	mu      sync.Mutex
	path    string
	remotes map[string]Remote // canonical URL -> remote
}

// LoadRegistry reads (or initializes) the remote registry under dir.
func LoadRegistry(dir string) (*Registry, error) {
	r := &Registry{
		path:    filepath.Join(dir, remotesFileName),
		remotes: make(map[string]Remote),
	}
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read remotes: %w", err)
	}

	var stored []Remote
	if err := yaml.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("cannot parse remotes: %w", err)
	}
	for _, rem := range stored {
		canonical, err := CanonicalURL(rem.URL)
		if err != nil {
			continue
		}
		rem.URL = canonical
		r.remotes[canonical] = rem
	}
	return r, nil
}

// Add registers a remote. Re-adding the same URL updates the alias and
// token instead of duplicating.
func (r *Registry) Add(name, rawURL, token string) (Remote, error) {
	canonical, err := CanonicalURL(rawURL)
	if err != nil {
		return Remote{}, err
	}
	rem := Remote{Name: name, URL: canonical, Token: token}
	if rem.Name == "" {
		rem.Name = canonical
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.remotes[canonical] = rem
	return rem, r.saveLocked()
}

// Remove deletes a remote by URL or display alias.
func (r *Registry) Remove(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if canonical, err := CanonicalURL(ref); err == nil {
		if _, ok := r.remotes[canonical]; ok {
			delete(r.remotes, canonical)
			return r.saveLocked()
		}
	}
	for key, rem := range r.remotes {
		if rem.Name == ref {
			delete(r.remotes, key)
			return r.saveLocked()
		}
	}
	return fmt.Errorf("remote %q not found", ref)
}

// List returns remotes sorted by URL.
func (r *Registry) List() []Remote {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Remote, 0, len(r.remotes))
	for _, rem := range r.remotes {
		out = append(out, rem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Get resolves a remote by URL or alias.
func (r *Registry) Get(ref string) (Remote, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if canonical, err := CanonicalURL(ref); err == nil {
		if rem, ok := r.remotes[canonical]; ok {
			return rem, true
		}
	}
	for _, rem := range r.remotes {
		if rem.Name == ref {
			return rem, true
		}
	}
	return Remote{}, false
}

func (r *Registry) saveLocked() error {
	if r.path == "" {
		return nil
	}
	list := make([]Remote, 0, len(r.remotes))
	for _, rem := range r.remotes {
		list = append(list, rem)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].URL < list[j].URL })

	data, err := yaml.Marshal(list)
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0o600)
}
