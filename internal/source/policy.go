package source

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
)

// Location policy errors.
var (
	ErrNotLocal        = errors.New("location must be a local path")
	ErrOutsideDataRoot = errors.New("path is outside the data root")
	ErrHostNotAllowed  = errors.New("host is not in the allow-list")
)

// maxRedirects matches net/http's own limit.
const maxRedirects = 10

// Policy confines the locations a run request may name. Local paths must
// resolve under DataRoot (the working directory when empty); relative paths
// are taken relative to it. Remote inputs must come from AllowedHosts, where
// an entry "*.example.org" admits any subdomain. An empty list admits none.
type Policy struct {
	DataRoot     string
	AllowedHosts []string
}

// Input checks an input location. Local paths are returned absolute, remote
// URIs unchanged.
func (p Policy) Input(uri string) (string, error) {
	loc, err := parseLocation(uri)
	if err != nil {
		return "", err
	}
	if loc.remote != nil {
		if err := p.allowHost(loc.remote); err != nil {
			return "", err
		}
		return uri, nil
	}
	return p.confine(loc.path)
}

// Output checks an output location and returns it as an absolute local path.
func (p Policy) Output(uri string) (string, error) {
	loc, err := parseLocation(uri)
	if err != nil {
		return "", err
	}
	if loc.remote != nil {
		return "", fmt.Errorf("%w: %s", ErrNotLocal, uri)
	}
	return p.confine(loc.path)
}

// CheckRedirect refuses redirects that leave the allow-list.
func (p Policy) CheckRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: %s", ErrUnsupportedScheme, req.URL.Scheme)
	}
	return p.allowHost(req.URL)
}

func (p Policy) root() (string, error) {
	root := p.DataRoot
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve data root: %w", err)
	}
	return abs, nil
}

func (p Policy) confine(path string) (string, error) {
	root, err := p.root()
	if err != nil {
		return "", err
	}
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(root, full)
	}
	full = filepath.Clean(full)

	rel, err := filepath.Rel(root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideDataRoot, path)
	}
	return full, nil
}

func (p Policy) allowHost(u *url.URL) error {
	host := strings.ToLower(u.Hostname())
	hostPort := strings.ToLower(u.Host)
	for _, allowed := range p.AllowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		switch {
		case allowed == "":
		case allowed == host || allowed == hostPort:
			return nil
		case strings.HasPrefix(allowed, "*.") && strings.HasSuffix(host, allowed[1:]):
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrHostNotAllowed, u.Host)
}

// location is a parsed URI: either a local path or a remote URL.
type location struct {
	path   string
	remote *url.URL
}

func parseLocation(uri string) (location, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Bare path, including Windows drive letters.
		return location{path: uri}, nil
	}
	switch u.Scheme {
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return location{}, fmt.Errorf("%w: file URI with host %q", ErrUnsupportedScheme, u.Host)
		}
		return location{path: u.Path}, nil
	case "http", "https":
		return location{remote: u}, nil
	default:
		return location{}, fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}
}
