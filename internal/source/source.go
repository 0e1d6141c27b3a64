// Package source opens input files from local paths or HTTP(S) URLs and
// transparently decompresses gzip content.
package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/cordontrips/cordontrips/internal/resilience"
)

// ErrUnsupportedScheme is returned for URIs other than file, http and https.
var ErrUnsupportedScheme = errors.New("unsupported source scheme")

// Config holds configuration for an Opener.
type Config struct {
	Logger zerolog.Logger

	// Client is the template for per-host download clients. Name is replaced
	// by the host.
	Client resilience.ClientConfig

	// Policy confines the locations Open and Destination accept. Nil allows
	// any local path and any remote host.
	Policy *Policy
}

// Opener resolves input URIs. Remote hosts each get their own resilient
// client so one failing host does not open the breaker for others.
type Opener struct {
	logger zerolog.Logger
	config resilience.ClientConfig
	policy *Policy

	mu      sync.Mutex
	clients map[string]*resilience.Client
}

// NewOpener creates an Opener.
func NewOpener(cfg Config) *Opener {
	clientCfg := cfg.Client
	clientCfg.Logger = cfg.Logger
	if cfg.Policy != nil && clientCfg.CheckRedirect == nil {
		clientCfg.CheckRedirect = cfg.Policy.CheckRedirect
	}
	return &Opener{
		logger:  cfg.Logger,
		config:  clientCfg,
		policy:  cfg.Policy,
		clients: make(map[string]*resilience.Client),
	}
}

// Open returns the decompressed content of uri. Plain paths and file:// URIs
// are read from disk; http and https are downloaded.
func (o *Opener) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	raw, err := o.openRaw(ctx, uri)
	if err != nil {
		return nil, err
	}
	rc, err := Decompress(raw)
	if err != nil {
		raw.Close()
		return nil, fmt.Errorf("open %s: %w", uri, err)
	}
	return rc, nil
}

// ReadAll returns the decompressed content of uri.
func (o *Opener) ReadAll(ctx context.Context, uri string) ([]byte, error) {
	rc, err := o.Open(ctx, uri)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", uri, err)
	}
	return data, nil
}

// Destination resolves an output location to a local path.
func (o *Opener) Destination(uri string) (string, error) {
	if o.policy != nil {
		return o.policy.Output(uri)
	}
	loc, err := parseLocation(uri)
	if err != nil {
		return "", err
	}
	if loc.remote != nil {
		return "", fmt.Errorf("%w: %s", ErrNotLocal, uri)
	}
	return loc.path, nil
}

func (o *Opener) openRaw(ctx context.Context, uri string) (io.ReadCloser, error) {
	if o.policy != nil {
		resolved, err := o.policy.Input(uri)
		if err != nil {
			return nil, err
		}
		uri = resolved
	}
	loc, err := parseLocation(uri)
	if err != nil {
		return nil, err
	}
	if loc.remote == nil {
		return openFile(loc.path)
	}

	resp, err := o.client(loc.remote.Host).Get(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", uri, err)
	}
	o.logger.Debug().Str("uri", uri).Int64("content_length", resp.ContentLength).Msg("downloading input")
	return resp.Body, nil
}

func openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path) //nolint:gosec // input path is operator-provided
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

func (o *Opener) client(host string) *resilience.Client {
	o.mu.Lock()
	defer o.mu.Unlock()

	if c, ok := o.clients[host]; ok {
		return c
	}
	cfg := o.config
	cfg.Name = host
	if cfg.Breaker != nil {
		b := *cfg.Breaker
		b.Name = host
		cfg.Breaker = &b
	}
	c := resilience.NewClient(cfg)
	o.clients[host] = c
	return c
}

// HostHealth is the breaker state of one remote host.
type HostHealth struct {
	Host   string
	State  gobreaker.State
	Counts gobreaker.Counts
}

// Healthy reports whether the breaker is closed.
func (h HostHealth) Healthy() bool {
	return h.State == gobreaker.StateClosed
}

// Health returns the breaker state of every host contacted so far, sorted by
// host.
func (o *Opener) Health() []HostHealth {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]HostHealth, 0, len(o.clients))
	for host, c := range o.clients {
		out = append(out, HostHealth{Host: host, State: c.State(), Counts: c.Counts()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// Decompress sniffs the gzip magic number and wraps r in a gzip reader when
// present. Closing the result closes r.
func Decompress(r io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		return &readCloser{Reader: zr, closers: []io.Closer{zr, r}}, nil
	}
	return &readCloser{Reader: br, closers: []io.Closer{r}}, nil
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (rc *readCloser) Close() error {
	var errs []error
	for _, c := range rc.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
