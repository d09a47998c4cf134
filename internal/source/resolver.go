// Package source turns the inbound "source" field into image bytes. A source
// is a data URI, raw base64, or an http(s) URL on an allowed host.
package source

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"imgshrink/internal/domain"
	"imgshrink/internal/infra"
)

var (
	ErrInvalidSource  = errors.New("source: invalid source")
	ErrHostNotAllowed = errors.New("source: host not allowed")
	ErrTooLarge       = errors.New("source: payload too large")
)

const maxRedirects = 10

// Options configures a Resolver.
type Options struct {
	AllowedHosts []string
	MaxBytes     int64
	HTTPClient   *http.Client
	Logger       *infra.Logger
}

// Resolver resolves inline and remote sources.
type Resolver struct {
	allowed    map[string]struct{}
	allowAll   bool
	maxBytes   int64
	httpClient *http.Client
	logger     *infra.Logger
}

// NewResolver constructs a Resolver. A "*" entry in AllowedHosts allows any host.
func NewResolver(opts Options) *Resolver {
	r := &Resolver{
		allowed:  map[string]struct{}{},
		maxBytes: opts.MaxBytes,
		logger:   infra.LoggerOrDiscard(opts.Logger),
	}
	for _, host := range opts.AllowedHosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host == "*" {
			r.allowAll = true
			continue
		}
		if host != "" {
			r.allowed[host] = struct{}{}
		}
	}
	if r.maxBytes <= 0 {
		r.maxBytes = 25 << 20
	}
	client := &http.Client{Timeout: 30 * time.Second}
	if opts.HTTPClient != nil {
		c := *opts.HTTPClient
		client = &c
	}
	client.CheckRedirect = r.checkRedirect
	r.httpClient = client
	return r
}

// checkRedirect applies the host allowlist to every redirect hop.
func (r *Resolver) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("source: stopped after %d redirects", maxRedirects)
	}
	if !r.hostAllowed(req.URL.Hostname()) {
		return fmt.Errorf("%w: redirect to %s", ErrHostNotAllowed, req.URL.Hostname())
	}
	return nil
}

// Resolve returns the bytes named by raw and the MIME type declared by the
// source itself (data URI media type or response Content-Type), if any.
func (r *Resolver) Resolve(ctx context.Context, raw string) ([]byte, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, "", domain.ErrEmptySource
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return r.Fetch(ctx, raw)
	}
	data, mime, err := DecodeInline(raw)
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > r.maxBytes {
		return nil, "", fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	return data, mime, nil
}

// Fetch downloads rawURL. Network failures and non-success answers are
// classified as UpstreamFetchFailed.
func (r *Resolver) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidSource, rawURL)
	}
	if !r.hostAllowed(parsed.Hostname()) {
		return nil, "", fmt.Errorf("%w: %s", ErrHostNotAllowed, parsed.Hostname())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("source: build request: %w", err)
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, ErrHostNotAllowed) {
			return nil, "", err
		}
		return nil, "", domain.NewClassifiedError(domain.KindUpstreamFetchFailed, "could not download source image", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		ce := domain.NewClassifiedError(domain.KindUpstreamFetchFailed,
			fmt.Sprintf("source download returned status %d", resp.StatusCode), nil)
		ce.StatusCode = resp.StatusCode
		return nil, "", ce
	}
	if resp.ContentLength > r.maxBytes {
		return nil, "", fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, "", domain.NewClassifiedError(domain.KindUpstreamFetchFailed, "could not read source image", err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, "", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, r.maxBytes)
	}
	r.logger.Debug().Str("host", parsed.Hostname()).Int("bytes", len(data)).Msg("source: fetched remote image")
	return data, domain.NormalizeMIME(resp.Header.Get("Content-Type")), nil
}

func (r *Resolver) hostAllowed(host string) bool {
	if r.allowAll {
		return true
	}
	_, ok := r.allowed[strings.ToLower(host)]
	return ok
}

// DecodeInline decodes a data URI or a bare base64 string (standard or URL
// alphabet, padding optional).
func DecodeInline(raw string) ([]byte, string, error) {
	var mime string
	payload := raw
	if strings.HasPrefix(strings.ToLower(raw), "data:") {
		header, body, ok := strings.Cut(raw[len("data:"):], ",")
		if !ok {
			return nil, "", fmt.Errorf("%w: malformed data uri", ErrInvalidSource)
		}
		if !strings.HasSuffix(strings.ToLower(header), ";base64") {
			return nil, "", fmt.Errorf("%w: data uri must be base64 encoded", ErrInvalidSource)
		}
		mime = domain.NormalizeMIME(header[:len(header)-len(";base64")])
		payload = body
	}
	payload = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, payload)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(payload); err == nil {
			if len(data) == 0 {
				return nil, "", domain.ErrEmptySource
			}
			return data, mime, nil
		}
	}
	return nil, "", fmt.Errorf("%w: not base64", ErrInvalidSource)
}
