package tinify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"imgshrink/internal/infra"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("tinify: api key is required")

// Options configures the shrink API client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against a Tinify-compatible shrink API.
type Client struct {
	apiKey     string
	baseURL    string
	authHost   string
	httpClient *http.Client
	logger     *infra.Logger
}

// Descriptor is the JSON body returned by the shrink endpoint, and by the
// convert endpoint when it answers with a descriptor instead of image bytes.
type Descriptor struct {
	Input    Input  `json:"input"`
	Output   Output `json:"output"`
	Location string `json:"-"`
}

// Input describes the uploaded image.
type Input struct {
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// Output describes the processed artifact.
type Output struct {
	Size   int64   `json:"size"`
	Type   string  `json:"type"`
	Width  int     `json:"width,omitempty"`
	Height int     `json:"height,omitempty"`
	Ratio  float64 `json:"ratio,omitempty"`
	URL    string  `json:"url,omitempty"`
}

// Resize is forwarded verbatim to the convert call.
type Resize struct {
	Method string `json:"method"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// ConvertOptions describes the second-phase request.
type ConvertOptions struct {
	Type     string
	Preserve []string
	Resize   *Resize
}

type convertRequest struct {
	Convert  convertType `json:"convert"`
	Preserve []string    `json:"preserve,omitempty"`
	Resize   *Resize     `json:"resize,omitempty"`
}

type convertType struct {
	Type string `json:"type"`
}

// APIError is a non-success answer from the service.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	switch {
	case e.Message != "" && e.Code != "":
		return fmt.Sprintf("tinify: %s (%s)", e.Message, e.Code)
	case e.Message != "":
		return "tinify: " + e.Message
	default:
		return fmt.Sprintf("tinify: status %d", e.StatusCode)
	}
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.tinify.com"
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("tinify: invalid base url %q", opts.BaseURL)
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		authHost:   strings.ToLower(parsed.Host),
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Shrink uploads data and returns the descriptor of the compressed artifact.
func (c *Client) Shrink(ctx context.Context, data []byte, mime string) (*Descriptor, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/shrink", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("tinify: build request: %w", err)
	}
	req.Header.Set("Content-Type", mime)
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tinify: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp)
	}
	desc, err := decodeDescriptor(resp)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().
		Int64("input_size", desc.Input.Size).
		Int64("output_size", desc.Output.Size).
		Str("output_type", desc.Output.Type).
		Str("compression_count", resp.Header.Get("Compression-Count")).
		Msg("tinify: shrink succeeded")
	return desc, nil
}

// Convert asks the service to convert the artifact at location. The answer
// is either image bytes or a descriptor pointing at them.
func (c *Client) Convert(ctx context.Context, location string, opts ConvertOptions) (Response, error) {
	if !c.HasCredentials() {
		return nil, ErrMissingAPIKey
	}
	target, err := parseLocation(location)
	if err != nil {
		return nil, err
	}
	payload := convertRequest{
		Convert:  convertType{Type: opts.Type},
		Preserve: opts.Preserve,
		Resize:   opts.Resize,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("tinify: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("tinify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tinify: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp)
	}
	classified, err := Classify(resp)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().
		Str("type", opts.Type).
		Str("response", classified.Kind().String()).
		Msg("tinify: convert succeeded")
	return classified, nil
}

// ProgressFunc receives the number of bytes read so far and the expected
// total, or -1 when the response carries no length.
type ProgressFunc func(read, total int64)

// Fetch downloads the artifact at location and returns its bytes and
// declared content type.
func (c *Client) Fetch(ctx context.Context, location string, progress ProgressFunc) ([]byte, string, error) {
	target, err := parseLocation(location)
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("tinify: build download request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("tinify: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", decodeAPIError(resp)
	}

	var body io.Reader = resp.Body
	if progress != nil {
		body = &countingReader{r: resp.Body, total: resp.ContentLength, report: progress}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", fmt.Errorf("tinify: read image: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// authorize attaches credentials only to requests aimed at the API host so
// the key never leaks to third-party storage locations.
func (c *Client) authorize(req *http.Request) {
	if c.apiKey == "" || !strings.EqualFold(req.URL.Host, c.authHost) {
		return
	}
	req.SetBasicAuth("api", c.apiKey)
}

func parseLocation(location string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(location))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLocation, location)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLocation, parsed.Scheme)
	}
	return parsed, nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(raw, apiErr); err != nil || (apiErr.Message == "" && apiErr.Code == "") {
		apiErr.Code = ""
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

type countingReader struct {
	r      io.Reader
	read   int64
	total  int64
	report ProgressFunc
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.read += int64(n)
		c.report(c.read, c.total)
	}
	return n, err
}
