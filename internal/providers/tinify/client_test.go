package tinify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

type captureTransport struct {
	responses map[string]responseStub
	requests  []capturedRequest
}

type capturedRequest struct {
	method string
	url    string
	header http.Header
	body   []byte
}

type responseStub struct {
	status      int
	header      http.Header
	body        []byte
	knownLength bool
}

func newCaptureTransport() *captureTransport {
	return &captureTransport{responses: map[string]responseStub{}}
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
	}
	c.requests = append(c.requests, capturedRequest{
		method: req.Method,
		url:    req.URL.String(),
		header: req.Header.Clone(),
		body:   body,
	})
	if stub, ok := c.responses[req.Method+" "+req.URL.String()]; ok {
		resp := stub.toResponse()
		resp.Request = req
		return resp, nil
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("not found")),
		Request:    req,
	}, nil
}

func (c *captureTransport) setJSON(method, url string, status int, header http.Header, payload any) {
	body, _ := json.Marshal(payload)
	h := http.Header{"Content-Type": []string{"application/json; charset=utf-8"}}
	for k, v := range header {
		h[k] = v
	}
	c.responses[method+" "+url] = responseStub{status: status, header: h, body: body}
}

func (c *captureTransport) setBinary(method, url, contentType string, data []byte) {
	c.responses[method+" "+url] = responseStub{
		status:      http.StatusOK,
		header:      http.Header{"Content-Type": []string{contentType}},
		body:        data,
		knownLength: true,
	}
}

func (s responseStub) toResponse() *http.Response {
	header := s.header.Clone()
	length := int64(-1)
	if s.knownLength {
		length = int64(len(s.body))
	}
	return &http.Response{
		StatusCode:    s.status,
		Header:        header,
		ContentLength: length,
		Body:          io.NopCloser(bytes.NewReader(s.body)),
	}
}

func newTestClient(t *testing.T, transport *captureTransport, key string) *Client {
	t.Helper()
	client, err := NewClient(Options{
		APIKey:     key,
		BaseURL:    "https://api.tinify.com/",
		HTTPClient: &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func shrinkDescriptor(url string) map[string]any {
	return map[string]any{
		"input":  map[string]any{"size": 1000, "type": "image/jpeg"},
		"output": map[string]any{"size": 600, "type": "image/jpeg", "width": 10, "height": 5, "ratio": 0.6, "url": url},
	}
}

func TestShrinkSendsImageAndParsesDescriptor(t *testing.T) {
	transport := newCaptureTransport()
	transport.setJSON(http.MethodPost, "https://api.tinify.com/shrink", http.StatusCreated,
		http.Header{"Location": []string{"https://api.tinify.com/output/abc"}},
		shrinkDescriptor("https://api.tinify.com/output/ignored"))
	client := newTestClient(t, transport, "secret")

	desc, err := client.Shrink(context.Background(), []byte{1, 2, 3}, "image/jpeg")
	if err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if desc.Location != "https://api.tinify.com/output/abc" {
		t.Fatalf("location = %q, want header value", desc.Location)
	}
	if desc.Input.Size != 1000 || desc.Output.Size != 600 || desc.Output.Type != "image/jpeg" {
		t.Fatalf("unexpected descriptor: %+v", desc)
	}
	if len(transport.requests) != 1 {
		t.Fatalf("requests = %d, want 1", len(transport.requests))
	}
	req := transport.requests[0]
	if got := req.header.Get("Content-Type"); got != "image/jpeg" {
		t.Fatalf("content-type = %q, want image/jpeg", got)
	}
	if !bytes.Equal(req.body, []byte{1, 2, 3}) {
		t.Fatalf("body = %v", req.body)
	}
	probe := &http.Request{Header: req.header}
	user, pass, ok := probe.BasicAuth()
	if !ok || user != "api" || pass != "secret" {
		t.Fatalf("basic auth = %q/%q (%v)", user, pass, ok)
	}
}

func TestShrinkFallsBackToOutputURL(t *testing.T) {
	transport := newCaptureTransport()
	transport.setJSON(http.MethodPost, "https://api.tinify.com/shrink", http.StatusCreated, nil,
		shrinkDescriptor("https://api.tinify.com/output/from-body"))
	client := newTestClient(t, transport, "secret")

	desc, err := client.Shrink(context.Background(), []byte{1}, "image/png")
	if err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if desc.Location != "https://api.tinify.com/output/from-body" {
		t.Fatalf("location = %q", desc.Location)
	}
}

func TestShrinkReturnsAPIError(t *testing.T) {
	transport := newCaptureTransport()
	transport.setJSON(http.MethodPost, "https://api.tinify.com/shrink", http.StatusUnauthorized, nil,
		map[string]any{"error": "Unauthorized", "message": "Credentials are invalid."})
	client := newTestClient(t, transport, "bad")

	_, err := client.Shrink(context.Background(), []byte{1}, "image/png")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Message != "Credentials are invalid." {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestShrinkRequiresCredentials(t *testing.T) {
	client := newTestClient(t, newCaptureTransport(), "  ")
	if _, err := client.Shrink(context.Background(), []byte{1}, "image/png"); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("err = %v, want ErrMissingAPIKey", err)
	}
}

func TestConvertPostsOptionsAndClassifiesBinary(t *testing.T) {
	transport := newCaptureTransport()
	transport.setBinary(http.MethodPost, "https://api.tinify.com/output/abc", "image/webp", []byte("RIFFWEBP"))
	client := newTestClient(t, transport, "secret")

	resp, err := client.Convert(context.Background(), "https://api.tinify.com/output/abc", ConvertOptions{
		Type:     "image/webp",
		Preserve: []string{"copyright", "creation"},
		Resize:   &Resize{Method: "fit", Width: 100, Height: 50},
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	bin, ok := resp.(*BinaryResponse)
	if !ok {
		t.Fatalf("response = %T, want *BinaryResponse", resp)
	}
	if string(bin.Data) != "RIFFWEBP" || bin.ContentType != "image/webp" {
		t.Fatalf("unexpected binary response: %q %q", bin.Data, bin.ContentType)
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.requests[0].body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	convert := payload["convert"].(map[string]any)
	if convert["type"] != "image/webp" {
		t.Fatalf("convert.type = %v", convert["type"])
	}
	preserve := payload["preserve"].([]any)
	if len(preserve) != 2 || preserve[0] != "copyright" {
		t.Fatalf("preserve = %v", preserve)
	}
	resize := payload["resize"].(map[string]any)
	if resize["method"] != "fit" || resize["width"] != float64(100) {
		t.Fatalf("resize = %v", resize)
	}
}

func TestConvertOmitsEmptyOptions(t *testing.T) {
	transport := newCaptureTransport()
	transport.setJSON(http.MethodPost, "https://api.tinify.com/output/abc", http.StatusOK,
		http.Header{"Location": []string{"https://api.tinify.com/output/converted"}},
		shrinkDescriptor(""))
	client := newTestClient(t, transport, "secret")

	resp, err := client.Convert(context.Background(), "https://api.tinify.com/output/abc", ConvertOptions{Type: "image/png"})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	desc, ok := resp.(*DescriptorResponse)
	if !ok {
		t.Fatalf("response = %T, want *DescriptorResponse", resp)
	}
	if desc.Descriptor.Location != "https://api.tinify.com/output/converted" {
		t.Fatalf("location = %q", desc.Descriptor.Location)
	}
	body := string(transport.requests[0].body)
	if strings.Contains(body, "preserve") || strings.Contains(body, "resize") {
		t.Fatalf("empty options should be omitted: %s", body)
	}
}

func TestConvertReturnsAPIError(t *testing.T) {
	transport := newCaptureTransport()
	transport.setJSON(http.MethodPost, "https://api.tinify.com/output/abc", http.StatusBadRequest, nil,
		map[string]any{"error": "BadRequest", "message": "Unsupported conversion."})
	client := newTestClient(t, transport, "secret")

	_, err := client.Convert(context.Background(), "https://api.tinify.com/output/abc", ConvertOptions{Type: "image/avif"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("err = %v, want 400 *APIError", err)
	}
}

func TestFetchReportsProgressAndScopesCredentials(t *testing.T) {
	transport := newCaptureTransport()
	data := bytes.Repeat([]byte{0x42}, 4096)
	transport.setBinary(http.MethodGet, "https://cdn.example.com/out.webp", "image/webp", data)
	client := newTestClient(t, transport, "secret")

	var lastRead, lastTotal int64
	got, contentType, err := client.Fetch(context.Background(), "https://cdn.example.com/out.webp", func(read, total int64) {
		lastRead, lastTotal = read, total
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !bytes.Equal(got, data) || contentType != "image/webp" {
		t.Fatalf("unexpected fetch result: %d bytes, %q", len(got), contentType)
	}
	if lastRead != int64(len(data)) || lastTotal != int64(len(data)) {
		t.Fatalf("progress = %d/%d, want %d/%d", lastRead, lastTotal, len(data), len(data))
	}
	if auth := transport.requests[0].header.Get("Authorization"); auth != "" {
		t.Fatalf("credentials leaked to foreign host: %q", auth)
	}
}

func TestFetchRejectsInvalidLocation(t *testing.T) {
	client := newTestClient(t, newCaptureTransport(), "secret")
	for _, loc := range []string{"", "/relative/path", "ftp://api.tinify.com/x"} {
		if _, _, err := client.Fetch(context.Background(), loc, nil); !errors.Is(err, ErrInvalidLocation) {
			t.Fatalf("Fetch(%q) err = %v, want ErrInvalidLocation", loc, err)
		}
	}
}
