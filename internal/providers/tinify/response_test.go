package tinify

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

func newResponse(status int, contentType, body string) *http.Response {
	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	return &http.Response{StatusCode: status, Header: header, Body: io.NopCloser(strings.NewReader(body))}
}

func TestClassify(t *testing.T) {
	descriptor := `{"output":{"size":10,"type":"image/png","url":"https://api.tinify.com/output/x"}}`
	tests := []struct {
		name        string
		contentType string
		body        string
		want        ResponseKind
	}{
		{name: "json", contentType: "application/json", body: descriptor, want: JSONDescriptor},
		{name: "json with charset", contentType: "Application/JSON; charset=utf-8", body: descriptor, want: JSONDescriptor},
		{name: "webp", contentType: "image/webp", body: "RIFF", want: BinaryPayload},
		{name: "octet stream", contentType: "application/octet-stream", body: "raw", want: BinaryPayload},
		{name: "missing content type", contentType: "", body: "raw", want: BinaryPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Classify(newResponse(http.StatusOK, tt.contentType, tt.body))
			if err != nil {
				t.Fatalf("classify: %v", err)
			}
			if resp.Kind() != tt.want {
				t.Fatalf("kind = %s, want %s", resp.Kind(), tt.want)
			}
			switch v := resp.(type) {
			case *DescriptorResponse:
				if v.Descriptor.Location != "https://api.tinify.com/output/x" {
					t.Fatalf("location = %q", v.Descriptor.Location)
				}
			case *BinaryResponse:
				if string(v.Data) != tt.body {
					t.Fatalf("data = %q, want %q", v.Data, tt.body)
				}
			}
		})
	}
}

func TestClassifyFailures(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
		want error
	}{
		{name: "nil", resp: nil, want: ErrUnexpectedResponse},
		{name: "server error", resp: newResponse(http.StatusInternalServerError, "image/png", "x"), want: ErrUnexpectedResponse},
		{name: "malformed json", resp: newResponse(http.StatusOK, "application/json", "{"), want: ErrUnexpectedResponse},
		{name: "no location", resp: newResponse(http.StatusOK, "application/json", `{"output":{"size":1}}`), want: ErrInvalidLocation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Classify(tt.resp); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
