package tinify

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

var (
	// ErrUnexpectedResponse marks a response whose status or shape cannot be used.
	ErrUnexpectedResponse = errors.New("tinify: unexpected response")
	// ErrInvalidLocation marks a missing or malformed location reference.
	ErrInvalidLocation = errors.New("tinify: invalid location")
)

// ResponseKind tags the variants of Response.
type ResponseKind int

const (
	JSONDescriptor ResponseKind = iota + 1
	BinaryPayload
)

func (k ResponseKind) String() string {
	switch k {
	case JSONDescriptor:
		return "json_descriptor"
	case BinaryPayload:
		return "binary_payload"
	default:
		return "unknown"
	}
}

// Response is a classified convert answer: either *DescriptorResponse or
// *BinaryResponse.
type Response interface {
	Kind() ResponseKind
	isResponse()
}

// DescriptorResponse requires one more fetch of Descriptor.Location to
// obtain the image bytes.
type DescriptorResponse struct {
	Descriptor Descriptor
}

// BinaryResponse already carries the final image bytes.
type BinaryResponse struct {
	Data        []byte
	ContentType string
}

func (*DescriptorResponse) Kind() ResponseKind { return JSONDescriptor }
func (*BinaryResponse) Kind() ResponseKind     { return BinaryPayload }
func (*DescriptorResponse) isResponse()        {}
func (*BinaryResponse) isResponse()            {}

// Classify reads resp and decides, from its declared content type, whether
// the body is a JSON descriptor or the final image bytes. It does not close
// the body.
func Classify(resp *http.Response) (Response, error) {
	if resp == nil {
		return nil, fmt.Errorf("%w: nil response", ErrUnexpectedResponse)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode)
	}
	if isJSON(resp.Header.Get("Content-Type")) {
		desc, err := decodeDescriptor(resp)
		if err != nil {
			return nil, err
		}
		return &DescriptorResponse{Descriptor: *desc}, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tinify: read response: %w", err)
	}
	return &BinaryResponse{Data: data, ContentType: resp.Header.Get("Content-Type")}, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType == "application/json"
}

// decodeDescriptor decodes a descriptor body and resolves its location from
// the Location header, falling back to output.url.
func decodeDescriptor(resp *http.Response) (*Descriptor, error) {
	var desc Descriptor
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return nil, fmt.Errorf("%w: decode descriptor: %v", ErrUnexpectedResponse, err)
	}
	if loc, err := resp.Location(); err == nil {
		desc.Location = loc.String()
	} else if u := strings.TrimSpace(desc.Output.URL); u != "" {
		desc.Location = u
	}
	if desc.Location == "" {
		return nil, fmt.Errorf("%w: descriptor without location", ErrInvalidLocation)
	}
	return &desc, nil
}
