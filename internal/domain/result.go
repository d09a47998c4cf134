package domain

import (
	"encoding/base64"
	"errors"
	"math"
	"strings"
)

// CompressionResult is the envelope returned for a successful request.
type CompressionResult struct {
	OriginalSize     int64  `json:"originalSize"`
	CompressedSize   int64  `json:"compressedSize"`
	SavedBytes       int64  `json:"savedBytes"`
	CompressionRatio int    `json:"compressionRatio"`
	CompressedImage  string `json:"compressedImage"`
	OriginalType     string `json:"originalType"`
	OutputType       string `json:"outputType"`
}

// AssembleInput carries everything AssembleResult needs.
type AssembleInput struct {
	OriginalSize int64
	Payload      []byte
	// DeclaredSize is the output size announced by the compress phase. It is
	// used only when Payload is empty.
	DeclaredSize int64
	OriginalType string
	OutputType   string
	// ShortCircuit reports the result without size comparison: SavedBytes
	// and CompressionRatio stay zero.
	ShortCircuit bool
}

// AssembleResult computes the size metrics and builds the result envelope.
func AssembleResult(in AssembleInput) CompressionResult {
	original := max(in.OriginalSize, 0)
	compressed := int64(len(in.Payload))
	if compressed == 0 {
		compressed = max(in.DeclaredSize, 0)
	}
	res := CompressionResult{
		OriginalSize:    original,
		CompressedSize:  compressed,
		CompressedImage: DataURI(in.OutputType, in.Payload),
		OriginalType:    in.OriginalType,
		OutputType:      in.OutputType,
	}
	if in.ShortCircuit {
		return res
	}
	res.SavedBytes = SavedBytes(original, compressed)
	res.CompressionRatio = CompressionRatio(original, res.SavedBytes)
	return res
}

// SavedBytes returns max(0, original-compressed).
func SavedBytes(original, compressed int64) int64 {
	if saved := original - compressed; saved > 0 {
		return saved
	}
	return 0
}

// CompressionRatio returns round(saved/original*100) clamped to [0,100].
func CompressionRatio(original, saved int64) int {
	if original <= 0 || saved <= 0 {
		return 0
	}
	ratio := int(math.Round(float64(saved) / float64(original) * 100))
	return min(max(ratio, 0), 100)
}

// DataURI encodes payload as a base64 data URI of the given MIME type.
func DataURI(mime string, payload []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(payload)
}

// DecodeDataURI returns the payload of a base64 data URI built by DataURI.
func DecodeDataURI(uri string) ([]byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return nil, errors.New("domain: not a data uri")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return nil, errors.New("domain: data uri is not base64 encoded")
	}
	return base64.StdEncoding.DecodeString(payload)
}
