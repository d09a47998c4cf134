package domain

// ImageAsset is an immutable image payload with its declared MIME type.
// Callers must not modify the slice returned by Bytes.
type ImageAsset struct {
	data []byte
	mime string
}

// NewImageAsset wraps data with its declared MIME type.
func NewImageAsset(data []byte, mime string) ImageAsset {
	return ImageAsset{data: data, mime: NormalizeMIME(mime)}
}

// Bytes returns the raw payload.
func (a ImageAsset) Bytes() []byte {
	return a.data
}

// MIME returns the declared MIME type.
func (a ImageAsset) MIME() string {
	return a.mime
}

// Size returns the payload length in bytes.
func (a ImageAsset) Size() int64 {
	return int64(len(a.data))
}

// IsEmpty reports whether the asset carries no bytes.
func (a ImageAsset) IsEmpty() bool {
	return len(a.data) == 0
}
