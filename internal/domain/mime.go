package domain

import "strings"

// Supported image MIME types. image/jpg is accepted as an alias of image/jpeg.
const (
	MIMEPNG  = "image/png"
	MIMEJPEG = "image/jpeg"
	MIMEJPG  = "image/jpg"
	MIMEWebP = "image/webp"
	MIMEAVIF = "image/avif"
)

var supportedMIME = map[string]struct{}{
	MIMEPNG:  {},
	MIMEJPEG: {},
	MIMEJPG:  {},
	MIMEWebP: {},
	MIMEAVIF: {},
}

// SupportedMIMETypes lists the accepted input and output formats in display order.
func SupportedMIMETypes() []string {
	return []string{MIMEPNG, MIMEJPEG, MIMEJPG, MIMEWebP, MIMEAVIF}
}

// NormalizeMIME lowercases the value and strips parameters such as "; charset=".
func NormalizeMIME(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}

// IsSupportedMIME reports whether mime is one of the accepted image formats.
func IsSupportedMIME(mime string) bool {
	_, ok := supportedMIME[NormalizeMIME(mime)]
	return ok
}

// CanonicalMIME folds aliases onto a single spelling.
func CanonicalMIME(mime string) string {
	mime = NormalizeMIME(mime)
	if mime == MIMEJPG {
		return MIMEJPEG
	}
	return mime
}

// SameFormat reports whether a and b name the same encoding.
func SameFormat(a, b string) bool {
	return CanonicalMIME(a) == CanonicalMIME(b)
}

// Extension returns the file extension, with the dot, for a supported type.
func Extension(mime string) string {
	switch CanonicalMIME(mime) {
	case MIMEPNG:
		return ".png"
	case MIMEJPEG:
		return ".jpg"
	case MIMEWebP:
		return ".webp"
	case MIMEAVIF:
		return ".avif"
	default:
		return ""
	}
}

// MIMEFromExtension maps a file extension (".jpeg", "PNG") to its MIME type.
func MIMEFromExtension(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		return MIMEPNG
	case "jpg", "jpeg":
		return MIMEJPEG
	case "webp":
		return MIMEWebP
	case "avif":
		return MIMEAVIF
	default:
		return ""
	}
}
