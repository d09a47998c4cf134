package handlers

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"imgshrink/internal/domain"
	"imgshrink/internal/middleware"
)

type msgKey string

const (
	msgInvalidPayload    msgKey = "invalid request payload"
	msgMissingSource     msgKey = "source image is required"
	msgUnsupportedInput  msgKey = "unsupported input type %s"
	msgUnsupportedOutput msgKey = "unsupported output format %s"
	msgInvalidSource     msgKey = "source must be base64, a data URI, or an http(s) URL"
	msgHostNotAllowed    msgKey = "source host is not allowed"
	msgTooLarge          msgKey = "image exceeds the %d MB upload limit"
	msgInvalidQuality    msgKey = "quality must be between 1 and 100"
	msgInvalidResize     msgKey = "resize needs a method and a positive width or height"
	msgRateLimited       msgKey = "too many requests, try again later"
	msgFetchFailed       msgKey = "the compression service could not be reached"
	msgTimedOut          msgKey = "the compression service did not answer in time"
	msgRejected          msgKey = "the compression service rejected the image: %s"
	msgConversionFailed  msgKey = "the image could not be converted to %s"
	msgConversionSuspect msgKey = "the converted image looks corrupted; try another output format"
	msgInternal          msgKey = "something went wrong while compressing the image"
)

var indonesian = map[msgKey]string{
	msgInvalidPayload:    "payload permintaan tidak valid",
	msgMissingSource:     "gambar sumber wajib diisi",
	msgUnsupportedInput:  "tipe input %s tidak didukung",
	msgUnsupportedOutput: "format output %s tidak didukung",
	msgInvalidSource:     "sumber harus berupa base64, data URI, atau URL http(s)",
	msgHostNotAllowed:    "host sumber tidak diizinkan",
	msgTooLarge:          "ukuran gambar melebihi batas unggah %d MB",
	msgInvalidQuality:    "kualitas harus di antara 1 dan 100",
	msgInvalidResize:     "resize membutuhkan metode dan lebar atau tinggi positif",
	msgRateLimited:       "terlalu banyak permintaan, coba lagi nanti",
	msgFetchFailed:       "layanan kompresi tidak dapat dihubungi",
	msgTimedOut:          "layanan kompresi tidak merespons tepat waktu",
	msgRejected:          "layanan kompresi menolak gambar: %s",
	msgConversionFailed:  "gambar tidak dapat dikonversi ke %s",
	msgConversionSuspect: "hasil konversi tampak rusak; coba format output lain",
	msgInternal:          "terjadi kesalahan saat mengompresi gambar",
}

func init() {
	for key, text := range indonesian {
		_ = message.SetString(language.Indonesian, string(key), text)
	}
}

func translate(locale string, key msgKey, args ...any) string {
	return message.NewPrinter(middleware.LocaleTag(locale)).Sprintf(string(key), args...)
}

// kindMessage picks the user-facing message for a pipeline failure.
func kindMessage(locale string, ce *domain.ClassifiedError, outputType string, timedOut bool) string {
	switch ce.Kind {
	case domain.KindUpstreamFetchFailed:
		if timedOut {
			return translate(locale, msgTimedOut)
		}
		return translate(locale, msgFetchFailed)
	case domain.KindUpstreamRejected:
		return translate(locale, msgRejected, ce.Message)
	case domain.KindConversionFailed:
		return translate(locale, msgConversionFailed, outputType)
	case domain.KindConversionSuspect:
		return translate(locale, msgConversionSuspect)
	default:
		return translate(locale, msgInternal)
	}
}
