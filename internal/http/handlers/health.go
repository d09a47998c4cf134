package handlers

import (
	"net/http"

	"imgshrink/internal/domain"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

type formatsResponse struct {
	Input    []string `json:"input"`
	Output   []string `json:"output"`
	Lossless []string `json:"lossless"`
}

// Formats lists accepted MIME types and the formats the lossless size check
// applies to.
func (a *App) Formats(w http.ResponseWriter, r *http.Request) {
	lossless := a.Config.LosslessFormats
	if len(lossless) == 0 {
		lossless = []string{domain.MIMEPNG}
	}
	a.json(w, http.StatusOK, formatsResponse{
		Input:    domain.SupportedMIMETypes(),
		Output:   domain.SupportedMIMETypes(),
		Lossless: lossless,
	})
}

// RateLimited is the body served when the rate limiter trips.
func (a *App) RateLimited(w http.ResponseWriter, r *http.Request) {
	a.error(w, r, http.StatusTooManyRequests, "RateLimited", msgRateLimited)
}
