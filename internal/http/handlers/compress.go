package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"imgshrink/internal/compress"
	"imgshrink/internal/domain"
	"imgshrink/internal/middleware"
	"imgshrink/internal/progress"
	"imgshrink/internal/providers/tinify"
	"imgshrink/internal/source"
)

type resizeOptions struct {
	Method string `json:"method"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type compressOptions struct {
	Resize           *resizeOptions `json:"resize,omitempty"`
	PreserveMetadata []string       `json:"preserveMetadata,omitempty"`
	Quality          int            `json:"quality,omitempty"`
}

type compressRequest struct {
	Source       string          `json:"source"`
	Filename     string          `json:"filename"`
	MIMEType     string          `json:"mimeType"`
	OutputFormat string          `json:"outputFormat"`
	Options      compressOptions `json:"options"`

	data []byte
}

type compressResponse struct {
	Success bool `json:"success"`
	domain.CompressionResult
}

// requestError is a validation failure answered before the pipeline runs.
type requestError struct {
	status int
	key    msgKey
	args   []any
}

func (e *requestError) Error() string { return fmt.Sprintf(string(e.key), e.args...) }

func badRequest(key msgKey, args ...any) *requestError {
	return &requestError{status: http.StatusBadRequest, key: key, args: args}
}

// Compress handles POST /v1/compress. The body is JSON or multipart with a
// "file" part; clients asking for text/event-stream get progress events.
func (a *App) Compress(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, a.bodyLimit())
	req, err := a.decodeCompressRequest(r)
	if err == nil {
		err = a.resolveSource(r.Context(), req)
	}
	if err == nil {
		err = validateCompressRequest(req)
	}
	if err != nil {
		a.requestFailed(w, r, err)
		return
	}

	pipelineReq := compress.Request{
		Source:     domain.NewImageAsset(req.data, domain.NormalizeMIME(req.MIMEType)),
		OutputType: domain.NormalizeMIME(req.OutputFormat),
		Options: compress.RequestOptions{
			PreserveMetadata: req.Options.PreserveMetadata,
			Quality:          req.Options.Quality,
		},
	}
	if rs := req.Options.Resize; rs != nil {
		pipelineReq.Options.Resize = &tinify.Resize{Method: rs.Method, Width: rs.Width, Height: rs.Height}
	}

	a.log(r).Debug().
		Str("filename", req.Filename).
		Str("mime", pipelineReq.Source.MIME()).
		Str("output", pipelineReq.OutputType).
		Int64("size", pipelineReq.Source.Size()).
		Msg("compress: request accepted")

	if wantsEventStream(r) {
		if flusher, ok := w.(http.Flusher); ok {
			a.compressStream(w, r, flusher, pipelineReq)
			return
		}
	}

	res, err := a.Pipeline.Run(r.Context(), pipelineReq, nil)
	if err != nil {
		status, body := a.pipelineError(r, err, pipelineReq.OutputType)
		a.json(w, status, body)
		return
	}
	a.json(w, http.StatusOK, compressResponse{Success: true, CompressionResult: *res})
}

func (a *App) compressStream(w http.ResponseWriter, r *http.Request, flusher http.Flusher, req compress.Request) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(event string, v any) {
		payload, err := json.Marshal(v)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload)
		flusher.Flush()
	}

	// Progress is written by a separate goroutine so a slow client never
	// holds up the pipeline; a pending state is replaced by a newer one.
	updates := make(chan progress.State, 1)
	streamed := make(chan struct{})
	go func() {
		defer close(streamed)
		for s := range updates {
			send("progress", s)
		}
	}()
	tracker := progress.NewTracker(func(s progress.State) {
		for {
			select {
			case updates <- s:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	res, err := a.Pipeline.Run(r.Context(), req, tracker)
	close(updates)
	<-streamed
	if err != nil {
		_, body := a.pipelineError(r, err, req.OutputType)
		send("error", body)
		return
	}
	send("result", compressResponse{Success: true, CompressionResult: *res})
}

func (a *App) bodyLimit() int64 {
	limit := a.Config.MaxUploadBytes
	if limit <= 0 {
		limit = 25 << 20
	}
	// base64 inflates by 4/3; leave room for the JSON envelope.
	return limit/3*4 + 64<<10
}

func (a *App) decodeCompressRequest(r *http.Request) (*compressRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	req := &compressRequest{}
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			return nil, bodyError(err)
		}
		file, header, err := r.FormFile("file")
		if err != nil && !errors.Is(err, http.ErrMissingFile) {
			return nil, bodyError(err)
		}
		if file != nil {
			defer file.Close()
			if req.data, err = io.ReadAll(file); err != nil {
				return nil, bodyError(err)
			}
			req.Filename = header.Filename
			req.MIMEType = header.Header.Get("Content-Type")
		}
		if v := r.FormValue("source"); v != "" {
			req.Source = v
		}
		if v := r.FormValue("filename"); v != "" {
			req.Filename = v
		}
		if v := r.FormValue("mimeType"); v != "" {
			req.MIMEType = v
		}
		req.OutputFormat = r.FormValue("outputFormat")
		if raw := r.FormValue("options"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Options); err != nil {
				return nil, badRequest(msgInvalidPayload)
			}
		}
	default:
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			return nil, bodyError(err)
		}
	}
	return req, nil
}

func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return source.ErrTooLarge
	}
	return badRequest(msgInvalidPayload)
}

func (a *App) resolveSource(ctx context.Context, req *compressRequest) error {
	if len(req.data) == 0 {
		if strings.TrimSpace(req.Source) == "" {
			return badRequest(msgMissingSource)
		}
		data, declared, err := a.Sources.Resolve(ctx, req.Source)
		if err != nil {
			return err
		}
		req.data = data
		if req.MIMEType == "" {
			req.MIMEType = declared
		}
	}
	if int64(len(req.data)) > a.Config.MaxUploadBytes && a.Config.MaxUploadBytes > 0 {
		return source.ErrTooLarge
	}
	if domain.NormalizeMIME(req.MIMEType) == "" || domain.NormalizeMIME(req.MIMEType) == "application/octet-stream" {
		req.MIMEType = http.DetectContentType(req.data)
	}
	return nil
}

func validateCompressRequest(req *compressRequest) error {
	if !domain.IsSupportedMIME(req.MIMEType) {
		return badRequest(msgUnsupportedInput, domain.NormalizeMIME(req.MIMEType))
	}
	if req.OutputFormat == "" {
		req.OutputFormat = req.MIMEType
	}
	if !domain.IsSupportedMIME(req.OutputFormat) {
		return badRequest(msgUnsupportedOutput, domain.NormalizeMIME(req.OutputFormat))
	}
	if q := req.Options.Quality; q < 0 || q > 100 {
		return badRequest(msgInvalidQuality)
	}
	if rs := req.Options.Resize; rs != nil && (rs.Method == "" || rs.Width < 0 || rs.Height < 0 || rs.Width+rs.Height == 0) {
		return badRequest(msgInvalidResize)
	}
	return nil
}

// requestFailed answers errors raised before the pipeline started.
func (a *App) requestFailed(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		a.error(w, r, reqErr.status, "BadRequest", reqErr.key, reqErr.args...)
	case errors.Is(err, source.ErrTooLarge):
		a.error(w, r, http.StatusRequestEntityTooLarge, "PayloadTooLarge", msgTooLarge, a.Config.MaxUploadBytes>>20)
	case errors.Is(err, source.ErrHostNotAllowed):
		a.error(w, r, http.StatusBadRequest, "BadRequest", msgHostNotAllowed)
	case errors.Is(err, source.ErrInvalidSource):
		a.error(w, r, http.StatusBadRequest, "BadRequest", msgInvalidSource)
	case errors.Is(err, domain.ErrEmptySource):
		a.error(w, r, http.StatusBadRequest, "BadRequest", msgMissingSource)
	default:
		status, body := a.pipelineError(r, err, "")
		a.json(w, status, body)
	}
}

// pipelineError maps a classified failure to its HTTP status and envelope.
func (a *App) pipelineError(r *http.Request, err error, outputType string) (int, errorResponse) {
	ce := &domain.ClassifiedError{}
	if !errors.As(err, &ce) {
		ce = domain.NewClassifiedError(domain.KindInternalError, "", err)
	}
	timedOut := errors.Is(err, context.DeadlineExceeded)

	status := http.StatusInternalServerError
	switch ce.Kind {
	case domain.KindUpstreamFetchFailed:
		status = http.StatusBadGateway
		if timedOut {
			status = http.StatusGatewayTimeout
		}
	case domain.KindUpstreamRejected:
		status = http.StatusUnprocessableEntity
		if ce.StatusCode == http.StatusUnauthorized || ce.StatusCode == http.StatusTooManyRequests {
			status = ce.StatusCode
		}
	case domain.KindConversionFailed:
		status = http.StatusBadGateway
	case domain.KindConversionSuspect:
		status = http.StatusUnprocessableEntity
	}

	evt := a.log(r).Warn()
	if status >= http.StatusInternalServerError {
		evt = a.log(r).Error()
	}
	evt.Err(err).Str("kind", string(ce.Kind)).Int("status", status).Msg("compress: request failed")

	locale := middleware.LocaleFromContext(r.Context())
	return status, errorResponse{Error: errorBody{
		Kind:    string(ce.Kind),
		Message: kindMessage(locale, ce, outputType, timedOut),
	}}
}

func wantsEventStream(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		if mt, _, err := mime.ParseMediaType(strings.TrimSpace(part)); err == nil && mt == "text/event-stream" {
			return true
		}
	}
	return false
}
