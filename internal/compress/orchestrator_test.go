package compress

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"imgshrink/internal/domain"
	"imgshrink/internal/progress"
	"imgshrink/internal/providers/tinify"
)

type stubClient struct {
	desc        *tinify.Descriptor
	shrinkErr   error
	convertResp tinify.Response
	convertErr  error
	fetchData   map[string][]byte
	fetchErr    error
	block       bool

	shrinkCalls     int
	convertCalls    int
	fetched         []string
	lastShrinkMIME  string
	lastConvert     tinify.ConvertOptions
	convertLocation string
}

func (s *stubClient) Shrink(ctx context.Context, data []byte, mime string) (*tinify.Descriptor, error) {
	s.shrinkCalls++
	s.lastShrinkMIME = mime
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.shrinkErr != nil {
		return nil, s.shrinkErr
	}
	return s.desc, nil
}

func (s *stubClient) Convert(ctx context.Context, location string, opts tinify.ConvertOptions) (tinify.Response, error) {
	s.convertCalls++
	s.convertLocation = location
	s.lastConvert = opts
	if s.convertErr != nil {
		return nil, s.convertErr
	}
	return s.convertResp, nil
}

func (s *stubClient) Fetch(ctx context.Context, location string, progress tinify.ProgressFunc) ([]byte, string, error) {
	s.fetched = append(s.fetched, location)
	if s.fetchErr != nil {
		return nil, "", s.fetchErr
	}
	data, ok := s.fetchData[location]
	if !ok {
		return nil, "", &tinify.APIError{StatusCode: http.StatusNotFound, Message: "not found"}
	}
	if progress != nil {
		progress(int64(len(data)), int64(len(data)))
	}
	return data, "", nil
}

const (
	shrinkLocation  = "https://api.tinify.com/output/shrunk"
	convertLocation = "https://api.tinify.com/output/converted"
)

func shrunkDescriptor(size int64, mime string) *tinify.Descriptor {
	return &tinify.Descriptor{
		Input:    tinify.Input{Size: 1000, Type: mime},
		Output:   tinify.Output{Size: size, Type: mime},
		Location: shrinkLocation,
	}
}

func fastEstimator() *progress.Estimator {
	return progress.NewEstimator(progress.Model{Cap: 95, Interval: time.Millisecond, MinDuration: 10 * time.Millisecond, MaxDuration: 10 * time.Millisecond})
}

func newTestOrchestrator(t *testing.T, client ShrinkClient, opts Options) *Orchestrator {
	t.Helper()
	opts.Client = client
	if opts.Estimator == nil {
		opts.Estimator = fastEstimator()
	}
	orch, err := NewOrchestrator(opts)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orch
}

func sourceAsset(size int, mime string) domain.ImageAsset {
	return domain.NewImageAsset(bytes.Repeat([]byte{0x7f}, size), mime)
}

func TestCompressSameFormatSkipsConversion(t *testing.T) {
	client := &stubClient{
		desc:      shrunkDescriptor(400, domain.MIMEJPEG),
		fetchData: map[string][]byte{shrinkLocation: make([]byte, 400)},
	}
	orch := newTestOrchestrator(t, client, Options{})
	tracker := progress.NewTracker(nil)

	res, err := orch.Compress(context.Background(), Request{Source: sourceAsset(1000, "image/jpg"), OutputType: "image/jpeg"}, tracker)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if client.convertCalls != 0 {
		t.Fatalf("convert calls = %d, want 0", client.convertCalls)
	}
	if len(client.fetched) != 1 || client.fetched[0] != shrinkLocation {
		t.Fatalf("fetched = %v, want phase-1 location", client.fetched)
	}
	if client.lastShrinkMIME != "image/jpg" {
		t.Fatalf("shrink content type = %q, want source mime", client.lastShrinkMIME)
	}
	if res.OutputType != res.OriginalType {
		t.Fatalf("output type %q != original type %q", res.OutputType, res.OriginalType)
	}
	if res.SavedBytes != 600 || res.CompressionRatio != 60 {
		t.Fatalf("metrics = %d/%d, want 600/60", res.SavedBytes, res.CompressionRatio)
	}
	if got := tracker.State(); got.Percent != 100 {
		t.Fatalf("tracker = %+v, want 100", got)
	}
}

func TestCompressBinaryConversionShortCircuits(t *testing.T) {
	client := &stubClient{
		desc:        shrunkDescriptor(700, domain.MIMEJPEG),
		convertResp: &tinify.BinaryResponse{Data: make([]byte, 300), ContentType: domain.MIMEWebP},
	}
	orch := newTestOrchestrator(t, client, Options{})

	res, err := orch.Compress(context.Background(), Request{
		Source:     sourceAsset(1000, domain.MIMEJPEG),
		OutputType: domain.MIMEWebP,
		Options:    RequestOptions{PreserveMetadata: []string{"copyright"}, Resize: &tinify.Resize{Method: "fit", Width: 10, Height: 10}},
	}, nil)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	if res.SavedBytes != 0 || res.CompressionRatio != 0 {
		t.Fatalf("metrics = %d/%d, want 0/0", res.SavedBytes, res.CompressionRatio)
	}
	if res.CompressedSize != 300 || res.OutputType != domain.MIMEWebP {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(client.fetched) != 0 {
		t.Fatalf("binary payload should not trigger a fetch: %v", client.fetched)
	}
	if client.convertLocation != shrinkLocation || client.lastConvert.Type != domain.MIMEWebP {
		t.Fatalf("convert call = %q %+v", client.convertLocation, client.lastConvert)
	}
	if len(client.lastConvert.Preserve) != 1 || client.lastConvert.Resize == nil {
		t.Fatalf("options not forwarded: %+v", client.lastConvert)
	}
}

func TestCompressLosslessSanityCheck(t *testing.T) {
	tests := []struct {
		name      string
		output    string
		finalSize int
		wantErr   error
	}{
		{name: "png below threshold", output: domain.MIMEPNG, finalSize: 799, wantErr: domain.ErrConversionSuspect},
		{name: "png at threshold", output: domain.MIMEPNG, finalSize: 800},
		{name: "webp is lossy", output: domain.MIMEWebP, finalSize: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &stubClient{
				desc: shrunkDescriptor(900, domain.MIMEJPEG),
				convertResp: &tinify.DescriptorResponse{Descriptor: tinify.Descriptor{
					Output:   tinify.Output{Size: int64(tt.finalSize), Type: tt.output},
					Location: convertLocation,
				}},
				fetchData: map[string][]byte{convertLocation: make([]byte, tt.finalSize)},
			}
			tracker := progress.NewTracker(nil)
			orch := newTestOrchestrator(t, client, Options{})
			res, err := orch.Compress(context.Background(), Request{Source: sourceAsset(1000, domain.MIMEJPEG), OutputType: tt.output}, tracker)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if res != nil {
					t.Fatalf("result should be nil on failure")
				}
				if got := tracker.State(); got.Phase != progress.PhaseIdle {
					t.Fatalf("tracker = %+v, want idle", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("compress: %v", err)
			}
			if res.OutputType != tt.output || res.CompressedSize != int64(tt.finalSize) {
				t.Fatalf("unexpected result: %+v", res)
			}
			if want := domain.CompressionRatio(1000, domain.SavedBytes(1000, int64(tt.finalSize))); res.CompressionRatio != want {
				t.Fatalf("ratio = %d, want %d", res.CompressionRatio, want)
			}
		})
	}
}

func TestCompressSanityThresholdIsTunable(t *testing.T) {
	client := &stubClient{
		desc: shrunkDescriptor(900, domain.MIMEJPEG),
		convertResp: &tinify.DescriptorResponse{Descriptor: tinify.Descriptor{
			Output:   tinify.Output{Type: domain.MIMEWebP},
			Location: convertLocation,
		}},
		fetchData: map[string][]byte{convertLocation: make([]byte, 500)},
	}
	orch := newTestOrchestrator(t, client, Options{SanityThreshold: 0.6, LosslessFormats: []string{domain.MIMEWebP}})
	_, err := orch.Compress(context.Background(), Request{Source: sourceAsset(1000, domain.MIMEJPEG), OutputType: domain.MIMEWebP}, nil)
	if domain.KindOf(err) != domain.KindConversionSuspect {
		t.Fatalf("kind = %s, want %s", domain.KindOf(err), domain.KindConversionSuspect)
	}
}

func TestCompressClassifiesFailures(t *testing.T) {
	transportErr := errors.New("tinify: http request: connection refused")
	tests := []struct {
		name       string
		client     *stubClient
		wantKind   domain.ErrorKind
		wantMsg    string
		wantStatus int
	}{
		{
			name:       "shrink rejected",
			client:     &stubClient{shrinkErr: &tinify.APIError{StatusCode: 415, Code: "Unsupported", Message: "File type is not supported."}},
			wantKind:   domain.KindUpstreamRejected,
			wantMsg:    "File type is not supported.",
			wantStatus: 415,
		},
		{
			name:     "shrink transport",
			client:   &stubClient{shrinkErr: transportErr},
			wantKind: domain.KindUpstreamFetchFailed,
		},
		{
			name:     "missing credentials",
			client:   &stubClient{shrinkErr: tinify.ErrMissingAPIKey},
			wantKind: domain.KindInternalError,
		},
		{
			name: "convert rejected",
			client: &stubClient{
				desc:       shrunkDescriptor(500, domain.MIMEJPEG),
				convertErr: &tinify.APIError{StatusCode: 400, Message: "Unsupported conversion."},
			},
			wantKind:   domain.KindConversionFailed,
			wantMsg:    "Unsupported conversion.",
			wantStatus: 400,
		},
		{
			name: "convert malformed",
			client: &stubClient{
				desc:       shrunkDescriptor(500, domain.MIMEJPEG),
				convertErr: tinify.ErrUnexpectedResponse,
			},
			wantKind: domain.KindInternalError,
		},
		{
			name: "fetch failed",
			client: &stubClient{
				desc:        shrunkDescriptor(500, domain.MIMEJPEG),
				convertResp: &tinify.DescriptorResponse{Descriptor: tinify.Descriptor{Location: convertLocation}},
				fetchErr:    transportErr,
			},
			wantKind: domain.KindUpstreamFetchFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := progress.NewTracker(nil)
			orch := newTestOrchestrator(t, tt.client, Options{})
			_, err := orch.Compress(context.Background(), Request{Source: sourceAsset(1000, domain.MIMEJPEG), OutputType: domain.MIMEPNG}, tracker)
			var ce *domain.ClassifiedError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *domain.ClassifiedError", err)
			}
			if ce.Kind != tt.wantKind {
				t.Fatalf("kind = %s, want %s", ce.Kind, tt.wantKind)
			}
			if tt.wantMsg != "" && ce.Message != tt.wantMsg {
				t.Fatalf("message = %q, want %q", ce.Message, tt.wantMsg)
			}
			if ce.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", ce.StatusCode, tt.wantStatus)
			}
			if tt.client.shrinkCalls != 1 || tt.client.convertCalls > 1 || len(tt.client.fetched) > 1 {
				t.Fatalf("phases must be attempted once: shrink=%d convert=%d fetch=%d",
					tt.client.shrinkCalls, tt.client.convertCalls, len(tt.client.fetched))
			}
			if got := tracker.State(); got.Phase != progress.PhaseIdle {
				t.Fatalf("tracker = %+v, want idle", got)
			}
		})
	}
}

func TestCompressTimeout(t *testing.T) {
	client := &stubClient{block: true}
	orch := newTestOrchestrator(t, client, Options{Timeout: 20 * time.Millisecond})
	_, err := orch.Compress(context.Background(), Request{Source: sourceAsset(10, domain.MIMEPNG)}, nil)
	if domain.KindOf(err) != domain.KindUpstreamFetchFailed {
		t.Fatalf("kind = %s, want %s", domain.KindOf(err), domain.KindUpstreamFetchFailed)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestCompressCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &stubClient{block: true}
	orch := newTestOrchestrator(t, client, Options{})
	tracker := progress.NewTracker(nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := orch.Compress(ctx, Request{Source: sourceAsset(10, domain.MIMEPNG)}, tracker)
	if !errors.Is(err, context.Canceled) || !errors.Is(err, domain.ErrUpstreamFetchFailed) {
		t.Fatalf("err = %v, want cancelled upstream fetch failure", err)
	}
	if got := tracker.State(); got.Phase != progress.PhaseIdle {
		t.Fatalf("tracker = %+v, want idle", got)
	}
}

func TestCompressRejectsEmptySource(t *testing.T) {
	orch := newTestOrchestrator(t, &stubClient{}, Options{})
	_, err := orch.Compress(context.Background(), Request{Source: domain.NewImageAsset(nil, domain.MIMEPNG)}, nil)
	if !errors.Is(err, domain.ErrEmptySource) || domain.KindOf(err) != domain.KindInternalError {
		t.Fatalf("err = %v, want internal empty source error", err)
	}
}

func TestNewOrchestratorRequiresClient(t *testing.T) {
	if _, err := NewOrchestrator(Options{}); err == nil {
		t.Fatalf("expected error without client")
	}
}
