// Package compress runs the remote compress/convert protocol and assembles
// the result of a request.
package compress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"imgshrink/internal/domain"
	"imgshrink/internal/infra"
	"imgshrink/internal/progress"
	"imgshrink/internal/providers/tinify"
)

const (
	DefaultTimeout         = 60 * time.Second
	DefaultSanityThreshold = 0.8
)

// ShrinkClient is the remote service as seen by the orchestrator.
type ShrinkClient interface {
	Shrink(ctx context.Context, data []byte, mime string) (*tinify.Descriptor, error)
	Convert(ctx context.Context, location string, opts tinify.ConvertOptions) (tinify.Response, error)
	Fetch(ctx context.Context, location string, progress tinify.ProgressFunc) ([]byte, string, error)
}

// RequestOptions are forwarded to the convert call, except Quality which
// only affects local preprocessing.
type RequestOptions struct {
	PreserveMetadata []string
	Resize           *tinify.Resize
	Quality          int
}

// Request is a single compression request.
type Request struct {
	Source     domain.ImageAsset
	OutputType string
	Options    RequestOptions
	// OriginalSize is the caller's input size before preprocessing. Zero
	// means Source.Size().
	OriginalSize int64
}

// Options configures an Orchestrator.
type Options struct {
	Client          ShrinkClient
	Estimator       *progress.Estimator
	Timeout         time.Duration
	SanityThreshold float64
	LosslessFormats []string
	Logger          *infra.Logger
}

// Orchestrator executes compress, optional convert, and the final fetch, in
// that order, with exactly one attempt each.
type Orchestrator struct {
	client    ShrinkClient
	estimator *progress.Estimator
	timeout   time.Duration
	threshold float64
	lossless  map[string]struct{}
	logger    *infra.Logger
}

// NewOrchestrator validates opts and applies defaults.
func NewOrchestrator(opts Options) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, errors.New("compress: client is required")
	}
	o := &Orchestrator{
		client:    opts.Client,
		estimator: opts.Estimator,
		timeout:   opts.Timeout,
		threshold: opts.SanityThreshold,
		lossless:  map[string]struct{}{},
		logger:    infra.LoggerOrDiscard(opts.Logger),
	}
	if o.estimator == nil {
		o.estimator = progress.NewEstimator(progress.DefaultModel())
	}
	if o.timeout <= 0 {
		o.timeout = DefaultTimeout
	}
	if o.threshold <= 0 || o.threshold > 1 {
		o.threshold = DefaultSanityThreshold
	}
	formats := opts.LosslessFormats
	if len(formats) == 0 {
		formats = []string{domain.MIMEPNG}
	}
	for _, f := range formats {
		o.lossless[domain.CanonicalMIME(f)] = struct{}{}
	}
	return o, nil
}

// Compress runs the protocol for req. Progress is reported on tracker, which
// may be nil. Every failure is a *domain.ClassifiedError.
func (o *Orchestrator) Compress(ctx context.Context, req Request, tracker *progress.Tracker) (*domain.CompressionResult, error) {
	if tracker == nil {
		tracker = progress.NewTracker(nil)
	}
	if req.Source.IsEmpty() {
		tracker.Reset()
		return nil, domain.NewClassifiedError(domain.KindInternalError, "", domain.ErrEmptySource)
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	started := time.Now()
	run := o.estimator.Start(ctx, tracker, req.Source.Size())
	res, err := o.execute(ctx, req, tracker, run)
	log := o.loggerFor(ctx)
	if err != nil {
		run.Fail()
		log.Warn().Err(err).
			Str("kind", string(domain.KindOf(err))).
			Dur("elapsed", time.Since(started)).
			Msg("compress: request failed")
		return nil, err
	}
	run.Stop()
	tracker.Complete()
	log.Info().
		Str("original_type", res.OriginalType).
		Str("output_type", res.OutputType).
		Int64("original_size", res.OriginalSize).
		Int64("compressed_size", res.CompressedSize).
		Int("ratio", res.CompressionRatio).
		Dur("elapsed", time.Since(started)).
		Msg("compress: request finished")
	return res, nil
}

func (o *Orchestrator) execute(ctx context.Context, req Request, tracker *progress.Tracker, run *progress.Run) (*domain.CompressionResult, error) {
	src := req.Source
	originalType := src.MIME()
	originalSize := req.OriginalSize
	if originalSize <= 0 {
		originalSize = src.Size()
	}
	outputType := domain.NormalizeMIME(req.OutputType)
	if outputType == "" {
		outputType = originalType
	}

	desc, err := o.client.Shrink(ctx, src.Bytes(), src.MIME())
	if err != nil {
		return nil, o.classify(ctx, err, domain.KindUpstreamRejected)
	}

	if domain.SameFormat(outputType, originalType) {
		run.Stop()
		data, err := o.download(ctx, desc.Location, tracker)
		if err != nil {
			return nil, err
		}
		res := domain.AssembleResult(domain.AssembleInput{
			OriginalSize: originalSize,
			Payload:      data,
			DeclaredSize: desc.Output.Size,
			OriginalType: originalType,
			OutputType:   originalType,
		})
		return &res, nil
	}

	resp, err := o.client.Convert(ctx, desc.Location, tinify.ConvertOptions{
		Type:     outputType,
		Preserve: req.Options.PreserveMetadata,
		Resize:   req.Options.Resize,
	})
	if err != nil {
		return nil, o.classify(ctx, err, domain.KindConversionFailed)
	}
	run.Stop()

	switch r := resp.(type) {
	case *tinify.BinaryResponse:
		// The inline payload is reported without a size comparison.
		res := domain.AssembleResult(domain.AssembleInput{
			OriginalSize: originalSize,
			Payload:      r.Data,
			OriginalType: originalType,
			OutputType:   outputType,
			ShortCircuit: true,
		})
		return &res, nil
	case *tinify.DescriptorResponse:
		data, err := o.download(ctx, r.Descriptor.Location, tracker)
		if err != nil {
			return nil, err
		}
		if o.suspect(outputType, int64(len(data)), src.Size()) {
			return nil, domain.NewClassifiedError(domain.KindConversionSuspect,
				fmt.Sprintf("lossless %s output is %d bytes, below %.0f%% of the %d byte input",
					outputType, len(data), o.threshold*100, src.Size()), nil)
		}
		res := domain.AssembleResult(domain.AssembleInput{
			OriginalSize: originalSize,
			Payload:      data,
			DeclaredSize: r.Descriptor.Output.Size,
			OriginalType: originalType,
			OutputType:   outputType,
		})
		return &res, nil
	default:
		return nil, domain.NewClassifiedError(domain.KindInternalError,
			fmt.Sprintf("unexpected convert response %T", resp), nil)
	}
}

func (o *Orchestrator) download(ctx context.Context, location string, tracker *progress.Tracker) ([]byte, error) {
	tracker.Enter(progress.PhaseDownloading)
	data, _, err := o.client.Fetch(ctx, location, func(read, total int64) {
		if total > 0 {
			tracker.Advance(float64(read) / float64(total) * 100)
		}
	})
	if err != nil {
		return nil, o.classify(ctx, err, domain.KindUpstreamFetchFailed)
	}
	return data, nil
}

// suspect reports whether a lossless target shrank implausibly far.
func (o *Orchestrator) suspect(outputType string, size, inputSize int64) bool {
	if _, ok := o.lossless[domain.CanonicalMIME(outputType)]; !ok {
		return false
	}
	return float64(size) < o.threshold*float64(inputSize)
}

// classify maps a client error to a ClassifiedError. rejectedKind is used
// when the service answered with a non-success status.
func (o *Orchestrator) classify(ctx context.Context, err error, rejectedKind domain.ErrorKind) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		msg := "request cancelled"
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			msg = fmt.Sprintf("timed out after %s", o.timeout)
		}
		return domain.NewClassifiedError(domain.KindUpstreamFetchFailed, msg, fmt.Errorf("%w: %w", ctxErr, err))
	}
	var apiErr *tinify.APIError
	switch {
	case errors.As(err, &apiErr):
		ce := domain.NewClassifiedError(rejectedKind, apiErr.Message, err)
		ce.StatusCode = apiErr.StatusCode
		return ce
	case errors.Is(err, tinify.ErrMissingAPIKey):
		return domain.NewClassifiedError(domain.KindInternalError, "compression service credentials are not configured", err)
	case errors.Is(err, tinify.ErrUnexpectedResponse), errors.Is(err, tinify.ErrInvalidLocation):
		return domain.NewClassifiedError(domain.KindInternalError, "", err)
	default:
		return domain.NewClassifiedError(domain.KindUpstreamFetchFailed, "", err)
	}
}

func (o *Orchestrator) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return o.logger
}
