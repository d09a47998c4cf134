// Package preprocess downsamples oversized images before they are uploaded
// to the compression service.
package preprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"

	"github.com/chai2010/webp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"imgshrink/internal/domain"
	"imgshrink/internal/infra"
)

const (
	DefaultMaxBytes     int64 = 5 * 1024 * 1024
	DefaultMaxDimension       = 2048
	DefaultQuality            = 80
)

var (
	errNoEncoder = errors.New("preprocess: no encoder for format")
	errNoGain    = errors.New("preprocess: re-encoded image is not smaller")
)

// Options configures a Preprocessor. Zero values fall back to the defaults.
type Options struct {
	MaxBytes     int64
	MaxDimension int
	Quality      int
	Logger       *infra.Logger
}

// Preprocessor shrinks assets larger than MaxBytes so neither side exceeds
// MaxDimension, re-encoding in the asset's own format.
type Preprocessor struct {
	maxBytes int64
	maxDim   int
	quality  int
	logger   *infra.Logger
}

// New constructs a Preprocessor.
func New(opts Options) *Preprocessor {
	p := &Preprocessor{
		maxBytes: opts.MaxBytes,
		maxDim:   opts.MaxDimension,
		quality:  opts.Quality,
		logger:   infra.LoggerOrDiscard(opts.Logger),
	}
	if p.maxBytes <= 0 {
		p.maxBytes = DefaultMaxBytes
	}
	if p.maxDim <= 0 {
		p.maxDim = DefaultMaxDimension
	}
	if p.quality <= 0 || p.quality > 100 {
		p.quality = DefaultQuality
	}
	return p
}

// Process returns asset untouched when it is within the size limit, and a
// downsampled copy otherwise. It never fails: on any decode or encode error
// the original asset is returned.
func (p *Preprocessor) Process(ctx context.Context, asset domain.ImageAsset) domain.ImageAsset {
	return p.ProcessWithQuality(ctx, asset, 0)
}

// ProcessWithQuality is Process with a per-request quality override (1-100).
func (p *Preprocessor) ProcessWithQuality(ctx context.Context, asset domain.ImageAsset, quality int) domain.ImageAsset {
	if asset.Size() <= p.maxBytes {
		return asset
	}
	if quality <= 0 || quality > 100 {
		quality = p.quality
	}
	out, w, h, err := p.downsample(ctx, asset, quality)
	if err != nil {
		p.logger.Warn().Err(err).
			Str("mime", asset.MIME()).
			Int64("bytes", asset.Size()).
			Msg("preprocess: keeping original image")
		return asset
	}
	p.logger.Debug().
		Str("mime", asset.MIME()).
		Int("width", w).
		Int("height", h).
		Int64("from_bytes", asset.Size()).
		Int64("to_bytes", out.Size()).
		Msg("preprocess: downsampled image")
	return out
}

func (p *Preprocessor) downsample(ctx context.Context, asset domain.ImageAsset, quality int) (domain.ImageAsset, int, int, error) {
	if err := ctx.Err(); err != nil {
		return asset, 0, 0, err
	}
	src, _, err := image.Decode(bytes.NewReader(asset.Bytes()))
	if err != nil {
		return asset, 0, 0, fmt.Errorf("preprocess: decode: %w", err)
	}
	bounds := src.Bounds()
	w, h := TargetDimensions(bounds.Dx(), bounds.Dy(), p.maxDim)
	if w <= 0 || h <= 0 {
		return asset, 0, 0, fmt.Errorf("preprocess: invalid image bounds: %dx%d", bounds.Dx(), bounds.Dy())
	}

	resized := w != bounds.Dx() || h != bounds.Dy()
	var img image.Image = src
	if resized {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
		img = dst
	}
	if err := ctx.Err(); err != nil {
		return asset, 0, 0, err
	}

	var buf bytes.Buffer
	if err := encode(&buf, img, asset.MIME(), quality); err != nil {
		return asset, 0, 0, err
	}
	// A resized image is always kept; only a same-size re-encode must pay off.
	if !resized && int64(buf.Len()) >= asset.Size() {
		return asset, 0, 0, fmt.Errorf("%w: %d >= %d bytes", errNoGain, buf.Len(), asset.Size())
	}
	return domain.NewImageAsset(buf.Bytes(), asset.MIME()), w, h, nil
}

// TargetDimensions scales (w, h) so the longer side equals maxDim when either
// side exceeds it. The shorter side is scaled by the same ratio and rounded to
// the nearest pixel, never below 1.
func TargetDimensions(w, h, maxDim int) (int, int) {
	if w <= 0 || h <= 0 || maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	scale := float64(maxDim) / float64(max(w, h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if w >= h {
		nw = maxDim
	} else {
		nh = maxDim
	}
	return max(nw, 1), max(nh, 1)
}

func encode(w io.Writer, img image.Image, mime string, quality int) error {
	var err error
	switch domain.CanonicalMIME(mime) {
	case domain.MIMEJPEG:
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
	case domain.MIMEPNG:
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(w, img)
	case domain.MIMEWebP:
		err = webp.Encode(w, img, &webp.Options{Quality: float32(quality)})
	default:
		return fmt.Errorf("%w: %s", errNoEncoder, mime)
	}
	if err != nil {
		return fmt.Errorf("preprocess: encode %s: %w", mime, err)
	}
	return nil
}
