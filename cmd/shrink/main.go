package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"imgshrink/internal/compress"
	"imgshrink/internal/domain"
	"imgshrink/internal/infra"
	"imgshrink/internal/progress"
	"imgshrink/internal/providers/tinify"
	"imgshrink/internal/storage"
	"imgshrink/pkg/zip"
)

type options struct {
	outDir   string
	to       string
	quality  int
	resize   string
	preserve string
	archive  string
	quiet    bool
}

func main() {
	var opts options
	flag.StringVar(&opts.outDir, "out", "shrunk", "directory the compressed images are written to")
	flag.StringVar(&opts.to, "to", "", "output format (png, jpeg, webp, avif or a MIME type); defaults to the input format")
	flag.IntVar(&opts.quality, "quality", 0, "quality used when an oversized input is downsampled locally (1-100)")
	flag.StringVar(&opts.resize, "resize", "", "resize applied by the service, as method:WIDTHxHEIGHT (e.g. fit:800x600)")
	flag.StringVar(&opts.preserve, "preserve", "", "comma separated metadata to keep (copyright, creation, location)")
	flag.StringVar(&opts.archive, "zip", "", "also bundle every output into this zip file inside -out")
	flag.BoolVar(&opts.quiet, "quiet", false, "do not print progress")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] image...\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	if os.Getenv("APP_ENV") == "" {
		_ = os.Setenv("APP_ENV", "cli")
	}
	cfg, err := infra.LoadConfig()
	if err != nil {
		exitWithError(err)
	}
	if err := cfg.RequireTinifyKey(); err != nil {
		exitWithError(err)
	}

	runID := uuid.NewString()
	logger := infra.NewLogger(cfg.AppEnv).With().Str("run_id", runID).Logger()

	pipeline, err := compress.NewPipelineFromConfig(cfg, &logger)
	if err != nil {
		exitWithError(err)
	}
	store, err := storage.NewFileStore(opts.outDir)
	if err != nil {
		exitWithError(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reqOpts, err := requestOptions(opts)
	if err != nil {
		exitWithError(err)
	}

	var (
		archived []zip.Asset
		failed   int
	)
	for _, path := range flag.Args() {
		res, key, err := shrinkFile(ctx, pipeline, store, path, opts, reqOpts)
		if err != nil {
			failed++
			logger.Error().Err(err).Str("file", path).Str("kind", string(domain.KindOf(err))).Msg("shrink: failed")
			if errors.Is(err, context.Canceled) {
				break
			}
			continue
		}
		fmt.Fprintln(os.Stdout, summary(path, key, res))
		if opts.archive != "" {
			data, err := store.Read(ctx, key)
			if err != nil {
				exitWithError(err)
			}
			archived = append(archived, zip.Asset{Filename: key, MIME: res.OutputType, Data: data})
		}
	}

	if opts.archive != "" && len(archived) > 0 {
		bundle, err := zip.ArchiveAssets(archived)
		if err != nil {
			exitWithError(err)
		}
		key, err := store.Write(ctx, ensureExt(opts.archive, ".zip"), bundle)
		if err != nil {
			exitWithError(err)
		}
		fmt.Fprintf(os.Stdout, "archive: %s (%d files)\n", filepath.Join(store.BasePath(), key), len(archived))
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func shrinkFile(ctx context.Context, pipeline *compress.Pipeline, store *storage.FileStore, path string, opts options, reqOpts compress.RequestOptions) (*domain.CompressionResult, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	mime := detectMIME(path, data)
	if !domain.IsSupportedMIME(mime) {
		return nil, "", fmt.Errorf("%s: %w: %s", path, domain.ErrUnsupportedFormat, mime)
	}
	outputType, err := resolveOutputType(opts.to, mime)
	if err != nil {
		return nil, "", err
	}

	var report progress.Reporter
	if !opts.quiet {
		report = progressPrinter(os.Stderr, filepath.Base(path))
	}
	res, err := pipeline.Run(ctx, compress.Request{
		Source:     domain.NewImageAsset(data, mime),
		OutputType: outputType,
		Options:    reqOpts,
	}, progress.NewTracker(report))
	if !opts.quiet {
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return nil, "", err
	}

	payload, err := domain.DecodeDataURI(res.CompressedImage)
	if err != nil {
		return nil, "", err
	}
	key, err := store.Write(ctx, outputName(path, res.OutputType), payload)
	if err != nil {
		return nil, "", err
	}
	return res, key, nil
}

func requestOptions(opts options) (compress.RequestOptions, error) {
	var out compress.RequestOptions
	if opts.quality < 0 || opts.quality > 100 {
		return out, fmt.Errorf("-quality must be between 1 and 100")
	}
	out.Quality = opts.quality
	if opts.resize != "" {
		rs, err := parseResize(opts.resize)
		if err != nil {
			return out, err
		}
		out.Resize = rs
	}
	for _, p := range strings.Split(opts.preserve, ",") {
		if p = strings.TrimSpace(strings.ToLower(p)); p != "" {
			out.PreserveMetadata = append(out.PreserveMetadata, p)
		}
	}
	return out, nil
}

// parseResize parses "method:WxH". Either dimension may be omitted.
func parseResize(raw string) (*tinify.Resize, error) {
	method, dims, ok := strings.Cut(raw, ":")
	if !ok || method == "" {
		return nil, fmt.Errorf("invalid -resize %q: want method:WIDTHxHEIGHT", raw)
	}
	w, h, _ := strings.Cut(strings.ToLower(dims), "x")
	rs := &tinify.Resize{Method: strings.ToLower(method)}
	var err error
	if w != "" {
		if rs.Width, err = strconv.Atoi(w); err != nil || rs.Width < 0 {
			return nil, fmt.Errorf("invalid -resize width %q", w)
		}
	}
	if h != "" {
		if rs.Height, err = strconv.Atoi(h); err != nil || rs.Height < 0 {
			return nil, fmt.Errorf("invalid -resize height %q", h)
		}
	}
	if rs.Width == 0 && rs.Height == 0 {
		return nil, fmt.Errorf("invalid -resize %q: width or height required", raw)
	}
	return rs, nil
}

func resolveOutputType(to, inputType string) (string, error) {
	to = strings.TrimSpace(to)
	if to == "" {
		return domain.NormalizeMIME(inputType), nil
	}
	mime := domain.NormalizeMIME(to)
	if !strings.Contains(mime, "/") {
		mime = domain.MIMEFromExtension(mime)
	}
	if !domain.IsSupportedMIME(mime) {
		return "", fmt.Errorf("unsupported -to %q", to)
	}
	return mime, nil
}

func detectMIME(path string, data []byte) string {
	sniffed := http.DetectContentType(data)
	if domain.IsSupportedMIME(sniffed) {
		return sniffed
	}
	return domain.MIMEFromExtension(filepath.Ext(path))
}

func outputName(path, outputType string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + domain.Extension(outputType)
}

func ensureExt(name, ext string) string {
	if strings.EqualFold(filepath.Ext(name), ext) {
		return name
	}
	return name + ext
}

func progressPrinter(w io.Writer, name string) progress.Reporter {
	return func(s progress.State) {
		fmt.Fprintf(w, "\r%-24s %-12s %3.0f%%", name, s.Phase, s.Percent)
	}
}

func summary(path, key string, res *domain.CompressionResult) string {
	return fmt.Sprintf("%s -> %s  %s -> %s (-%d%%)", path, key,
		formatBytes(res.OriginalSize), formatBytes(res.CompressedSize), res.CompressionRatio)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func exitWithError(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
