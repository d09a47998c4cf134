package compress

import (
	"fmt"

	"imgshrink/internal/infra"
	"imgshrink/internal/preprocess"
	"imgshrink/internal/progress"
	"imgshrink/internal/providers/tinify"
)

// NewPipelineFromConfig wires the tinify client, preprocessor, estimator and
// orchestrator from cfg.
func NewPipelineFromConfig(cfg *infra.Config, logger *infra.Logger) (*Pipeline, error) {
	client, err := tinify.NewClient(tinify.Options{
		APIKey:         cfg.TinifyAPIKey,
		BaseURL:        cfg.TinifyBaseURL,
		Logger:         logger,
		RequestTimeout: cfg.PipelineTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("compress: configure client: %w", err)
	}

	model := progress.DefaultModel()
	if cfg.ProgressCap > 0 {
		model.Cap = cfg.ProgressCap
	}
	if cfg.ProgressInterval > 0 {
		model.Interval = cfg.ProgressInterval
	}

	orch, err := NewOrchestrator(Options{
		Client:          client,
		Estimator:       progress.NewEstimator(model),
		Timeout:         cfg.PipelineTimeout,
		SanityThreshold: cfg.SanityThreshold,
		LosslessFormats: cfg.LosslessFormats,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	pre := preprocess.New(preprocess.Options{
		MaxBytes:     cfg.PreprocessMaxSize,
		MaxDimension: cfg.PreprocessMaxDim,
		Quality:      cfg.PreprocessQuality,
		Logger:       logger,
	})
	return NewPipeline(pre, orch), nil
}
