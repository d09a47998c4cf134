package compress

import (
	"context"

	"imgshrink/internal/domain"
	"imgshrink/internal/preprocess"
	"imgshrink/internal/progress"
)

// Pipeline preprocesses the source and hands it to the orchestrator.
type Pipeline struct {
	preprocessor *preprocess.Preprocessor
	orchestrator *Orchestrator
}

// NewPipeline wires a preprocessor in front of an orchestrator.
func NewPipeline(pre *preprocess.Preprocessor, orch *Orchestrator) *Pipeline {
	if pre == nil {
		pre = preprocess.New(preprocess.Options{})
	}
	return &Pipeline{preprocessor: pre, orchestrator: orch}
}

// Run downsamples req.Source when oversized and compresses it.
func (p *Pipeline) Run(ctx context.Context, req Request, tracker *progress.Tracker) (*domain.CompressionResult, error) {
	if tracker == nil {
		tracker = progress.NewTracker(nil)
	}
	tracker.Enter(progress.PhaseUploading)
	if req.OriginalSize <= 0 {
		req.OriginalSize = req.Source.Size()
	}
	req.Source = p.preprocessor.ProcessWithQuality(ctx, req.Source, req.Options.Quality)
	return p.orchestrator.Compress(ctx, req, tracker)
}
