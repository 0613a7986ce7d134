package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/T-SHELLY/aeroAR/internal/audio"
	"github.com/T-SHELLY/aeroAR/internal/metrics"
	"github.com/T-SHELLY/aeroAR/internal/store"
	"github.com/T-SHELLY/aeroAR/internal/transcription"
)

// Task is one unit of work inside a module run: a staged raw upload plus
// its label and an optional transcript supplied at submission time. Tasks
// are created at submission, consumed exactly once, then discarded.
type Task struct {
	Label      string
	RawPath    string
	Transcript string
}

// Pipeline processes one module's tasks strictly in submission order.
type Pipeline struct {
	store       *store.Store
	normalizer  audio.Normalizer
	transcriber transcription.Transcriber
	metrics     *metrics.Metrics
	logger      *slog.Logger
	itemTimeout time.Duration
}

// Deps contains everything a pipeline needs, passed explicitly at
// construction time
type Deps struct {
	Store       *store.Store
	Normalizer  audio.Normalizer
	Transcriber transcription.Transcriber
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	ItemTimeout time.Duration
}

// New creates a pipeline from its dependencies
func New(deps Deps) *Pipeline {
	if deps.ItemTimeout <= 0 {
		deps.ItemTimeout = 2 * time.Minute
	}

	return &Pipeline{
		store:       deps.Store,
		normalizer:  deps.Normalizer,
		transcriber: deps.Transcriber,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		itemTimeout: deps.ItemTimeout,
	}
}

// Process runs the full pipeline for one module. Per-item normalization
// failures drop that item from the manifest and continue; only a failure
// in the final manifest-write phase flips the module to ERROR. The module
// must already be in PROCESSING state when Process is entered.
func (p *Pipeline) Process(ctx context.Context, code string, tasks []Task) (err error) {
	startTime := time.Now()
	logger := p.logger.With(slog.String("code", code))

	// Panics and final-phase errors share the single externally visible
	// error surface: the module's ERROR status marker.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
		if err != nil {
			p.fail(logger, code, err)
		}
	}()

	logger.Info("Module processing started", slog.Int("items", len(tasks)))

	manifest := make([]store.ManifestEntry, 0, len(tasks))

	for _, task := range tasks {
		entry, ok := p.processTask(ctx, logger, code, task)
		if !ok {
			continue
		}
		manifest = append(manifest, entry)
		p.metrics.ItemsProcessed.Inc()
	}

	// Final phase: everything from here on escalates to module ERROR.
	if err := p.store.WriteManifest(code, manifest); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}

	if err := p.store.RemoveStaging(code); err != nil {
		return fmt.Errorf("failed to remove staging area: %w", err)
	}

	if err := p.store.SetStatus(code, store.Status{State: store.StateComplete}); err != nil {
		return fmt.Errorf("failed to mark module complete: %w", err)
	}

	p.metrics.ModulesCompleted.Inc()
	p.metrics.ProcessingDuration.Observe(time.Since(startTime).Seconds())

	logger.Info("Module processing complete",
		slog.Int("items_submitted", len(tasks)),
		slog.Int("items_in_manifest", len(manifest)),
		slog.Duration("duration", time.Since(startTime)),
	)

	return nil
}

// processTask normalizes and transcribes a single task. A false return
// means the item was dropped; the reason is logged and counted but never
// surfaces in the module status.
func (p *Pipeline) processTask(ctx context.Context, logger *slog.Logger, code string, task Task) (store.ManifestEntry, bool) {
	raw, err := os.ReadFile(task.RawPath)
	if err != nil {
		logger.Warn("Skipping item: staged upload unreadable",
			slog.String("label", task.Label),
			slog.String("error", err.Error()),
		)
		p.metrics.ItemsDropped.Inc()
		return store.ManifestEntry{}, false
	}

	normCtx, cancel := context.WithTimeout(ctx, p.itemTimeout)
	canonical, err := p.normalizer.Normalize(normCtx, raw)
	cancel()
	if err != nil {
		// An item that still needs a transcript is unusable without
		// canonical audio and gets dropped. An item with a supplied
		// transcript keeps its original bytes: the transcriber is
		// never involved, and most players handle common containers.
		if task.Transcript == "" {
			logger.Warn("Skipping item: normalization failed",
				slog.String("label", task.Label),
				slog.String("error", err.Error()),
			)
			p.metrics.ItemsDropped.Inc()
			os.Remove(task.RawPath)
			return store.ManifestEntry{}, false
		}

		logger.Warn("Keeping item unconverted: normalization failed but transcript was supplied",
			slog.String("label", task.Label),
			slog.String("error", err.Error()),
		)
		canonical = raw
	}

	filename, err := p.store.WriteCanonical(code, task.Label, canonical)
	if err != nil {
		logger.Warn("Skipping item: failed to persist canonical audio",
			slog.String("label", task.Label),
			slog.String("error", err.Error()),
		)
		p.metrics.ItemsDropped.Inc()
		os.Remove(task.RawPath)
		return store.ManifestEntry{}, false
	}

	os.Remove(task.RawPath)

	transcript := task.Transcript
	if transcript == "" {
		transcript = p.transcribe(ctx, code, filename)
	}

	return store.ManifestEntry{
		File:       filename,
		Name:       task.Label,
		Transcript: transcript,
	}, true
}

// transcribe invokes the transcriber under the per-item deadline
func (p *Pipeline) transcribe(ctx context.Context, code, filename string) string {
	ctx, cancel := context.WithTimeout(ctx, p.itemTimeout)
	defer cancel()

	startTime := time.Now()
	p.metrics.TranscriptionRequests.Inc()

	audioPath, err := p.store.ResolveAudio(code, filename[:len(filename)-len(store.AudioExt)])
	if err != nil {
		p.metrics.TranscriptionDegraded.Inc()
		return transcription.PlaceholderError
	}

	text := p.transcriber.Transcribe(ctx, audioPath)

	p.metrics.TranscriptionDuration.Observe(time.Since(startTime).Seconds())
	if transcription.IsPlaceholder(text) {
		p.metrics.TranscriptionDegraded.Inc()
	}

	return text
}

// fail records the terminal ERROR status with the failure detail
func (p *Pipeline) fail(logger *slog.Logger, code string, cause error) {
	logger.Error("Module processing failed", slog.String("error", cause.Error()))

	p.metrics.ModulesFailed.Inc()

	status := store.Status{State: store.StateError, Detail: cause.Error()}
	if err := p.store.SetStatus(code, status); err != nil {
		logger.Error("Failed to record ERROR status", slog.String("error", err.Error()))
	}
}
