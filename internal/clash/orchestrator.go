package clash

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/raideye/raideye/internal/channel"
)

// Cleaner removes the originating message after a fully successful
// batch. Deletion is best-effort; errors never change the batch outcome.
type Cleaner interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// Recorder receives completed batch results for bookkeeping.
type Recorder interface {
	RecordBatch(result BatchResult)
}

// Orchestrator runs the full pipeline for one message at a time:
// locate, classify once, then extract and inject per image in discovery
// order. Per-image failures never halt the batch.
type Orchestrator struct {
	locator    *Locator
	classifier *Classifier
	extraction *ExtractionClient
	injection  *InjectionClient
	clans      *ClanResolver
	payload    *PayloadBuilder
	cleaner    Cleaner
	recorder   Recorder
	workRoot   string
	logger     *slog.Logger
}

// NewOrchestrator wires the pipeline components together.
func NewOrchestrator(log *slog.Logger, locator *Locator, classifier *Classifier, extraction *ExtractionClient, injection *InjectionClient, clans *ClanResolver, payload *PayloadBuilder) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		locator:    locator,
		classifier: classifier,
		extraction: extraction,
		injection:  injection,
		clans:      clans,
		payload:    payload,
		logger:     log.With(slog.String("component", "orchestrator")),
	}
}

// SetCleaner configures source-message deletion after batch success.
func (o *Orchestrator) SetCleaner(cleaner Cleaner) {
	o.cleaner = cleaner
}

// SetRecorder configures batch result bookkeeping.
func (o *Orchestrator) SetRecorder(recorder Recorder) {
	o.recorder = recorder
}

// SetWorkDir enables persisting fetched images under root until the
// batch succeeds.
func (o *Orchestrator) SetWorkDir(root string) {
	o.workRoot = root
}

// ProcessMessage runs one message batch to completion. A message with
// no discoverable images yields Total 0 and triggers no network calls.
func (o *Orchestrator) ProcessMessage(ctx context.Context, msg channel.InboundMessage, opts ProcessOptions) BatchResult {
	result := BatchResult{
		BatchID: uuid.NewString(),
		DryRun:  opts.DryRun,
	}

	assets := o.locator.Locate(msg)
	if len(assets) == 0 {
		o.logger.Debug("no images in message", slog.String("message_id", msg.Message.ID))
		o.record(result)
		return result
	}

	workDir := o.prepareWorkDir(result.BatchID)

	clashType := opts.ForcedType
	if !clashType.Known() {
		clashType = o.classifier.Resolve(ctx, msg.Message.Text, assets[0])
	}
	result.Type = clashType

	aborted := false
	for _, asset := range assets {
		if ctx.Err() != nil {
			// Shutdown mid-batch: abandon without cleanup so a
			// half-processed batch never deletes anything.
			aborted = true
			break
		}
		result.Outcomes = append(result.Outcomes, o.processImage(ctx, asset, clashType, opts, workDir))
	}

	result.Total = len(result.Outcomes)
	for _, outcome := range result.Outcomes {
		if outcome.succeeded(opts.DryRun) {
			result.Succeeded++
		}
	}
	result.AllSucceeded = !aborted && result.Total == len(assets) &&
		result.Total > 0 && result.Succeeded == result.Total

	if result.AllSucceeded {
		o.cleanup(ctx, msg, workDir, opts)
		result.CleanupRan = true
	}

	o.logger.Info("batch finished",
		slog.String("batch_id", result.BatchID),
		slog.String("type", clashType.String()),
		slog.Int("total", result.Total),
		slog.Int("succeeded", result.Succeeded),
		slog.Bool("all_succeeded", result.AllSucceeded),
	)
	o.record(result)
	return result
}

func (o *Orchestrator) processImage(ctx context.Context, asset *ImageAsset, clashType ClashType, opts ProcessOptions, workDir string) ProcessingOutcome {
	outcome := ProcessingOutcome{Filename: asset.Filename, Origin: asset.Origin}

	if !clashType.Known() {
		// Unclassifiable batch: terminal state, nothing destructive done.
		outcome.Handled = true
		return outcome
	}

	data, err := asset.Data(ctx)
	if err != nil {
		outcome.Err = "image fetch failed: " + err.Error()
		return outcome
	}
	o.persistWorkingFile(workDir, asset.Filename, data)

	extracted := o.extraction.Extract(ctx, data, asset.Filename, RecordPrompt(clashType))
	if !extracted.Success {
		outcome.Err = "image extraction failed: " + extracted.Err
		return outcome
	}
	outcome.ExtractionOK = true

	clan, _ := o.clans.Resolve(opts.ClanToken)
	payload, err := o.payload.Build(extracted.Data(), clan, opts.DateRecorded)
	if err != nil {
		outcome.Err = err.Error()
		return outcome
	}

	if opts.DryRun {
		preview, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			outcome.Err = err.Error()
			return outcome
		}
		outcome.Preview = string(preview)
		return outcome
	}

	resp := o.injection.Inject(ctx, payload, clashType)
	if !resp.OK {
		outcome.Err = "injection failed: " + resp.Err
		return outcome
	}
	outcome.InjectionOK = true
	outcome.ViewURL = o.injection.ViewURL(clashType, resp.ClashID)
	return outcome
}

func (o *Orchestrator) prepareWorkDir(batchID string) string {
	if o.workRoot == "" {
		return ""
	}
	dir := filepath.Join(o.workRoot, batchID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		o.logger.Warn("create work dir failed", slog.String("dir", dir), slog.Any("error", err))
		return ""
	}
	return dir
}

func (o *Orchestrator) persistWorkingFile(workDir, filename string, data []byte) {
	if workDir == "" {
		return
	}
	target := filepath.Join(workDir, filepath.Base(filename))
	if err := os.WriteFile(target, data, 0o644); err != nil {
		o.logger.Warn("persist working file failed", slog.String("path", target), slog.Any("error", err))
	}
}

// cleanup removes working files and, if requested, the source message.
// Failures here are logged only; the batch outcome is already recorded.
func (o *Orchestrator) cleanup(ctx context.Context, msg channel.InboundMessage, workDir string, opts ProcessOptions) {
	if workDir != "" {
		if err := os.RemoveAll(workDir); err != nil {
			o.logger.Warn("remove work dir failed", slog.String("dir", workDir), slog.Any("error", err))
		}
	}
	if !opts.DeleteSource || o.cleaner == nil {
		return
	}
	if msg.ChannelID == "" || msg.Message.ID == "" {
		return
	}
	if err := o.cleaner.DeleteMessage(ctx, msg.ChannelID, msg.Message.ID); err != nil {
		o.logger.Warn("delete source message failed",
			slog.String("channel_id", msg.ChannelID),
			slog.String("message_id", msg.Message.ID),
			slog.Any("error", err),
		)
	}
}

func (o *Orchestrator) record(result BatchResult) {
	if o.recorder != nil {
		o.recorder.RecordBatch(result)
	}
}
