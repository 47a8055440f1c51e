// Package worker contains the per-job processing pipeline, the heartbeat
// companion and the bounded worker pool draining the queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/assetworks/asset-processing-service/internal/assetapi"
	"github.com/assetworks/asset-processing-service/internal/job"
	"github.com/assetworks/asset-processing-service/internal/media"
	"github.com/assetworks/asset-processing-service/internal/metrics"
	"github.com/assetworks/asset-processing-service/internal/storage"
	"github.com/assetworks/asset-processing-service/internal/workspace"
)

// Stage names recorded in the asset content after segmentation.
const (
	stageAudioSplitting       = "audio_splitting"
	stageVideoAudioExtraction = "video_audio_extraction"
)

// chunkDescriptor is the per-chunk record written into the asset content.
type chunkDescriptor struct {
	FileName string `json:"file_name"`
	Size     int64  `json:"size"`
}

// stageSummary is the segmentation result written as the asset's content.
type stageSummary struct {
	Stage     string            `json:"stage"`
	Chunks    []chunkDescriptor `json:"chunks"`
	NumChunks int               `json:"num_chunks"`
	TotalSize int64             `json:"total_size"`
}

// Processor runs a single job to a terminal, server-visible outcome.
type Processor struct {
	client            assetapi.Client
	segmenter         media.Segmenter
	workspaces        *workspace.Manager
	archiver          storage.ChunkArchiver
	heartbeatInterval time.Duration
	logger            *slog.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithArchiver enables chunk archiving after segmentation.
func WithArchiver(a storage.ChunkArchiver) ProcessorOption {
	return func(p *Processor) {
		p.archiver = a
	}
}

// WithHeartbeatInterval sets the heartbeat cadence.
func WithHeartbeatInterval(d time.Duration) ProcessorOption {
	return func(p *Processor) {
		if d > 0 {
			p.heartbeatInterval = d
		}
	}
}

// NewProcessor creates a Processor.
func NewProcessor(client assetapi.Client, segmenter media.Segmenter, workspaces *workspace.Manager, logger *slog.Logger, opts ...ProcessorOption) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Processor{
		client:            client,
		segmenter:         segmenter,
		workspaces:        workspaces,
		heartbeatInterval: 10 * time.Second,
		logger:            logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs the job, returning normally on success and an error on
// failure; the pool converts that error into the failed patch. The terminal
// status is the last API write for the run: the heartbeat companion is
// stopped and awaited before it is issued, and the workspace is cleaned on
// every exit path.
func (p *Processor) Process(ctx context.Context, j job.Job) error {
	logger := p.logger.With(
		slog.String("job_id", j.ID),
		slog.String("asset_id", j.AssetID),
	)
	logger.Info("processing job", slog.Int("attempts", j.Attempts))

	ws := p.workspaces.ForJob(j.ID)
	hb := startHeartbeat(ctx, p.client, j.ID, p.heartbeatInterval, logger)

	err := p.run(ctx, j, ws, logger)

	// Await heartbeat termination so no straggler patch can follow the
	// terminal status update.
	hb.stop()

	if cerr := ws.Cleanup(); cerr != nil {
		logger.Warn("workspace cleanup failed",
			slog.String("error", cerr.Error()),
		)
	}

	if err != nil {
		return err
	}

	if uerr := p.client.UpdateJob(ctx, j.ID, assetapi.JobUpdate{
		Status: assetapi.Ptr(job.StatusCompleted),
	}); uerr != nil {
		return fmt.Errorf("mark job completed: %w", uerr)
	}

	logger.Info("job completed")
	return nil
}

// run executes the pipeline up to (but excluding) the terminal status patch.
func (p *Processor) run(ctx context.Context, j job.Job, ws *workspace.Workspace, logger *slog.Logger) error {
	if err := p.client.UpdateJob(ctx, j.ID, assetapi.JobUpdate{
		Status: assetapi.Ptr(job.StatusInProgress),
	}); err != nil {
		// Best-effort: the server reconciles via heartbeats and re-polls.
		logger.Warn("failed to mark job in progress",
			slog.String("error", err.Error()),
		)
	}

	asset, err := p.client.GetAsset(ctx, j.AssetID)
	if err != nil {
		return err
	}
	if asset == nil {
		return fmt.Errorf("Asset with ID %s not found", j.AssetID)
	}

	logger.Debug("fetched asset",
		slog.String("file_name", asset.FileName),
		slog.String("file_type", string(asset.FileType)),
		slog.String("mime_type", asset.MimeType),
		slog.Int64("size", asset.Size),
	)

	data, err := p.client.DownloadFile(ctx, asset.FileURL)
	if err != nil {
		return err
	}

	switch asset.FileType {
	case job.FileTypeText, job.FileTypeMarkdown:
		return p.processText(ctx, asset, data)
	case job.FileTypeAudio:
		return p.processMedia(ctx, asset, data, stageAudioSplitting, func() ([]job.AudioChunk, error) {
			return p.segmenter.SplitAudio(ctx, ws, data, asset.FileName)
		}, j.ID, logger)
	case job.FileTypeVideo:
		return p.processMedia(ctx, asset, data, stageVideoAudioExtraction, func() ([]job.AudioChunk, error) {
			return p.segmenter.ExtractAudioAndSplit(ctx, ws, data, asset.FileName)
		}, j.ID, logger)
	default:
		return fmt.Errorf("Unsupported content type: %s", asset.FileType)
	}
}

// processText decodes the blob as UTF-8 and writes it back as the asset
// content.
func (p *Processor) processText(ctx context.Context, asset *job.Asset, data []byte) error {
	if !utf8.Valid(data) {
		return fmt.Errorf("file %s is not valid UTF-8", asset.FileName)
	}

	if err := p.client.UpdateAssetContent(ctx, asset.ID, string(data)); err != nil {
		return err
	}
	return nil
}

// processMedia runs Stage 1 segmentation, optionally archives the chunks
// and writes the stage summary as the asset content.
func (p *Processor) processMedia(ctx context.Context, asset *job.Asset, _ []byte, stage string, segment func() ([]job.AudioChunk, error), jobID string, logger *slog.Logger) error {
	start := time.Now()
	chunks, err := segment()
	if err != nil {
		return err
	}
	metrics.SegmentationDuration.Observe(time.Since(start).Seconds())
	metrics.ChunksProducedTotal.Add(float64(len(chunks)))

	summary := stageSummary{
		Stage:     stage,
		Chunks:    make([]chunkDescriptor, 0, len(chunks)),
		NumChunks: len(chunks),
	}
	for _, c := range chunks {
		summary.Chunks = append(summary.Chunks, chunkDescriptor{FileName: c.FileName, Size: c.Size})
		summary.TotalSize += c.Size
	}

	logger.Info("segmentation complete",
		slog.String("stage", stage),
		slog.Int("num_chunks", summary.NumChunks),
		slog.Int64("total_size", summary.TotalSize),
	)

	if p.archiver != nil {
		for _, c := range chunks {
			url, err := p.archiver.ArchiveChunk(ctx, jobID, c)
			if err != nil {
				return fmt.Errorf("archive chunk %s: %w", c.FileName, err)
			}
			logger.Debug("chunk archived",
				slog.String("file_name", c.FileName),
				slog.String("url", url),
			)
		}
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal stage summary: %w", err)
	}

	if err := p.client.UpdateAssetContent(ctx, asset.ID, string(payload)); err != nil {
		return err
	}
	return nil
}
