// Package bootstrap provides dependency initialization for the worker service.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/assetworks/asset-processing-service/internal/assetapi"
	"github.com/assetworks/asset-processing-service/internal/config"
	"github.com/assetworks/asset-processing-service/internal/media"
	"github.com/assetworks/asset-processing-service/internal/queue"
	"github.com/assetworks/asset-processing-service/internal/scheduler"
	"github.com/assetworks/asset-processing-service/internal/storage"
	"github.com/assetworks/asset-processing-service/internal/worker"
	"github.com/assetworks/asset-processing-service/internal/workspace"
)

// Dependencies holds all initialized components of the worker service.
type Dependencies struct {
	Fetcher *scheduler.Fetcher
	Pool    *worker.Pool
}

// NewDependencies creates and wires all dependencies from the configuration.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	if err := cfg.EnsureTempDir(); err != nil {
		return nil, err
	}

	client, err := assetapi.NewClient(cfg.APIBaseURL,
		assetapi.WithAPIKey(cfg.ServerAPIKey),
		assetapi.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create asset API client: %w", err)
	}

	workspaces, err := workspace.NewManager(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create workspace manager: %w", err)
	}

	segmenter := media.NewFFmpegSegmenter(cfg.FFmpegPath, cfg.FFprobePath, cfg.MaxChunkSizeBytes, logger)

	procOpts := []worker.ProcessorOption{
		worker.WithHeartbeatInterval(cfg.HeartbeatInterval()),
	}
	archiver, err := initArchiver(cfg, logger)
	if err != nil {
		return nil, err
	}
	if archiver != nil {
		procOpts = append(procOpts, worker.WithArchiver(archiver))
	}

	processor := worker.NewProcessor(client, segmenter, workspaces, logger, procOpts...)

	q := queue.New(queue.DefaultCapacity)
	pool := worker.NewPool(q, processor, client, cfg.MaxNumWorkers, logger)
	fetcher := scheduler.NewFetcher(client, q, cfg.MaxJobAttempts, cfg.StuckJobThreshold(), logger)

	return &Dependencies{
		Fetcher: fetcher,
		Pool:    pool,
	}, nil
}

// initArchiver creates the S3 chunk archiver when configured; archiving is
// skipped entirely otherwise.
func initArchiver(cfg *config.Config, logger *slog.Logger) (storage.ChunkArchiver, error) {
	if !cfg.S3Enabled() {
		logger.Info("chunk archiving disabled")
		return nil, nil
	}

	archiver, err := storage.NewS3Archiver(storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 archiver: %w", err)
	}
	logger.Info("S3 chunk archiving configured",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region),
	)
	return archiver, nil
}
