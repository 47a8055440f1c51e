// Package media segments audio and video assets into size-bounded MP3
// chunks using the ffmpeg CLI.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/assetworks/asset-processing-service/internal/job"
	"github.com/assetworks/asset-processing-service/internal/workspace"
)

// DefaultMaxChunkBytes is the per-chunk ceiling when none is configured.
const DefaultMaxChunkBytes = 25 * 1024 * 1024

// mp3Bitrate is the target bitrate for MP3 conversion and audio extraction.
const mp3Bitrate = "192k"

// commandTimeout bounds a single ffmpeg/ffprobe invocation so a wedged
// transcoder cannot hang a worker forever.
const commandTimeout = 10 * time.Minute

// Static errors for media operations.
var (
	// ErrNoAudioStream is returned when the input has no audio stream.
	ErrNoAudioStream = errors.New("media: no audio stream found")
	// ErrNoVideoStream is returned when a video input has no video stream.
	ErrNoVideoStream = errors.New("media: no video stream found")
	// ErrEmptyInput is returned when the input buffer is empty.
	ErrEmptyInput = errors.New("media: input buffer is empty")
)

// ChunkTooLargeError reports a produced chunk that exceeds the configured
// ceiling. This indicates a variable-bitrate input the duration-proportional
// split could not bound and is fatal for the job.
type ChunkTooLargeError struct {
	Index    int
	Size     int64
	MaxBytes int64
}

func (e *ChunkTooLargeError) Error() string {
	return fmt.Sprintf("media: chunk %d exceeds maximum size: %d > %d", e.Index, e.Size, e.MaxBytes)
}

// Segmenter produces ordered, size-bounded MP3 chunks from media blobs.
type Segmenter interface {
	// SplitAudio persists an audio blob into the workspace, converts it to
	// MP3 when needed and slices it into chunks no larger than the
	// configured ceiling, in index order.
	SplitAudio(ctx context.Context, ws *workspace.Workspace, data []byte, fileName string) ([]job.AudioChunk, error)

	// ExtractAudioAndSplit extracts the audio track of a video blob to MP3
	// (dropping the video stream) and feeds it through the audio path.
	ExtractAudioAndSplit(ctx context.Context, ws *workspace.Workspace, data []byte, fileName string) ([]job.AudioChunk, error)
}

// FFmpegSegmenter implements Segmenter using the ffmpeg and ffprobe CLIs.
type FFmpegSegmenter struct {
	ffmpegPath    string
	ffprobePath   string
	maxChunkBytes int64
	logger        *slog.Logger
}

// NewFFmpegSegmenter creates a new FFmpegSegmenter. Empty binary paths
// default to "ffmpeg"/"ffprobe" found via PATH; a non-positive ceiling
// defaults to DefaultMaxChunkBytes.
func NewFFmpegSegmenter(ffmpegPath, ffprobePath string, maxChunkBytes int64, logger *slog.Logger) *FFmpegSegmenter {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if maxChunkBytes <= 0 {
		maxChunkBytes = DefaultMaxChunkBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegSegmenter{
		ffmpegPath:    ffmpegPath,
		ffprobePath:   ffprobePath,
		maxChunkBytes: maxChunkBytes,
		logger:        logger,
	}
}

// SplitAudio implements Segmenter.SplitAudio.
func (s *FFmpegSegmenter) SplitAudio(ctx context.Context, ws *workspace.Workspace, data []byte, fileName string) ([]job.AudioChunk, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	inputPath, err := ws.Save(fileName, data)
	if err != nil {
		return nil, err
	}

	stem := stemOf(fileName)
	mp3Path := inputPath
	if strings.ToLower(filepath.Ext(fileName)) != ".mp3" {
		mp3Path, err = s.convertToMP3(ctx, ws, inputPath, stem)
		if err != nil {
			return nil, err
		}
	}

	return s.splitMP3(ctx, ws, mp3Path, stem)
}

// ExtractAudioAndSplit implements Segmenter.ExtractAudioAndSplit.
func (s *FFmpegSegmenter) ExtractAudioAndSplit(ctx context.Context, ws *workspace.Workspace, data []byte, fileName string) ([]job.AudioChunk, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	inputPath, err := ws.Save(fileName, data)
	if err != nil {
		return nil, err
	}

	info, err := s.probe(ctx, inputPath)
	if err != nil {
		return nil, err
	}
	if !info.hasVideo {
		return nil, fmt.Errorf("%w: %s", ErrNoVideoStream, fileName)
	}

	stem := stemOf(fileName)
	mp3Path := ws.Path(stem + ".mp3")
	args := []string{
		"-y",
		"-i", inputPath,
		"-vn", // drop the video stream
		"-acodec", "libmp3lame",
		"-b:a", mp3Bitrate,
		mp3Path,
	}
	if err := s.runFFmpeg(ctx, args); err != nil {
		return nil, fmt.Errorf("extract audio from %s: %w", fileName, err)
	}
	ws.Track(mp3Path)

	s.logger.Debug("extracted audio track",
		slog.String("input", inputPath),
		slog.String("output", mp3Path),
	)

	return s.splitMP3(ctx, ws, mp3Path, stem)
}

// convertToMP3 transcodes the input to MP3 at the target bitrate.
func (s *FFmpegSegmenter) convertToMP3(ctx context.Context, ws *workspace.Workspace, inputPath, stem string) (string, error) {
	mp3Path := ws.Path(stem + ".mp3")
	args := []string{
		"-y",
		"-i", inputPath,
		"-acodec", "libmp3lame",
		"-b:a", mp3Bitrate,
		mp3Path,
	}
	if err := s.runFFmpeg(ctx, args); err != nil {
		return "", fmt.Errorf("convert %s to mp3: %w", inputPath, err)
	}
	ws.Track(mp3Path)

	s.logger.Debug("converted input to mp3",
		slog.String("input", inputPath),
		slog.String("output", mp3Path),
	)

	return mp3Path, nil
}

// splitMP3 slices an MP3 into N = ceil(size/maxChunkBytes) chunks of equal
// duration using stream copy, verifies every chunk against the byte ceiling
// and reads the chunks back in index order.
//
// The split is duration-proportional, not byte-accurate; the post-slice size
// check is the hard guarantee.
func (s *FFmpegSegmenter) splitMP3(ctx context.Context, ws *workspace.Workspace, mp3Path, stem string) ([]job.AudioChunk, error) {
	info, err := s.probe(ctx, mp3Path)
	if err != nil {
		return nil, err
	}
	if !info.hasAudio {
		return nil, fmt.Errorf("%w: %s", ErrNoAudioStream, mp3Path)
	}
	if info.duration <= 0 {
		return nil, fmt.Errorf("media: invalid duration %.3f for %s", info.duration, mp3Path)
	}

	fi, err := os.Stat(mp3Path)
	if err != nil {
		return nil, fmt.Errorf("media: stat %s: %w", mp3Path, err)
	}

	numChunks := chunkCount(fi.Size(), s.maxChunkBytes)
	chunkDuration := info.duration / float64(numChunks)

	s.logger.Debug("splitting audio file",
		slog.String("path", mp3Path),
		slog.Int64("size", fi.Size()),
		slog.Float64("duration", info.duration),
		slog.Int("num_chunks", numChunks),
	)

	chunks := make([]job.AudioChunk, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		name := job.ChunkFileName(stem, i)
		chunkPath := ws.Path(name)

		start := float64(i) * chunkDuration
		duration := chunkDuration
		if i == numChunks-1 {
			duration = info.duration - start
		}

		args := []string{
			"-y",
			"-ss", fmt.Sprintf("%.3f", start),
			"-t", fmt.Sprintf("%.3f", duration),
			"-i", mp3Path,
			"-c", "copy", // stream copy, no re-encoding
			chunkPath,
		}
		if err := s.runFFmpeg(ctx, args); err != nil {
			return nil, fmt.Errorf("create chunk %d: %w", i, err)
		}
		ws.Track(chunkPath)

		st, err := os.Stat(chunkPath)
		if err != nil {
			return nil, fmt.Errorf("media: stat chunk %s: %w", chunkPath, err)
		}
		if st.Size() > s.maxChunkBytes {
			return nil, &ChunkTooLargeError{Index: i, Size: st.Size(), MaxBytes: s.maxChunkBytes}
		}

		data, err := os.ReadFile(chunkPath)
		if err != nil {
			return nil, fmt.Errorf("media: read chunk %s: %w", chunkPath, err)
		}

		chunks = append(chunks, job.AudioChunk{
			FileName: name,
			Size:     st.Size(),
			Data:     data,
		})
	}

	return chunks, nil
}

// runFFmpeg executes ffmpeg with captured stderr and a wall-clock bound.
func (s *FFmpegSegmenter) runFFmpeg(ctx context.Context, args []string) error {
	ctx, cancel := s.commandContext(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("media: ffmpeg: %w: %s", err, stderrExcerpt(&stderr))
	}
	return nil
}

// commandContext applies the per-invocation timeout unless the caller
// already set a deadline.
func (s *FFmpegSegmenter) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, commandTimeout)
}

// stderrExcerpt keeps error messages short: the tail of stderr is where
// ffmpeg reports the actual failure.
func stderrExcerpt(buf *bytes.Buffer) string {
	const limit = 512
	out := strings.TrimSpace(buf.String())
	if len(out) > limit {
		out = "..." + out[len(out)-limit:]
	}
	if out == "" {
		out = "no stderr output"
	}
	return out
}

// chunkCount returns ceil(size / maxChunkBytes), at least 1.
func chunkCount(size, maxChunkBytes int64) int {
	n := (size + maxChunkBytes - 1) / maxChunkBytes
	if n < 1 {
		n = 1
	}
	return int(n)
}

// stemOf returns the base name without its extension.
func stemOf(fileName string) string {
	base := filepath.Base(fileName)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Verify interface implementation at compile time.
var _ Segmenter = (*FFmpegSegmenter)(nil)
