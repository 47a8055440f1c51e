package media

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetworks/asset-processing-service/internal/workspace"
)

const probeAudioJSON = `{"streams":[{"codec_type":"audio","codec_name":"mp3"}],"format":{"duration":"30.000000"}}`
const probeAudioVideoJSON = `{"streams":[{"codec_type":"video","codec_name":"h264"},{"codec_type":"audio","codec_name":"aac"}],"format":{"duration":"30.000000"}}`
const probeVideoOnlyJSON = `{"streams":[{"codec_type":"video","codec_name":"h264"}],"format":{"duration":"30.000000"}}`

// writeStub creates a fake executable standing in for ffmpeg/ffprobe so the
// pipeline can be exercised without real binaries.
func writeStub(t *testing.T, name, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub executables require a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755))
	return path
}

// stubFFprobe prints the given JSON payload for any input.
func stubFFprobe(t *testing.T, payload string) string {
	return writeStub(t, "ffprobe", `printf '%s' '`+payload+`'`)
}

// stubFFmpeg writes a fixed-size chunk payload for slice invocations and a
// 25-byte file for conversion/extraction invocations.
func stubFFmpeg(t *testing.T) string {
	return writeStub(t, "ffmpeg", `for last in "$@"; do :; done
case "$last" in
  *_chunk_*) printf '8bytes!!' > "$last" ;;
  *) printf 'aaaaaaaaaaaaaaaaaaaaaaaaa' > "$last" ;;
esac`)
}

func newTestWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	m, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)
	return m.ForJob("job-1")
}

func TestSplitAudio_ConvertsAndSplits(t *testing.T) {
	s := NewFFmpegSegmenter(stubFFmpeg(t), stubFFprobe(t, probeAudioJSON), 10, nil)
	ws := newTestWorkspace(t)

	// Non-MP3 input forces the conversion step; the converted file is
	// 25 bytes, so a 10-byte ceiling yields ceil(25/10) = 3 chunks.
	chunks, err := s.SplitAudio(context.Background(), ws, []byte("not-really-audio"), "episode.wav")
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, "episode_chunk_000.mp3", chunks[0].FileName)
	assert.Equal(t, "episode_chunk_001.mp3", chunks[1].FileName)
	assert.Equal(t, "episode_chunk_002.mp3", chunks[2].FileName)

	for _, c := range chunks {
		assert.Equal(t, int64(8), c.Size)
		assert.Equal(t, []byte("8bytes!!"), c.Data)
		assert.LessOrEqual(t, c.Size, int64(10))
	}

	// Everything the run created is tracked; cleanup leaves nothing behind.
	require.NoError(t, ws.Cleanup())
	_, err = os.Stat(ws.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestSplitAudio_MP3InputSkipsConversion(t *testing.T) {
	convertMarker := filepath.Join(t.TempDir(), "converted")
	ffmpeg := writeStub(t, "ffmpeg", `for last in "$@"; do :; done
case "$last" in
  *_chunk_*) printf '8bytes!!' > "$last" ;;
  *) touch `+convertMarker+`; printf 'x' > "$last" ;;
esac`)

	s := NewFFmpegSegmenter(ffmpeg, stubFFprobe(t, probeAudioJSON), 10, nil)
	ws := newTestWorkspace(t)

	// 25-byte MP3 input, 10-byte ceiling: 3 chunks, no conversion call.
	chunks, err := s.SplitAudio(context.Background(), ws, []byte("aaaaaaaaaaaaaaaaaaaaaaaaa"), "episode.mp3")
	require.NoError(t, err)
	assert.Len(t, chunks, 3)

	_, err = os.Stat(convertMarker)
	assert.True(t, os.IsNotExist(err), "mp3 input must not be re-encoded")
}

func TestSplitAudio_OversizedChunkIsFatal(t *testing.T) {
	// Chunk stub writes 8 bytes; a 5-byte ceiling must fail the job.
	s := NewFFmpegSegmenter(stubFFmpeg(t), stubFFprobe(t, probeAudioJSON), 5, nil)
	ws := newTestWorkspace(t)

	_, err := s.SplitAudio(context.Background(), ws, []byte("aaaaaa"), "episode.mp3")
	require.Error(t, err)

	var tooLarge *ChunkTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, 0, tooLarge.Index)
	assert.Equal(t, int64(8), tooLarge.Size)
}

func TestSplitAudio_NoAudioStream(t *testing.T) {
	s := NewFFmpegSegmenter(stubFFmpeg(t), stubFFprobe(t, probeVideoOnlyJSON), 10, nil)
	ws := newTestWorkspace(t)

	_, err := s.SplitAudio(context.Background(), ws, []byte("data"), "episode.mp3")
	assert.ErrorIs(t, err, ErrNoAudioStream)
}

func TestSplitAudio_EmptyInput(t *testing.T) {
	s := NewFFmpegSegmenter("ffmpeg", "ffprobe", 10, nil)
	ws := newTestWorkspace(t)

	_, err := s.SplitAudio(context.Background(), ws, nil, "episode.mp3")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestSplitAudio_FFmpegFailureCapturesStderr(t *testing.T) {
	ffmpeg := writeStub(t, "ffmpeg", `echo "Unknown encoder 'libmp3lame'" >&2; exit 1`)
	s := NewFFmpegSegmenter(ffmpeg, stubFFprobe(t, probeAudioJSON), 10, nil)
	ws := newTestWorkspace(t)

	_, err := s.SplitAudio(context.Background(), ws, []byte("data"), "episode.wav")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown encoder")
}

func TestExtractAudioAndSplit(t *testing.T) {
	s := NewFFmpegSegmenter(stubFFmpeg(t), stubFFprobe(t, probeAudioVideoJSON), 10, nil)
	ws := newTestWorkspace(t)

	chunks, err := s.ExtractAudioAndSplit(context.Background(), ws, []byte("fake-video"), "clip.mp4")
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "clip_chunk_000.mp3", chunks[0].FileName)

	require.NoError(t, ws.Cleanup())
	_, err = os.Stat(ws.Dir())
	assert.True(t, os.IsNotExist(err))
}

func TestExtractAudioAndSplit_NoVideoStream(t *testing.T) {
	s := NewFFmpegSegmenter(stubFFmpeg(t), stubFFprobe(t, probeAudioJSON), 10, nil)
	ws := newTestWorkspace(t)

	_, err := s.ExtractAudioAndSplit(context.Background(), ws, []byte("fake"), "clip.mp4")
	assert.ErrorIs(t, err, ErrNoVideoStream)
}

func TestParseProbeOutput(t *testing.T) {
	info, err := parseProbeOutput([]byte(probeAudioVideoJSON))
	require.NoError(t, err)
	assert.True(t, info.hasAudio)
	assert.True(t, info.hasVideo)
	assert.InDelta(t, 30.0, info.duration, 0.001)
}

func TestParseProbeOutput_NoDuration(t *testing.T) {
	info, err := parseProbeOutput([]byte(`{"streams":[{"codec_type":"audio"}],"format":{}}`))
	require.NoError(t, err)
	assert.True(t, info.hasAudio)
	assert.Zero(t, info.duration)
}

func TestParseProbeOutput_Invalid(t *testing.T) {
	_, err := parseProbeOutput([]byte("not json"))
	assert.Error(t, err)

	_, err = parseProbeOutput([]byte(`{"format":{"duration":"abc"}}`))
	assert.Error(t, err)
}

func TestChunkCount(t *testing.T) {
	const mib = 1024 * 1024

	// 70 MiB at a 25 MiB ceiling: 3 chunks.
	assert.Equal(t, 3, chunkCount(70*mib, 25*mib))
	assert.Equal(t, 1, chunkCount(1, 25*mib))
	assert.Equal(t, 1, chunkCount(25*mib, 25*mib))
	assert.Equal(t, 2, chunkCount(25*mib+1, 25*mib))
	assert.Equal(t, 1, chunkCount(0, 25*mib))
}

func TestStemOf(t *testing.T) {
	assert.Equal(t, "episode", stemOf("episode.mp3"))
	assert.Equal(t, "episode", stemOf("/blobs/episode.wav"))
	assert.Equal(t, "archive.tar", stemOf("archive.tar.gz"))
	assert.Equal(t, "noext", stemOf("noext"))
}
