package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// probeInfo is the container metadata the segmenter needs.
type probeInfo struct {
	duration float64
	hasAudio bool
	hasVideo bool
}

// probePayload is the subset of ffprobe JSON output we parse.
type probePayload struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

// probe runs ffprobe against a media file and parses its JSON output.
func (s *FFmpegSegmenter) probe(ctx context.Context, path string) (probeInfo, error) {
	ctx, cancel := s.commandContext(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return probeInfo{}, fmt.Errorf("media: ffprobe failed: %w", err)
		}
		return probeInfo{}, fmt.Errorf("media: ffprobe failed: %w: %s", err, msg)
	}

	return parseProbeOutput(stdout.Bytes())
}

// parseProbeOutput extracts duration and stream kinds from ffprobe JSON.
func parseProbeOutput(data []byte) (probeInfo, error) {
	var payload probePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return probeInfo{}, fmt.Errorf("media: parse ffprobe output: %w", err)
	}

	var info probeInfo
	for _, st := range payload.Streams {
		switch st.CodecType {
		case "audio":
			info.hasAudio = true
		case "video":
			info.hasVideo = true
		}
	}

	if payload.Format.Duration != "" {
		d, err := strconv.ParseFloat(payload.Format.Duration, 64)
		if err != nil {
			return probeInfo{}, fmt.Errorf("media: parse duration %q: %w", payload.Format.Duration, err)
		}
		info.duration = d
	}

	return info, nil
}
