package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrConversionFailed indicates the input could not be converted to the
// canonical format. Callers are expected to recover locally: the pipeline
// logs and skips the offending item instead of failing the whole batch.
var ErrConversionFailed = errors.New("audio conversion failed")

// Normalizer converts arbitrary uploaded audio container bytes into the
// canonical waveform format.
type Normalizer interface {
	Normalize(ctx context.Context, raw []byte) ([]byte, error)
}

// NormalizerConfig contains conversion parameters for the ffmpeg-backed normalizer
type NormalizerConfig struct {
	FFmpegPath string
	SampleRate int
	Timeout    time.Duration
}

// FFmpegNormalizer converts audio by invoking an external ffmpeg binary.
// The input format is never pre-declared; ffmpeg probes the container from
// the file contents.
type FFmpegNormalizer struct {
	config NormalizerConfig
	logger *slog.Logger
}

// NewFFmpegNormalizer creates a normalizer backed by the ffmpeg binary at
// the configured path
func NewFFmpegNormalizer(config NormalizerConfig, logger *slog.Logger) *FFmpegNormalizer {
	if config.FFmpegPath == "" {
		config.FFmpegPath = "ffmpeg"
	}
	if config.SampleRate <= 0 {
		config.SampleRate = CanonicalSampleRate
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	return &FFmpegNormalizer{
		config: config,
		logger: logger,
	}
}

// Normalize converts raw audio bytes to the canonical WAV format. Input
// already in the canonical format is returned unchanged without invoking
// ffmpeg.
func (n *FFmpegNormalizer) Normalize(ctx context.Context, raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrConversionFailed)
	}

	if IsCanonical(raw) {
		return raw, nil
	}

	tmpDir, err := os.MkdirTemp("", "normalize-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	// No extension on the input: ffmpeg must probe the container from
	// the bytes, matching the contract that the caller never declares
	// the upload format.
	inPath := filepath.Join(tmpDir, "in")
	outPath := filepath.Join(tmpDir, "out.wav")

	if err := os.WriteFile(inPath, raw, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage input: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.config.Timeout)
	defer cancel()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, n.config.FFmpegPath,
		"-y", "-i", inPath,
		"-ac", strconv.Itoa(CanonicalChannels),
		"-ar", strconv.Itoa(n.config.SampleRate),
		"-sample_fmt", "s16",
		"-f", "wav",
		outPath,
	)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		n.logger.Warn("ffmpeg conversion failed",
			slog.String("error", err.Error()),
			slog.String("stderr", lastLine(stderr.String())),
		)
		return nil, fmt.Errorf("%w: ffmpeg: %v", ErrConversionFailed, err)
	}

	converted, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading ffmpeg output: %v", ErrConversionFailed, err)
	}

	if err := Validate(converted); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg produced invalid WAV: %v", ErrConversionFailed, err)
	}

	return converted, nil
}

// lastLine extracts the final non-empty line of ffmpeg stderr, which
// carries the actual error message
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
