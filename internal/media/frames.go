package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecguard/internal/domain"
)

// FrameCount is the number of frames sampled from every video.
const FrameCount = 5

// DefaultFrameWidth is the width sampled frames are scaled to.
const DefaultFrameWidth = 512

// framePercents are the sample positions as percentages of the duration.
var framePercents = [FrameCount]int{10, 30, 50, 70, 90}

// FrameTimestamps returns the sample positions in seconds for a video of
// the given duration.
func FrameTimestamps(duration float64) []float64 {
	out := make([]float64, FrameCount)
	for i, p := range framePercents {
		out[i] = duration * float64(p) / 100
	}
	return out
}

// FrameSampler extracts FrameCount JPEG frames from a video with ffmpeg.
type FrameSampler struct {
	runner  Runner
	ffmpeg  string
	ffprobe string
	width   int
	tempDir string
	logger  *zap.Logger
}

// SamplerConfig configures a FrameSampler. Empty fields take defaults.
type SamplerConfig struct {
	FFmpegPath  string
	FFprobePath string
	FrameWidth  int
	// TempDir is the parent of per-call scratch directories; empty means os.TempDir().
	TempDir string
}

// NewFrameSampler creates a frame sampler.
func NewFrameSampler(runner Runner, cfg SamplerConfig, logger *zap.Logger) *FrameSampler {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.FrameWidth <= 0 {
		cfg.FrameWidth = DefaultFrameWidth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FrameSampler{
		runner:  runner,
		ffmpeg:  cfg.FFmpegPath,
		ffprobe: cfg.FFprobePath,
		width:   cfg.FrameWidth,
		tempDir: cfg.TempDir,
		logger:  logger,
	}
}

// Sample returns exactly FrameCount frames or an error; partial frame sets
// are never returned. Scratch files live in a private directory removed on
// every exit path.
func (s *FrameSampler) Sample(ctx context.Context, video []byte) ([][]byte, error) {
	if len(video) == 0 {
		return nil, fmt.Errorf("%w: video is empty", domain.ErrEmptyInput)
	}

	dir, err := os.MkdirTemp(s.tempDir, "vecguard-frames-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create temp dir: %w", domain.ErrVideoProcessing, err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			s.logger.Debug("Frame temp dir cleanup failed", zap.String("dir", dir), zap.Error(rmErr))
		}
	}()

	input := filepath.Join(dir, "input.mp4")
	if err := os.WriteFile(input, video, 0o600); err != nil {
		return nil, fmt.Errorf("%w: write input: %w", domain.ErrVideoProcessing, err)
	}

	duration, err := s.probeDuration(ctx, input)
	if err != nil {
		return nil, err
	}

	frames := make([][]byte, 0, FrameCount)
	for i, ts := range FrameTimestamps(duration) {
		frame, err := s.extractFrame(ctx, input, filepath.Join(dir, fmt.Sprintf("frame_%d.jpg", i)), ts)
		if err != nil {
			return nil, fmt.Errorf("%w: frame %d at %.3fs: %w", domain.ErrVideoProcessing, i, ts, err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

func (s *FrameSampler) probeDuration(ctx context.Context, input string) (float64, error) {
	out, err := s.runner.Run(ctx, nil, s.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: read duration: %w", domain.ErrVideoProcessing, err)
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: parse duration %q: %w", domain.ErrVideoProcessing, strings.TrimSpace(string(out)), err)
	}
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return 0, fmt.Errorf("%w: non-positive duration %v", domain.ErrVideoProcessing, d)
	}
	return d, nil
}

func (s *FrameSampler) extractFrame(ctx context.Context, input, output string, ts float64) ([]byte, error) {
	_, err := s.runner.Run(ctx, nil, s.ffmpeg,
		"-y", "-v", "error",
		"-ss", strconv.FormatFloat(ts, 'f', 3, 64),
		"-i", input,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:-2", s.width),
		"-q:v", "2",
		output,
	)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(output)
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty frame")
	}
	return data, nil
}
