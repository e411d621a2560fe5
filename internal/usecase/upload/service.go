package upload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecguard/internal/domain"
	"github.com/kailas-cloud/vecguard/internal/logger"
	"github.com/kailas-cloud/vecguard/internal/metrics"
)

// FormattedMatch is a match as presented to clients.
type FormattedMatch struct {
	Filename   string `json:"filename"`
	Similarity string `json:"similarity"`
}

// Response is the outcome of one upload.
type Response struct {
	Status         domain.Status    `json:"status"`
	Matches        []FormattedMatch `json:"matches"`
	ProcessingTime float64          `json:"processingTime"`
}

// Orchestrator dispatches an upload to the image or video pipeline.
type Orchestrator struct {
	normalize Normalizer
	image     ImageDecider
	video     VideoDecider
	timeout   time.Duration
	now       func() time.Time
}

// New creates an orchestrator. A positive timeout bounds the whole pipeline.
func New(normalize Normalizer, image ImageDecider, video VideoDecider, timeout time.Duration) *Orchestrator {
	return &Orchestrator{
		normalize: normalize,
		image:     image,
		video:     video,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Process validates the upload, runs the matching pipeline and formats the verdict.
func (o *Orchestrator) Process(ctx context.Context, data []byte, mimeType string) (Response, error) {
	kind, err := domain.ClassifyMedia(mimeType)
	if err != nil {
		return Response{}, err
	}
	if len(data) == 0 {
		return Response{}, domain.ErrEmptyInput
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := o.now()
	verdict, err := o.decide(ctx, kind, data, mimeType)
	elapsed := o.now().Sub(start).Seconds()
	metrics.ProcessingDuration.WithLabelValues(string(kind)).Observe(elapsed)
	if err != nil {
		metrics.UploadErrorsTotal.WithLabelValues(string(kind)).Inc()
		// Backends report the expired pipeline deadline in their own words.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return Response{}, err
	}
	metrics.VerdictsTotal.WithLabelValues(string(kind), string(verdict.Status)).Inc()

	fields := []zap.Field{
		zap.String("media", string(kind)),
		zap.String("status", string(verdict.Status)),
		zap.Int("matches", len(verdict.Matches)),
		zap.Float64("seconds", elapsed),
	}
	if verdict.IsFlagged() {
		fields = append(fields, zap.Strings("labels", labels(verdict.Matches)))
	}
	logger.FromContext(ctx).Info("upload decided", fields...)

	return Response{
		Status:         verdict.Status,
		Matches:        format(verdict.Matches),
		ProcessingTime: elapsed,
	}, nil
}

func (o *Orchestrator) decide(
	ctx context.Context, kind domain.MediaKind, data []byte, mimeType string,
) (domain.Verdict, error) {
	if kind == domain.MediaVideo {
		v, err := o.video.Decide(ctx, data)
		if err != nil {
			return domain.Verdict{}, fmt.Errorf("decide video: %w", err)
		}
		return v, nil
	}

	img, err := o.normalize.Normalize(ctx, data, mimeType)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("normalize image: %w", err)
	}
	v, err := o.image.Decide(ctx, img)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("decide image: %w", err)
	}
	return v, nil
}

func labels(matches []domain.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Label
	}
	return out
}

func format(matches []domain.Match) []FormattedMatch {
	out := make([]FormattedMatch, 0, len(matches))
	for _, m := range matches {
		out = append(out, FormattedMatch{
			Filename:   m.Label,
			Similarity: domain.FormatSimilarity(m.Similarity),
		})
	}
	return out
}
