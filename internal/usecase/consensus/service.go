package consensus

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/vecguard/internal/domain"
	"github.com/kailas-cloud/vecguard/internal/domain/identity"
	"github.com/kailas-cloud/vecguard/internal/logger"
	"github.com/kailas-cloud/vecguard/internal/metrics"
)

// Threshold is the number of frames that must name the same identity before
// it is confirmed.
const Threshold = 2

// frameResult is the side-effect-free outcome of one frame.
type frameResult struct {
	identity string
	matches  []domain.Match
}

// Aggregator flags a video only when the same identity recurs across frames.
type Aggregator struct {
	sampler     Sampler
	extract     Extractor
	match       NameMatcher
	concurrency int
}

// New creates an aggregator. Frames are processed concurrency at a time;
// values below 1 process them sequentially.
func New(sampler Sampler, extract Extractor, match NameMatcher, concurrency int) *Aggregator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Aggregator{sampler: sampler, extract: extract, match: match, concurrency: concurrency}
}

// Decide samples the video, analyzes every frame and reduces the per-frame
// results to a single verdict.
func (a *Aggregator) Decide(ctx context.Context, video []byte) (domain.Verdict, error) {
	frames, err := a.sampler.Sample(ctx, video)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("sample frames: %w", err)
	}
	metrics.FramesSampledTotal.Add(float64(len(frames)))

	results := make([]frameResult, len(frames))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, frame := range frames {
		g.Go(func() error {
			r, err := a.analyze(gctx, frame)
			if err != nil {
				return fmt.Errorf("frame %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.Verdict{}, err
	}

	v, confirmed := reduce(results, Threshold)
	metrics.ConsensusConfirmedTotal.Add(float64(len(confirmed)))
	logger.FromContext(ctx).Debug("Video consensus",
		zap.Int("frames", len(frames)),
		zap.Strings("confirmed", confirmed),
		zap.String("status", string(v.Status)),
	)
	return v, nil
}

func (a *Aggregator) analyze(ctx context.Context, frame []byte) (frameResult, error) {
	_, desc, _, err := a.extract.ExtractWithDescription(ctx, frame)
	if err != nil {
		return frameResult{}, fmt.Errorf("extract signature: %w", err)
	}
	name, ok := identity.Parse(desc)
	if !ok {
		return frameResult{}, nil
	}
	matches, err := a.match.ByName(ctx, name)
	if err != nil {
		return frameResult{}, fmt.Errorf("match by name: %w", err)
	}
	return frameResult{identity: name, matches: matches}, nil
}

// reduce folds per-frame results in frame order. An identity is confirmed
// once it appears in at least threshold frames; the verdict carries the
// union of the confirmed identities' first nonempty match sets.
func reduce(results []frameResult, threshold int) (domain.Verdict, []string) {
	type tally struct {
		name    string
		count   int
		matches []domain.Match
	}
	var order []string
	tallies := make(map[string]*tally)

	for _, r := range results {
		if r.identity == "" {
			continue
		}
		key := identityKey(r.identity)
		t, ok := tallies[key]
		if !ok {
			t = &tally{name: r.identity}
			tallies[key] = t
			order = append(order, key)
		}
		t.count++
		if len(t.matches) == 0 && len(r.matches) > 0 {
			t.matches = r.matches
		}
	}

	var confirmed []string
	var union []domain.Match
	seen := make(map[string]struct{})
	for _, key := range order {
		t := tallies[key]
		if t.count < threshold {
			continue
		}
		confirmed = append(confirmed, t.name)
		for _, m := range t.matches {
			if _, dup := seen[m.ReferenceID]; dup {
				continue
			}
			seen[m.ReferenceID] = struct{}{}
			union = append(union, m)
		}
	}

	if len(union) == 0 {
		return domain.Safe(), confirmed
	}
	return domain.Flagged(union), confirmed
}

func identityKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
