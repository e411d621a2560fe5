package decision

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecguard/internal/domain"
	"github.com/kailas-cloud/vecguard/internal/domain/identity"
	"github.com/kailas-cloud/vecguard/internal/logger"
	"github.com/kailas-cloud/vecguard/internal/usecase/matching"
)

// Engine decides the verdict for a single still image.
//
// A declared identity is authoritative: a name hit flags, a name miss is safe
// without consulting vectors. Only anonymous subjects fall back to vector
// similarity, held to the strict threshold.
type Engine struct {
	extract   Extractor
	match     Matcher
	threshold float64
}

// New creates a decision engine. A non-positive strictThreshold selects
// matching.StrictThreshold.
func New(extract Extractor, match Matcher, strictThreshold float64) *Engine {
	if strictThreshold <= 0 {
		strictThreshold = matching.StrictThreshold
	}
	return &Engine{extract: extract, match: match, threshold: strictThreshold}
}

// Decide extracts the signature of a normalized image and decides its verdict.
func (e *Engine) Decide(ctx context.Context, image []byte) (domain.Verdict, error) {
	sig, err := e.extract.Extract(ctx, image)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("extract signature: %w", err)
	}
	return e.DecideSignature(ctx, sig)
}

// DecideSignature decides the verdict for an already extracted signature.
func (e *Engine) DecideSignature(ctx context.Context, sig domain.Signature) (domain.Verdict, error) {
	log := logger.FromContext(ctx)

	if !sig.HasDescription() {
		log.Debug("Signature has no description", zap.String("backend", sig.Backend))
	} else if name, ok := identity.Parse(sig.Description); ok {
		matches, err := e.match.ByName(ctx, name)
		if err != nil {
			return domain.Verdict{}, fmt.Errorf("match by name: %w", err)
		}
		log.Debug("Identity declared",
			zap.String("identity", name),
			zap.Int("matches", len(matches)),
		)
		if len(matches) == 0 {
			return domain.Safe(), nil
		}
		return domain.Flagged(matches), nil
	}

	matches, err := e.match.ByVector(ctx, sig.Vector, sig.Space, e.threshold)
	if err != nil {
		return domain.Verdict{}, fmt.Errorf("match by vector: %w", err)
	}
	log.Debug("No identity declared, vector match",
		zap.String("space", sig.Space.String()),
		zap.Float64("threshold", e.threshold),
		zap.Int("matches", len(matches)),
	)
	if len(matches) == 0 {
		return domain.Safe(), nil
	}
	return domain.Flagged(matches), nil
}
