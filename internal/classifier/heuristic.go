package classifier

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/malascope/malascope-backend/internal/types"
)

// Weighting between measured stain darkness and noise in the stand-in
// score. Darker patches carry more stain and are more likely infected.
const (
	heuristicDarknessWeight = 0.7
	heuristicNoiseWeight    = 0.3
)

// HeuristicClassifier approximates a trained screening model with a
// stain-darkness score. It keeps the pipeline fully runnable in
// environments without an inference service; verdict quality is only
// good enough for demos and tests.
type HeuristicClassifier struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewHeuristicClassifier builds a classifier with the given seed so
// tests can pin the noise term.
func NewHeuristicClassifier(seed int64) *HeuristicClassifier {
	return &HeuristicClassifier{rng: rand.New(rand.NewSource(seed))}
}

func (c *HeuristicClassifier) Classify(ctx context.Context, patch []byte, kind types.SmearKind) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	tensor, err := Preprocess(patch, kind)
	if err != nil {
		return Result{}, err
	}

	var sum float64
	for _, v := range tensor {
		sum += float64(v)
	}
	mean := sum / float64(len(tensor))
	darkness := 1 - mean

	c.mu.Lock()
	noise := c.rng.Float64()
	c.mu.Unlock()

	prob := darkness*heuristicDarknessWeight + noise*heuristicNoiseWeight
	if prob < 0 {
		prob = 0
	}
	if prob > 1 {
		prob = 1
	}

	return Result{Probability: prob, Infected: prob >= PositiveThreshold}, nil
}

func (c *HeuristicClassifier) Version(kind types.SmearKind) string {
	return fmt.Sprintf("MalariaScreen-%s-1.0", kind)
}
