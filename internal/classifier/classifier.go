package classifier

import (
	"context"

	"github.com/malascope/malascope-backend/internal/types"
)

// PositiveThreshold converts an infection probability into a binary
// verdict.
const PositiveThreshold = 0.5

// Result is the screening verdict for a single patch.
type Result struct {
	Probability float64
	Infected    bool
}

// Classifier scores a single encoded patch image for parasite
// presence. Implementations must be safe for concurrent use; patches
// within a batch are scored in parallel.
type Classifier interface {
	Classify(ctx context.Context, patch []byte, kind types.SmearKind) (Result, error)
	Version(kind types.SmearKind) string
}
