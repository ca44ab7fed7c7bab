package domain

import (
	"context"
	"time"
)

// Oracle is the external decision pipeline that scores candidates. Both
// calls may be slow and may fail; callers map failures to conservative
// outcomes (FAIL for the gatekeeper, REJECT for Evaluate) rather than
// propagating them. Evaluate must be safe to invoke concurrently for a
// small batch.
type Oracle interface {
	// Gatekeeper is the fast pre-filter on time-horizon plausibility.
	Gatekeeper(ctx context.Context, question string, endDate time.Time, category Category) (GateVerdict, error)
	// Evaluate performs the full scoring pass over a candidate.
	Evaluate(ctx context.Context, c Candidate) (Decision, error)
}
