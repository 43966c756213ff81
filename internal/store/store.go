// Package store persists normalization results and ground-truth reference
// sets. SQLite is the default backend; Postgres serves shared deployments.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/csa-normalizer/internal/model"
)

// ErrNotFound is returned when no result exists for a document id.
var ErrNotFound = eris.New("store: result not found")

// ResultFilter specifies criteria for listing results.
type ResultFilter struct {
	RequiresReview *bool `json:"requires_review,omitempty"`
	Limit          int   `json:"limit,omitempty"`
	Offset         int   `json:"offset,omitempty"`
}

// Store defines the persistence interface for the normalization engine.
// Results round-trip bit-for-bit, including the infinity and
// not-applicable sentinels.
type Store interface {
	// Results, keyed by document id. Saving again for the same document
	// replaces the stored result.
	SaveResult(ctx context.Context, result *model.NormalizedResult) error
	GetResult(ctx context.Context, documentID string) (*model.NormalizedResult, error)
	ListResults(ctx context.Context, filter ResultFilter) ([]model.NormalizedResult, error)

	// Ground truth, keyed by reference id. Absence surfaces as
	// model.GroundTruthUnavailableError.
	SaveGroundTruth(ctx context.Context, referenceID string, fields map[string]any) error
	GetGroundTruth(ctx context.Context, referenceID string) (map[string]any, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
