package sequence

import (
	"context"
	"errors"
	"time"

	"fiscalseq/internal/core/id"
)

// ErrNotEligible is reported by ConsumeOne when the conditional update matched
// no row: the range was drained, expired or deactivated between selection and
// consumption. Contention, not failure; the allocator re-selects on it.
var ErrNotEligible = errors.New("sequence range no longer eligible")

// ListFilter narrows administrative range listings.
type ListFilter struct {
	DocumentType DocumentType
	Status       RangeState
	RNC          string
	Limit        int
	Offset       int
}

// Diagnosis summarizes all ranges of an owner+RNC+type pair regardless of
// eligibility. Used to pick the not-found hint after a failed allocation.
type Diagnosis struct {
	RangesConfigured int
	TotalAvailable   int64
}

// Repository is the durable store of sequence ranges.
//
// ConsumeOne is the single mutation path for ConsumedCount and must execute
// the eligibility re-check and the increment as one indivisible statement
// against the backing store. Everything else is plain querying or
// version-guarded administrative writes.
type Repository interface {
	// FindEligible returns candidate ranges for an allocation, ordered oldest
	// authorization first with id as deterministic tie-break.
	FindEligible(ctx context.Context, ownerID id.ID, rnc string, docType DocumentType, now time.Time) ([]SequenceRange, error)

	// ConsumeOne atomically re-checks eligibility and increments the consumed
	// counter of one range, recomputing its stored status. Returns the updated
	// range, or ErrNotEligible when the predicate no longer holds.
	ConsumeOne(ctx context.Context, rangeID id.ID, docType DocumentType, now time.Time) (*SequenceRange, error)

	// SumAvailable totals remaining capacity over all currently eligible
	// ranges of the pair (group availability for alerting).
	SumAvailable(ctx context.Context, ownerID id.ID, rnc string, docType DocumentType, now time.Time) (int64, error)

	// Diagnose counts ranges and sums availability without the eligibility
	// predicate, to distinguish "never configured" from "all unusable".
	Diagnose(ctx context.Context, ownerID id.ID, rnc string, docType DocumentType) (Diagnosis, error)

	// --- administrative path ---

	Create(ctx context.Context, r *SequenceRange) error
	GetByID(ctx context.Context, ownerID, rangeID id.ID) (*SequenceRange, error)
	List(ctx context.Context, ownerID id.ID, filter ListFilter) ([]SequenceRange, int64, error)

	// Update persists administrative edits guarded by the range version;
	// a stale version yields a concurrent-modification error. Counters are
	// never written through this path.
	Update(ctx context.Context, r *SequenceRange) error

	Delete(ctx context.Context, ownerID, rangeID id.ID) error

	// HasOverlap reports whether [start, end] intersects an existing range of
	// the same owner, RNC and document type, excluding excludeID.
	HasOverlap(ctx context.Context, ownerID id.ID, rnc string, docType DocumentType, start, end int64, excludeID id.ID) (bool, error)
}
