package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fiscalseq/internal/core/apperror"
	"fiscalseq/internal/core/id"
	"fiscalseq/pkg/logger"
)

// maxConsumeAttempts bounds the select-then-consume retry loop. Losing the
// race on a candidate range is expected under concurrency; three attempts is
// enough to step past a drained range onto its siblings.
const maxConsumeAttempts = 3

// AllocationRequest asks for the next number of one RNC + document type pair.
type AllocationRequest struct {
	OwnerID      id.ID
	RNC          string
	DocumentType string
	PreviewOnly  bool
}

// AllocationResult reports an issued (or previewed) number plus group-wide
// availability and alerting data.
type AllocationResult struct {
	Preview bool `json:"-"`

	// Number is the issued sequential number, or the would-be next number in
	// preview mode.
	Number    int64  `json:"number"`
	Formatted string `json:"formatted"`

	RangeAvailable int64      `json:"rangeAvailable"`
	GroupAvailable int64      `json:"groupAvailable"`
	RangeState     RangeState `json:"rangeState"`
	ExpiresAt      *time.Time `json:"expiresAt"`

	AlertTriggered bool   `json:"alertTriggered"`
	AlertMessage   string `json:"alertMessage,omitempty"`

	RNC          string       `json:"rnc"`
	DocumentType DocumentType `json:"documentType"`
	Prefix       string       `json:"prefix"`
}

// AuditTrail records allocation events. Implementations must be safe for
// concurrent use; a nil trail disables auditing.
type AuditTrail interface {
	Record(ctx context.Context, rangeID id.ID, action string, changes map[string]any)
}

// Allocator implements range selection, atomic consumption, previewing and
// group alert computation on top of a Repository.
type Allocator struct {
	repo  Repository
	audit AuditTrail
	now   func() time.Time
}

// NewAllocator creates an allocator. audit may be nil.
func NewAllocator(repo Repository, audit AuditTrail) *Allocator {
	return &Allocator{
		repo:  repo,
		audit: audit,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Request services one allocation: a consume when PreviewOnly is false, a
// side-effect-free preview otherwise.
func (a *Allocator) Request(ctx context.Context, req AllocationRequest) (*AllocationResult, error) {
	rnc, docType, err := a.validate(req)
	if err != nil {
		return nil, err
	}

	if req.PreviewOnly {
		return a.preview(ctx, req.OwnerID, rnc, docType)
	}
	return a.consume(ctx, req.OwnerID, rnc, docType)
}

// validate normalizes and checks the request inputs without touching storage.
func (a *Allocator) validate(req AllocationRequest) (string, DocumentType, error) {
	rnc := NormalizeRNC(req.RNC)
	if len(rnc) < RNCMinDigits || len(rnc) > RNCMaxDigits {
		return "", "", apperror.NewValidation("RNC must have between 9 and 11 digits").
			WithDetail("field", "rnc").
			WithDetail("value", req.RNC)
	}
	if !ValidDocumentType(req.DocumentType) {
		return "", "", apperror.NewValidation("invalid document type; must be one of 31, 32, 33, 34, 41, 43, 44, 45").
			WithDetail("field", "documentType").
			WithDetail("value", req.DocumentType)
	}
	return rnc, DocumentType(req.DocumentType), nil
}

// consume runs the bounded select-then-consume loop.
func (a *Allocator) consume(ctx context.Context, ownerID id.ID, rnc string, docType DocumentType) (*AllocationResult, error) {
	now := a.now()

	for attempt := 1; attempt <= maxConsumeAttempts; attempt++ {
		candidates, err := a.repo.FindEligible(ctx, ownerID, rnc, docType, now)
		if err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("find eligible ranges: %w", err))
		}
		if len(candidates) == 0 {
			return nil, a.noEligibleRange(ctx, ownerID, rnc, docType)
		}

		// Oldest-authorized range first; FindEligible guarantees the order.
		head := candidates[0]

		updated, err := a.repo.ConsumeOne(ctx, head.ID, docType, now)
		if errors.Is(err, ErrNotEligible) {
			// Another caller drained or invalidated the head between
			// selection and consumption. Re-select against the new state.
			logger.Debug(ctx, "range contended, reselecting",
				"range_id", head.ID,
				"attempt", attempt,
			)
			continue
		}
		if err != nil {
			return nil, apperror.NewInternal(fmt.Errorf("consume from range %s: %w", head.ID, err))
		}

		return a.buildResult(ctx, updated, false)
	}

	// Every attempt lost its race; present it as not-found with diagnostics,
	// same as an empty candidate set.
	return nil, a.noEligibleRange(ctx, ownerID, rnc, docType)
}

// preview computes the would-be next number without mutating anything.
func (a *Allocator) preview(ctx context.Context, ownerID id.ID, rnc string, docType DocumentType) (*AllocationResult, error) {
	now := a.now()

	candidates, err := a.repo.FindEligible(ctx, ownerID, rnc, docType, now)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("find eligible ranges: %w", err))
	}
	if len(candidates) == 0 {
		return nil, a.noEligibleRange(ctx, ownerID, rnc, docType)
	}

	return a.buildResult(ctx, &candidates[0], true)
}

// buildResult assembles the response and the group alert for a serviced range.
func (a *Allocator) buildResult(ctx context.Context, r *SequenceRange, preview bool) (*AllocationResult, error) {
	groupAvailable, err := a.repo.SumAvailable(ctx, r.OwnerID, r.RNC, r.DocumentType, a.now())
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("sum group availability: %w", err))
	}

	number := r.LastIssued()
	if preview {
		number = r.NextNumber()
	}

	state := r.EffectiveState(a.now())
	res := &AllocationResult{
		Preview:        preview,
		Number:         number,
		Formatted:      r.FormatNumber(number),
		RangeAvailable: r.Available(),
		GroupAvailable: groupAvailable,
		RangeState:     state,
		ExpiresAt:      r.ExpiresAt,
		RNC:            r.RNC,
		DocumentType:   r.DocumentType,
		Prefix:         r.Prefix,
	}

	// The alert is deliberately driven by the group total, not the serviced
	// range, so callers are not warned while sibling ranges hold capacity.
	if groupAvailable <= r.AlertThreshold {
		res.AlertTriggered = true
		if !preview && state == StateExhausted {
			res.AlertMessage = "Last number consumed from this range - request a new range urgently"
		} else {
			res.AlertMessage = fmt.Sprintf("%d numbers remaining across all ranges - request a new range soon", groupAvailable)
		}
	}

	if !preview {
		logger.Info(ctx, "number consumed",
			"range_id", r.ID,
			"rnc", r.RNC,
			"document_type", string(r.DocumentType),
			"number", number,
			"range_available", res.RangeAvailable,
			"group_available", groupAvailable,
		)
		if a.audit != nil {
			a.audit.Record(ctx, r.ID, "consume", map[string]any{
				"number":          number,
				"formatted":       res.Formatted,
				"consumed_count":  r.ConsumedCount,
				"range_available": res.RangeAvailable,
				"status":          string(state),
			})
		}
	}

	return res, nil
}

// noEligibleRange builds the not-found outcome with an operator-actionable
// hint distinguishing missing configuration from drained stock.
func (a *Allocator) noEligibleRange(ctx context.Context, ownerID id.ID, rnc string, docType DocumentType) error {
	diag, err := a.repo.Diagnose(ctx, ownerID, rnc, docType)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("diagnose ranges: %w", err))
	}

	var hint string
	switch {
	case diag.RangesConfigured == 0:
		hint = "No ranges configured for this RNC and document type - request a new range"
	case diag.TotalAvailable == 0:
		hint = "All ranges are exhausted - request a new range urgently"
	default:
		hint = "No usable numbers - remaining ranges are expired or inactive - request a new range urgently"
	}

	return apperror.NewNoEligibleRange(hint).
		WithDetail("rnc", rnc).
		WithDetail("document_type", string(docType)).
		WithDetail("ranges_configured", diag.RangesConfigured).
		WithDetail("total_available", diag.TotalAvailable)
}
