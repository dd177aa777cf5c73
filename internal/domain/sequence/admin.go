package sequence

import (
	"context"
	"fmt"
	"time"

	"fiscalseq/internal/core/apperror"
	"fiscalseq/internal/core/id"
	"fiscalseq/pkg/logger"
)

// TxRunner executes a function within one storage transaction.
type TxRunner interface {
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// AdminService provides the administrative range lifecycle: create, list,
// edit and delete. It never touches consumed counters; those belong to the
// allocator's atomic consume.
type AdminService struct {
	repo  Repository
	audit AuditTrail
	txr   TxRunner
}

// NewAdminService creates the administrative service. audit and txr may be
// nil; without a TxRunner, writes run without a surrounding transaction.
func NewAdminService(repo Repository, audit AuditTrail, txr TxRunner) *AdminService {
	return &AdminService{repo: repo, audit: audit, txr: txr}
}

// inTx wraps fn in a transaction when a runner is configured.
func (s *AdminService) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.txr == nil {
		return fn(ctx)
	}
	return s.txr.RunInTransaction(ctx, fn)
}

// Create validates and persists a new range with a zero consumed counter.
func (s *AdminService) Create(ctx context.Context, r *SequenceRange) error {
	if id.IsNil(r.ID) {
		r.ID = id.New()
	}
	r.RNC = NormalizeRNC(r.RNC)
	if r.Prefix == "" {
		r.Prefix = DefaultPrefix
	}
	if r.AlertThreshold == 0 {
		r.AlertThreshold = DefaultAlertThreshold
	}
	if r.AuthorizedAt.IsZero() {
		r.AuthorizedAt = time.Now().UTC()
	}
	r.ConsumedCount = 0
	r.Status = StateActive
	r.Version = 1
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	if err := r.Validate(ctx); err != nil {
		return err
	}

	// Overlap is only rejected within the same owner+RNC+type; other type
	// combinations may legally reuse the same numeric block.
	err := s.inTx(ctx, func(ctx context.Context) error {
		overlap, err := s.repo.HasOverlap(ctx, r.OwnerID, r.RNC, r.DocumentType, r.StartNumber, r.EndNumber, id.Nil())
		if err != nil {
			return apperror.NewInternal(fmt.Errorf("check overlap: %w", err))
		}
		if overlap {
			return apperror.NewRangeOverlap(r.RNC, string(r.DocumentType))
		}
		return s.repo.Create(ctx, r)
	})
	if err != nil {
		return err
	}

	logger.Info(ctx, "sequence range created",
		"range_id", r.ID,
		"rnc", r.RNC,
		"document_type", string(r.DocumentType),
		"start", r.StartNumber,
		"end", r.EndNumber,
	)
	if s.audit != nil {
		s.audit.Record(ctx, r.ID, "create", map[string]any{
			"rnc":           r.RNC,
			"document_type": string(r.DocumentType),
			"start_number":  r.StartNumber,
			"end_number":    r.EndNumber,
			"expires_at":    r.ExpiresAt,
		})
	}
	return nil
}

// Get returns one range of the owner, with its state recomputed.
func (s *AdminService) Get(ctx context.Context, ownerID, rangeID id.ID) (*SequenceRange, error) {
	r, err := s.repo.GetByID(ctx, ownerID, rangeID)
	if err != nil {
		return nil, err
	}
	if r.Status != StateInactive {
		r.Status = r.EffectiveState(time.Now().UTC())
	}
	return r, nil
}

// List returns the owner's ranges plus total count, states recomputed.
func (s *AdminService) List(ctx context.Context, ownerID id.ID, filter ListFilter) ([]SequenceRange, int64, error) {
	ranges, total, err := s.repo.List(ctx, ownerID, filter)
	if err != nil {
		return nil, 0, err
	}
	now := time.Now().UTC()
	for i := range ranges {
		if ranges[i].Status != StateInactive {
			ranges[i].Status = ranges[i].EffectiveState(now)
		}
	}
	return ranges, total, nil
}

// UpdatePatch carries the administratively mutable fields. Nil pointers leave
// the field untouched. Bounds may only move while nothing has been consumed.
type UpdatePatch struct {
	StartNumber    *int64
	EndNumber      *int64
	ExpiresAt      *time.Time
	ClearExpiry    bool
	AlertThreshold *int64
	Comment        *string
	Active         *bool
}

// Update applies a patch under the range's optimistic version guard.
func (s *AdminService) Update(ctx context.Context, ownerID, rangeID id.ID, patch UpdatePatch) (*SequenceRange, error) {
	var r *SequenceRange
	err := s.inTx(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.repo.GetByID(ctx, ownerID, rangeID)
		if err != nil {
			return err
		}

		if (patch.StartNumber != nil || patch.EndNumber != nil) && r.ConsumedCount > 0 {
			return apperror.NewBusinessRule(apperror.CodeRangeImmutable,
				"range bounds cannot change after numbers have been consumed")
		}
		if patch.StartNumber != nil {
			r.StartNumber = *patch.StartNumber
		}
		if patch.EndNumber != nil {
			r.EndNumber = *patch.EndNumber
		}
		if patch.ClearExpiry {
			r.ExpiresAt = nil
		} else if patch.ExpiresAt != nil {
			t := patch.ExpiresAt.UTC()
			r.ExpiresAt = &t
		}
		if patch.AlertThreshold != nil {
			r.AlertThreshold = *patch.AlertThreshold
		}
		if patch.Comment != nil {
			r.Comment = *patch.Comment
		}
		if patch.Active != nil {
			if *patch.Active {
				r.Status = StateActive
			} else {
				r.Status = StateInactive
			}
		}

		if err := r.Validate(ctx); err != nil {
			return err
		}

		if patch.StartNumber != nil || patch.EndNumber != nil {
			overlap, err := s.repo.HasOverlap(ctx, r.OwnerID, r.RNC, r.DocumentType, r.StartNumber, r.EndNumber, r.ID)
			if err != nil {
				return apperror.NewInternal(fmt.Errorf("check overlap: %w", err))
			}
			if overlap {
				return apperror.NewRangeOverlap(r.RNC, string(r.DocumentType))
			}
		}

		r.UpdatedAt = time.Now().UTC()
		return s.repo.Update(ctx, r)
	})
	if err != nil {
		return nil, err
	}
	r.Version++

	if s.audit != nil {
		s.audit.Record(ctx, r.ID, "update", map[string]any{
			"start_number":    r.StartNumber,
			"end_number":      r.EndNumber,
			"expires_at":      r.ExpiresAt,
			"alert_threshold": r.AlertThreshold,
			"status":          string(r.Status),
		})
	}
	return r, nil
}

// Delete removes a range owned by the caller.
func (s *AdminService) Delete(ctx context.Context, ownerID, rangeID id.ID) error {
	if err := s.repo.Delete(ctx, ownerID, rangeID); err != nil {
		return err
	}
	logger.Info(ctx, "sequence range deleted", "range_id", rangeID)
	if s.audit != nil {
		s.audit.Record(ctx, rangeID, "delete", nil)
	}
	return nil
}
