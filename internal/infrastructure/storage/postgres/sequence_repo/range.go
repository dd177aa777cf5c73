// Package sequence_repo provides the PostgreSQL implementation of the
// sequence range repository.
package sequence_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"fiscalseq/internal/core/apperror"
	"fiscalseq/internal/core/id"
	"fiscalseq/internal/domain/sequence"
	"fiscalseq/internal/infrastructure/storage/postgres"
)

const rangeTable = "seq_ranges"

var rangeColumns = []string{
	"id", "owner_id", "rnc", "business_name", "document_type", "type_label",
	"prefix", "start_number", "end_number", "consumed_count", "alert_threshold",
	"authorized_at", "expires_at", "status", "comment", "version",
	"created_at", "updated_at",
}

// RangeRepo implements sequence.Repository.
type RangeRepo struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType
}

// NewRangeRepo creates a new sequence range repository.
func NewRangeRepo(txm *postgres.TxManager) *RangeRepo {
	return &RangeRepo{
		txm:     txm,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// eligibility is the shared predicate of FindEligible, SumAvailable and the
// consume statement: active/alert status, remaining capacity, and a valid
// expiry for document types that mandate one.
func (r *RangeRepo) eligibility(ownerID id.ID, rnc string, docType sequence.DocumentType, now time.Time) squirrel.And {
	pred := squirrel.And{
		squirrel.Eq{
			"owner_id":      ownerID,
			"rnc":           rnc,
			"document_type": string(docType),
		},
		squirrel.Eq{"status": []string{string(sequence.StateActive), string(sequence.StateAlert)}},
		squirrel.Expr("consumed_count < end_number - start_number + 1"),
	}
	if docType.RequiresExpiry() {
		pred = append(pred, squirrel.Or{
			squirrel.Eq{"expires_at": nil},
			squirrel.GtOrEq{"expires_at": now},
		})
	}
	return pred
}

// FindEligible returns candidate ranges ordered oldest authorization first.
func (r *RangeRepo) FindEligible(ctx context.Context, ownerID id.ID, rnc string, docType sequence.DocumentType, now time.Time) ([]sequence.SequenceRange, error) {
	q := r.builder.Select(rangeColumns...).
		From(rangeTable).
		Where(r.eligibility(ownerID, rnc, docType, now)).
		OrderBy("authorized_at ASC", "id ASC")

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var ranges []sequence.SequenceRange
	querier := r.txm.GetQuerier(ctx)
	if err := pgxscan.Select(ctx, querier, &ranges, sql, args...); err != nil {
		return nil, fmt.Errorf("select eligible ranges: %w", err)
	}
	return ranges, nil
}

// consumeSQL re-checks eligibility and increments in ONE statement. Splitting
// this into a read and a write would admit a lost update where two callers
// both observe consumed_count = N and both persist N+1, double-issuing a
// fiscal number. $3 disables the expiry check for exempt document types.
const consumeSQL = `
	UPDATE seq_ranges SET
		consumed_count = consumed_count + 1,
		status = CASE
			WHEN end_number - start_number + 1 - (consumed_count + 1) <= 0 THEN 'exhausted'
			WHEN end_number - start_number + 1 - (consumed_count + 1) <= alert_threshold THEN 'alert'
			ELSE status
		END,
		updated_at = $2
	WHERE id = $1
	  AND status IN ('active', 'alert')
	  AND consumed_count < end_number - start_number + 1
	  AND ($3 OR expires_at IS NULL OR expires_at >= $2)
	RETURNING id, owner_id, rnc, business_name, document_type, type_label,
		prefix, start_number, end_number, consumed_count, alert_threshold,
		authorized_at, expires_at, status, comment, version,
		created_at, updated_at
`

// ConsumeOne atomically draws the next number from one range.
func (r *RangeRepo) ConsumeOne(ctx context.Context, rangeID id.ID, docType sequence.DocumentType, now time.Time) (*sequence.SequenceRange, error) {
	expiryExempt := !docType.RequiresExpiry()

	var updated sequence.SequenceRange
	querier := r.txm.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &updated, consumeSQL, rangeID, now, expiryExempt); err != nil {
		if pgxscan.NotFound(err) {
			// No row matched: lost the race or the range became unusable.
			return nil, sequence.ErrNotEligible
		}
		return nil, fmt.Errorf("consume one: %w", err)
	}
	return &updated, nil
}

// SumAvailable totals remaining capacity over all eligible ranges of the pair.
func (r *RangeRepo) SumAvailable(ctx context.Context, ownerID id.ID, rnc string, docType sequence.DocumentType, now time.Time) (int64, error) {
	q := r.builder.
		Select("COALESCE(SUM(end_number - start_number + 1 - consumed_count), 0)").
		From(rangeTable).
		Where(r.eligibility(ownerID, rnc, docType, now))

	sql, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build query: %w", err)
	}

	var total int64
	querier := r.txm.GetQuerier(ctx)
	if err := querier.QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum available: %w", err)
	}
	return total, nil
}

// Diagnose summarizes all ranges of the pair regardless of eligibility.
func (r *RangeRepo) Diagnose(ctx context.Context, ownerID id.ID, rnc string, docType sequence.DocumentType) (sequence.Diagnosis, error) {
	q := r.builder.
		Select(
			"COUNT(*)",
			"COALESCE(SUM(GREATEST(end_number - start_number + 1 - consumed_count, 0)), 0)",
		).
		From(rangeTable).
		Where(squirrel.Eq{
			"owner_id":      ownerID,
			"rnc":           rnc,
			"document_type": string(docType),
		})

	sql, args, err := q.ToSql()
	if err != nil {
		return sequence.Diagnosis{}, fmt.Errorf("build query: %w", err)
	}

	var diag sequence.Diagnosis
	querier := r.txm.GetQuerier(ctx)
	if err := querier.QueryRow(ctx, sql, args...).Scan(&diag.RangesConfigured, &diag.TotalAvailable); err != nil {
		return sequence.Diagnosis{}, fmt.Errorf("diagnose ranges: %w", err)
	}
	return diag, nil
}

// Create inserts a new range.
func (r *RangeRepo) Create(ctx context.Context, rng *sequence.SequenceRange) error {
	q := r.builder.Insert(rangeTable).
		Columns(rangeColumns...).
		Values(
			rng.ID, rng.OwnerID, rng.RNC, rng.BusinessName, string(rng.DocumentType), rng.TypeLabel,
			rng.Prefix, rng.StartNumber, rng.EndNumber, rng.ConsumedCount, rng.AlertThreshold,
			rng.AuthorizedAt, rng.ExpiresAt, string(rng.Status), rng.Comment, rng.Version,
			rng.CreatedAt, rng.UpdatedAt,
		)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	if _, err := querier.Exec(ctx, sql, args...); err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperror.NewDuplicate("sequence range", "bounds", fmt.Sprintf("[%d, %d]", rng.StartNumber, rng.EndNumber))
		}
		return fmt.Errorf("insert range: %w", err)
	}
	return nil
}

// GetByID returns one range of the owner.
func (r *RangeRepo) GetByID(ctx context.Context, ownerID, rangeID id.ID) (*sequence.SequenceRange, error) {
	q := r.builder.Select(rangeColumns...).
		From(rangeTable).
		Where(squirrel.Eq{"id": rangeID, "owner_id": ownerID}).
		Limit(1)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rng sequence.SequenceRange
	querier := r.txm.GetQuerier(ctx)
	if err := pgxscan.Get(ctx, querier, &rng, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("sequence range", rangeID)
		}
		return nil, fmt.Errorf("get range: %w", err)
	}
	return &rng, nil
}

// List returns the owner's ranges newest first plus the total count.
func (r *RangeRepo) List(ctx context.Context, ownerID id.ID, filter sequence.ListFilter) ([]sequence.SequenceRange, int64, error) {
	where := squirrel.And{squirrel.Eq{"owner_id": ownerID}}
	if filter.DocumentType != "" {
		where = append(where, squirrel.Eq{"document_type": string(filter.DocumentType)})
	}
	if filter.Status != "" {
		where = append(where, squirrel.Eq{"status": string(filter.Status)})
	}
	if filter.RNC != "" {
		where = append(where, squirrel.Eq{"rnc": sequence.NormalizeRNC(filter.RNC)})
	}

	countSQL, countArgs, err := r.builder.Select("COUNT(*)").From(rangeTable).Where(where).ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build count: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	var total int64
	if err := querier.QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count ranges: %w", err)
	}

	q := r.builder.Select(rangeColumns...).
		From(rangeTable).
		Where(where).
		OrderBy("created_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		q = q.Offset(uint64(filter.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("build query: %w", err)
	}

	var ranges []sequence.SequenceRange
	if err := pgxscan.Select(ctx, querier, &ranges, sql, args...); err != nil {
		return nil, 0, fmt.Errorf("select ranges: %w", err)
	}
	return ranges, total, nil
}

// Update persists administrative edits under the version guard. Counters are
// deliberately not in the SET list; only the atomic consume writes them.
func (r *RangeRepo) Update(ctx context.Context, rng *sequence.SequenceRange) error {
	q := r.builder.Update(rangeTable).
		Set("start_number", rng.StartNumber).
		Set("end_number", rng.EndNumber).
		Set("expires_at", rng.ExpiresAt).
		Set("alert_threshold", rng.AlertThreshold).
		Set("comment", rng.Comment).
		Set("status", string(rng.Status)).
		Set("business_name", rng.BusinessName).
		Set("type_label", rng.TypeLabel).
		Set("updated_at", rng.UpdatedAt).
		Set("version", rng.Version+1).
		Where(squirrel.Eq{
			"id":       rng.ID,
			"owner_id": rng.OwnerID,
			"version":  rng.Version,
		})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update range: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConcurrentModification("sequence range", rng.ID)
	}
	return nil
}

// Delete removes one range of the owner.
func (r *RangeRepo) Delete(ctx context.Context, ownerID, rangeID id.ID) error {
	q := r.builder.Delete(rangeTable).
		Where(squirrel.Eq{"id": rangeID, "owner_id": ownerID})

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}

	querier := r.txm.GetQuerier(ctx)
	tag, err := querier.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete range: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("sequence range", rangeID)
	}
	return nil
}

// HasOverlap checks [start, end] against existing ranges of the same
// owner+RNC+type, excluding excludeID.
func (r *RangeRepo) HasOverlap(ctx context.Context, ownerID id.ID, rnc string, docType sequence.DocumentType, start, end int64, excludeID id.ID) (bool, error) {
	where := squirrel.And{
		squirrel.Eq{
			"owner_id":      ownerID,
			"rnc":           rnc,
			"document_type": string(docType),
		},
		squirrel.LtOrEq{"start_number": end},
		squirrel.GtOrEq{"end_number": start},
	}
	if !id.IsNil(excludeID) {
		where = append(where, squirrel.NotEq{"id": excludeID})
	}

	q := r.builder.Select("COUNT(*)").From(rangeTable).Where(where)
	sql, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build query: %w", err)
	}

	var n int64
	querier := r.txm.GetQuerier(ctx)
	if err := querier.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("check overlap: %w", err)
	}
	return n > 0, nil
}

// Ensure interface compliance.
var _ sequence.Repository = (*RangeRepo)(nil)
