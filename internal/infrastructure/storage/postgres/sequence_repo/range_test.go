package sequence_repo

import (
	"strings"
	"testing"
	"time"

	"github.com/Masterminds/squirrel"

	"fiscalseq/internal/core/id"
	"fiscalseq/internal/domain/sequence"
)

func TestEligibilityPredicate(t *testing.T) {
	repo := NewRangeRepo(nil)
	ownerID := id.New()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("type with mandatory expiry", func(t *testing.T) {
		pred := repo.eligibility(ownerID, "131246789", sequence.TypeCreditoFiscal, now)
		sql, args, err := repo.builder.Select("id").From(rangeTable).Where(pred).ToSql()
		if err != nil {
			t.Fatalf("ToSql failed: %v", err)
		}

		wantFragments := []string{
			"owner_id = $",
			"rnc = $",
			"document_type = $",
			"status IN ($",
			"consumed_count < end_number - start_number + 1",
			"expires_at IS NULL OR expires_at >= $",
		}
		for _, f := range wantFragments {
			if !strings.Contains(sql, f) {
				t.Errorf("SQL missing fragment %q\ngot: %s", f, sql)
			}
		}

		// owner, rnc, type, two statuses, now
		if len(args) != 6 {
			t.Errorf("args count mismatch\nwant: 6\ngot:  %d (%v)", len(args), args)
		}
	})

	t.Run("expiry-exempt type skips expiry clause", func(t *testing.T) {
		pred := repo.eligibility(ownerID, "131246789", sequence.TypeConsumo, now)
		sql, args, err := repo.builder.Select("id").From(rangeTable).Where(pred).ToSql()
		if err != nil {
			t.Fatalf("ToSql failed: %v", err)
		}

		if strings.Contains(sql, "expires_at") {
			t.Errorf("expiry clause must be absent for exempt types\ngot: %s", sql)
		}
		if len(args) != 5 {
			t.Errorf("args count mismatch\nwant: 5\ngot:  %d (%v)", len(args), args)
		}
	})
}

func TestConsumeSQL_SingleStatement(t *testing.T) {
	// The consume must be one conditional UPDATE: eligibility re-check,
	// increment and status recompute in the same statement.
	if got := strings.Count(consumeSQL, ";"); got != 0 {
		t.Errorf("consume must be a single statement, found %d semicolons", got)
	}

	wantFragments := []string{
		"consumed_count = consumed_count + 1",
		"status IN ('active', 'alert')",
		"consumed_count < end_number - start_number + 1",
		"$3 OR expires_at IS NULL OR expires_at >= $2",
		"RETURNING",
	}
	for _, f := range wantFragments {
		if !strings.Contains(consumeSQL, f) {
			t.Errorf("consume SQL missing fragment %q", f)
		}
	}

	// Status recompute must flip to exhausted/alert based on the counter
	// value AFTER the increment.
	if !strings.Contains(consumeSQL, "(consumed_count + 1) <= 0 THEN 'exhausted'") {
		t.Error("exhausted case must use the post-increment counter")
	}
	if !strings.Contains(consumeSQL, "(consumed_count + 1) <= alert_threshold THEN 'alert'") {
		t.Error("alert case must use the post-increment counter")
	}
}

func TestFindEligibleOrdering(t *testing.T) {
	repo := NewRangeRepo(nil)
	ownerID := id.New()
	now := time.Now().UTC()

	q := repo.builder.Select(rangeColumns...).
		From(rangeTable).
		Where(repo.eligibility(ownerID, "131246789", sequence.TypeCreditoFiscal, now)).
		OrderBy("authorized_at ASC", "id ASC")

	sql, _, err := q.ToSql()
	if err != nil {
		t.Fatalf("ToSql failed: %v", err)
	}

	if !strings.Contains(sql, "ORDER BY authorized_at ASC, id ASC") {
		t.Errorf("oldest-first ordering with id tie-break expected\ngot: %s", sql)
	}
}

func TestHasOverlapSQL(t *testing.T) {
	repo := NewRangeRepo(nil)
	ownerID := id.New()

	where := squirrel.And{
		squirrel.Eq{
			"owner_id":      ownerID,
			"rnc":           "131246789",
			"document_type": "31",
		},
		squirrel.LtOrEq{"start_number": int64(150)},
		squirrel.GtOrEq{"end_number": int64(50)},
	}
	sql, _, err := repo.builder.Select("COUNT(*)").From(rangeTable).Where(where).ToSql()
	if err != nil {
		t.Fatalf("ToSql failed: %v", err)
	}

	// Interval intersection: existing.start <= new.end AND existing.end >= new.start.
	if !strings.Contains(sql, "start_number <= $") || !strings.Contains(sql, "end_number >= $") {
		t.Errorf("overlap predicate mismatch\ngot: %s", sql)
	}
}

func TestUpdateNeverTouchesCounters(t *testing.T) {
	repo := NewRangeRepo(nil)
	now := time.Now().UTC()
	rng := sequence.NewSequenceRange(id.New(), "131246789", sequence.TypeConsumo, 1, 100)
	rng.UpdatedAt = now

	q := repo.builder.Update(rangeTable).
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
		Where(squirrel.Eq{"id": rng.ID, "owner_id": rng.OwnerID, "version": rng.Version})

	sql, _, err := q.ToSql()
	if err != nil {
		t.Fatalf("ToSql failed: %v", err)
	}

	if strings.Contains(sql, "consumed_count =") {
		t.Errorf("administrative update must never write counters\ngot: %s", sql)
	}
	if !strings.Contains(sql, "version = $") {
		t.Errorf("update must carry the version guard\ngot: %s", sql)
	}
}
