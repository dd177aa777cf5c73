package sequence

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalseq/internal/core/apperror"
	"fiscalseq/internal/core/id"
)

// memRepo is an in-memory Repository with the same conditional-consume
// semantics as the SQL implementation: eligibility is re-checked and the
// counter incremented under one lock.
type memRepo struct {
	mu     sync.Mutex
	ranges map[id.ID]*SequenceRange

	findCalls    int
	consumeCalls int
}

func newMemRepo(ranges ...*SequenceRange) *memRepo {
	m := &memRepo{ranges: make(map[id.ID]*SequenceRange)}
	for _, r := range ranges {
		m.ranges[r.ID] = r
	}
	return m
}

func (m *memRepo) FindEligible(ctx context.Context, ownerID id.ID, rnc string, docType DocumentType, now time.Time) ([]SequenceRange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findCalls++

	var out []SequenceRange
	for _, r := range m.ranges {
		if r.OwnerID == ownerID && r.RNC == rnc && r.DocumentType == docType && r.Eligible(now) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AuthorizedAt.Equal(out[j].AuthorizedAt) {
			return out[i].AuthorizedAt.Before(out[j].AuthorizedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (m *memRepo) ConsumeOne(ctx context.Context, rangeID id.ID, docType DocumentType, now time.Time) (*SequenceRange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumeCalls++

	r, ok := m.ranges[rangeID]
	if !ok || !r.Eligible(now) {
		return nil, ErrNotEligible
	}
	r.ConsumedCount++
	r.Status = r.EffectiveState(now)
	r.UpdatedAt = now
	cp := *r
	return &cp, nil
}

func (m *memRepo) SumAvailable(ctx context.Context, ownerID id.ID, rnc string, docType DocumentType, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	for _, r := range m.ranges {
		if r.OwnerID == ownerID && r.RNC == rnc && r.DocumentType == docType && r.Eligible(now) {
			total += r.Available()
		}
	}
	return total, nil
}

func (m *memRepo) Diagnose(ctx context.Context, ownerID id.ID, rnc string, docType DocumentType) (Diagnosis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var d Diagnosis
	for _, r := range m.ranges {
		if r.OwnerID == ownerID && r.RNC == rnc && r.DocumentType == docType {
			d.RangesConfigured++
			if avail := r.Available(); avail > 0 {
				d.TotalAvailable += avail
			}
		}
	}
	return d, nil
}

func (m *memRepo) Create(ctx context.Context, r *SequenceRange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ranges[r.ID] = r
	return nil
}

func (m *memRepo) GetByID(ctx context.Context, ownerID, rangeID id.ID) (*SequenceRange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.ranges[rangeID]
	if !ok || r.OwnerID != ownerID {
		return nil, apperror.NewNotFound("sequence range", rangeID.String())
	}
	cp := *r
	return &cp, nil
}

func (m *memRepo) List(ctx context.Context, ownerID id.ID, filter ListFilter) ([]SequenceRange, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SequenceRange
	for _, r := range m.ranges {
		if r.OwnerID == ownerID {
			out = append(out, *r)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memRepo) Update(ctx context.Context, r *SequenceRange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.ranges[r.ID]
	if !ok {
		return apperror.NewNotFound("sequence range", r.ID.String())
	}
	if existing.Version != r.Version {
		return apperror.NewConcurrentModification("sequence range", r.ID)
	}
	cp := *r
	cp.Version++
	m.ranges[r.ID] = &cp
	return nil
}

func (m *memRepo) Delete(ctx context.Context, ownerID, rangeID id.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.ranges[rangeID]
	if !ok || r.OwnerID != ownerID {
		return apperror.NewNotFound("sequence range", rangeID.String())
	}
	delete(m.ranges, rangeID)
	return nil
}

func (m *memRepo) HasOverlap(ctx context.Context, ownerID id.ID, rnc string, docType DocumentType, start, end int64, excludeID id.ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.ranges {
		if r.ID == excludeID {
			continue
		}
		if r.OwnerID == ownerID && r.RNC == rnc && r.DocumentType == docType &&
			r.StartNumber <= end && r.EndNumber >= start {
			return true, nil
		}
	}
	return false, nil
}

var _ Repository = (*memRepo)(nil)

func testRange(ownerID id.ID, start, end, threshold int64) *SequenceRange {
	future := time.Now().UTC().AddDate(1, 0, 0)
	r := NewSequenceRange(ownerID, "131246789", TypeCreditoFiscal, start, end)
	r.AlertThreshold = threshold
	r.ExpiresAt = &future
	return r
}

func TestAllocator_ConsumeSequential(t *testing.T) {
	ownerID := id.New()
	rng := testRange(ownerID, 1, 10, 3)
	repo := newMemRepo(rng)
	alloc := NewAllocator(repo, nil)
	ctx := context.Background()

	req := AllocationRequest{OwnerID: ownerID, RNC: "131246789", DocumentType: "31"}

	for want := int64(1); want <= 3; want++ {
		res, err := alloc.Request(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, want, res.Number)
		assert.Equal(t, int64(10-want), res.RangeAvailable)
		assert.False(t, res.Preview)
	}

	res, err := alloc.Request(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "E310000000004", res.Formatted)
}

func TestAllocator_PreviewDoesNotConsume(t *testing.T) {
	ownerID := id.New()
	rng := testRange(ownerID, 100, 109, 3)
	repo := newMemRepo(rng)
	alloc := NewAllocator(repo, nil)
	ctx := context.Background()

	req := AllocationRequest{OwnerID: ownerID, RNC: "131246789", DocumentType: "31", PreviewOnly: true}

	for i := 0; i < 5; i++ {
		res, err := alloc.Request(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Preview)
		assert.Equal(t, int64(100), res.Number, "preview must be idempotent")
		assert.Equal(t, int64(10), res.RangeAvailable)
	}
	assert.Zero(t, repo.consumeCalls)

	// A real consume after previews issues the previewed number.
	res, err := alloc.Request(ctx, AllocationRequest{OwnerID: ownerID, RNC: "131246789", DocumentType: "31"})
	require.NoError(t, err)
	assert.Equal(t, int64(100), res.Number)
}

func TestAllocator_OldestRangeFirst(t *testing.T) {
	ownerID := id.New()
	older := testRange(ownerID, 1, 2, 0)
	older.AuthorizedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := testRange(ownerID, 1000, 2000, 0)
	newer.AuthorizedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := newMemRepo(older, newer)
	alloc := NewAllocator(repo, nil)
	ctx := context.Background()

	req := AllocationRequest{OwnerID: ownerID, RNC: "131246789", DocumentType: "31"}

	res, err := alloc.Request(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Number)

	res, err = alloc.Request(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Number)

	// Older range drained; allocation falls over to the newer block.
	res, err = alloc.Request(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.Number)
}

func TestAllocator_GroupAlert(t *testing.T) {
	ownerID := id.New()
	rng := testRange(ownerID, 1, 10, 3)
	repo := newMemRepo(rng)
	alloc := NewAllocator(repo, nil)
	ctx := context.Background()

	req := AllocationRequest{OwnerID: ownerID, RNC: "131246789", DocumentType: "31"}

	// Numbers 1..6 leave more than 3 available: no alert.
	for i := 0; i < 6; i++ {
		res, err := alloc.Request(ctx, req)
		require.NoError(t, err)
		assert.False(t, res.AlertTriggered, "number %d", res.Number)
	}

	// Number 7 leaves exactly 3: alert fires.
	res, err := alloc.Request(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.AlertTriggered)
	assert.Equal(t, StateAlert, res.RangeState)
	assert.Contains(t, res.AlertMessage, "3 numbers remaining")

	// Drain to the last number.
	_, err = alloc.Request(ctx, req)
	require.NoError(t, err)
	_, err = alloc.Request(ctx, req)
	require.NoError(t, err)

	res, err = alloc.Request(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.Number)
	assert.Equal(t, StateExhausted, res.RangeState)
	assert.True(t, res.AlertTriggered)
	assert.Contains(t, res.AlertMessage, "urgently")
}

func TestAllocator_GroupAlertSuppressedBySibling(t *testing.T) {
	ownerID := id.New()
	small := testRange(ownerID, 1, 3, 5)
	small.AuthorizedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	big := testRange(ownerID, 100, 199, 5)
	big.AuthorizedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := newMemRepo(small, big)
	alloc := NewAllocator(repo, nil)
	ctx := context.Background()

	req := AllocationRequest{OwnerID: ownerID, RNC: "131246789", DocumentType: "31"}

	// The serviced range is nearly empty, but the sibling holds capacity:
	// the group total keeps the alert quiet.
	for i := 0; i < 3; i++ {
		res, err := alloc.Request(ctx, req)
		require.NoError(t, err)
		assert.False(t, res.AlertTriggered, "number %d", res.Number)
		assert.Greater(t, res.GroupAvailable, int64(5))
	}
}

func TestAllocator_ValidationErrors(t *testing.T) {
	alloc := NewAllocator(newMemRepo(), nil)
	ctx := context.Background()

	// 8 digits after normalization: too short.
	_, err := alloc.Request(ctx, AllocationRequest{OwnerID: id.New(), RNC: "12-345-678", DocumentType: "31"})
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)

	_, err = alloc.Request(ctx, AllocationRequest{OwnerID: id.New(), RNC: "131246789", DocumentType: "42"})
	appErr, ok = apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
}

func TestAllocator_NoEligibleRangeHints(t *testing.T) {
	ownerID := id.New()
	ctx := context.Background()
	req := AllocationRequest{OwnerID: ownerID, RNC: "131246789", DocumentType: "31"}

	t.Run("nothing configured", func(t *testing.T) {
		alloc := NewAllocator(newMemRepo(), nil)
		_, err := alloc.Request(ctx, req)
		appErr, ok := apperror.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperror.CodeNoEligibleRange, appErr.Code)
		assert.Contains(t, appErr.Details["hint"], "No ranges configured")
		assert.Equal(t, 0, appErr.Details["ranges_configured"])
	})

	t.Run("all exhausted", func(t *testing.T) {
		rng := testRange(ownerID, 1, 10, 3)
		rng.ConsumedCount = 10
		rng.Status = StateExhausted
		alloc := NewAllocator(newMemRepo(rng), nil)

		_, err := alloc.Request(ctx, req)
		appErr, ok := apperror.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperror.CodeNoEligibleRange, appErr.Code)
		assert.Contains(t, appErr.Details["hint"], "exhausted")
	})

	t.Run("capacity trapped in expired range", func(t *testing.T) {
		rng := testRange(ownerID, 1, 10, 3)
		past := time.Now().UTC().AddDate(-1, 0, 0)
		rng.ExpiresAt = &past
		alloc := NewAllocator(newMemRepo(rng), nil)

		_, err := alloc.Request(ctx, req)
		appErr, ok := apperror.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperror.CodeNoEligibleRange, appErr.Code)
		assert.Contains(t, appErr.Details["hint"], "expired or inactive")
	})
}

func TestAllocator_RetryOnContention(t *testing.T) {
	ownerID := id.New()
	stale := testRange(ownerID, 1, 1, 0)
	stale.AuthorizedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := testRange(ownerID, 50, 60, 0)
	fresh.AuthorizedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	repo := newMemRepo(stale, fresh)
	alloc := NewAllocator(repo, nil)
	ctx := context.Background()

	// Simulate losing the race: the head range is drained after selection.
	// First real consume takes the only number from the stale range; the
	// next request must step onto the fresh one without surfacing an error.
	req := AllocationRequest{OwnerID: ownerID, RNC: "131246789", DocumentType: "31"}

	res, err := alloc.Request(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Number)

	res, err = alloc.Request(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.Number)
}

func TestAllocator_ConcurrentNoDoubleIssue(t *testing.T) {
	ownerID := id.New()
	rng := testRange(ownerID, 1, 100, 5)
	repo := newMemRepo(rng)
	alloc := NewAllocator(repo, nil)
	ctx := context.Background()

	const workers = 50
	results := make(chan int64, workers)
	errs := make(chan error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := alloc.Request(ctx, AllocationRequest{OwnerID: ownerID, RNC: "131246789", DocumentType: "31"})
			if err != nil {
				errs <- err
				return
			}
			results <- res.Number
		}()
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := make(map[int64]bool)
	for n := range results {
		if seen[n] {
			t.Fatalf("number %d issued twice", n)
		}
		seen[n] = true
	}
	assert.Len(t, seen, workers)
	assert.Equal(t, int64(workers), repo.ranges[rng.ID].ConsumedCount)
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) Record(ctx context.Context, rangeID id.ID, action string, changes map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

func TestAllocator_ConsumeAudited(t *testing.T) {
	ownerID := id.New()
	repo := newMemRepo(testRange(ownerID, 1, 10, 3))
	trail := &recordingAudit{}
	alloc := NewAllocator(repo, trail)
	ctx := context.Background()

	_, err := alloc.Request(ctx, AllocationRequest{OwnerID: ownerID, RNC: "131246789", DocumentType: "31"})
	require.NoError(t, err)
	assert.Equal(t, []string{"consume"}, trail.actions)

	// Previews leave no trail.
	_, err = alloc.Request(ctx, AllocationRequest{OwnerID: ownerID, RNC: "131246789", DocumentType: "31", PreviewOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"consume"}, trail.actions)
}
