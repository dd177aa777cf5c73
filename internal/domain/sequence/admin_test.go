package sequence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalseq/internal/core/apperror"
	"fiscalseq/internal/core/id"
)

func TestAdminService_CreateDefaults(t *testing.T) {
	repo := newMemRepo()
	svc := NewAdminService(repo, nil, nil)
	ctx := context.Background()

	future := time.Now().UTC().AddDate(1, 0, 0)
	r := &SequenceRange{
		OwnerID:      id.New(),
		RNC:          "1-31-24678-9",
		DocumentType: TypeCreditoFiscal,
		StartNumber:  1,
		EndNumber:    100,
		ExpiresAt:    &future,
	}

	require.NoError(t, svc.Create(ctx, r))

	assert.False(t, id.IsNil(r.ID))
	assert.Equal(t, "131246789", r.RNC, "RNC stored normalized")
	assert.Equal(t, DefaultPrefix, r.Prefix)
	assert.Equal(t, int64(DefaultAlertThreshold), r.AlertThreshold)
	assert.Equal(t, StateActive, r.Status)
	assert.Zero(t, r.ConsumedCount)
	assert.Equal(t, 1, r.Version)
	assert.False(t, r.AuthorizedAt.IsZero())
}

func TestAdminService_CreateRejectsOverlap(t *testing.T) {
	ownerID := id.New()
	repo := newMemRepo(testRange(ownerID, 1, 100, 5))
	svc := NewAdminService(repo, nil, nil)
	ctx := context.Background()

	future := time.Now().UTC().AddDate(1, 0, 0)
	overlapping := &SequenceRange{
		OwnerID:      ownerID,
		RNC:          "131246789",
		DocumentType: TypeCreditoFiscal,
		StartNumber:  50,
		EndNumber:    150,
		ExpiresAt:    &future,
	}

	err := svc.Create(ctx, overlapping)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeRangeOverlap, appErr.Code)

	// Same block for a different document type is legal.
	other := &SequenceRange{
		OwnerID:      ownerID,
		RNC:          "131246789",
		DocumentType: TypeConsumo,
		StartNumber:  50,
		EndNumber:    150,
	}
	assert.NoError(t, svc.Create(ctx, other))
}

func TestAdminService_UpdateBoundsImmutableAfterConsume(t *testing.T) {
	ownerID := id.New()
	rng := testRange(ownerID, 1, 100, 5)
	rng.ConsumedCount = 7
	repo := newMemRepo(rng)
	svc := NewAdminService(repo, nil, nil)
	ctx := context.Background()

	newEnd := int64(200)
	_, err := svc.Update(ctx, ownerID, rng.ID, UpdatePatch{EndNumber: &newEnd})
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeRangeImmutable, appErr.Code)

	// Non-bound fields stay editable.
	threshold := int64(10)
	updated, err := svc.Update(ctx, ownerID, rng.ID, UpdatePatch{AlertThreshold: &threshold})
	require.NoError(t, err)
	assert.Equal(t, int64(10), updated.AlertThreshold)
	assert.Equal(t, int64(100), updated.EndNumber)
}

func TestAdminService_UpdateBoundsBeforeConsume(t *testing.T) {
	ownerID := id.New()
	rng := testRange(ownerID, 1, 100, 5)
	repo := newMemRepo(rng)
	svc := NewAdminService(repo, nil, nil)
	ctx := context.Background()

	newEnd := int64(200)
	updated, err := svc.Update(ctx, ownerID, rng.ID, UpdatePatch{EndNumber: &newEnd})
	require.NoError(t, err)
	assert.Equal(t, int64(200), updated.EndNumber)
	assert.Equal(t, 2, updated.Version)
}

func TestAdminService_Deactivate(t *testing.T) {
	ownerID := id.New()
	rng := testRange(ownerID, 1, 100, 5)
	repo := newMemRepo(rng)
	svc := NewAdminService(repo, nil, nil)
	ctx := context.Background()

	inactive := false
	updated, err := svc.Update(ctx, ownerID, rng.ID, UpdatePatch{Active: &inactive})
	require.NoError(t, err)
	assert.Equal(t, StateInactive, updated.Status)

	// Inactive survives the read-side state recompute.
	got, err := svc.Get(ctx, ownerID, rng.ID)
	require.NoError(t, err)
	assert.Equal(t, StateInactive, got.Status)

	active := true
	updated, err = svc.Update(ctx, ownerID, updated.ID, UpdatePatch{Active: &active})
	require.NoError(t, err)
	assert.Equal(t, StateActive, updated.Status)
}

func TestAdminService_GetRecomputesState(t *testing.T) {
	ownerID := id.New()
	rng := testRange(ownerID, 1, 10, 5)
	rng.ConsumedCount = 6
	// Stored status is stale on purpose.
	rng.Status = StateActive
	repo := newMemRepo(rng)
	svc := NewAdminService(repo, nil, nil)

	got, err := svc.Get(context.Background(), ownerID, rng.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAlert, got.Status)
}

func TestAdminService_GetScopedToOwner(t *testing.T) {
	ownerID := id.New()
	rng := testRange(ownerID, 1, 10, 5)
	repo := newMemRepo(rng)
	svc := NewAdminService(repo, nil, nil)

	_, err := svc.Get(context.Background(), id.New(), rng.ID)
	assert.True(t, apperror.IsNotFound(err))
}

func TestAdminService_ClearExpiryValidation(t *testing.T) {
	ownerID := id.New()
	rng := testRange(ownerID, 1, 10, 5)
	repo := newMemRepo(rng)
	svc := NewAdminService(repo, nil, nil)
	ctx := context.Background()

	// Type 31 requires an expiry; clearing it must fail validation.
	_, err := svc.Update(ctx, ownerID, rng.ID, UpdatePatch{ClearExpiry: true})
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeValidation, appErr.Code)
}
