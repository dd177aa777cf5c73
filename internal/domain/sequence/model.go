// Package sequence provides the e-NCF sequence range domain: authorized blocks
// of fiscal receipt numbers, the eligibility rules that govern them, and the
// allocator that consumes numbers from them.
package sequence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fiscalseq/internal/core/apperror"
	"fiscalseq/internal/core/id"
)

// DocumentType is the fiscal receipt category code assigned by the tax authority.
type DocumentType string

const (
	TypeCreditoFiscal   DocumentType = "31" // Factura de Crédito Fiscal
	TypeConsumo         DocumentType = "32" // Factura de Consumo
	TypeNotaDebito      DocumentType = "33" // Nota de Débito
	TypeNotaCredito     DocumentType = "34" // Nota de Crédito
	TypeCompras         DocumentType = "41" // Compras
	TypeGastosMenores   DocumentType = "43" // Gastos Menores
	TypeRegimenEspecial DocumentType = "44" // Regímenes Especiales
	TypeGubernamental   DocumentType = "45" // Gubernamental
)

// RangeState is a range's lifecycle state. Except for inactive, which is set
// administratively, it is a pure function of counters, threshold and clock and
// is recomputed on every read and every consume.
type RangeState string

const (
	StateActive    RangeState = "active"
	StateAlert     RangeState = "alert"
	StateExhausted RangeState = "exhausted"
	StateExpired   RangeState = "expired"
	StateInactive  RangeState = "inactive"
)

const (
	// DefaultAlertThreshold is the group availability level at which callers
	// are warned to request a new range.
	DefaultAlertThreshold = 5

	// DefaultPrefix is the series letter used when none is configured.
	DefaultPrefix = "E"

	// RNCMinDigits and RNCMaxDigits bound the taxpayer ID length after
	// stripping non-digits.
	RNCMinDigits = 9
	RNCMaxDigits = 11

	// numberPadWidth is the zero-pad width of the sequential part in the
	// formatted e-NCF. Presentation convention, not a safety invariant.
	numberPadWidth = 10
)

// expiryExemptTypes are document types whose ranges may legally lack an expiry
// date (regulation exempts consumer invoices and credit notes).
var expiryExemptTypes = map[DocumentType]bool{
	TypeConsumo:     true,
	TypeNotaCredito: true,
}

// ValidDocumentType reports whether code is one of the authorized type codes.
func ValidDocumentType(code string) bool {
	switch DocumentType(code) {
	case TypeCreditoFiscal, TypeConsumo, TypeNotaDebito, TypeNotaCredito,
		TypeCompras, TypeGastosMenores, TypeRegimenEspecial, TypeGubernamental:
		return true
	}
	return false
}

// RequiresExpiry reports whether ranges of this type must carry an expiry date.
func (t DocumentType) RequiresExpiry() bool {
	return !expiryExemptTypes[t]
}

// NormalizeRNC strips every non-digit character from a taxpayer ID.
func NormalizeRNC(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SequenceRange is one authorized block of consecutive e-NCF numbers for an
// owner + RNC + document type. ConsumedCount only ever grows, and only through
// the repository's atomic consume.
type SequenceRange struct {
	ID      id.ID `db:"id" json:"id"`
	OwnerID id.ID `db:"owner_id" json:"ownerId"`

	RNC          string       `db:"rnc" json:"rnc"`
	BusinessName string       `db:"business_name" json:"businessName,omitempty"`
	DocumentType DocumentType `db:"document_type" json:"documentType"`
	TypeLabel    string       `db:"type_label" json:"typeLabel,omitempty"`

	// Prefix is the single-letter series prefix of the formatted number.
	Prefix string `db:"prefix" json:"prefix"`

	StartNumber   int64 `db:"start_number" json:"startNumber"`
	EndNumber     int64 `db:"end_number" json:"endNumber"`
	ConsumedCount int64 `db:"consumed_count" json:"consumedCount"`

	AlertThreshold int64 `db:"alert_threshold" json:"alertThreshold"`

	AuthorizedAt time.Time  `db:"authorized_at" json:"authorizedAt"`
	ExpiresAt    *time.Time `db:"expires_at" json:"expiresAt,omitempty"`

	Status  RangeState `db:"status" json:"status"`
	Comment string     `db:"comment" json:"comment,omitempty"`

	// Version guards administrative edits (optimistic locking). The consume
	// path does not use it; its atomicity lives in the conditional UPDATE.
	Version int `db:"version" json:"version"`

	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// NewSequenceRange creates a range with generated ID and defaulted fields.
func NewSequenceRange(ownerID id.ID, rnc string, docType DocumentType, start, end int64) *SequenceRange {
	now := time.Now().UTC()
	return &SequenceRange{
		ID:             id.New(),
		OwnerID:        ownerID,
		RNC:            NormalizeRNC(rnc),
		DocumentType:   docType,
		Prefix:         DefaultPrefix,
		StartNumber:    start,
		EndNumber:      end,
		AlertThreshold: DefaultAlertThreshold,
		AuthorizedAt:   now,
		Status:         StateActive,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Capacity is the total size of the authorized block.
func (r *SequenceRange) Capacity() int64 {
	return r.EndNumber - r.StartNumber + 1
}

// Available is the unconsumed remainder of the block.
func (r *SequenceRange) Available() int64 {
	return r.Capacity() - r.ConsumedCount
}

// NextNumber is the number a consume would issue right now.
func (r *SequenceRange) NextNumber() int64 {
	return r.StartNumber + r.ConsumedCount
}

// LastIssued is the most recently consumed number. Only meaningful when
// ConsumedCount > 0.
func (r *SequenceRange) LastIssued() int64 {
	return r.StartNumber + r.ConsumedCount - 1
}

// Expired reports whether the range has passed its expiry at the given time.
// Ranges of expiry-exempt types and ranges without a date never expire.
func (r *SequenceRange) Expired(now time.Time) bool {
	if r.ExpiresAt == nil || !r.DocumentType.RequiresExpiry() {
		return false
	}
	return r.ExpiresAt.Before(now)
}

// EffectiveState derives the current state from counters, threshold and clock.
// Inactive is administrative and takes precedence; expired beats exhaustion.
func (r *SequenceRange) EffectiveState(now time.Time) RangeState {
	if r.Status == StateInactive {
		return StateInactive
	}
	if r.Expired(now) {
		return StateExpired
	}
	switch {
	case r.Available() <= 0:
		return StateExhausted
	case r.Available() <= r.AlertThreshold:
		return StateAlert
	default:
		return StateActive
	}
}

// Eligible reports whether the range may service an allocation at the given
// time: active or alert state with remaining capacity.
func (r *SequenceRange) Eligible(now time.Time) bool {
	switch r.EffectiveState(now) {
	case StateActive, StateAlert:
		return r.Available() > 0
	}
	return false
}

// FormatNumber renders a sequential number in e-NCF display form:
// series prefix, two-digit type code, ten digits zero-padded.
func (r *SequenceRange) FormatNumber(n int64) string {
	prefix := r.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return fmt.Sprintf("%s%s%0*d", prefix, r.DocumentType, numberPadWidth, n)
}

// Validate checks internal invariants (without database access).
func (r *SequenceRange) Validate(ctx context.Context) error {
	rnc := NormalizeRNC(r.RNC)
	if len(rnc) < RNCMinDigits || len(rnc) > RNCMaxDigits {
		return apperror.NewValidation("RNC must have between 9 and 11 digits").
			WithDetail("field", "rnc").
			WithDetail("value", r.RNC)
	}
	if !ValidDocumentType(string(r.DocumentType)) {
		return apperror.NewValidation("invalid document type; must be one of 31, 32, 33, 34, 41, 43, 44, 45").
			WithDetail("field", "documentType").
			WithDetail("value", string(r.DocumentType))
	}
	if r.StartNumber < 1 || r.EndNumber < r.StartNumber {
		return apperror.NewValidation("end number must be greater than or equal to start number").
			WithDetail("field", "endNumber")
	}
	if r.ConsumedCount < 0 || r.ConsumedCount > r.Capacity() {
		return apperror.NewValidation("consumed count out of range").
			WithDetail("field", "consumedCount")
	}
	if r.AlertThreshold < 0 {
		return apperror.NewValidation("alert threshold must not be negative").
			WithDetail("field", "alertThreshold")
	}
	if len(r.Prefix) != 1 || r.Prefix[0] < 'A' || r.Prefix[0] > 'Z' {
		return apperror.NewValidation("prefix must be a single uppercase letter").
			WithDetail("field", "prefix").
			WithDetail("value", r.Prefix)
	}
	if r.ExpiresAt == nil && r.DocumentType.RequiresExpiry() {
		return apperror.NewValidation("expiry date is required for this document type").
			WithDetail("field", "expiresAt").
			WithDetail("documentType", string(r.DocumentType))
	}
	return nil
}
