package dto

import (
	"encoding/json"
	"time"

	"fiscalseq/internal/domain/sequence"
)

// --- Allocation ---

// AllocateNumberRequest asks for the next e-NCF number of an RNC and
// document type pair.
type AllocateNumberRequest struct {
	RNC          string `json:"rnc" binding:"required"`
	DocumentType string `json:"documentType" binding:"required"`

	// Preview computes the would-be next number without consuming it.
	Preview bool `json:"preview"`
}

// AllocateNumberResponse reports the issued (or previewed) number plus the
// availability and alerting data the caller needs to plan a new range request.
type AllocateNumberResponse struct {
	Preview      bool   `json:"preview"`
	Number       int64  `json:"number"`
	NCF          string `json:"ncf"`
	RNC          string `json:"rnc"`
	DocumentType string `json:"documentType"`
	Prefix       string `json:"prefix"`

	RangeAvailable int64      `json:"rangeAvailable"`
	GroupAvailable int64      `json:"groupAvailable"`
	RangeState     string     `json:"rangeState"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`

	AlertTriggered bool   `json:"alertTriggered"`
	AlertMessage   string `json:"alertMessage,omitempty"`
}

// FromAllocationResult creates the response from the domain result.
func FromAllocationResult(r *sequence.AllocationResult) *AllocateNumberResponse {
	return &AllocateNumberResponse{
		Preview:        r.Preview,
		Number:         r.Number,
		NCF:            r.Formatted,
		RNC:            r.RNC,
		DocumentType:   string(r.DocumentType),
		Prefix:         r.Prefix,
		RangeAvailable: r.RangeAvailable,
		GroupAvailable: r.GroupAvailable,
		RangeState:     string(r.RangeState),
		ExpiresAt:      r.ExpiresAt,
		AlertTriggered: r.AlertTriggered,
		AlertMessage:   r.AlertMessage,
	}
}

// --- Range administration ---

// CreateRangeRequest for registering a newly authorized range.
type CreateRangeRequest struct {
	RNC          string `json:"rnc" binding:"required"`
	BusinessName string `json:"businessName"`
	DocumentType string `json:"documentType" binding:"required"`
	TypeLabel    string `json:"typeLabel"`
	Prefix       string `json:"prefix"`

	StartNumber int64 `json:"startNumber" binding:"required,min=1"`
	EndNumber   int64 `json:"endNumber" binding:"required,min=1"`

	AlertThreshold int64      `json:"alertThreshold" binding:"omitempty,min=0"`
	AuthorizedAt   *time.Time `json:"authorizedAt"`
	ExpiresAt      *time.Time `json:"expiresAt"`
	Comment        string     `json:"comment"`
}

// ToRange builds the domain object; defaults are applied by the service.
func (r *CreateRangeRequest) ToRange() *sequence.SequenceRange {
	rng := &sequence.SequenceRange{
		RNC:            r.RNC,
		BusinessName:   r.BusinessName,
		DocumentType:   sequence.DocumentType(r.DocumentType),
		TypeLabel:      r.TypeLabel,
		Prefix:         r.Prefix,
		StartNumber:    r.StartNumber,
		EndNumber:      r.EndNumber,
		AlertThreshold: r.AlertThreshold,
		Comment:        r.Comment,
	}
	if r.AuthorizedAt != nil {
		rng.AuthorizedAt = r.AuthorizedAt.UTC()
	}
	if r.ExpiresAt != nil {
		t := r.ExpiresAt.UTC()
		rng.ExpiresAt = &t
	}
	return rng
}

// UpdateRangeRequest for editing a range. Nil fields are untouched.
type UpdateRangeRequest struct {
	StartNumber    *int64     `json:"startNumber" binding:"omitempty,min=1"`
	EndNumber      *int64     `json:"endNumber" binding:"omitempty,min=1"`
	ExpiresAt      *time.Time `json:"expiresAt"`
	ClearExpiry    bool       `json:"clearExpiry"`
	AlertThreshold *int64     `json:"alertThreshold" binding:"omitempty,min=0"`
	Comment        *string    `json:"comment"`
	Active         *bool      `json:"active"`
}

// ToPatch converts to the domain patch.
func (r *UpdateRangeRequest) ToPatch() sequence.UpdatePatch {
	return sequence.UpdatePatch{
		StartNumber:    r.StartNumber,
		EndNumber:      r.EndNumber,
		ExpiresAt:      r.ExpiresAt,
		ClearExpiry:    r.ClearExpiry,
		AlertThreshold: r.AlertThreshold,
		Comment:        r.Comment,
		Active:         r.Active,
	}
}

// RangeResponse represents a sequence range in API responses.
type RangeResponse struct {
	ID           string `json:"id"`
	RNC          string `json:"rnc"`
	BusinessName string `json:"businessName,omitempty"`
	DocumentType string `json:"documentType"`
	TypeLabel    string `json:"typeLabel,omitempty"`
	Prefix       string `json:"prefix"`

	StartNumber   int64 `json:"startNumber"`
	EndNumber     int64 `json:"endNumber"`
	ConsumedCount int64 `json:"consumedCount"`
	Available     int64 `json:"available"`
	NextNumber    int64 `json:"nextNumber"`
	NextNCF       string `json:"nextNcf"`

	AlertThreshold int64      `json:"alertThreshold"`
	AuthorizedAt   time.Time  `json:"authorizedAt"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`

	Status  string `json:"status"`
	Comment string `json:"comment,omitempty"`
	Version int    `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FromRange creates RangeResponse from the domain object.
func FromRange(r *sequence.SequenceRange) *RangeResponse {
	return &RangeResponse{
		ID:             r.ID.String(),
		RNC:            r.RNC,
		BusinessName:   r.BusinessName,
		DocumentType:   string(r.DocumentType),
		TypeLabel:      r.TypeLabel,
		Prefix:         r.Prefix,
		StartNumber:    r.StartNumber,
		EndNumber:      r.EndNumber,
		ConsumedCount:  r.ConsumedCount,
		Available:      r.Available(),
		NextNumber:     r.NextNumber(),
		NextNCF:        r.FormatNumber(r.NextNumber()),
		AlertThreshold: r.AlertThreshold,
		AuthorizedAt:   r.AuthorizedAt,
		ExpiresAt:      r.ExpiresAt,
		Status:         string(r.Status),
		Comment:        r.Comment,
		Version:        r.Version,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// ListRangesRequest narrows range listings.
type ListRangesRequest struct {
	PaginationRequest
	RNC          string `form:"rnc"`
	DocumentType string `form:"documentType"`
	Status       string `form:"status"`
}

// ToFilter converts to the domain filter.
func (r *ListRangesRequest) ToFilter() sequence.ListFilter {
	return sequence.ListFilter{
		RNC:          r.RNC,
		DocumentType: sequence.DocumentType(r.DocumentType),
		Status:       sequence.RangeState(r.Status),
		Limit:        r.PageSize,
		Offset:       r.Offset(),
	}
}

// AuditEntryResponse represents one audit trail record.
type AuditEntryResponse struct {
	ID        string          `json:"id"`
	RangeID   string          `json:"rangeId"`
	Action    string          `json:"action"`
	UserID    string          `json:"userId,omitempty"`
	AuthKind  string          `json:"authKind,omitempty"`
	Changes   json.RawMessage `json:"changes,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
