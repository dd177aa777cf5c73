package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fiscalseq/internal/domain/sequence"
	"fiscalseq/internal/infrastructure/http/v1/dto"
	"fiscalseq/internal/infrastructure/http/v1/middleware"
	"fiscalseq/internal/infrastructure/storage/postgres"
)

const defaultAuditLimit = 100

// SequenceHandler serves the administrative range lifecycle.
type SequenceHandler struct {
	*BaseHandler
	admin *sequence.AdminService
	audit *postgres.AuditService
}

// NewSequenceHandler creates a new sequence range handler.
func NewSequenceHandler(base *BaseHandler, admin *sequence.AdminService, audit *postgres.AuditService) *SequenceHandler {
	return &SequenceHandler{
		BaseHandler: base,
		admin:       admin,
		audit:       audit,
	}
}

// Create handles POST /sequences
func (h *SequenceHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateRangeRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ownerID, err := h.CallerID(c)
	if err != nil {
		h.Error(c, err)
		return
	}

	rng := req.ToRange()
	rng.OwnerID = ownerID

	if err := h.admin.Create(ctx, rng); err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.FromRange(rng))
}

// Get handles GET /sequences/:id
func (h *SequenceHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()

	ownerID, err := h.CallerID(c)
	if err != nil {
		h.Error(c, err)
		return
	}
	rangeID, err := h.PathID(c, "id")
	if err != nil {
		h.Error(c, err)
		return
	}

	rng, err := h.admin.Get(ctx, ownerID, rangeID)
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromRange(rng))
}

// List handles GET /sequences
func (h *SequenceHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ListRangesRequest
	if !h.BindQuery(c, &req) {
		return
	}
	req.Defaults()

	ownerID, err := h.CallerID(c)
	if err != nil {
		h.Error(c, err)
		return
	}

	ranges, total, err := h.admin.List(ctx, ownerID, req.ToFilter())
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]*dto.RangeResponse, len(ranges))
	for i := range ranges {
		items[i] = dto.FromRange(&ranges[i])
	}

	h.OK(c, dto.GenericListResponse[*dto.RangeResponse]{
		Data:       items,
		Pagination: dto.NewPaginationResponse(req.Page, req.PageSize, total),
	})
}

// Update handles PATCH /sequences/:id
func (h *SequenceHandler) Update(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.UpdateRangeRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ownerID, err := h.CallerID(c)
	if err != nil {
		h.Error(c, err)
		return
	}
	rangeID, err := h.PathID(c, "id")
	if err != nil {
		h.Error(c, err)
		return
	}

	rng, err := h.admin.Update(ctx, ownerID, rangeID, req.ToPatch())
	if err != nil {
		h.Error(c, err)
		return
	}

	h.OK(c, dto.FromRange(rng))
}

// Delete handles DELETE /sequences/:id
func (h *SequenceHandler) Delete(c *gin.Context) {
	ctx := c.Request.Context()

	ownerID, err := h.CallerID(c)
	if err != nil {
		h.Error(c, err)
		return
	}
	rangeID, err := h.PathID(c, "id")
	if err != nil {
		h.Error(c, err)
		return
	}

	if err := h.admin.Delete(ctx, ownerID, rangeID); err != nil {
		h.Error(c, err)
		return
	}

	h.NoContent(c)
}

// Audit handles GET /sequences/:id/audit
func (h *SequenceHandler) Audit(c *gin.Context) {
	ctx := c.Request.Context()

	ownerID, err := h.CallerID(c)
	if err != nil {
		h.Error(c, err)
		return
	}
	rangeID, err := h.PathID(c, "id")
	if err != nil {
		h.Error(c, err)
		return
	}

	// Ownership check before exposing the trail.
	if _, err := h.admin.Get(ctx, ownerID, rangeID); err != nil {
		h.Error(c, err)
		return
	}

	limit := h.ParseIntQuery(c, "limit", defaultAuditLimit)
	entries, err := h.audit.History(ctx, rangeID, limit)
	if err != nil {
		h.Error(c, err)
		return
	}

	items := make([]dto.AuditEntryResponse, len(entries))
	for i, e := range entries {
		items[i] = dto.AuditEntryResponse{
			ID:        e.ID.String(),
			RangeID:   e.RangeID.String(),
			Action:    e.Action,
			UserID:    e.UserID,
			AuthKind:  e.AuthKind,
			Changes:   e.Changes,
			CreatedAt: e.CreatedAt,
		}
	}

	h.OK(c, gin.H{"items": items})
}

// RegisterRoutes registers range administration routes on a session-protected group.
func (h *SequenceHandler) RegisterRoutes(g *gin.RouterGroup) {
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.PATCH("/:id", h.Update)
	g.DELETE("/:id", middleware.RequireAdmin(), h.Delete)
	g.GET("/:id/audit", h.Audit)
}
