package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fiscalseq/internal/domain/sequence"
	"fiscalseq/internal/infrastructure/http/v1/dto"
)

// AllocationHandler serves e-NCF number requests from machine callers.
type AllocationHandler struct {
	*BaseHandler
	allocator *sequence.Allocator
}

// NewAllocationHandler creates a new allocation handler.
func NewAllocationHandler(base *BaseHandler, allocator *sequence.Allocator) *AllocationHandler {
	return &AllocationHandler{
		BaseHandler: base,
		allocator:   allocator,
	}
}

// RequestNumber handles POST /ncf/request-number.
// With preview=true it reports the would-be next number without consuming it.
func (h *AllocationHandler) RequestNumber(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.AllocateNumberRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ownerID, err := h.CallerID(c)
	if err != nil {
		h.Error(c, err)
		return
	}

	result, err := h.allocator.Request(ctx, sequence.AllocationRequest{
		OwnerID:      ownerID,
		RNC:          req.RNC,
		DocumentType: req.DocumentType,
		PreviewOnly:  req.Preview,
	})
	if err != nil {
		h.Error(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.FromAllocationResult(result))
}

// RegisterRoutes registers allocation routes on an API-key protected group.
func (h *AllocationHandler) RegisterRoutes(g *gin.RouterGroup) {
	g.POST("/request-number", h.RequestNumber)
}
