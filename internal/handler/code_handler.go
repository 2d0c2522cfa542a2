package handler

import (
	"github.com/gin-gonic/gin"

	"medcoder/internal/service"
)

// CodeHandler handles ICD-10 catalog lookups.
type CodeHandler struct {
	docService service.DocumentService
}

// NewCodeHandler creates a new CodeHandler.
func NewCodeHandler(docService service.DocumentService) *CodeHandler {
	return &CodeHandler{docService: docService}
}

// GetByCode handles GET /api/codes/:code
// @Summary Look up an ICD-10 code
// @Description Returns the catalog entry for a single ICD-10 code
// @Tags codes
// @Produce json
// @Param code path string true "ICD-10 code, e.g. E11.9"
// @Success 200 {object} Response{data=domain.ICD10Code} "Catalog entry"
// @Failure 404 {object} ErrorResponseBody "Code not found"
// @Router /codes/{code} [get]
func (h *CodeHandler) GetByCode(c *gin.Context) {
	entry, err := h.docService.LookupCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		HandleError(c, err)
		return
	}
	RespondOK(c, entry)
}
