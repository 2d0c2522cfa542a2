package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"medcoder/internal/csvexport"
	"medcoder/internal/domain"
	"medcoder/internal/service"
)

// DocumentHandler handles document upload and status endpoints.
type DocumentHandler struct {
	docService service.DocumentService
	enqueue    func(uuid.UUID) bool
}

// NewDocumentHandler creates a new DocumentHandler. enqueue hands an accepted
// document to the background processor; it may be nil in tests.
func NewDocumentHandler(docService service.DocumentService, enqueue func(uuid.UUID) bool) *DocumentHandler {
	return &DocumentHandler{docService: docService, enqueue: enqueue}
}

// DocumentView is the record representation polled by clients. vlm_results
// and error_message are null until the matching terminal state is reached.
type DocumentView struct {
	ID           uuid.UUID       `json:"id"`
	File         string          `json:"file"`
	Status       string          `json:"status"`
	VLMResults   json.RawMessage `json:"vlm_results"`
	ErrorMessage *string         `json:"error_message"`
	CreatedAt    time.Time       `json:"created_at"`
}

func viewOf(doc *domain.Document) DocumentView {
	view := DocumentView{
		ID:        doc.ID,
		File:      doc.S3Key,
		Status:    string(doc.Status),
		CreatedAt: doc.CreatedAt,
	}
	if len(doc.VLMResults) > 0 {
		view.VLMResults = doc.VLMResults
	}
	if doc.ErrorMessage != "" {
		msg := doc.ErrorMessage
		view.ErrorMessage = &msg
	}
	return view
}

// Upload handles POST /api/upload/
// @Summary Upload a medical document image
// @Description Accepts a JPG or PNG image and queues it for ICD-10 code extraction
// @Tags documents
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Image to upload (JPG or PNG)"
// @Success 202 {object} DocumentView "Document accepted for processing"
// @Failure 400 {object} ErrorResponseBody "Missing file or unsupported type"
// @Failure 413 {object} ErrorResponseBody "File too large"
// @Failure 500 {object} ErrorResponseBody "Upload failed"
// @Router /upload/ [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		RespondError(c, http.StatusBadRequest, "MISSING_FILE", "file field is required")
		return
	}
	defer func() { _ = file.Close() }()

	doc, err := h.docService.Upload(c.Request.Context(), service.UploadInput{
		File:   file,
		Header: header,
	})
	if err != nil {
		HandleError(c, err)
		return
	}

	if h.enqueue != nil {
		h.enqueue(doc.ID)
	}

	c.JSON(http.StatusAccepted, viewOf(doc))
}

// Status handles GET /api/documents/:id/
// @Summary Get document processing status
// @Description Returns the current record: status, extracted codes once completed, error message once failed
// @Tags documents
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} DocumentView "Current document state"
// @Failure 404 {object} ErrorResponseBody "Document not found"
// @Router /documents/{id}/ [get]
func (h *DocumentHandler) Status(c *gin.Context) {
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusNotFound, "DOCUMENT_NOT_FOUND", "document not found")
		return
	}

	doc, err := h.docService.GetByID(c.Request.Context(), docID)
	if err != nil {
		HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, viewOf(doc))
}

// DownloadFile handles GET /api/documents/:id/file
// @Summary Download the original document image
// @Description Redirects to a short-lived presigned URL for the stored image
// @Tags documents
// @Param id path string true "Document ID"
// @Success 302 {string} string "Redirect to the presigned download URL"
// @Failure 404 {object} ErrorResponseBody "Document not found"
// @Router /documents/{id}/file [get]
func (h *DocumentHandler) DownloadFile(c *gin.Context) {
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusNotFound, "DOCUMENT_NOT_FOUND", "document not found")
		return
	}

	url, err := h.docService.FileURL(c.Request.Context(), docID)
	if err != nil {
		HandleError(c, err)
		return
	}

	c.Redirect(http.StatusFound, url)
}

// List handles GET /api/documents
// @Summary List documents
// @Description List all documents with pagination, newest first
// @Tags documents
// @Produce json
// @Param offset query int false "Offset for pagination" default(0)
// @Param limit query int false "Limit for pagination (max 100)" default(20)
// @Success 200 {object} Response{data=[]DocumentView,meta=PagMeta} "List of documents"
// @Router /documents [get]
func (h *DocumentHandler) List(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if offset < 0 {
		offset = 0
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	docs, total, err := h.docService.List(c.Request.Context(), offset, limit)
	if err != nil {
		HandleError(c, err)
		return
	}

	views := make([]DocumentView, 0, len(docs))
	for i := range docs {
		views = append(views, viewOf(&docs[i]))
	}

	RespondPaginated(c, views, PagMeta{Total: total, Offset: offset, Limit: limit})
}

// ExportCodes handles GET /api/documents/:id/codes.csv
// @Summary Export extracted codes as CSV
// @Description Download the extracted ICD-10 codes of a completed document as a CSV file
// @Tags documents
// @Produce text/csv
// @Param id path string true "Document ID"
// @Success 200 {string} string "CSV file"
// @Failure 400 {object} ErrorResponseBody "Document not completed"
// @Failure 404 {object} ErrorResponseBody "Document not found"
// @Router /documents/{id}/codes.csv [get]
func (h *DocumentHandler) ExportCodes(c *gin.Context) {
	docID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusNotFound, "DOCUMENT_NOT_FOUND", "document not found")
		return
	}

	doc, err := h.docService.GetByID(c.Request.Context(), docID)
	if err != nil {
		HandleError(c, err)
		return
	}

	extracted, err := doc.Codes()
	if err != nil {
		HandleError(c, err)
		return
	}

	data, err := csvexport.DiagnosisCodes(extracted)
	if err != nil {
		HandleError(c, err)
		return
	}

	filename := fmt.Sprintf("codes-%s.csv", docID)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "text/csv", data)
}
