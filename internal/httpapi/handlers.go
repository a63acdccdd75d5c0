// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gemaraproj/evidence-mcp/internal/document"
	"github.com/gemaraproj/evidence-mcp/internal/evidence"
	"github.com/gemaraproj/evidence-mcp/internal/examples"
	"github.com/gemaraproj/evidence-mcp/internal/grade"
	"github.com/gemaraproj/evidence-mcp/internal/record"
	"github.com/gemaraproj/evidence-mcp/internal/service"
	"github.com/gemaraproj/evidence-mcp/internal/tool"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ImportRequest is the body of POST /v1/documents.
type ImportRequest struct {
	Content  string `json:"content"`
	Format   string `json:"format"`
	SourceID string `json:"source_id"`
}

// ImportResponse describes an imported document.
type ImportResponse struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Pages      int    `json:"pages"`
}

// ExtractRequest is the optional body of POST /v1/documents/:id/extractions.
type ExtractRequest struct {
	Template map[string][]string `json:"template"`
}

// LocateRequest is the body of POST /v1/documents/:id/locate.
type LocateRequest struct {
	Quote string `json:"quote"`
}

// LocateResponse is the grounding result for one quote.
type LocateResponse struct {
	Locations []record.SourceLocation `json:"locations"`
	Method    string                  `json:"method"`
	Score     float64                 `json:"score"`
}

// ExampleRequest is the body of POST /v1/examples.
type ExampleRequest struct {
	InputText      string          `json:"input_text"`
	ExpectedOutput json.RawMessage `json:"expected_output"`
	StudyType      string          `json:"study_type"`
	QualityScore   float64         `json:"quality_score"`
}

// AssessmentsResponse lists GRADE assessments.
type AssessmentsResponse struct {
	Assessments []grade.Assessment `json:"assessments"`
	Count       int                `json:"count"`
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: "bad_request"})
}

// fail maps a service error to a status code.
func (h *Handlers) fail(c *gin.Context, err error) {
	switch {
	case service.IsNotFound(err):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case errors.Is(err, document.ErrUnsupportedFormat):
		c.JSON(http.StatusUnsupportedMediaType, ErrorResponse{Error: err.Error(), Code: "unsupported_format"})
	case errors.Is(err, service.ErrAssessmentDisabled):
		c.JSON(http.StatusNotImplemented, ErrorResponse{Error: err.Error(), Code: "disabled"})
	case errors.Is(err, service.ErrInvalidExample):
		badRequest(c, err.Error())
	case c.Request.Context().Err() != nil:
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error(), Code: "cancelled"})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "internal"})
	}
}

// HandleHealth reports liveness.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleImportDocument loads and stores a document.
func (h *Handlers) HandleImportDocument(c *gin.Context) {
	var req ImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.Content == "" {
		badRequest(c, "content is required")
		return
	}
	doc, err := h.svc.ImportDocument(c.Request.Context(), document.Source{
		Content: []byte(req.Content),
		Format:  req.Format,
		ID:      req.SourceID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ImportResponse{DocumentID: doc.ID, Title: doc.Title, Pages: len(doc.Pages)})
}

// HandleListDocuments lists stored documents.
func (h *Handlers) HandleListDocuments(c *gin.Context) {
	docs, err := h.svc.Documents(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs, "count": len(docs)})
}

// HandleGetDocument returns a stored document with its pages.
func (h *Handlers) HandleGetDocument(c *gin.Context) {
	doc, err := h.svc.Document(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// HandleDeleteDocument removes a document and its derived data.
func (h *Handlers) HandleDeleteDocument(c *gin.Context) {
	if err := h.svc.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleExtract runs the extraction pipeline and stores a new version.
func (h *Handlers) HandleExtract(c *gin.Context) {
	var req ExtractRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	e, err := h.svc.Extract(c.Request.Context(), c.Param("id"), evidence.ExtractOptions{Template: req.Template})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

// HandleListExtractions lists every stored version of a document's extraction.
func (h *Handlers) HandleListExtractions(c *gin.Context) {
	list, err := h.svc.Extractions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"extractions": list, "count": len(list)})
}

// HandleLatestExtraction returns the newest extraction.
func (h *Handlers) HandleLatestExtraction(c *gin.Context) {
	e, err := h.svc.LatestExtraction(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

// HandleAssess runs a GRADE assessment for every outcome.
func (h *Handlers) HandleAssess(c *gin.Context) {
	list, err := h.svc.Assess(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, AssessmentsResponse{Assessments: list, Count: len(list)})
}

// HandleListAssessments returns the stored assessments.
func (h *Handlers) HandleListAssessments(c *gin.Context) {
	list, err := h.svc.Assessments(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, AssessmentsResponse{Assessments: list, Count: len(list)})
}

// HandleLocate grounds a quote in a stored document.
func (h *Handlers) HandleLocate(c *gin.Context) {
	var req LocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Quote) == "" {
		badRequest(c, "quote is required")
		return
	}
	match, err := h.svc.Locate(c.Request.Context(), c.Param("id"), req.Quote)
	if err != nil {
		h.fail(c, err)
		return
	}
	locations := match.Locations
	if locations == nil {
		locations = []record.SourceLocation{}
	}
	c.JSON(http.StatusOK, LocateResponse{Locations: locations, Method: string(match.Method), Score: match.Score})
}

// HandleAddExample stores a training example for few-shot selection.
func (h *Handlers) HandleAddExample(c *gin.Context) {
	var req ExampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	ex, err := h.svc.AddExample(c.Request.Context(), examples.Example{
		InputText:      req.InputText,
		ExpectedOutput: req.ExpectedOutput,
		StudyType:      req.StudyType,
		QualityScore:   req.QualityScore,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": ex.ID})
}

// HandleRetireExample deactivates a training example.
func (h *Handlers) HandleRetireExample(c *gin.Context) {
	if err := h.svc.RetireExample(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// HandleValidate runs the consistency checks on a posted record.
func (h *Handlers) HandleValidate(c *gin.Context) {
	var in tool.InputValidateExtraction
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	_, out, err := tool.ValidateExtraction(c.Request.Context(), nil, in)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, out)
}

// HandleCompleteness summarizes a posted record.
func (h *Handlers) HandleCompleteness(c *gin.Context) {
	var in tool.InputAnalyzeCompleteness
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	_, out, err := tool.AnalyzeCompleteness(c.Request.Context(), nil, in)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, out)
}

// HandleCertainty computes a GRADE certainty from supplied ratings.
func (h *Handlers) HandleCertainty(c *gin.Context) {
	var in tool.InputComputeCertainty
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	_, out, err := tool.ComputeCertainty(c.Request.Context(), nil, in)
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, out)
}
