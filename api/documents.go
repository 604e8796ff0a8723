package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/exef-io/exef/adapters"
	"github.com/exef-io/exef/flow"
	"github.com/exef-io/exef/model"
)

func (s *Server) handleListDocuments(c echo.Context) error {
	task, edb, err := s.taskWithAccess(c, c.Param("id"), canView)
	if err != nil {
		return err
	}
	q := edb.Where("task_id = ?", task.ID)
	if status := c.QueryParam("status"); status != "" {
		q = q.Where("status = ?", status)
	}
	docs := []model.Document{}
	if err := q.Order("created_at").Find(&docs).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusOK, docs)
}

type createDocumentRequest struct {
	TaskID        string          `json:"task_id" validate:"required"`
	Kind          string          `json:"doc_type" validate:"omitempty,oneof=invoice cv receipt contract payment_in payment_out correction proforma"`
	Number        string          `json:"number"`
	Contractor    string          `json:"contractor"`
	ContractorNIP string          `json:"contractor_nip"`
	AmountNet     decimal.Decimal `json:"amount_net"`
	AmountVAT     decimal.Decimal `json:"amount_vat"`
	AmountGross   decimal.Decimal `json:"amount_gross"`
	Currency      string          `json:"currency"`
	DocumentDate  string          `json:"document_date"`
	Category      string          `json:"category"`
	Description   string          `json:"description"`
}

func (s *Server) handleCreateDocument(c echo.Context) error {
	var req createDocumentRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if _, _, err := s.taskWithAccess(c, req.TaskID, canDescribe); err != nil {
		return err
	}
	if req.ContractorNIP != "" {
		nip := model.NormalizeNIP(req.ContractorNIP)
		if !model.ValidNIP(nip) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, "nieprawidłowy numer NIP kontrahenta")
		}
		req.ContractorNIP = nip
	}
	date, err := parseDate(req.DocumentDate)
	if err != nil {
		return err
	}

	doc, meta, err := s.engine.CreateDocument(req.TaskID, adapters.ImportRecord{
		Kind:          model.DocumentKind(req.Kind),
		Number:        req.Number,
		Contractor:    req.Contractor,
		ContractorNIP: req.ContractorNIP,
		AmountNet:     req.AmountNet,
		AmountVAT:     req.AmountVAT,
		AmountGross:   req.AmountGross,
		Currency:      req.Currency,
		DocumentDate:  date,
		SourceType:    "manual",
		Category:      req.Category,
		Description:   req.Description,
	})
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusCreated, documentResponse{Document: doc, Metadata: meta})
}

type documentResponse struct {
	Document *model.Document         `json:"document"`
	Metadata *model.DocumentMetadata `json:"metadata,omitempty"`
}

// loadDocument resolves a document and checks access through its task.
func (s *Server) loadDocument(c echo.Context, documentID string, need permissionCheck) (*model.Document, error) {
	edb, err := scopeFrom(c).ForResource(documentID)
	if err != nil {
		return nil, err
	}
	var doc model.Document
	if err := edb.First(&doc, "id = ?", documentID).Error; err != nil {
		return nil, domainError(flow.ErrDocumentNotFound)
	}
	if _, _, err := s.taskWithAccess(c, doc.TaskID, need); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *Server) handleGetDocument(c echo.Context) error {
	doc, err := s.loadDocument(c, c.Param("id"), canView)
	if err != nil {
		return err
	}
	edb, err := scopeFrom(c).ForResource(doc.ID)
	if err != nil {
		return err
	}
	var meta model.DocumentMetadata
	_ = edb.First(&meta, "document_id = ?", doc.ID).Error
	return c.JSON(http.StatusOK, documentResponse{Document: doc, Metadata: &meta})
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	doc, err := s.loadDocument(c, c.Param("id"), canDescribe)
	if err != nil {
		return err
	}
	if err := s.engine.DeleteDocument(doc.ID); err != nil {
		return domainError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handlePatchMetadata(c echo.Context) error {
	doc, err := s.loadDocument(c, c.Param("id"), canDescribe)
	if err != nil {
		return err
	}
	var patch flow.MetadataPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "nieprawidłowe ciało żądania")
	}
	updated, meta, err := s.engine.PatchMetadata(doc.ID, patch, identityID(c))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, documentResponse{Document: updated, Metadata: meta})
}

type bulkMetadataRequest struct {
	DocumentIDs []string         `json:"document_ids" validate:"required,min=1"`
	Category    *string          `json:"category"`
	Description *string          `json:"description"`
	Tags        model.StringList `json:"tags"`
}

func (s *Server) handleBulkMetadata(c echo.Context) error {
	var req bulkMetadataRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	// Access is checked on the first document's task; the engine routes each
	// document to its own entity database.
	if _, err := s.loadDocument(c, req.DocumentIDs[0], canDescribe); err != nil {
		return err
	}
	updated, err := s.engine.BulkPatchMetadata(req.DocumentIDs, flow.MetadataPatch{
		Category:    req.Category,
		Description: req.Description,
		Tags:        req.Tags,
	}, identityID(c))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "updated": updated})
}

func (s *Server) handleApproveDocument(c echo.Context) error {
	doc, err := s.loadDocument(c, c.Param("id"), canApprove)
	if err != nil {
		return err
	}
	approved, err := s.engine.Approve(doc.ID)
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, approved)
}

func (s *Server) handleDocumentDuplicates(c echo.Context) error {
	doc, err := s.loadDocument(c, c.Param("id"), canView)
	if err != nil {
		return err
	}
	dupes, err := s.engine.DocumentDuplicates(doc.ID)
	if err != nil {
		return domainError(err)
	}
	if dupes == nil {
		dupes = []model.Document{}
	}
	return c.JSON(http.StatusOK, dupes)
}

func (s *Server) handleTaskDuplicates(c echo.Context) error {
	task, _, err := s.taskWithAccess(c, c.Param("id"), canView)
	if err != nil {
		return err
	}
	groups, err := s.engine.TaskDuplicates(task.ID)
	if err != nil {
		return domainError(err)
	}
	if groups == nil {
		groups = []flow.DuplicateGroup{}
	}
	return c.JSON(http.StatusOK, groups)
}
