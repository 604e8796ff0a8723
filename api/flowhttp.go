package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"golang.org/x/text/encoding/charmap"

	"github.com/exef-io/exef/model"
)

type importRequest struct {
	SourceID string `json:"source_id" validate:"required"`
	TaskID   string `json:"task_id" validate:"required"`
}

func (s *Server) handleFlowImport(c echo.Context) error {
	var req importRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if _, _, err := s.taskWithAccess(c, req.TaskID, canDescribe); err != nil {
		return err
	}
	// Adapter failures come back inside the run row with a 200 so clients can
	// show the run history; only validation errors reject the request.
	run, err := s.engine.RunImport(c.Request().Context(), req.SourceID, req.TaskID, identityID(c))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, run)
}

type exportRequest struct {
	SourceID    string   `json:"source_id" validate:"required"`
	TaskID      string   `json:"task_id" validate:"required"`
	DocumentIDs []string `json:"document_ids"`
}

type exportResponse struct {
	OK           bool             `json:"ok"`
	Message      string           `json:"message,omitempty"`
	DocsExported int              `json:"docs_exported"`
	Run          *model.ExportRun `json:"run,omitempty"`
}

func (s *Server) handleFlowExport(c echo.Context) error {
	var req exportRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if _, _, err := s.taskWithAccess(c, req.TaskID, canExport); err != nil {
		return err
	}
	outcome, err := s.engine.RunExport(c.Request().Context(), req.SourceID, req.TaskID, req.DocumentIDs, identityID(c))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, exportResponse{
		OK:           outcome.OK,
		Message:      outcome.Message,
		DocsExported: outcome.DocsExported,
		Run:          outcome.Run,
	})
}

func (s *Server) handleUploadCSV(c echo.Context) error {
	taskID := c.QueryParam("task_id")
	if taskID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "brak parametru task_id")
	}
	if _, _, err := s.taskWithAccess(c, taskID, canDescribe); err != nil {
		return err
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "brak pliku w żądaniu")
	}
	file, err := fileHeader.Open()
	if err != nil {
		return err
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	result, err := s.engine.UploadCSV(taskID, fileHeader.Filename, data, identityID(c))
	if err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleListImportRuns(c echo.Context) error {
	task, edb, err := s.taskWithAccess(c, c.Param("id"), canView)
	if err != nil {
		return err
	}
	runs := []model.ImportRun{}
	if err := edb.Where("task_id = ?", task.ID).
		Order("started_at DESC").Find(&runs).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleListExportRuns(c echo.Context) error {
	task, edb, err := s.taskWithAccess(c, c.Param("id"), canView)
	if err != nil {
		return err
	}
	runs := []model.ExportRun{}
	if err := edb.Where("task_id = ?", task.ID).
		Order("started_at DESC").Find(&runs).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

// handleDownloadExport streams the stored artifact. Symfonia output is
// re-encoded to Windows-1250, the encoding the software expects on disk.
func (s *Server) handleDownloadExport(c echo.Context) error {
	runID := c.Param("id")
	edb, err := scopeFrom(c).ForResource(runID)
	if err != nil {
		return err
	}
	var run model.ExportRun
	if err := edb.First(&run, "id = ?", runID).Error; err != nil {
		return domainError(err)
	}
	if _, _, err := s.taskWithAccess(c, run.TaskID, canView); err != nil {
		return err
	}
	var source model.DataSource
	_ = edb.First(&source, "id = ?", run.SourceID).Error

	contentType := "text/csv; charset=utf-8"
	if run.Format == "xml" {
		contentType = "application/xml; charset=utf-8"
	}
	payload := []byte(run.Content)
	if source.SourceType == "symfonia" {
		encoded, err := charmap.Windows1250.NewEncoder().Bytes(payload)
		if err == nil {
			payload = encoded
			contentType = "text/csv; charset=windows-1250"
		}
	}

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s"`, run.Filename))
	return c.Blob(http.StatusOK, contentType, payload)
}
