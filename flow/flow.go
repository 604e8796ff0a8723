// Package flow orchestrates import and export runs: it executes an adapter,
// persists the run-history row, creates or marks documents and advances the
// owning task's counters and phase statuses. All writes of one run commit in
// a single transaction on the entity database.
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/exef-io/exef/adapters"
	"github.com/exef-io/exef/common"
	"github.com/exef-io/exef/model"
	"github.com/exef-io/exef/router"
)

// Sentinel errors the HTTP layer maps onto status codes.
var (
	ErrSourceNotFound   = errors.New("nie znaleziono źródła danych")
	ErrTaskNotFound     = errors.New("nie znaleziono zadania")
	ErrDocumentNotFound = errors.New("nie znaleziono dokumentu")
	ErrWrongDirection   = errors.New("źródło ma niewłaściwy kierunek dla tej operacji")
)

// NothingToExportMessage is returned when no document qualifies for export.
const NothingToExportMessage = "Brak opisanych dokumentów do eksportu"

// Engine executes flow runs against the routed entity databases.
type Engine struct {
	router   *router.Router
	registry *adapters.Registry
}

// New builds a flow engine.
func New(rt *router.Router, reg *adapters.Registry) *Engine {
	return &Engine{router: rt, registry: reg}
}

// documentFromRecord maps one adapter record onto a document row plus its
// metadata side-car. The metadata row always exists, possibly empty, so that
// readers never need a nil check.
func documentFromRecord(taskID string, rec adapters.ImportRecord) (model.Document, model.DocumentMetadata) {
	kind := rec.Kind
	if kind == "" {
		kind = model.KindInvoice
	}
	currency := rec.Currency
	if currency == "" {
		currency = "PLN"
	}
	doc := model.Document{
		ID:            model.NewID(),
		TaskID:        taskID,
		Kind:          kind,
		Number:        rec.Number,
		Contractor:    rec.Contractor,
		ContractorNIP: model.NormalizeNIP(rec.ContractorNIP),
		AmountNet:     rec.AmountNet,
		AmountVAT:     rec.AmountVAT,
		AmountGross:   rec.AmountGross,
		Currency:      currency,
		DocumentDate:  rec.DocumentDate,
		SourceType:    rec.SourceType,
		SourceRecID:   rec.SourceID,
		OriginalName:  rec.OriginalFilename,
		FilePath:      rec.OriginalFilename,
		Status:        model.DocNew,
	}
	date := ""
	if rec.DocumentDate != nil {
		date = rec.DocumentDate.Format("2006-01-02")
	}
	if id, ok := model.GenerateDocID(doc.ContractorNIP, doc.Number, date, model.AmountString(doc.AmountGross), kind); ok {
		doc.DocID = id
	}
	meta := model.DocumentMetadata{
		ID:          model.NewID(),
		DocumentID:  doc.ID,
		Category:    rec.Category,
		Description: rec.Description,
		Version:     1,
	}
	return doc, meta
}

// createDocuments inserts documents with their metadata rows and applies the
// additive counter and phase updates on the task.
func createDocuments(tx *gorm.DB, task *model.Task, records []adapters.ImportRecord) ([]model.Document, error) {
	docs := make([]model.Document, 0, len(records))
	for _, rec := range records {
		doc, meta := documentFromRecord(task.ID, rec)
		if err := tx.Create(&doc).Error; err != nil {
			return nil, fmt.Errorf("failed to create document: %w", err)
		}
		if err := tx.Create(&meta).Error; err != nil {
			return nil, fmt.Errorf("failed to create document metadata: %w", err)
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return docs, nil
	}
	if err := tx.Model(&model.Task{}).Where("id = ?", task.ID).
		Update("docs_total", gorm.Expr("docs_total + ?", len(docs))).Error; err != nil {
		return nil, fmt.Errorf("failed to update task counters: %w", err)
	}
	if err := tx.Model(&model.Task{}).Where("id = ? AND import_status = ?", task.ID, model.PhaseNotStarted).
		Update("import_status", model.PhaseInProgress).Error; err != nil {
		return nil, err
	}
	if err := tx.Model(&model.Task{}).Where("id = ? AND status = ?", task.ID, model.TaskPending).
		Update("status", model.TaskInProgress).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// routeDocuments records routing rows for freshly created documents so that
// per-entity lookups resolve them without the main-database fallback.
func (e *Engine) routeDocuments(taskID string, docs []model.Document) {
	nip := e.router.ResourceNIP(taskID)
	if nip == "" {
		return
	}
	for _, doc := range docs {
		if err := e.router.Route(doc.ID, nip, "document"); err != nil {
			common.Logger.WithError(err).WithField("document", doc.ID).Warn("failed to route document")
		}
	}
}

func (e *Engine) updateSourceRun(db *gorm.DB, sourceID string, status model.RunStatus, count int, errText string) {
	now := time.Now()
	updates := map[string]any{
		"last_run_at":     &now,
		"last_run_status": string(status),
		"last_run_count":  count,
		"last_run_error":  errText,
	}
	if err := db.Model(&model.DataSource{}).Where("id = ?", sourceID).Updates(updates).Error; err != nil {
		common.Logger.WithError(err).WithField("source", sourceID).Warn("failed to update source run metadata")
	}
}

// RunImport executes one import run: fetch, document creation, counters, run
// history. Adapter failures finish the run with status error and are not
// returned as Go errors; the caller serves the failed run body.
func (e *Engine) RunImport(ctx context.Context, sourceID, taskID, triggeredBy string) (*model.ImportRun, error) {
	db, err := e.router.ForResource(taskID)
	if err != nil {
		return nil, err
	}
	var source model.DataSource
	if err := db.First(&source, "id = ?", sourceID).Error; err != nil {
		return nil, ErrSourceNotFound
	}
	if source.Direction != model.DirectionImport {
		return nil, ErrWrongDirection
	}
	var task model.Task
	if err := db.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, ErrTaskNotFound
	}

	run := model.ImportRun{
		ID:          model.NewID(),
		SourceID:    sourceID,
		TaskID:      taskID,
		Status:      model.RunRunning,
		StartedAt:   time.Now(),
		TriggeredBy: triggeredBy,
	}
	// The running row is committed before the fetch so that a crash leaves a
	// visible trace in the run history.
	if err := db.Create(&run).Error; err != nil {
		return nil, fmt.Errorf("failed to create import run: %w", err)
	}

	imp, ok := e.registry.Importer(source.SourceType, source.Config, source.Name)
	if !ok {
		imp = adapters.NewMockImporter(source.SourceType, source.Name)
	}

	records, fetchErr := imp.Fetch(ctx, task.PeriodStart, task.PeriodEnd)
	now := time.Now()
	if fetchErr != nil {
		run.Status = model.RunError
		run.Errors = model.StringList{fetchErr.Error()}
		run.FinishedAt = &now
		if err := db.Save(&run).Error; err != nil {
			return nil, fmt.Errorf("failed to persist failed run: %w", err)
		}
		e.updateSourceRun(db, sourceID, model.RunError, 0, fetchErr.Error())
		common.Logger.WithError(fetchErr).WithField("source", source.Name).Warn("import fetch failed")
		return &run, nil
	}

	var docs []model.Document
	err = db.Transaction(func(tx *gorm.DB) error {
		docs, err = createDocuments(tx, &task, records)
		if err != nil {
			return err
		}
		run.Status = model.RunSuccess
		run.DocsFound = len(records)
		run.DocsImported = len(docs)
		run.DocsSkipped = len(records) - len(docs)
		run.FinishedAt = &now
		return tx.Save(&run).Error
	})
	if err != nil {
		return nil, err
	}
	e.routeDocuments(taskID, docs)
	e.updateSourceRun(db, sourceID, model.RunSuccess, len(docs), "")

	common.Logger.WithField("source", source.Name).
		WithField("task", task.Name).
		WithField("imported", len(docs)).
		Info("import run finished")
	return &run, nil
}

// ExportOutcome is the result of an export attempt. When OK is false nothing
// was exported and no run was recorded.
type ExportOutcome struct {
	OK           bool             `json:"ok"`
	Message      string           `json:"message,omitempty"`
	DocsExported int              `json:"docs_exported"`
	Run          *model.ExportRun `json:"run,omitempty"`
}

// selectExportDocuments loads the export candidates: the explicit ID list
// when given, otherwise every described or approved document of the task.
func selectExportDocuments(db *gorm.DB, taskID string, documentIDs []string) ([]model.Document, error) {
	var docs []model.Document
	q := db.Where("task_id = ?", taskID)
	if len(documentIDs) > 0 {
		q = q.Where("id IN ?", documentIDs)
	} else {
		q = q.Where("status IN ?", []model.DocumentStatus{model.DocDescribed, model.DocApproved})
	}
	if err := q.Order("created_at").Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// RunExport executes one export run. An empty selection or a configuration
// failure yields an outcome with OK false and records no run.
func (e *Engine) RunExport(ctx context.Context, sourceID, taskID string, documentIDs []string, triggeredBy string) (*ExportOutcome, error) {
	db, err := e.router.ForResource(taskID)
	if err != nil {
		return nil, err
	}
	var source model.DataSource
	if err := db.First(&source, "id = ?", sourceID).Error; err != nil {
		return nil, ErrSourceNotFound
	}
	if source.Direction != model.DirectionExport {
		return nil, ErrWrongDirection
	}
	var task model.Task
	if err := db.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, ErrTaskNotFound
	}

	docs, err := selectExportDocuments(db, taskID, documentIDs)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return &ExportOutcome{OK: false, Message: NothingToExportMessage}, nil
	}

	exp, ok := e.registry.Exporter(source.SourceType, source.Config, source.Name)
	if !ok {
		return &ExportOutcome{OK: false, Message: fmt.Sprintf("nieznany typ eksportu: %s", source.SourceType)}, nil
	}

	payload := make([]adapters.ExportDocument, 0, len(docs))
	for _, doc := range docs {
		var meta model.DocumentMetadata
		_ = db.First(&meta, "document_id = ?", doc.ID).Error
		payload = append(payload, adapters.ExportDocument{
			Document:    doc,
			Category:    meta.Category,
			Description: meta.Description,
		})
	}

	result, err := exp.Export(payload, task.Name)
	if err != nil {
		// Configuration failures surface to the caller, nothing committed.
		return &ExportOutcome{OK: false, Message: err.Error()}, nil
	}

	now := time.Now()
	run := model.ExportRun{
		ID:           model.NewID(),
		SourceID:     sourceID,
		TaskID:       taskID,
		Status:       model.RunSuccess,
		StartedAt:    now,
		FinishedAt:   &now,
		TriggeredBy:  triggeredBy,
		DocsExported: result.DocsExported,
		Format:       result.Format,
		Filename:     result.Filename,
		Content:      result.Content,
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		// Documents skip forward to exported; intermediate counters advance
		// with them so the counter chain stays monotone.
		var newlyDescribed, newlyApproved, newlyExported int64
		for _, doc := range docs {
			if model.StatusRank(doc.Status) < model.StatusRank(model.DocDescribed) {
				newlyDescribed++
			}
			if model.StatusRank(doc.Status) < model.StatusRank(model.DocApproved) {
				newlyApproved++
			}
			if model.StatusRank(doc.Status) < model.StatusRank(model.DocExported) {
				newlyExported++
			}
		}
		ids := make([]string, len(docs))
		for i, doc := range docs {
			ids[i] = doc.ID
		}
		if err := tx.Model(&model.Document{}).Where("id IN ?", ids).
			Update("status", model.DocExported).Error; err != nil {
			return err
		}
		if err := tx.Model(&model.Task{}).Where("id = ?", task.ID).Updates(map[string]any{
			"docs_described": gorm.Expr("docs_described + ?", newlyDescribed),
			"docs_approved":  gorm.Expr("docs_approved + ?", newlyApproved),
			"docs_exported":  gorm.Expr("docs_exported + ?", newlyExported),
		}).Error; err != nil {
			return err
		}
		var fresh model.Task
		if err := tx.First(&fresh, "id = ?", task.ID).Error; err != nil {
			return err
		}
		if fresh.DocsTotal > 0 && fresh.DocsExported >= fresh.DocsTotal {
			if err := tx.Model(&model.Task{}).Where("id = ?", task.ID).Updates(map[string]any{
				"export_status": model.PhaseCompleted,
				"status":        model.TaskExported,
			}).Error; err != nil {
				return err
			}
		}
		return tx.Create(&run).Error
	})
	if err != nil {
		return nil, err
	}
	e.updateSourceRun(db, sourceID, model.RunSuccess, len(docs), "")
	if nip := e.router.ResourceNIP(taskID); nip != "" {
		if err := e.router.Route(run.ID, nip, "export_run"); err != nil {
			common.Logger.WithError(err).WithField("run", run.ID).Warn("failed to route export run")
		}
	}

	common.Logger.WithField("source", source.Name).
		WithField("task", task.Name).
		WithField("exported", len(docs)).
		Info("export run finished")
	return &ExportOutcome{OK: true, DocsExported: len(docs), Run: &run}, nil
}
