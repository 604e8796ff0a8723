package flow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/exef-io/exef/adapters"
	"github.com/exef-io/exef/model"
	"github.com/exef-io/exef/router"
)

func newTestEngine(t *testing.T) (*Engine, *gorm.DB) {
	t.Helper()
	rt, err := router.Open(router.Config{MainPath: filepath.Join(t.TempDir(), "main.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return New(rt, adapters.NewRegistry()), rt.Main()
}

func seedTask(t *testing.T, db *gorm.DB) model.Task {
	t.Helper()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	task := model.Task{
		ID:             model.NewID(),
		ProjectID:      model.NewID(),
		Name:           "Styczeń 2026",
		PeriodStart:    &start,
		PeriodEnd:      &end,
		Status:         model.TaskPending,
		ImportStatus:   model.PhaseNotStarted,
		DescribeStatus: model.PhaseNotStarted,
		ExportStatus:   model.PhaseNotStarted,
	}
	require.NoError(t, db.Create(&task).Error)
	return task
}

func seedSource(t *testing.T, db *gorm.DB, dir model.SourceDirection, sourceType string, config model.StringMap) model.DataSource {
	t.Helper()
	src := model.DataSource{
		ID:         model.NewID(),
		ProjectID:  model.NewID(),
		Direction:  dir,
		SourceType: sourceType,
		Name:       sourceType + " testowe",
		Config:     config,
		Active:     true,
	}
	require.NoError(t, db.Create(&src).Error)
	return src
}

const fiveRowCSV = "numer;kontrahent;nip;kwota brutto;data\n" +
	"FV/1/2026;ALFA;5213003700;100,00;2026-01-05\n" +
	"FV/2/2026;BETA;;200,00;2026-01-10\n" +
	"FV/3/2026;GAMMA;;300,00;2026-01-12\n" +
	"FV/4/2026;DELTA;;400,00;2026-01-20\n" +
	"FV/5/2026;EPSILON;;500,00;2026-01-28\n"

func TestRunImportUpdatesCounters(t *testing.T) {
	e, db := newTestEngine(t)
	task := seedTask(t, db)
	src := seedSource(t, db, model.DirectionImport, "csv", model.StringMap{"content": fiveRowCSV})

	run, err := e.RunImport(context.Background(), src.ID, task.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.RunSuccess, run.Status)
	assert.Equal(t, 5, run.DocsFound)
	assert.Equal(t, 5, run.DocsImported)
	require.NotNil(t, run.FinishedAt)

	var fresh model.Task
	require.NoError(t, db.First(&fresh, "id = ?", task.ID).Error)
	assert.Equal(t, 5, fresh.DocsTotal)
	assert.Equal(t, 0, fresh.DocsDescribed)
	assert.Equal(t, model.TaskInProgress, fresh.Status)
	assert.Equal(t, model.PhaseInProgress, fresh.ImportStatus)

	var docs []model.Document
	require.NoError(t, db.Where("task_id = ?", task.ID).Find(&docs).Error)
	require.Len(t, docs, 5)
	for _, doc := range docs {
		assert.Equal(t, model.DocNew, doc.Status)
		assert.NotEmpty(t, doc.DocID)
		var meta model.DocumentMetadata
		require.NoError(t, db.First(&meta, "document_id = ?", doc.ID).Error)
	}

	var freshSrc model.DataSource
	require.NoError(t, db.First(&freshSrc, "id = ?", src.ID).Error)
	assert.Equal(t, string(model.RunSuccess), freshSrc.LastRunStatus)
	assert.Equal(t, 5, freshSrc.LastRunCount)
	require.NotNil(t, freshSrc.LastRunAt)
}

func TestRunImportFetchErrorLeavesCounters(t *testing.T) {
	e, db := newTestEngine(t)
	task := seedTask(t, db)
	// A statement without an amount column makes the bank adapter fail.
	src := seedSource(t, db, model.DirectionImport, "bank", model.StringMap{"content": "data;opis\n2026-01-05;przelew\n"})

	run, err := e.RunImport(context.Background(), src.ID, task.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.RunError, run.Status)
	require.Len(t, run.Errors, 1)

	var fresh model.Task
	require.NoError(t, db.First(&fresh, "id = ?", task.ID).Error)
	assert.Zero(t, fresh.DocsTotal)
	assert.Equal(t, model.TaskPending, fresh.Status)

	var freshSrc model.DataSource
	require.NoError(t, db.First(&freshSrc, "id = ?", src.ID).Error)
	assert.Equal(t, string(model.RunError), freshSrc.LastRunStatus)
	assert.NotEmpty(t, freshSrc.LastRunError)
}

func TestRunImportMockFallback(t *testing.T) {
	e, db := newTestEngine(t)
	task := seedTask(t, db)
	src := seedSource(t, db, model.DirectionImport, "fax", model.StringMap{})

	run, err := e.RunImport(context.Background(), src.ID, task.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.RunSuccess, run.Status)
	assert.Equal(t, 3, run.DocsImported)
}

func TestRunImportValidation(t *testing.T) {
	e, db := newTestEngine(t)
	task := seedTask(t, db)
	exportSrc := seedSource(t, db, model.DirectionExport, "csv", model.StringMap{})

	_, err := e.RunImport(context.Background(), "missing", task.ID, "u1")
	assert.ErrorIs(t, err, ErrSourceNotFound)

	_, err = e.RunImport(context.Background(), exportSrc.ID, task.ID, "u1")
	assert.ErrorIs(t, err, ErrWrongDirection)

	importSrc := seedSource(t, db, model.DirectionImport, "csv", model.StringMap{"content": fiveRowCSV})
	_, err = e.RunImport(context.Background(), importSrc.ID, "missing", "u1")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestRunExportNothingToExport(t *testing.T) {
	e, db := newTestEngine(t)
	task := seedTask(t, db)
	importSrc := seedSource(t, db, model.DirectionImport, "csv", model.StringMap{"content": fiveRowCSV})
	exportSrc := seedSource(t, db, model.DirectionExport, "csv", model.StringMap{})

	_, err := e.RunImport(context.Background(), importSrc.ID, task.ID, "u1")
	require.NoError(t, err)

	// All documents are still new, nothing qualifies.
	outcome, err := e.RunExport(context.Background(), exportSrc.ID, task.ID, nil, "u1")
	require.NoError(t, err)
	assert.False(t, outcome.OK)
	assert.Equal(t, NothingToExportMessage, outcome.Message)
	assert.Zero(t, outcome.DocsExported)

	var runCount int64
	require.NoError(t, db.Model(&model.ExportRun{}).Count(&runCount).Error)
	assert.Zero(t, runCount)

	var fresh model.Task
	require.NoError(t, db.First(&fresh, "id = ?", task.ID).Error)
	assert.Equal(t, model.TaskInProgress, fresh.Status)
}

func TestRunExportDescribedDocuments(t *testing.T) {
	e, db := newTestEngine(t)
	task := seedTask(t, db)
	importSrc := seedSource(t, db, model.DirectionImport, "csv", model.StringMap{"content": fiveRowCSV})
	exportSrc := seedSource(t, db, model.DirectionExport, "csv", model.StringMap{})

	_, err := e.RunImport(context.Background(), importSrc.ID, task.ID, "u1")
	require.NoError(t, err)

	var docs []model.Document
	require.NoError(t, db.Where("task_id = ?", task.ID).Order("number").Find(&docs).Error)
	category := "usługi"
	for _, doc := range docs[:2] {
		_, _, err := e.PatchMetadata(doc.ID, MetadataPatch{Category: &category}, "u1")
		require.NoError(t, err)
	}

	outcome, err := e.RunExport(context.Background(), exportSrc.ID, task.ID, nil, "u1")
	require.NoError(t, err)
	require.True(t, outcome.OK)
	assert.Equal(t, 2, outcome.DocsExported)
	require.NotNil(t, outcome.Run)
	assert.Equal(t, "csv", outcome.Run.Format)
	assert.NotEmpty(t, outcome.Run.Content)
	assert.NotEmpty(t, outcome.Run.Filename)

	var fresh model.Task
	require.NoError(t, db.First(&fresh, "id = ?", task.ID).Error)
	assert.Equal(t, 5, fresh.DocsTotal)
	assert.Equal(t, 2, fresh.DocsDescribed)
	assert.Equal(t, 2, fresh.DocsApproved)
	assert.Equal(t, 2, fresh.DocsExported)
	// Not all documents are exported yet.
	assert.Equal(t, model.TaskInProgress, fresh.Status)
	assertCounterInvariant(t, fresh)

	var exported int64
	require.NoError(t, db.Model(&model.Document{}).
		Where("task_id = ? AND status = ?", task.ID, model.DocExported).
		Count(&exported).Error)
	assert.EqualValues(t, 2, exported)
}

func TestRunExportCompletesTask(t *testing.T) {
	e, db := newTestEngine(t)
	task := seedTask(t, db)
	importSrc := seedSource(t, db, model.DirectionImport, "csv", model.StringMap{"content": fiveRowCSV})
	exportSrc := seedSource(t, db, model.DirectionExport, "csv", model.StringMap{})

	_, err := e.RunImport(context.Background(), importSrc.ID, task.ID, "u1")
	require.NoError(t, err)

	var docs []model.Document
	require.NoError(t, db.Where("task_id = ?", task.ID).Find(&docs).Error)
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}

	// Explicit selection exports documents regardless of review status.
	outcome, err := e.RunExport(context.Background(), exportSrc.ID, task.ID, ids, "u1")
	require.NoError(t, err)
	require.True(t, outcome.OK)
	assert.Equal(t, 5, outcome.DocsExported)

	var fresh model.Task
	require.NoError(t, db.First(&fresh, "id = ?", task.ID).Error)
	assert.Equal(t, model.TaskExported, fresh.Status)
	assert.Equal(t, model.PhaseCompleted, fresh.ExportStatus)
	assertCounterInvariant(t, fresh)
}

func TestRunExportRepeatedSelectionKeepsCounters(t *testing.T) {
	e, db := newTestEngine(t)
	task := seedTask(t, db)
	importSrc := seedSource(t, db, model.DirectionImport, "csv", model.StringMap{"content": fiveRowCSV})
	exportSrc := seedSource(t, db, model.DirectionExport, "csv", model.StringMap{})

	_, err := e.RunImport(context.Background(), importSrc.ID, task.ID, "u1")
	require.NoError(t, err)

	var docs []model.Document
	require.NoError(t, db.Where("task_id = ?", task.ID).Find(&docs).Error)
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}

	// Re-exporting the same selection (retry, another format) must not move
	// the counters a second time.
	for i := 0; i < 2; i++ {
		outcome, err := e.RunExport(context.Background(), exportSrc.ID, task.ID, ids, "u1")
		require.NoError(t, err)
		require.True(t, outcome.OK)
		assert.Equal(t, 5, outcome.DocsExported)
	}

	var fresh model.Task
	require.NoError(t, db.First(&fresh, "id = ?", task.ID).Error)
	assert.Equal(t, 5, fresh.DocsTotal)
	assert.Equal(t, 5, fresh.DocsDescribed)
	assert.Equal(t, 5, fresh.DocsApproved)
	assert.Equal(t, 5, fresh.DocsExported)
	assertCounterInvariant(t, fresh)

	var runCount int64
	require.NoError(t, db.Model(&model.ExportRun{}).Count(&runCount).Error)
	assert.EqualValues(t, 2, runCount)
}

func TestRunExportConfigurationFailure(t *testing.T) {
	e, db := newTestEngine(t)
	task := seedTask(t, db)
	importSrc := seedSource(t, db, model.DirectionImport, "csv", model.StringMap{"content": fiveRowCSV})
	// JPK without subject configuration fails at export time.
	exportSrc := seedSource(t, db, model.DirectionExport, "jpk_pkpir", model.StringMap{})

	_, err := e.RunImport(context.Background(), importSrc.ID, task.ID, "u1")
	require.NoError(t, err)
	var docs []model.Document
	require.NoError(t, db.Where("task_id = ?", task.ID).Find(&docs).Error)
	category := "towary"
	_, _, err = e.PatchMetadata(docs[0].ID, MetadataPatch{Category: &category}, "u1")
	require.NoError(t, err)

	outcome, err := e.RunExport(context.Background(), exportSrc.ID, task.ID, nil, "u1")
	require.NoError(t, err)
	assert.False(t, outcome.OK)
	assert.Contains(t, outcome.Message, "company_nip")

	var runCount int64
	require.NoError(t, db.Model(&model.ExportRun{}).Count(&runCount).Error)
	assert.Zero(t, runCount)
}

func assertCounterInvariant(t *testing.T, task model.Task) {
	t.Helper()
	assert.GreaterOrEqual(t, task.DocsTotal, task.DocsDescribed)
	assert.GreaterOrEqual(t, task.DocsDescribed, task.DocsApproved)
	assert.GreaterOrEqual(t, task.DocsApproved, task.DocsExported)
	assert.GreaterOrEqual(t, task.DocsExported, 0)
}
