package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exef-io/exef/adapters"
	"github.com/exef-io/exef/config"
	"github.com/exef-io/exef/model"
	"github.com/exef-io/exef/project"
	"github.com/exef-io/exef/router"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		Service: config.ServiceConfig{Name: "exef-test"},
		Server:  config.ServerConfig{Debug: true},
		Security: config.SecurityConfig{
			JWTSecret:           "test-secret",
			JWTExpiration:       time.Hour,
			MagicLinkExpiration: 15 * time.Minute,
		},
	}
	rt, err := router.Open(router.Config{MainPath: filepath.Join(t.TempDir(), "main.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	require.NoError(t, project.SeedTemplates(rt.Main()))
	return NewServer(cfg, rt, adapters.NewRegistry())
}

func doJSON(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echoHeaderContentType, "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func registerUser(t *testing.T, s *Server, email string) (string, model.Identity) {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/auth/register", "", map[string]any{
		"email":      email,
		"password":   "bardzo tajne hasło",
		"first_name": "Anna",
		"last_name":  "Kowalska",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[authResponse](t, rec)
	return resp.Token, *resp.Identity
}

func createEntity(t *testing.T, s *Server, token, name, nip string) model.Entity {
	t.Helper()
	body := map[string]any{"name": name, "kind": "company"}
	if nip != "" {
		body["nip"] = nip
	}
	rec := doJSON(t, s, http.MethodPost, "/entities", token, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[model.Entity](t, rec)
}

func createKPIRProject(t *testing.T, s *Server, token string, entityID string) fromTemplateResponse {
	t.Helper()
	rec := doJSON(t, s, http.MethodPost, "/projects/from-template", token, map[string]any{
		"entity_id":    entityID,
		"template_id":  "tpl-kpir-monthly",
		"year":         2026,
		"period_start": "2026-01-01",
		"period_end":   "2026-12-31",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[fromTemplateResponse](t, rec)
}

func TestAuthFlow(t *testing.T) {
	s := newTestServer(t)

	token, identity := registerUser(t, s, "anna@example.pl")
	assert.NotEmpty(t, token)
	assert.Equal(t, "anna@example.pl", identity.Email)

	rec := doJSON(t, s, http.MethodPost, "/auth/login", "", map[string]any{
		"email": "anna@example.pl", "password": "bardzo tajne hasło",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/auth/login", "", map[string]any{
		"email": "anna@example.pl", "password": "złe hasło",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/auth/register", "", map[string]any{
		"email": "nie-adres", "password": "x", "first_name": "A", "last_name": "B",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/entities", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMagicLinkLogin(t *testing.T) {
	s := newTestServer(t)
	registerUser(t, s, "anna@example.pl")

	rec := doJSON(t, s, http.MethodPost, "/auth/magic-link", "", map[string]any{
		"email": "anna@example.pl",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[map[string]any](t, rec)
	linkToken, ok := resp["token"].(string)
	require.True(t, ok, "debug mode returns the token inline")

	rec = doJSON(t, s, http.MethodPost, "/auth/magic-link/consume", "", map[string]any{
		"token": linkToken,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[authResponse](t, rec).Token)

	rec = doJSON(t, s, http.MethodPost, "/auth/magic-link/consume", "", map[string]any{
		"token": linkToken,
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProjectFromTemplate(t *testing.T) {
	s := newTestServer(t)
	token, _ := registerUser(t, s, "anna@example.pl")
	entity := createEntity(t, s, token, "Biuro Rachunkowe Alfa", "5213003700")

	created := createKPIRProject(t, s, token, entity.ID)
	require.Len(t, created.Tasks, 12)
	assert.Equal(t, "Styczeń 2026", created.Tasks[0].Name)
	require.NotNil(t, created.Tasks[0].Deadline)
	assert.Equal(t, "2026-02-20", created.Tasks[0].Deadline.Format("2006-01-02"))

	rec := doJSON(t, s, http.MethodGet, "/projects/"+created.Project.ID+"/tasks", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Task](t, rec), 12)

	rec = doJSON(t, s, http.MethodGet, "/projects/"+created.Project.ID+"/sources", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sources := decode[[]model.DataSource](t, rec)
	types := map[string]bool{}
	for _, src := range sources {
		types[src.SourceType] = true
	}
	assert.True(t, types["email"])
	assert.True(t, types["wfirma"])
}

func TestProjectAccessDenied(t *testing.T) {
	s := newTestServer(t)
	ownerToken, _ := registerUser(t, s, "anna@example.pl")
	entity := createEntity(t, s, ownerToken, "Alfa", "")
	created := createKPIRProject(t, s, ownerToken, entity.ID)

	strangerToken, _ := registerUser(t, s, "obcy@example.pl")
	rec := doJSON(t, s, http.MethodGet, "/projects/"+created.Project.ID, strangerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/entities/"+entity.ID, strangerToken, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func uploadCSV(t *testing.T, s *Server, token, taskID, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "dokumenty.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/flow/upload-csv?task_id="+taskID, &buf)
	req.Header.Set(echoHeaderContentType, mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

const uploadFixture = `numer;kontrahent;nip;netto;vat;brutto;data;kategoria
FV/001/2026;Hurtownia Papiernicza Beta;5213003700;1000,00;230,00;1230,00;2026-01-15;Materiały
FV/002/2026;Usługi IT Gamma;5260250274;500,00;115,00;615,00;2026-01-20;Usługi IT
`

func TestDocumentLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	token, _ := registerUser(t, s, "anna@example.pl")
	entity := createEntity(t, s, token, "Alfa", "")
	created := createKPIRProject(t, s, token, entity.ID)
	task := created.Tasks[0]

	rec := uploadCSV(t, s, token, task.ID, uploadFixture)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	upload := decode[map[string]any](t, rec)
	assert.Equal(t, float64(2), upload["imported"])

	rec = doJSON(t, s, http.MethodGet, "/tasks/"+task.ID+"/documents", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	docs := decode[[]model.Document](t, rec)
	require.Len(t, docs, 2)
	assert.NotEmpty(t, docs[0].DocID)

	// Describe both, approve the first.
	ids := []string{docs[0].ID, docs[1].ID}
	rec = doJSON(t, s, http.MethodPatch, "/documents/bulk-metadata", token, map[string]any{
		"document_ids": ids,
		"tags":         []string{"styczeń"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, s, http.MethodPost, "/documents/"+docs[0].ID+"/approve", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.DocApproved, decode[model.Document](t, rec).Status)

	rec = doJSON(t, s, http.MethodGet, "/tasks/"+task.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	fresh := decode[model.Task](t, rec)
	assert.Equal(t, 2, fresh.DocsTotal)
	assert.Equal(t, 2, fresh.DocsDescribed)
	assert.Equal(t, 1, fresh.DocsApproved)

	// Deleting the approved document walks the counters back.
	rec = doJSON(t, s, http.MethodDelete, "/documents/"+docs[0].ID, token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, s, http.MethodGet, "/tasks/"+task.ID, token, nil)
	fresh = decode[model.Task](t, rec)
	assert.Equal(t, 1, fresh.DocsTotal)
	assert.Equal(t, 0, fresh.DocsApproved)
}

func TestExportOverHTTP(t *testing.T) {
	s := newTestServer(t)
	token, _ := registerUser(t, s, "anna@example.pl")
	entity := createEntity(t, s, token, "Alfa", "")
	created := createKPIRProject(t, s, token, entity.ID)
	task := created.Tasks[0]

	rec := uploadCSV(t, s, token, task.ID, uploadFixture)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/projects/"+created.Project.ID+"/sources?direction=export", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var wfirma *model.DataSource
	for _, src := range decode[[]model.DataSource](t, rec) {
		if src.SourceType == "wfirma" {
			s := src
			wfirma = &s
		}
	}
	require.NotNil(t, wfirma)

	// Nothing described yet, so nothing to export.
	rec = doJSON(t, s, http.MethodPost, "/flow/export", token, map[string]any{
		"source_id": wfirma.ID, "task_id": task.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	outcome := decode[exportResponse](t, rec)
	assert.False(t, outcome.OK)
	assert.Equal(t, "Brak opisanych dokumentów do eksportu", outcome.Message)

	rec = doJSON(t, s, http.MethodGet, "/tasks/"+task.ID+"/documents", token, nil)
	docs := decode[[]model.Document](t, rec)
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	rec = doJSON(t, s, http.MethodPatch, "/documents/bulk-metadata", token, map[string]any{
		"document_ids": ids, "category": "Materiały",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/flow/export", token, map[string]any{
		"source_id": wfirma.ID, "task_id": task.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	outcome = decode[exportResponse](t, rec)
	require.True(t, outcome.OK, outcome.Message)
	assert.Equal(t, 2, outcome.DocsExported)
	require.NotNil(t, outcome.Run)

	rec = doJSON(t, s, http.MethodGet, "/export-runs/"+outcome.Run.ID+"/download", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Body.String(), "FV/001/2026")

	rec = doJSON(t, s, http.MethodGet, "/tasks/"+task.ID+"/export-runs", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.ExportRun](t, rec), 1)
}

func TestManualDocumentAndDuplicates(t *testing.T) {
	s := newTestServer(t)
	token, _ := registerUser(t, s, "anna@example.pl")
	entity := createEntity(t, s, token, "Alfa", "")
	created := createKPIRProject(t, s, token, entity.ID)
	task := created.Tasks[2]

	body := map[string]any{
		"task_id":        task.ID,
		"number":         "FV/001/2026",
		"contractor":     "Hurtownia Papiernicza Beta",
		"contractor_nip": "521-300-37-00",
		"amount_gross":   "1500.00",
		"document_date":  "2026-03-05",
	}
	rec := doJSON(t, s, http.MethodPost, "/documents", token, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[documentResponse](t, rec)
	require.NotNil(t, first.Document)
	assert.Contains(t, first.Document.DocID, "DOC-FV-")
	assert.Equal(t, "5213003700", first.Document.ContractorNIP)

	rec = doJSON(t, s, http.MethodPost, "/documents", token, body)
	require.Equal(t, http.StatusCreated, rec.Code)
	second := decode[documentResponse](t, rec)
	assert.Equal(t, first.Document.DocID, second.Document.DocID)

	rec = doJSON(t, s, http.MethodGet, "/documents/"+first.Document.ID+"/duplicates", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dupes := decode[[]model.Document](t, rec)
	require.Len(t, dupes, 1)
	assert.Equal(t, second.Document.ID, dupes[0].ID)

	rec = doJSON(t, s, http.MethodGet, "/tasks/"+task.ID+"/duplicates", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodPost, "/documents", token, map[string]any{
		"task_id": task.ID, "contractor_nip": "1234567890",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRelationsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	token, _ := registerUser(t, s, "anna@example.pl")
	entity := createEntity(t, s, token, "Alfa", "")
	created := createKPIRProject(t, s, token, entity.ID)
	task := created.Tasks[0]

	rec := uploadCSV(t, s, token, task.ID, uploadFixture)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, s, http.MethodGet, "/tasks/"+task.ID+"/documents", token, nil)
	docs := decode[[]model.Document](t, rec)
	require.Len(t, docs, 2)

	rec = doJSON(t, s, http.MethodGet, "/relation-types", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode[[]relationTypeInfo](t, rec))

	rec = doJSON(t, s, http.MethodPost, "/documents/relations", token, map[string]any{
		"parent_id": docs[0].ID, "child_id": docs[1].ID, "relation_type": "payment",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	relation := decode[model.DocumentRelation](t, rec)

	rec = doJSON(t, s, http.MethodGet, "/relations/documents/"+docs[1].ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ctxRelations := decode[[]relationWithContext](t, rec)
	require.Len(t, ctxRelations, 1)
	assert.Equal(t, docs[0].ID, ctxRelations[0].Linked.ID)
	assert.Equal(t, "child", ctxRelations[0].Role)

	rec = doJSON(t, s, http.MethodPost, "/documents/relations", token, map[string]any{
		"parent_id": docs[0].ID, "child_id": docs[0].ID, "relation_type": "payment",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doJSON(t, s, http.MethodDelete, "/documents/relations/"+relation.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSearchAndMatch(t *testing.T) {
	s := newTestServer(t)
	token, _ := registerUser(t, s, "anna@example.pl")
	entity := createEntity(t, s, token, "Alfa", "")
	invoices := createKPIRProject(t, s, token, entity.ID)

	// A second project holds the bank side of the same transaction.
	rec := doJSON(t, s, http.MethodPost, "/entities/"+entity.ID+"/projects", token, map[string]any{
		"name": "Płatności 2026", "kind": "payments_in", "year": 2026,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	payments := decode[model.Project](t, rec)

	rec = doJSON(t, s, http.MethodPost, "/projects/"+payments.ID+"/tasks", token, map[string]any{
		"name": "Styczeń 2026", "period_start": "2026-01-01", "period_end": "2026-01-31",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	paymentTask := decode[model.Task](t, rec)

	rec = doJSON(t, s, http.MethodPost, "/documents", token, map[string]any{
		"task_id":        invoices.Tasks[0].ID,
		"number":         "FV/77/2026",
		"contractor":     "Hurtownia Papiernicza Beta",
		"contractor_nip": "5213003700",
		"amount_gross":   "1230.00",
		"document_date":  "2026-01-15",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	invoice := decode[documentResponse](t, rec)

	rec = doJSON(t, s, http.MethodPost, "/documents", token, map[string]any{
		"task_id":        paymentTask.ID,
		"doc_type":       "payment_in",
		"contractor":     "HURTOWNIA PAPIERNICZA BETA",
		"contractor_nip": "5213003700",
		"amount_gross":   "1230.00",
		"document_date":  "2026-01-18",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	payment := decode[documentResponse](t, rec)

	rec = doJSON(t, s, http.MethodGet,
		fmt.Sprintf("/search/documents?q=papiernicza&entity_id=%s", entity.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Document](t, rec), 2)

	rec = doJSON(t, s, http.MethodGet,
		fmt.Sprintf("/search/documents?q=papiernicza&entity_id=%s&exclude_project_id=%s",
			entity.ID, payments.ID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.Document](t, rec), 1)

	rec = doJSON(t, s, http.MethodGet, "/match/documents/"+invoice.Document.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	suggestions := decode[[]matchSuggestion](t, rec)
	require.NotEmpty(t, suggestions)
	assert.Equal(t, payment.Document.ID, suggestions[0].Document.ID)
	// NIP, exact gross, case-insensitive name and a 3-day date gap.
	assert.InDelta(t, 1.0, suggestions[0].Score, 0.001)
}

func TestSourceManagement(t *testing.T) {
	s := newTestServer(t)
	token, _ := registerUser(t, s, "anna@example.pl")
	entity := createEntity(t, s, token, "Alfa", "")
	created := createKPIRProject(t, s, token, entity.ID)

	rec := doJSON(t, s, http.MethodGet, "/source-types", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	catalogue := decode[sourceTypesResponse](t, rec)
	assert.NotEmpty(t, catalogue.ImportTypes)
	assert.NotEmpty(t, catalogue.ExportTypes)

	rec = doJSON(t, s, http.MethodPost, "/projects/"+created.Project.ID+"/sources", token, map[string]any{
		"direction":   "import",
		"source_type": "csv",
		"name":        "Faktury CSV",
		"config":      map[string]string{"content": uploadFixture},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	src := decode[model.DataSource](t, rec)

	rec = doJSON(t, s, http.MethodPost, "/sources/"+src.ID+"/test-connection", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[adapters.ConnectionStatus](t, rec)
	assert.True(t, status.OK)
	assert.NotEmpty(t, status.Message)

	rec = doJSON(t, s, http.MethodPost, "/flow/import", token, map[string]any{
		"source_id": src.ID, "task_id": created.Tasks[0].ID,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	run := decode[model.ImportRun](t, rec)
	assert.Equal(t, model.RunSuccess, run.Status)
	assert.Equal(t, 2, run.DocsImported)

	rec = doJSON(t, s, http.MethodGet, "/tasks/"+created.Tasks[0].ID+"/import-runs", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]model.ImportRun](t, rec), 1)

	rec = doJSON(t, s, http.MethodPatch, "/sources/"+src.ID, token, map[string]any{
		"name": "Inna nazwa", "active": false,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Inna nazwa", decode[model.DataSource](t, rec).Name)

	rec = doJSON(t, s, http.MethodDelete, "/sources/"+src.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func newPerEntityTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Service: config.ServiceConfig{Name: "exef-test"},
		Server:  config.ServerConfig{Debug: true},
		Security: config.SecurityConfig{
			JWTSecret:           "test-secret",
			JWTExpiration:       time.Hour,
			MagicLinkExpiration: 15 * time.Minute,
		},
		Sync: config.SyncConfig{
			RemoteURL:   "https://sync.example.pl/{nip}",
			Direction:   "local_to_remote",
			IntervalMin: 30,
		},
	}
	rt, err := router.Open(router.Config{
		MainPath:  filepath.Join(dir, "main.db"),
		PerEntity: true,
		EntityDir: dir,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	require.NoError(t, project.SeedTemplates(rt.Main()))
	return NewServer(cfg, rt, adapters.NewRegistry())
}

func TestEntityDatabaseConfig(t *testing.T) {
	s := newPerEntityTestServer(t)
	token, _ := registerUser(t, s, "wlasciciel@example.pl")
	entity := createEntity(t, s, token, "Biuro Alfa", "5213003700")

	rec := doJSON(t, s, http.MethodGet, "/entities/"+entity.ID+"/database", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	row := decode[model.EntityDatabase](t, rec)
	assert.Equal(t, entity.ID, row.EntityID)
	assert.Contains(t, row.LocalURL, "sqlite://")
	assert.Equal(t, "https://sync.example.pl/5213003700", row.RemoteURL)
	assert.False(t, row.SyncEnabled)

	rec = doJSON(t, s, http.MethodPatch, "/entities/"+entity.ID+"/database", token, map[string]any{
		"sync_enabled":      true,
		"sync_direction":    "bidirectional",
		"sync_interval_min": 5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	row = decode[model.EntityDatabase](t, rec)
	assert.True(t, row.SyncEnabled)
	assert.Equal(t, model.SyncBidirectional, row.SyncDirection)
	assert.Equal(t, 5, row.SyncIntervalMin)

	rec = doJSON(t, s, http.MethodPatch, "/entities/"+entity.ID+"/database", token, map[string]any{
		"sync_direction": "sideways",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	stranger, _ := registerUser(t, s, "obcy@example.pl")
	rec = doJSON(t, s, http.MethodPatch, "/entities/"+entity.ID+"/database", stranger, map[string]any{
		"sync_enabled": false,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEntityDatabaseAbsentInSharedMode(t *testing.T) {
	s := newTestServer(t)
	token, _ := registerUser(t, s, "ksiegowa@example.pl")
	entity := createEntity(t, s, token, "Biuro Beta", "5260250274")

	rec := doJSON(t, s, http.MethodGet, "/entities/"+entity.ID+"/database", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
