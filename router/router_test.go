package router

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/exef-io/exef/model"
)

func newTestRouter(t *testing.T, perEntity bool) *Router {
	t.Helper()
	dir := t.TempDir()
	r, err := Open(Config{
		MainPath:  filepath.Join(dir, "main.db"),
		PerEntity: perEntity,
		EntityDir: dir,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// TestSharedMode tests that every resolution yields the main database
func TestSharedMode(t *testing.T) {
	r := newTestRouter(t, false)

	db, err := r.ForNIP("5213003700")
	require.NoError(t, err)
	assert.Same(t, r.Main(), db)

	db, err = r.ForResource("no-such-resource")
	require.NoError(t, err)
	assert.Same(t, r.Main(), db)

	// Routing writes are no-ops in shared mode.
	require.NoError(t, r.Route("res-1", "5213003700", "project"))
	var count int64
	require.NoError(t, r.Main().Model(&model.ResourceRouting{}).Count(&count).Error)
	assert.Zero(t, count)
}

// TestPerEntityIsolation tests that rows land in physically separate files
func TestPerEntityIsolation(t *testing.T) {
	r := newTestRouter(t, true)

	nip1, nip2 := "1111111119", "9876543210"
	db1, err := r.ForNIP(nip1)
	require.NoError(t, err)
	db2, err := r.ForNIP(nip2)
	require.NoError(t, err)
	assert.NotSame(t, db1, db2)

	project := model.Project{ID: model.NewID(), EntityID: "e1", Name: "KPiR 2026", Kind: model.ProjectKPiR, Active: true}
	require.NoError(t, db1.Create(&project).Error)

	// Both files exist on disk under their tax-ID names.
	_, err = os.Stat(r.EntityPath(nip1))
	require.NoError(t, err)
	_, err = os.Stat(r.EntityPath(nip2))
	require.NoError(t, err)

	var count1, count2, countMain int64
	require.NoError(t, db1.Model(&model.Project{}).Count(&count1).Error)
	require.NoError(t, db2.Model(&model.Project{}).Count(&count2).Error)
	require.NoError(t, r.Main().Table("projects").Count(&countMain).Error)
	assert.EqualValues(t, 1, count1)
	assert.Zero(t, count2)
	assert.Zero(t, countMain)
}

// TestResourceRouting tests resolution through the routing index with fallback
func TestResourceRouting(t *testing.T) {
	r := newTestRouter(t, true)

	nip := "5213003700"
	edb, err := r.ForNIP(nip)
	require.NoError(t, err)

	require.NoError(t, r.Route("proj-1", nip, "project"))
	db, err := r.ForResource("proj-1")
	require.NoError(t, err)
	assert.Same(t, edb, db)
	assert.Equal(t, nip, r.ResourceNIP("proj-1"))

	// Unrouted resources fall back to the main database.
	db, err = r.ForResource("unknown")
	require.NoError(t, err)
	assert.Same(t, r.Main(), db)

	require.NoError(t, r.Unroute("proj-1"))
	assert.Empty(t, r.ResourceNIP("proj-1"))
}

// TestForEntity tests resolution via the entity table
func TestForEntity(t *testing.T) {
	r := newTestRouter(t, true)

	nip := "5213003700"
	entity := model.Entity{ID: model.NewID(), Kind: model.EntityCompany, Name: "Testowa Sp. z o.o.", NIP: &nip, OwnerID: "u1"}
	require.NoError(t, r.Main().Create(&entity).Error)

	edb, err := r.ForEntity(entity.ID)
	require.NoError(t, err)
	expected, err := r.ForNIP(nip)
	require.NoError(t, err)
	assert.Same(t, expected, edb)
}

// TestEnsureStubs tests the write-once stub copy
func TestEnsureStubs(t *testing.T) {
	r := newTestRouter(t, true)

	nip := "5213003700"
	entity := model.Entity{ID: model.NewID(), Kind: model.EntityCompany, Name: "Testowa", NIP: &nip, OwnerID: "u1"}
	ident := model.Identity{ID: "u1", Email: "ksiegowa@example.pl", PasswordHash: "$2a$10$realhash"}

	edb, err := r.ForNIP(nip)
	require.NoError(t, err)
	require.NoError(t, r.EnsureStubs(edb, &entity, ident))

	var stub model.Identity
	require.NoError(t, edb.First(&stub, "id = ?", "u1").Error)
	assert.True(t, stub.IsStub())
	assert.Equal(t, "ksiegowa@example.pl", stub.Email)
}

// TestMigrateToPerEntity tests the one-time shared-to-per-entity migration
func TestMigrateToPerEntity(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "main.db")

	// Seed a shared-mode database.
	shared, err := Open(Config{MainPath: mainPath, PerEntity: false})
	require.NoError(t, err)

	nip := "5213003700"
	entity := model.Entity{ID: model.NewID(), Kind: model.EntityCompany, Name: "Testowa", NIP: &nip, OwnerID: "u1"}
	ident := model.Identity{ID: "u1", Email: "ksiegowa@example.pl"}
	project := model.Project{ID: model.NewID(), EntityID: entity.ID, Name: "KPiR 2026", Kind: model.ProjectKPiR}
	task := model.Task{ID: model.NewID(), ProjectID: project.ID, Name: "Styczeń 2026", Status: model.TaskPending}
	doc := model.Document{ID: model.NewID(), TaskID: task.ID, Kind: model.KindInvoice, Number: "FV/1/2026", Status: model.DocNew}
	meta := model.DocumentMetadata{ID: model.NewID(), DocumentID: doc.ID, Version: 1}
	for _, row := range []any{&ident, &entity, &project, &task, &doc, &meta} {
		require.NoError(t, shared.Main().Create(row).Error)
	}
	require.NoError(t, shared.Close())

	// Re-open with per-entity mode newly enabled.
	r, err := Open(Config{MainPath: mainPath, PerEntity: true, EntityDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	require.NoError(t, r.MigrateToPerEntity())

	edb, err := r.ForNIP(nip)
	require.NoError(t, err)

	var projects []model.Project
	require.NoError(t, edb.Find(&projects).Error)
	require.Len(t, projects, 1)
	assert.Equal(t, "KPiR 2026", projects[0].Name)

	var docs []model.Document
	require.NoError(t, edb.Find(&docs).Error)
	require.Len(t, docs, 1)

	db, err := r.ForResource(doc.ID)
	require.NoError(t, err)
	assert.Same(t, edb, db)

	// Running the migration again is a no-op because routing rows exist.
	require.NoError(t, r.MigrateToPerEntity())
	var count int64
	require.NoError(t, edb.Model(&model.Document{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
