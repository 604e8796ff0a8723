package access

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/exef-io/exef/model"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	tables := append(model.MainTables(), model.BusinessTables()...)
	require.NoError(t, db.AutoMigrate(tables...))
	return db
}

func seedProject(t *testing.T, db *gorm.DB) *model.Project {
	t.Helper()
	project := &model.Project{ID: model.NewID(), EntityID: "ent-1", Name: "Księgowość 2026", Kind: model.ProjectBookkeeping}
	require.NoError(t, db.Create(project).Error)
	return project
}

// TestResolve_OwnerMembership tests that owners hold every capability
func TestResolve_OwnerMembership(t *testing.T) {
	db := testDB(t)
	project := seedProject(t, db)
	require.NoError(t, db.Create(&model.EntityMember{
		ID: model.NewID(), EntityID: "ent-1", IdentityID: "u1", Role: model.RoleOwner,
	}).Error)

	p, err := Resolve(db, db, "u1", project, time.Now())
	require.NoError(t, err)
	assert.True(t, p.Member)
	assert.True(t, p.View)
	assert.True(t, p.Describe)
	assert.True(t, p.Approve)
	assert.True(t, p.Export)
	assert.True(t, p.ManageProjects)
}

// TestResolve_Roles tests capability derivation per membership role
func TestResolve_Roles(t *testing.T) {
	tests := []struct {
		role     model.MemberRole
		describe bool
		approve  bool
	}{
		{role: model.RoleAccountant, describe: true, approve: true},
		{role: model.RoleAssistant, describe: false, approve: false},
		{role: model.RoleViewer, describe: false, approve: false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			db := testDB(t)
			project := seedProject(t, db)
			require.NoError(t, db.Create(&model.EntityMember{
				ID: model.NewID(), EntityID: "ent-1", IdentityID: "u1", Role: tt.role, CanExport: true,
			}).Error)

			p, err := Resolve(db, db, "u1", project, time.Now())
			require.NoError(t, err)
			assert.True(t, p.View)
			assert.Equal(t, tt.describe, p.Describe)
			assert.Equal(t, tt.approve, p.Approve)
			assert.True(t, p.Export)
		})
	}
}

// TestResolve_Delegation tests cross-entity delegation with validity window
func TestResolve_Delegation(t *testing.T) {
	db := testDB(t)
	project := seedProject(t, db)
	now := time.Now()

	require.NoError(t, db.Create(&model.ProjectAuthorization{
		ID: model.NewID(), ProjectID: project.ID, IdentityID: "external",
		Role: "external_accountant", CanView: true, CanDescribe: true,
		ValidFrom: now.Add(-time.Hour), GrantedBy: "u1",
	}).Error)

	p, err := Resolve(db, db, "external", project, now)
	require.NoError(t, err)
	assert.True(t, p.Delegated)
	assert.True(t, p.View)
	assert.True(t, p.Describe)
	assert.False(t, p.Approve)
	assert.False(t, p.Export)
}

// TestResolve_ExpiredDelegation tests that the validity window is enforced
func TestResolve_ExpiredDelegation(t *testing.T) {
	db := testDB(t)
	project := seedProject(t, db)
	now := time.Now()
	until := now.Add(-time.Minute)

	require.NoError(t, db.Create(&model.ProjectAuthorization{
		ID: model.NewID(), ProjectID: project.ID, IdentityID: "external",
		CanView: true, ValidFrom: now.Add(-time.Hour), ValidUntil: &until, GrantedBy: "u1",
	}).Error)

	p, err := Resolve(db, db, "external", project, now)
	require.NoError(t, err)
	assert.True(t, p.Denied())
}

// TestResolve_NoAccess tests the deny default
func TestResolve_NoAccess(t *testing.T) {
	db := testDB(t)
	project := seedProject(t, db)

	p, err := Resolve(db, db, "stranger", project, time.Now())
	require.NoError(t, err)
	assert.True(t, p.Denied())
}

// TestResolve_AssistantWithDelegation tests that a delegation raises member capabilities
func TestResolve_AssistantWithDelegation(t *testing.T) {
	db := testDB(t)
	project := seedProject(t, db)
	now := time.Now()

	require.NoError(t, db.Create(&model.EntityMember{
		ID: model.NewID(), EntityID: "ent-1", IdentityID: "u2", Role: model.RoleAssistant,
	}).Error)
	require.NoError(t, db.Create(&model.ProjectAuthorization{
		ID: model.NewID(), ProjectID: project.ID, IdentityID: "u2",
		CanView: true, CanDescribe: true, CanApprove: true,
		ValidFrom: now.Add(-time.Hour), GrantedBy: "u1",
	}).Error)

	p, err := Resolve(db, db, "u2", project, now)
	require.NoError(t, err)
	assert.True(t, p.Member)
	assert.True(t, p.Describe)
	assert.True(t, p.Approve)
}

// TestIsOwner tests the entity-level owner check
func TestIsOwner(t *testing.T) {
	db := testDB(t)
	require.NoError(t, db.Create(&model.EntityMember{
		ID: model.NewID(), EntityID: "ent-1", IdentityID: "u1", Role: model.RoleOwner,
	}).Error)
	require.NoError(t, db.Create(&model.EntityMember{
		ID: model.NewID(), EntityID: "ent-1", IdentityID: "u2", Role: model.RoleAccountant,
	}).Error)

	owner, err := IsOwner(db, "u1", "ent-1")
	require.NoError(t, err)
	assert.True(t, owner)

	owner, err = IsOwner(db, "u2", "ent-1")
	require.NoError(t, err)
	assert.False(t, owner)

	owner, err = IsOwner(db, "nobody", "ent-1")
	require.NoError(t, err)
	assert.False(t, owner)
}
