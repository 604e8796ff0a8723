package api

import (
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/exef-io/exef/access"
	"github.com/exef-io/exef/model"
)

// permissionCheck gates one operation on the resolved permission set.
type permissionCheck = func(access.Permissions) bool

// projectWithAccess loads a project from its routed database and resolves
// the caller's permissions on it. The need predicate gates the operation.
func (s *Server) projectWithAccess(c echo.Context, projectID string, need permissionCheck) (*model.Project, *gorm.DB, error) {
	scope := scopeFrom(c)
	edb, err := scope.ForResource(projectID)
	if err != nil {
		return nil, nil, err
	}
	var proj model.Project
	if err := edb.First(&proj, "id = ?", projectID).Error; err != nil {
		return nil, nil, domainError(err)
	}
	perms, err := access.Resolve(scope.Main(), edb, identityID(c), &proj, time.Now())
	if err != nil {
		return nil, nil, err
	}
	if perms.Denied() || !need(perms) {
		return nil, nil, domainError(ErrForbidden)
	}
	return &proj, edb, nil
}

// taskWithAccess resolves a task together with its owning project's
// permissions.
func (s *Server) taskWithAccess(c echo.Context, taskID string, need permissionCheck) (*model.Task, *gorm.DB, error) {
	scope := scopeFrom(c)
	edb, err := scope.ForResource(taskID)
	if err != nil {
		return nil, nil, err
	}
	var task model.Task
	if err := edb.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, nil, domainError(err)
	}
	if _, _, err := s.projectWithAccess(c, task.ProjectID, need); err != nil {
		return nil, nil, err
	}
	return &task, edb, nil
}

// membership loads the caller's membership row in an entity, if any.
func (s *Server) membership(c echo.Context, entityID string) (*model.EntityMember, bool) {
	var member model.EntityMember
	err := scopeFrom(c).Main().
		First(&member, "entity_id = ? AND identity_id = ?", entityID, identityID(c)).Error
	if err != nil {
		return nil, false
	}
	return &member, true
}

func canView(p access.Permissions) bool     { return p.View }
func canDescribe(p access.Permissions) bool { return p.Describe }
func canApprove(p access.Permissions) bool  { return p.Approve }
func canExport(p access.Permissions) bool   { return p.Export }
func canManage(p access.Permissions) bool   { return p.ManageProjects }
