package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/exef-io/exef/common"
	"github.com/exef-io/exef/model"
	"github.com/exef-io/exef/project"
)

// parseDate accepts the YYYY-MM-DD wire format.
func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnprocessableEntity,
			"nieprawidłowa data: "+value)
	}
	return &t, nil
}

func (s *Server) handleListEntities(c echo.Context) error {
	main := scopeFrom(c).Main()
	var members []model.EntityMember
	if err := main.Find(&members, "identity_id = ?", identityID(c)).Error; err != nil {
		return err
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.EntityID)
	}
	entities := []model.Entity{}
	if len(ids) > 0 {
		if err := main.Where("id IN ? AND archived = ?", ids, false).Find(&entities).Error; err != nil {
			return err
		}
	}
	return c.JSON(http.StatusOK, entities)
}

type createEntityRequest struct {
	Name string `json:"name" validate:"required"`
	Kind string `json:"kind" validate:"required,oneof=sole_proprietorship marriage company organisation"`
	NIP  string `json:"nip"`
}

func (s *Server) handleCreateEntity(c echo.Context) error {
	var req createEntityRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	entity := model.Entity{
		ID:      model.NewID(),
		Kind:    model.EntityKind(req.Kind),
		Name:    req.Name,
		OwnerID: identityID(c),
	}
	if req.NIP != "" {
		nip := model.NormalizeNIP(req.NIP)
		if !model.ValidNIP(nip) {
			// Historic tax IDs sometimes fail the checksum; accept with a trace.
			common.Logger.WithField("nip", nip).Warn("entity NIP fails checksum")
		}
		entity.NIP = &nip
	}

	main := s.rt.Main()
	var owner model.Identity
	if err := main.First(&owner, "id = ?", entity.OwnerID).Error; err != nil {
		return domainError(err)
	}

	member := model.EntityMember{
		ID:                model.NewID(),
		EntityID:          entity.ID,
		IdentityID:        entity.OwnerID,
		Role:              model.RoleOwner,
		CanManageProjects: true,
		CanInviteMembers:  true,
		CanExport:         true,
	}
	if err := main.Create(&entity).Error; err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "podmiot z tym numerem NIP już istnieje")
	}
	if err := main.Create(&member).Error; err != nil {
		return err
	}

	if s.rt.PerEntity() && entity.NIP != nil {
		if err := s.provisionEntityDB(&entity, owner); err != nil {
			return err
		}
	}
	return c.JSON(http.StatusCreated, entity)
}

// provisionEntityDB creates the entity's physical database, copies the stub
// rows and records the storage row with the configured sync defaults.
func (s *Server) provisionEntityDB(entity *model.Entity, owner model.Identity) error {
	edb, err := s.rt.ForNIP(*entity.NIP)
	if err != nil {
		return err
	}
	if err := s.rt.EnsureStubs(edb, entity, owner); err != nil {
		return err
	}
	path := s.rt.EntityPath(*entity.NIP)
	row := model.EntityDatabase{
		ID:              model.NewID(),
		EntityID:        entity.ID,
		LocalPath:       path,
		LocalURL:        "sqlite://" + path,
		RemoteURL:       s.cfg.Sync.EntityRemoteURL(*entity.NIP),
		SyncEnabled:     s.cfg.Sync.Enabled,
		SyncDirection:   model.SyncDirection(s.cfg.Sync.Direction),
		SyncIntervalMin: s.cfg.Sync.IntervalMin,
	}
	return s.rt.Main().Create(&row).Error
}

func (s *Server) handleGetEntity(c echo.Context) error {
	entityID := c.Param("id")
	if _, ok := s.membership(c, entityID); !ok {
		return domainError(ErrForbidden)
	}
	var entity model.Entity
	if err := scopeFrom(c).Main().First(&entity, "id = ?", entityID).Error; err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, entity)
}

type updateEntityRequest struct {
	Name string `json:"name" validate:"required"`
}

func (s *Server) handleUpdateEntity(c echo.Context) error {
	entityID := c.Param("id")
	if err := s.requireOwner(c, entityID); err != nil {
		return err
	}
	var req updateEntityRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	main := scopeFrom(c).Main()
	if err := main.Model(&model.Entity{}).Where("id = ?", entityID).
		Update("name", req.Name).Error; err != nil {
		return err
	}
	var entity model.Entity
	if err := main.First(&entity, "id = ?", entityID).Error; err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, entity)
}

func (s *Server) handleArchiveEntity(c echo.Context) error {
	entityID := c.Param("id")
	if err := s.requireOwner(c, entityID); err != nil {
		return err
	}
	if err := scopeFrom(c).Main().Model(&model.Entity{}).Where("id = ?", entityID).
		Update("archived", true).Error; err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// handleGetEntityDatabase returns the storage row of a per-entity database.
// Entities without one (shared mode, or no NIP) answer 404.
func (s *Server) handleGetEntityDatabase(c echo.Context) error {
	entityID := c.Param("id")
	if _, ok := s.membership(c, entityID); !ok {
		return domainError(ErrForbidden)
	}
	var row model.EntityDatabase
	if err := scopeFrom(c).Main().First(&row, "entity_id = ?", entityID).Error; err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, row)
}

type updateEntityDatabaseRequest struct {
	RemoteURL       *string `json:"remote_url"`
	SyncEnabled     *bool   `json:"sync_enabled"`
	SyncDirection   *string `json:"sync_direction" validate:"omitempty,oneof=local_to_remote remote_to_local bidirectional"`
	SyncIntervalMin *int    `json:"sync_interval_min" validate:"omitempty,min=1"`
}

func (s *Server) handleUpdateEntityDatabase(c echo.Context) error {
	entityID := c.Param("id")
	if err := s.requireOwner(c, entityID); err != nil {
		return err
	}
	var req updateEntityDatabaseRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	main := scopeFrom(c).Main()
	var row model.EntityDatabase
	if err := main.First(&row, "entity_id = ?", entityID).Error; err != nil {
		return domainError(err)
	}
	updates := map[string]any{}
	if req.RemoteURL != nil {
		updates["remote_url"] = *req.RemoteURL
	}
	if req.SyncEnabled != nil {
		updates["sync_enabled"] = *req.SyncEnabled
	}
	if req.SyncDirection != nil {
		updates["sync_direction"] = model.SyncDirection(*req.SyncDirection)
	}
	if req.SyncIntervalMin != nil {
		updates["sync_interval_min"] = *req.SyncIntervalMin
	}
	if len(updates) > 0 {
		if err := main.Model(&row).Updates(updates).Error; err != nil {
			return err
		}
	}
	if err := main.First(&row, "entity_id = ?", entityID).Error; err != nil {
		return domainError(err)
	}
	return c.JSON(http.StatusOK, row)
}

func (s *Server) requireOwner(c echo.Context, entityID string) error {
	member, ok := s.membership(c, entityID)
	if !ok || member.Role != model.RoleOwner {
		return domainError(ErrForbidden)
	}
	return nil
}

func (s *Server) handleListProjects(c echo.Context) error {
	entityID := c.Param("id")
	if _, ok := s.membership(c, entityID); !ok {
		return domainError(ErrForbidden)
	}
	edb, err := scopeFrom(c).ForEntity(entityID)
	if err != nil {
		return err
	}
	projects := []model.Project{}
	if err := edb.Where("entity_id = ? AND archived = ?", entityID, false).
		Order("created_at DESC").Find(&projects).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusOK, projects)
}

type createProjectRequest struct {
	Name        string   `json:"name" validate:"required"`
	Kind        string   `json:"kind" validate:"required"`
	Year        int      `json:"year"`
	PeriodStart string   `json:"period_start"`
	PeriodEnd   string   `json:"period_end"`
	Categories  []string `json:"categories"`
}

func (s *Server) handleCreateProject(c echo.Context) error {
	entityID := c.Param("id")
	member, ok := s.membership(c, entityID)
	if !ok || (member.Role != model.RoleOwner && !member.CanManageProjects) {
		return domainError(ErrForbidden)
	}
	var req createProjectRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	start, err := parseDate(req.PeriodStart)
	if err != nil {
		return err
	}
	end, err := parseDate(req.PeriodEnd)
	if err != nil {
		return err
	}

	var entity model.Entity
	if err := scopeFrom(c).Main().First(&entity, "id = ?", entityID).Error; err != nil {
		return domainError(err)
	}
	proj := model.Project{
		Name:        req.Name,
		Kind:        model.ProjectKind(req.Kind),
		Year:        req.Year,
		PeriodStart: start,
		PeriodEnd:   end,
		Categories:  model.StringList(req.Categories),
		Active:      true,
	}
	if err := s.projects.Create(&entity, &proj); err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, proj)
}

func (s *Server) handleListTemplates(c echo.Context) error {
	templates := []model.ProjectTemplate{}
	if err := scopeFrom(c).Main().
		Where("owner_id IS NULL OR owner_id = ?", identityID(c)).
		Find(&templates).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusOK, templates)
}

type fromTemplateRequest struct {
	EntityID    string `json:"entity_id" validate:"required"`
	TemplateID  string `json:"template_id" validate:"required"`
	Name        string `json:"name"`
	Year        int    `json:"year"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

type fromTemplateResponse struct {
	Project *model.Project `json:"project"`
	Tasks   []model.Task   `json:"tasks"`
}

func (s *Server) handleCreateFromTemplate(c echo.Context) error {
	var req fromTemplateRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	member, ok := s.membership(c, req.EntityID)
	if !ok || (member.Role != model.RoleOwner && !member.CanManageProjects) {
		return domainError(ErrForbidden)
	}
	start, err := parseDate(req.PeriodStart)
	if err != nil {
		return err
	}
	end, err := parseDate(req.PeriodEnd)
	if err != nil {
		return err
	}

	main := scopeFrom(c).Main()
	var entity model.Entity
	if err := main.First(&entity, "id = ?", req.EntityID).Error; err != nil {
		return domainError(err)
	}
	var tpl model.ProjectTemplate
	if err := main.First(&tpl, "id = ?", req.TemplateID).Error; err != nil {
		return domainError(err)
	}

	proj, tasks, err := s.projects.CreateFromTemplate(&entity, &tpl, project.CreateOptions{
		Name:        req.Name,
		Year:        req.Year,
		PeriodStart: start,
		PeriodEnd:   end,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, fromTemplateResponse{Project: proj, Tasks: tasks})
}

func (s *Server) handleGetProject(c echo.Context) error {
	proj, _, err := s.projectWithAccess(c, c.Param("id"), canView)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, proj)
}

type updateProjectRequest struct {
	Name       *string  `json:"name"`
	Categories []string `json:"categories"`
	Tags       []string `json:"tags"`
	Icon       *string  `json:"icon"`
	Color      *string  `json:"color"`
	Active     *bool    `json:"active"`
}

func (s *Server) handleUpdateProject(c echo.Context) error {
	proj, edb, err := s.projectWithAccess(c, c.Param("id"), canManage)
	if err != nil {
		return err
	}
	var req updateProjectRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	updates := map[string]any{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Categories != nil {
		updates["categories"] = model.StringList(req.Categories)
	}
	if req.Tags != nil {
		updates["tags"] = model.StringList(req.Tags)
	}
	if req.Icon != nil {
		updates["icon"] = *req.Icon
	}
	if req.Color != nil {
		updates["color"] = *req.Color
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if len(updates) > 0 {
		if err := edb.Model(&model.Project{}).Where("id = ?", proj.ID).
			Updates(updates).Error; err != nil {
			return err
		}
	}
	if err := edb.First(proj, "id = ?", proj.ID).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusOK, proj)
}

func (s *Server) handleArchiveProject(c echo.Context) error {
	proj, edb, err := s.projectWithAccess(c, c.Param("id"), canManage)
	if err != nil {
		return err
	}
	if err := edb.Model(&model.Project{}).Where("id = ?", proj.ID).
		Updates(map[string]any{"archived": true, "active": false}).Error; err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListTasks(c echo.Context) error {
	proj, edb, err := s.projectWithAccess(c, c.Param("id"), canView)
	if err != nil {
		return err
	}
	tasks := []model.Task{}
	if err := edb.Where("project_id = ?", proj.ID).
		Order("period_start").Find(&tasks).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tasks)
}

type createTaskRequest struct {
	Name        string `json:"name" validate:"required"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	Deadline    string `json:"deadline"`
}

func (s *Server) handleCreateTask(c echo.Context) error {
	proj, edb, err := s.projectWithAccess(c, c.Param("id"), canManage)
	if err != nil {
		return err
	}
	var req createTaskRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	start, err := parseDate(req.PeriodStart)
	if err != nil {
		return err
	}
	end, err := parseDate(req.PeriodEnd)
	if err != nil {
		return err
	}
	deadline, err := parseDate(req.Deadline)
	if err != nil {
		return err
	}
	task := model.Task{
		ID:          model.NewID(),
		ProjectID:   proj.ID,
		Name:        req.Name,
		PeriodStart: start,
		PeriodEnd:   end,
		Deadline:    deadline,
		Status:      model.TaskPending,
	}
	if err := edb.Create(&task).Error; err != nil {
		return err
	}
	if nip := scopeFrom(c).NIPOf(proj.ID); nip != "" {
		if err := s.rt.Route(task.ID, nip, "task"); err != nil {
			common.Logger.WithError(err).WithField("task", task.ID).Warn("failed to route task")
		}
	}
	return c.JSON(http.StatusCreated, task)
}

func (s *Server) handleGetTask(c echo.Context) error {
	task, _, err := s.taskWithAccess(c, c.Param("id"), canView)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}

type updateTaskRequest struct {
	Name       *string `json:"name"`
	Deadline   *string `json:"deadline"`
	AssigneeID *string `json:"assignee_id"`
	Status     *string `json:"status" validate:"omitempty,oneof=pending in_progress completed exported"`
}

func (s *Server) handleUpdateTask(c echo.Context) error {
	task, edb, err := s.taskWithAccess(c, c.Param("id"), canManage)
	if err != nil {
		return err
	}
	var req updateTaskRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	updates := map[string]any{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Deadline != nil {
		deadline, err := parseDate(*req.Deadline)
		if err != nil {
			return err
		}
		updates["deadline"] = deadline
	}
	if req.AssigneeID != nil {
		updates["assignee_id"] = *req.AssigneeID
	}
	if req.Status != nil {
		updates["status"] = model.TaskStatus(*req.Status)
	}
	if len(updates) > 0 {
		if err := edb.Model(&model.Task{}).Where("id = ?", task.ID).
			Updates(updates).Error; err != nil {
			return err
		}
	}
	if err := edb.First(task, "id = ?", task.ID).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}
