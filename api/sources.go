package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/exef-io/exef/adapters"
	"github.com/exef-io/exef/common"
	"github.com/exef-io/exef/model"
)

// connectionProbeTimeout bounds every test-connection call.
const connectionProbeTimeout = 15 * time.Second

type sourceTypesResponse struct {
	ImportTypes []adapters.SourceTypeInfo `json:"import_types"`
	ExportTypes []adapters.SourceTypeInfo `json:"export_types"`
}

func (s *Server) handleSourceTypes(c echo.Context) error {
	return c.JSON(http.StatusOK, sourceTypesResponse{
		ImportTypes: s.registry.ImportTypes(),
		ExportTypes: s.registry.ExportTypes(),
	})
}

func (s *Server) handleListSources(c echo.Context) error {
	proj, edb, err := s.projectWithAccess(c, c.Param("id"), canView)
	if err != nil {
		return err
	}
	q := edb.Where("project_id = ?", proj.ID)
	if dir := c.QueryParam("direction"); dir != "" {
		q = q.Where("direction = ?", dir)
	}
	sources := []model.DataSource{}
	if err := q.Order("created_at").Find(&sources).Error; err != nil {
		return err
	}
	for i := range sources {
		sources[i].Config = maskSecrets(s.registry, &sources[i])
	}
	return c.JSON(http.StatusOK, sources)
}

// maskSecrets hides secret config values (passwords, tokens) in responses.
func maskSecrets(reg *adapters.Registry, src *model.DataSource) model.StringMap {
	var fields []adapters.ConfigField
	catalogue := reg.ImportTypes()
	if src.Direction == model.DirectionExport {
		catalogue = reg.ExportTypes()
	}
	for _, info := range catalogue {
		if info.Type == src.SourceType {
			fields = info.ConfigFields
			break
		}
	}
	masked := make(model.StringMap, len(src.Config))
	for k, v := range src.Config {
		masked[k] = v
	}
	for _, f := range fields {
		if f.Secret && masked[f.Key] != "" {
			masked[f.Key] = common.MaskSecret(masked[f.Key])
		}
	}
	return masked
}

type createSourceRequest struct {
	Direction    string            `json:"direction" validate:"required,oneof=import export"`
	SourceType   string            `json:"source_type" validate:"required"`
	Name         string            `json:"name" validate:"required"`
	Config       map[string]string `json:"config"`
	AutoPull     bool              `json:"auto_pull"`
	PullInterval int               `json:"pull_interval_min"`
}

func (s *Server) handleCreateSource(c echo.Context) error {
	proj, edb, err := s.projectWithAccess(c, c.Param("id"), canManage)
	if err != nil {
		return err
	}
	var req createSourceRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if !s.knownSourceType(model.SourceDirection(req.Direction), req.SourceType) {
		return echo.NewHTTPError(http.StatusUnprocessableEntity,
			"nieznany typ źródła: "+req.SourceType)
	}

	src := model.DataSource{
		ID:           model.NewID(),
		ProjectID:    proj.ID,
		Direction:    model.SourceDirection(req.Direction),
		SourceType:   req.SourceType,
		Name:         req.Name,
		Config:       model.StringMap(req.Config),
		Active:       true,
		AutoPull:     req.AutoPull,
		PullInterval: req.PullInterval,
	}
	if err := edb.Create(&src).Error; err != nil {
		return err
	}
	if nip := scopeFrom(c).NIPOf(proj.ID); nip != "" {
		if err := s.rt.Route(src.ID, nip, "source"); err != nil {
			common.Logger.WithError(err).WithField("source", src.ID).Warn("failed to route source")
		}
	}
	return c.JSON(http.StatusCreated, src)
}

func (s *Server) knownSourceType(direction model.SourceDirection, tag string) bool {
	catalogue := s.registry.ImportTypes()
	if direction == model.DirectionExport {
		catalogue = s.registry.ExportTypes()
	}
	for _, info := range catalogue {
		if info.Type == tag {
			return true
		}
	}
	// Unknown import tags fall back to the mock adapter, so they stay usable.
	return direction == model.DirectionImport
}

// loadSource resolves a source and checks access on its owning project.
func (s *Server) loadSource(c echo.Context, sourceID string, need permissionCheck) (*model.DataSource, error) {
	edb, err := scopeFrom(c).ForResource(sourceID)
	if err != nil {
		return nil, err
	}
	var src model.DataSource
	if err := edb.First(&src, "id = ?", sourceID).Error; err != nil {
		return nil, domainError(err)
	}
	if _, _, err := s.projectWithAccess(c, src.ProjectID, need); err != nil {
		return nil, err
	}
	return &src, nil
}

type updateSourceRequest struct {
	Name         *string           `json:"name"`
	Config       map[string]string `json:"config"`
	Active       *bool             `json:"active"`
	AutoPull     *bool             `json:"auto_pull"`
	PullInterval *int              `json:"pull_interval_min"`
}

func (s *Server) handleUpdateSource(c echo.Context) error {
	src, err := s.loadSource(c, c.Param("id"), canManage)
	if err != nil {
		return err
	}
	var req updateSourceRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	edb, err := scopeFrom(c).ForResource(src.ID)
	if err != nil {
		return err
	}
	updates := map[string]any{}
	if req.Name != nil {
		updates["name"] = *req.Name
	}
	if req.Config != nil {
		updates["config"] = model.StringMap(req.Config)
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}
	if req.AutoPull != nil {
		updates["auto_pull"] = *req.AutoPull
	}
	if req.PullInterval != nil {
		updates["pull_interval"] = *req.PullInterval
	}
	if len(updates) > 0 {
		if err := edb.Model(&model.DataSource{}).Where("id = ?", src.ID).
			Updates(updates).Error; err != nil {
			return err
		}
	}
	if err := edb.First(src, "id = ?", src.ID).Error; err != nil {
		return err
	}
	src.Config = maskSecrets(s.registry, src)
	return c.JSON(http.StatusOK, src)
}

func (s *Server) handleDeleteSource(c echo.Context) error {
	src, err := s.loadSource(c, c.Param("id"), canManage)
	if err != nil {
		return err
	}
	edb, err := scopeFrom(c).ForResource(src.ID)
	if err != nil {
		return err
	}
	if err := edb.Delete(&model.DataSource{}, "id = ?", src.ID).Error; err != nil {
		return err
	}
	if err := s.rt.Unroute(src.ID); err != nil {
		common.Logger.WithError(err).WithField("source", src.ID).Warn("failed to unroute source")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleTestConnection(c echo.Context) error {
	src, err := s.loadSource(c, c.Param("id"), canView)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), connectionProbeTimeout)
	defer cancel()

	var status adapters.ConnectionStatus
	if src.Direction == model.DirectionExport {
		exp, ok := s.registry.Exporter(src.SourceType, src.Config, src.Name)
		if !ok {
			return echo.NewHTTPError(http.StatusUnprocessableEntity,
				"nieznany typ eksportu: "+src.SourceType)
		}
		status = exp.TestConnection(ctx)
	} else {
		imp, ok := s.registry.Importer(src.SourceType, src.Config, src.Name)
		if !ok {
			imp = adapters.NewMockImporter(src.SourceType, src.Name)
		}
		status = imp.TestConnection(ctx)
	}
	return c.JSON(http.StatusOK, status)
}
