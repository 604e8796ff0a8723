package project

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/exef-io/exef/common"
	"github.com/exef-io/exef/model"
	"github.com/exef-io/exef/router"
)

// Service creates projects, expands templates into tasks and provisions the
// default data sources of a project kind.
type Service struct {
	router *router.Router
}

// NewService builds a project service.
func NewService(rt *router.Router) *Service {
	return &Service{router: rt}
}

// CreateOptions overrides template defaults at creation time.
type CreateOptions struct {
	Name        string
	Year        int
	PeriodStart *time.Time
	PeriodEnd   *time.Time
}

// defaultSources returns the data sources a fresh project starts with. The
// set depends on the project kind; the email source is pre-filled with the
// local development mail server.
func defaultSources(projectID string, kind model.ProjectKind) []model.DataSource {
	emailSource := model.DataSource{
		ID:         model.NewID(),
		ProjectID:  projectID,
		Direction:  model.DirectionImport,
		SourceType: "email",
		Name:       "Skrzynka faktur",
		Config: model.StringMap{
			"host":     "localhost",
			"port":     "993",
			"username": "faktury@localhost",
			"folder":   "INBOX",
		},
		Active: true,
	}
	ksefSource := model.DataSource{
		ID:         model.NewID(),
		ProjectID:  projectID,
		Direction:  model.DirectionImport,
		SourceType: "ksef",
		Name:       "KSeF (testowy)",
		Config:     model.StringMap{"environment": "mock"},
		Active:     true,
	}
	wfirmaExport := model.DataSource{
		ID:         model.NewID(),
		ProjectID:  projectID,
		Direction:  model.DirectionExport,
		SourceType: "wfirma",
		Name:       "Eksport wFirma",
		Config:     model.StringMap{},
		Active:     true,
	}
	jpkExport := model.DataSource{
		ID:         model.NewID(),
		ProjectID:  projectID,
		Direction:  model.DirectionExport,
		SourceType: "jpk_pkpir",
		Name:       "Eksport JPK_PKPIR",
		Config:     model.StringMap{},
		Active:     true,
	}
	bankSource := model.DataSource{
		ID:         model.NewID(),
		ProjectID:  projectID,
		Direction:  model.DirectionImport,
		SourceType: "bank",
		Name:       "Wyciąg bankowy",
		Config:     model.StringMap{},
		Active:     true,
	}
	csvExport := model.DataSource{
		ID:         model.NewID(),
		ProjectID:  projectID,
		Direction:  model.DirectionExport,
		SourceType: "csv",
		Name:       "Eksport CSV",
		Config:     model.StringMap{},
		Active:     true,
	}

	switch kind {
	case model.ProjectBookkeeping, model.ProjectKPiR:
		return []model.DataSource{emailSource, ksefSource, wfirmaExport, jpkExport}
	case model.ProjectJPK:
		return []model.DataSource{ksefSource, jpkExport}
	case model.ProjectPaymentsIn, model.ProjectPaymentProofs:
		return []model.DataSource{bankSource, csvExport}
	default:
		return []model.DataSource{emailSource, csvExport}
	}
}

// CreateFromTemplate creates a project in the entity's database, expands the
// template into tasks and provisions the default data sources. Routing rows
// are written for every created resource.
func (s *Service) CreateFromTemplate(entity *model.Entity, tpl *model.ProjectTemplate, opts CreateOptions) (*model.Project, []model.Task, error) {
	db, err := s.router.ForEntity(entity.ID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.router.EnsureStubs(db, entity); err != nil {
		return nil, nil, err
	}

	year := opts.Year
	if year == 0 {
		year = time.Now().Year()
	}
	periodStart := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
	if opts.PeriodStart != nil {
		periodStart = *opts.PeriodStart
	}
	if opts.PeriodEnd != nil {
		periodEnd = *opts.PeriodEnd
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("%s %d", tpl.Name, year)
	}

	proj := model.Project{
		ID:          model.NewID(),
		EntityID:    entity.ID,
		TemplateID:  &tpl.ID,
		Name:        name,
		Kind:        tpl.Kind,
		Year:        year,
		PeriodStart: &periodStart,
		PeriodEnd:   &periodEnd,
		Categories:  tpl.Categories,
		Icon:        tpl.Icon,
		Color:       tpl.Color,
		Active:      true,
	}
	tasks := ExpandTasks(*tpl, proj.ID, periodStart, periodEnd)
	sources := defaultSources(proj.ID, tpl.Kind)

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&proj).Error; err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}
		for i := range tasks {
			if err := tx.Create(&tasks[i]).Error; err != nil {
				return fmt.Errorf("failed to create task: %w", err)
			}
		}
		for i := range sources {
			if err := tx.Create(&sources[i]).Error; err != nil {
				return fmt.Errorf("failed to create data source: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	if entity.NIP != nil && *entity.NIP != "" {
		nip := *entity.NIP
		s.routeOrWarn(proj.ID, nip, "project")
		for _, task := range tasks {
			s.routeOrWarn(task.ID, nip, "task")
		}
		for _, src := range sources {
			s.routeOrWarn(src.ID, nip, "source")
		}
	}

	common.Logger.WithField("project", proj.Name).
		WithField("entity", entity.Name).
		WithField("tasks", len(tasks)).
		Info("project created from template")
	return &proj, tasks, nil
}

// Create creates a plain project without a template, with default sources
// and no generated tasks.
func (s *Service) Create(entity *model.Entity, proj *model.Project) error {
	db, err := s.router.ForEntity(entity.ID)
	if err != nil {
		return err
	}
	if err := s.router.EnsureStubs(db, entity); err != nil {
		return err
	}
	if proj.ID == "" {
		proj.ID = model.NewID()
	}
	proj.EntityID = entity.ID
	proj.Active = true
	sources := defaultSources(proj.ID, proj.Kind)

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(proj).Error; err != nil {
			return err
		}
		for i := range sources {
			if err := tx.Create(&sources[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if entity.NIP != nil && *entity.NIP != "" {
		s.routeOrWarn(proj.ID, *entity.NIP, "project")
		for _, src := range sources {
			s.routeOrWarn(src.ID, *entity.NIP, "source")
		}
	}
	return nil
}

func (s *Service) routeOrWarn(id, nip, kind string) {
	if err := s.router.Route(id, nip, kind); err != nil {
		common.Logger.WithError(err).WithField("resource", id).Warn("failed to route resource")
	}
}

// SystemTemplates returns the built-in project templates, seeded into the
// main database at startup when absent.
func SystemTemplates() []model.ProjectTemplate {
	return []model.ProjectTemplate{
		{
			ID:               "tpl-kpir-monthly",
			Name:             "KPiR",
			Kind:             model.ProjectKPiR,
			Recurrence:       model.RecurMonthly,
			TaskNameTemplate: "{month_name} {year}",
			DeadlineDay:      20,
			Categories:       model.StringList{"towary", "materiały", "usługi", "paliwo", "inne"},
			Icon:             "book-open",
			Color:            "#2563eb",
		},
		{
			ID:               "tpl-jpk-monthly",
			Name:             "JPK_V7",
			Kind:             model.ProjectJPK,
			Recurrence:       model.RecurMonthly,
			TaskNameTemplate: "JPK {month_name} {year}",
			DeadlineDay:      25,
			Icon:             "landmark",
			Color:            "#7c3aed",
		},
		{
			ID:               "tpl-zus-monthly",
			Name:             "ZUS",
			Kind:             model.ProjectSocialInsurance,
			Recurrence:       model.RecurMonthly,
			TaskNameTemplate: "ZUS {month_name} {year}",
			DeadlineDay:      20,
			Icon:             "shield",
			Color:            "#059669",
		},
		{
			ID:               "tpl-euvat-quarterly",
			Name:             "VAT-UE",
			Kind:             model.ProjectEUVAT,
			Recurrence:       model.RecurQuarterly,
			TaskNameTemplate: "VAT-UE {quarter} {year}",
			DeadlineDay:      25,
			Icon:             "globe",
			Color:            "#d97706",
		},
		{
			ID:               "tpl-annual",
			Name:             "Rozliczenie roczne",
			Kind:             model.ProjectBookkeeping,
			Recurrence:       model.RecurYearly,
			TaskNameTemplate: "Rozliczenie {year}",
			DeadlineDay:      30,
			Icon:             "calendar",
			Color:            "#dc2626",
		},
	}
}

// SeedTemplates writes the system templates into the main database when they
// are not present yet. User templates are untouched.
func SeedTemplates(db *gorm.DB) error {
	for _, tpl := range SystemTemplates() {
		if err := db.Where("id = ?", tpl.ID).FirstOrCreate(&tpl).Error; err != nil {
			return fmt.Errorf("failed to seed template %s: %w", tpl.Name, err)
		}
	}
	return nil
}
