// Package api exposes the HTTP surface of the exef service: authentication,
// entity/project/task management, data-source configuration, flow runs and
// the document review endpoints. All routes speak JSON and, except for the
// auth endpoints, require a Bearer token.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/exef-io/exef/adapters"
	"github.com/exef-io/exef/common"
	"github.com/exef-io/exef/config"
	"github.com/exef-io/exef/flow"
	"github.com/exef-io/exef/project"
	"github.com/exef-io/exef/router"
	"github.com/exef-io/exef/security"
)

// Server wires the service components behind an Echo instance.
type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	rt       *router.Router
	engine   *flow.Engine
	registry *adapters.Registry
	projects *project.Service
	jwt      *security.JWTService
	links    *security.MagicLinkService
	mailer   *Mailer
	validate *validator.Validate
}

// NewServer builds the server with the standard middleware chain and every
// route registered.
func NewServer(cfg *config.Config, rt *router.Router, reg *adapters.Registry) *Server {
	secret := cfg.Security.JWTSecret
	if secret == "" {
		common.Logger.Warn("jwt secret not configured, using insecure development secret")
		secret = "dev-secret"
	}

	s := &Server{
		echo:     echo.New(),
		cfg:      cfg,
		rt:       rt,
		engine:   flow.New(rt, reg),
		registry: reg,
		projects: project.NewService(rt),
		jwt:      security.NewJWTService(secret),
		links:    security.NewMagicLinkService(rt.Main(), cfg.Security.MagicLinkExpiration),
		mailer:   NewMailer(cfg.SMTP),
		validate: validator.New(),
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("20M"))
	e.Use(middleware.RequestID())
	if len(cfg.Security.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.Security.AllowedOrigins,
			AllowMethods: []string{
				http.MethodGet, http.MethodPost, http.MethodPut,
				http.MethodDelete, http.MethodPatch, http.MethodOptions,
			},
			AllowHeaders: []string{
				echo.HeaderOrigin, echo.HeaderContentType,
				echo.HeaderAccept, echo.HeaderAuthorization,
			},
		}))
	}
	if cfg.Security.RateLimit > 0 {
		e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStore(
			rate.Limit(cfg.Security.RateLimit),
		)))
	}

	s.routes(secret)
	return s
}

// Echo exposes the underlying instance for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) routes(secret string) {
	e := s.echo

	e.GET("/health", s.handleHealth)
	e.POST("/auth/register", s.handleRegister)
	e.POST("/auth/login", s.handleLogin)
	e.POST("/auth/magic-link", s.handleMagicLinkRequest)
	e.POST("/auth/magic-link/consume", s.handleMagicLinkConsume)

	g := e.Group("")
	g.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey:  []byte(secret),
		TokenLookup: "header:Authorization:Bearer ",
	}))
	g.Use(s.scopeMiddleware)

	// Entities, projects, tasks.
	g.GET("/entities", s.handleListEntities)
	g.POST("/entities", s.handleCreateEntity)
	g.GET("/entities/:id", s.handleGetEntity)
	g.PATCH("/entities/:id", s.handleUpdateEntity)
	g.DELETE("/entities/:id", s.handleArchiveEntity)
	g.GET("/entities/:id/database", s.handleGetEntityDatabase)
	g.PATCH("/entities/:id/database", s.handleUpdateEntityDatabase)
	g.GET("/entities/:id/projects", s.handleListProjects)
	g.POST("/entities/:id/projects", s.handleCreateProject)
	g.GET("/templates", s.handleListTemplates)
	g.POST("/projects/from-template", s.handleCreateFromTemplate)
	g.GET("/projects/:id", s.handleGetProject)
	g.PATCH("/projects/:id", s.handleUpdateProject)
	g.DELETE("/projects/:id", s.handleArchiveProject)
	g.GET("/projects/:id/tasks", s.handleListTasks)
	g.POST("/projects/:id/tasks", s.handleCreateTask)
	g.GET("/tasks/:id", s.handleGetTask)
	g.PATCH("/tasks/:id", s.handleUpdateTask)

	// Sources and flow.
	g.GET("/source-types", s.handleSourceTypes)
	g.GET("/projects/:id/sources", s.handleListSources)
	g.POST("/projects/:id/sources", s.handleCreateSource)
	g.PATCH("/sources/:id", s.handleUpdateSource)
	g.DELETE("/sources/:id", s.handleDeleteSource)
	g.POST("/sources/:id/test-connection", s.handleTestConnection)
	g.POST("/flow/import", s.handleFlowImport)
	g.POST("/flow/export", s.handleFlowExport)
	g.POST("/flow/upload-csv", s.handleUploadCSV)
	g.GET("/tasks/:id/import-runs", s.handleListImportRuns)
	g.GET("/tasks/:id/export-runs", s.handleListExportRuns)
	g.GET("/export-runs/:id/download", s.handleDownloadExport)

	// Documents.
	g.GET("/tasks/:id/documents", s.handleListDocuments)
	g.POST("/documents", s.handleCreateDocument)
	g.GET("/documents/:id", s.handleGetDocument)
	g.DELETE("/documents/:id", s.handleDeleteDocument)
	g.PATCH("/documents/:id/metadata", s.handlePatchMetadata)
	g.PATCH("/documents/bulk-metadata", s.handleBulkMetadata)
	g.POST("/documents/:id/approve", s.handleApproveDocument)
	g.GET("/documents/:id/duplicates", s.handleDocumentDuplicates)
	g.GET("/tasks/:id/duplicates", s.handleTaskDuplicates)

	// Relations.
	g.GET("/relation-types", s.handleRelationTypes)
	g.POST("/documents/relations", s.handleCreateRelation)
	g.GET("/documents/:id/relations", s.handleListRelations)
	g.GET("/relations/documents/:id", s.handleRelationsWithContext)
	g.DELETE("/documents/relations/:id", s.handleDeleteRelation)

	// Search and matching.
	g.GET("/search/documents", s.handleSearchDocuments)
	g.GET("/match/documents/:id", s.handleMatchDocuments)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": s.cfg.Service.Name,
	})
}

// Start runs the server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}
	common.Logger.WithField("addr", srv.Addr).Info("http server starting")
	return s.echo.StartServer(srv)
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown() error {
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	common.Logger.Info("http server stopped")
	return nil
}

const scopeKey = "exef.scope"

// scopeMiddleware attaches a request-scoped router view and releases it when
// the request completes.
func (s *Server) scopeMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		scope := s.rt.NewScope()
		c.Set(scopeKey, scope)
		defer scope.Release()
		return next(c)
	}
}

func scopeFrom(c echo.Context) *router.Scope {
	return c.Get(scopeKey).(*router.Scope)
}
