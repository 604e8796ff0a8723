// Package router resolves, for any resource identifier, the physical
// database that holds it. In shared mode every query uses the single main
// database. In per-entity mode the main database keeps identities, entities,
// memberships, templates, magic-links and the ResourceRouting index, while
// each entity's business rows live in their own SQLite file named after the
// entity's tax identifier.
package router

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/exef-io/exef/common"
	"github.com/exef-io/exef/model"
)

// Config controls where the router opens its databases.
type Config struct {
	// MainPath is the SQLite file of the main database.
	MainPath string

	// PerEntity enables one database file per entity.
	PerEntity bool

	// EntityDir is the directory holding the entity database files.
	EntityDir string

	// PathTemplate names the entity file; "{nip}" is substituted with the
	// entity's tax identifier. Defaults to "{nip}.db".
	PathTemplate string
}

// Router owns the main database handle and a lazily populated, memoised
// cache of per-entity engines. Safe for concurrent use.
type Router struct {
	cfg  Config
	main *gorm.DB

	mu      sync.Mutex
	engines map[string]*gorm.DB
}

// Open opens the main database and migrates its schema. In shared mode the
// business tables are created in the main database as well.
func Open(cfg Config) (*Router, error) {
	if cfg.PathTemplate == "" {
		cfg.PathTemplate = "{nip}.db"
	}
	main, err := openSQLite(cfg.MainPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open main database: %w", err)
	}
	if err := main.AutoMigrate(model.MainTables()...); err != nil {
		return nil, fmt.Errorf("failed to migrate main schema: %w", err)
	}
	// Business tables exist in the main database in both modes: shared mode
	// stores them there, per-entity mode still needs them for the unrouted
	// fallback and as the migration source.
	if err := main.AutoMigrate(model.BusinessTables()...); err != nil {
		return nil, fmt.Errorf("failed to migrate business schema: %w", err)
	}
	return &Router{
		cfg:     cfg,
		main:    main,
		engines: make(map[string]*gorm.DB),
	}, nil
}

func openSQLite(path string) (*gorm.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite serialises writes itself; one writer connection avoids
	// SQLITE_BUSY churn under concurrent requests.
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Main returns the main database handle.
func (r *Router) Main() *gorm.DB { return r.main }

// PerEntity reports whether per-entity storage is enabled.
func (r *Router) PerEntity() bool { return r.cfg.PerEntity }

// EntityPath returns the file path of the entity database for a tax ID.
func (r *Router) EntityPath(nip string) string {
	name := strings.ReplaceAll(r.cfg.PathTemplate, "{nip}", nip)
	return filepath.Join(r.cfg.EntityDir, name)
}

// ForNIP returns the database holding business rows for the entity with the
// given tax identifier. In shared mode this is the main database. The entity
// engine is created and its schema migrated on first use, then memoised.
func (r *Router) ForNIP(nip string) (*gorm.DB, error) {
	if !r.cfg.PerEntity || nip == "" {
		return r.main, nil
	}
	nip = model.NormalizeNIP(nip)

	r.mu.Lock()
	defer r.mu.Unlock()
	if db, ok := r.engines[nip]; ok {
		return db, nil
	}

	path := r.EntityPath(nip)
	db, err := openSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open entity database %s: %w", nip, err)
	}
	tables := append(model.BusinessTables(), model.StubTables()...)
	if err := db.AutoMigrate(tables...); err != nil {
		return nil, fmt.Errorf("failed to migrate entity schema %s: %w", nip, err)
	}
	common.Logger.WithField("nip", nip).Debug("opened entity database")
	r.engines[nip] = db
	return db, nil
}

// ForEntity resolves the database for an entity identifier via the main
// database's entity table.
func (r *Router) ForEntity(entityID string) (*gorm.DB, error) {
	if !r.cfg.PerEntity {
		return r.main, nil
	}
	var entity model.Entity
	if err := r.main.First(&entity, "id = ?", entityID).Error; err != nil {
		return nil, fmt.Errorf("entity %s not found: %w", entityID, err)
	}
	if entity.NIP == nil || *entity.NIP == "" {
		return r.main, nil
	}
	return r.ForNIP(*entity.NIP)
}

// ForResource resolves the database for any routed resource identifier.
// When no routing row exists the main database is returned, which keeps
// pre-routing rows reachable.
func (r *Router) ForResource(resourceID string) (*gorm.DB, error) {
	if !r.cfg.PerEntity {
		return r.main, nil
	}
	var routing model.ResourceRouting
	err := r.main.First(&routing, "resource_id = ?", resourceID).Error
	if err != nil {
		return r.main, nil
	}
	return r.ForNIP(routing.EntityNIP)
}

// ResourceNIP returns the owning entity tax ID of a routed resource, or the
// empty string when the resource is unrouted.
func (r *Router) ResourceNIP(resourceID string) string {
	if !r.cfg.PerEntity {
		return ""
	}
	var routing model.ResourceRouting
	if err := r.main.First(&routing, "resource_id = ?", resourceID).Error; err != nil {
		return ""
	}
	return routing.EntityNIP
}

// Route records the owning entity of a resource in the routing index. A
// no-op in shared mode.
func (r *Router) Route(resourceID, nip, kind string) error {
	if !r.cfg.PerEntity || nip == "" {
		return nil
	}
	row := model.ResourceRouting{
		ResourceID:   resourceID,
		EntityNIP:    model.NormalizeNIP(nip),
		ResourceKind: kind,
	}
	return r.main.Where("resource_id = ?", resourceID).
		Assign(row).
		FirstOrCreate(&model.ResourceRouting{}).Error
}

// Unroute removes the routing row of a deleted resource.
func (r *Router) Unroute(resourceID string) error {
	if !r.cfg.PerEntity {
		return nil
	}
	return r.main.Delete(&model.ResourceRouting{}, "resource_id = ?", resourceID).Error
}

// EnsureStubs copies write-once identity and entity stub rows into an entity
// database so that foreign keys resolve. Stub identities carry the synthetic
// password-hash marker and are updated when the main record changes, never
// used for authentication.
func (r *Router) EnsureStubs(edb *gorm.DB, entity *model.Entity, identities ...model.Identity) error {
	if edb == r.main {
		return nil
	}
	stub := *entity
	if err := edb.Where("id = ?", stub.ID).Assign(stub).FirstOrCreate(&model.Entity{}).Error; err != nil {
		return fmt.Errorf("failed to copy entity stub: %w", err)
	}
	for _, ident := range identities {
		ident.PasswordHash = model.StubMarker
		if err := edb.Where("id = ?", ident.ID).Assign(ident).FirstOrCreate(&model.Identity{}).Error; err != nil {
			return fmt.Errorf("failed to copy identity stub %s: %w", ident.ID, err)
		}
	}
	return nil
}

// Close closes the main database and every opened entity engine.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	closeDB := func(db *gorm.DB) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, db := range r.engines {
		closeDB(db)
	}
	closeDB(r.main)
	return firstErr
}
