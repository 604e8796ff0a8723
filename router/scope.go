package router

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/exef-io/exef/model"
)

// Scope is the per-request view of the router. It memoises entity database
// sessions for the lifetime of one request so that a single entity database
// is resolved at most once per request, and it is released by middleware
// after the request completes regardless of outcome.
//
// Sessions are request-scoped and never shared across requests; the
// underlying engines stay memoised in the Router.
type Scope struct {
	r        *Router
	sessions map[string]*gorm.DB
	main     *gorm.DB
}

// NewScope creates a request scope over the router.
func (r *Router) NewScope() *Scope {
	return &Scope{r: r, sessions: make(map[string]*gorm.DB)}
}

// Main returns a request-scoped session on the main database.
func (s *Scope) Main() *gorm.DB {
	if s.main == nil {
		s.main = s.r.Main().Session(&gorm.Session{})
	}
	return s.main
}

// ForNIP returns a request-scoped session on the entity database for the
// given tax identifier. In shared mode this is the main session.
func (s *Scope) ForNIP(nip string) (*gorm.DB, error) {
	if !s.r.PerEntity() || nip == "" {
		return s.Main(), nil
	}
	nip = model.NormalizeNIP(nip)
	if db, ok := s.sessions[nip]; ok {
		return db, nil
	}
	engine, err := s.r.ForNIP(nip)
	if err != nil {
		return nil, err
	}
	db := engine.Session(&gorm.Session{})
	s.sessions[nip] = db
	return db, nil
}

// ForEntity returns a request-scoped session for an entity identifier.
func (s *Scope) ForEntity(entityID string) (*gorm.DB, error) {
	if !s.r.PerEntity() {
		return s.Main(), nil
	}
	var entity model.Entity
	if err := s.Main().First(&entity, "id = ?", entityID).Error; err != nil {
		return nil, fmt.Errorf("entity %s not found: %w", entityID, err)
	}
	if entity.NIP == nil {
		return s.Main(), nil
	}
	return s.ForNIP(*entity.NIP)
}

// ForResource returns a request-scoped session for any routed resource. An
// unrouted resource falls back to the main session.
func (s *Scope) ForResource(resourceID string) (*gorm.DB, error) {
	nip := s.r.ResourceNIP(resourceID)
	return s.ForNIP(nip)
}

// NIPOf returns the owning entity tax ID of a routed resource.
func (s *Scope) NIPOf(resourceID string) string {
	return s.r.ResourceNIP(resourceID)
}

// Router exposes the underlying router for routing-row writes.
func (s *Scope) Router() *Router { return s.r }

// Release drops the cached sessions. Engines remain open in the Router.
func (s *Scope) Release() {
	s.sessions = make(map[string]*gorm.DB)
	s.main = nil
}
