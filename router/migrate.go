package router

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/exef-io/exef/common"
	"github.com/exef-io/exef/model"
)

// MigrateToPerEntity moves business rows from the main database into one
// database per entity. It runs on startup when per-entity mode is newly
// enabled and the routing index is still empty; rows are copied in
// dependency order (projects, sources, runs, tasks, documents, metadata,
// relations, authorisations) and a routing row is written for every copied
// resource. The copy is transactional per entity, so one failing entity does
// not prevent the others.
func (r *Router) MigrateToPerEntity() error {
	if !r.cfg.PerEntity {
		return nil
	}
	var routed int64
	if err := r.main.Model(&model.ResourceRouting{}).Count(&routed).Error; err != nil {
		return fmt.Errorf("failed to inspect routing index: %w", err)
	}
	if routed > 0 {
		return nil
	}

	var entities []model.Entity
	if err := r.main.Find(&entities).Error; err != nil {
		return fmt.Errorf("failed to list entities: %w", err)
	}

	var failed int
	for _, entity := range entities {
		if entity.NIP == nil || *entity.NIP == "" {
			continue
		}
		if err := r.migrateEntity(&entity); err != nil {
			failed++
			common.Logger.WithError(err).WithField("entity", entity.ID).
				Error("entity migration failed")
		}
	}
	if failed > 0 {
		return fmt.Errorf("migration finished with %d failed entities", failed)
	}
	return nil
}

func (r *Router) migrateEntity(entity *model.Entity) error {
	edb, err := r.ForNIP(*entity.NIP)
	if err != nil {
		return err
	}

	var members []model.EntityMember
	if err := r.main.Find(&members, "entity_id = ?", entity.ID).Error; err != nil {
		return err
	}
	var projects []model.Project
	if err := r.main.Find(&projects, "entity_id = ?", entity.ID).Error; err != nil {
		return err
	}
	projectIDs := make([]string, 0, len(projects))
	for _, p := range projects {
		projectIDs = append(projectIDs, p.ID)
	}

	var auths []model.ProjectAuthorization
	var sources []model.DataSource
	var tasks []model.Task
	if len(projectIDs) > 0 {
		if err := r.main.Find(&auths, "project_id IN ?", projectIDs).Error; err != nil {
			return err
		}
		if err := r.main.Find(&sources, "project_id IN ?", projectIDs).Error; err != nil {
			return err
		}
		if err := r.main.Find(&tasks, "project_id IN ?", projectIDs).Error; err != nil {
			return err
		}
	}
	taskIDs := make([]string, 0, len(tasks))
	for _, t := range tasks {
		taskIDs = append(taskIDs, t.ID)
	}

	var imports []model.ImportRun
	var exports []model.ExportRun
	var documents []model.Document
	if len(taskIDs) > 0 {
		if err := r.main.Find(&imports, "task_id IN ?", taskIDs).Error; err != nil {
			return err
		}
		if err := r.main.Find(&exports, "task_id IN ?", taskIDs).Error; err != nil {
			return err
		}
		if err := r.main.Find(&documents, "task_id IN ?", taskIDs).Error; err != nil {
			return err
		}
	}
	docIDs := make([]string, 0, len(documents))
	for _, d := range documents {
		docIDs = append(docIDs, d.ID)
	}

	var metadata []model.DocumentMetadata
	var relations []model.DocumentRelation
	if len(docIDs) > 0 {
		if err := r.main.Find(&metadata, "document_id IN ?", docIDs).Error; err != nil {
			return err
		}
		if err := r.main.Find(&relations, "parent_id IN ? OR child_id IN ?", docIDs, docIDs).Error; err != nil {
			return err
		}
	}

	// Every principal referenced from the copied rows needs a stub.
	principalIDs := map[string]struct{}{entity.OwnerID: {}}
	for _, m := range members {
		principalIDs[m.IdentityID] = struct{}{}
	}
	for _, a := range auths {
		principalIDs[a.IdentityID] = struct{}{}
		principalIDs[a.GrantedBy] = struct{}{}
	}
	ids := make([]string, 0, len(principalIDs))
	for id := range principalIDs {
		ids = append(ids, id)
	}
	var identities []model.Identity
	if err := r.main.Find(&identities, "id IN ?", ids).Error; err != nil {
		return err
	}

	err = edb.Transaction(func(tx *gorm.DB) error {
		stubEntity := *entity
		if err := tx.Where("id = ?", stubEntity.ID).Assign(stubEntity).FirstOrCreate(&model.Entity{}).Error; err != nil {
			return err
		}
		for _, ident := range identities {
			ident.PasswordHash = model.StubMarker
			if err := tx.Where("id = ?", ident.ID).Assign(ident).FirstOrCreate(&model.Identity{}).Error; err != nil {
				return err
			}
		}
		for _, m := range members {
			if err := tx.Where("id = ?", m.ID).Assign(m).FirstOrCreate(&model.EntityMember{}).Error; err != nil {
				return err
			}
		}
		copyAll := func(rows []any) error {
			for _, row := range rows {
				if err := tx.Create(row).Error; err != nil {
					return err
				}
			}
			return nil
		}
		ordered := make([]any, 0)
		for i := range projects {
			ordered = append(ordered, &projects[i])
		}
		for i := range sources {
			ordered = append(ordered, &sources[i])
		}
		for i := range imports {
			ordered = append(ordered, &imports[i])
		}
		for i := range exports {
			ordered = append(ordered, &exports[i])
		}
		for i := range tasks {
			ordered = append(ordered, &tasks[i])
		}
		for i := range documents {
			ordered = append(ordered, &documents[i])
		}
		for i := range metadata {
			ordered = append(ordered, &metadata[i])
		}
		for i := range relations {
			ordered = append(ordered, &relations[i])
		}
		for i := range auths {
			ordered = append(ordered, &auths[i])
		}
		return copyAll(ordered)
	})
	if err != nil {
		return fmt.Errorf("failed to copy rows: %w", err)
	}

	nip := *entity.NIP
	route := func(id, kind string) error { return r.Route(id, nip, kind) }
	for _, p := range projects {
		if err := route(p.ID, "project"); err != nil {
			return err
		}
	}
	for _, s := range sources {
		if err := route(s.ID, "source"); err != nil {
			return err
		}
	}
	for _, t := range tasks {
		if err := route(t.ID, "task"); err != nil {
			return err
		}
	}
	for _, d := range documents {
		if err := route(d.ID, "document"); err != nil {
			return err
		}
	}

	common.Logger.WithField("entity", entity.ID).
		WithField("projects", len(projects)).
		WithField("documents", len(documents)).
		Info("entity migrated to dedicated database")
	return nil
}
