package flow

import (
	"time"

	"gorm.io/gorm"

	"github.com/exef-io/exef/adapters"
	"github.com/exef-io/exef/common"
	"github.com/exef-io/exef/model"
)

// MetadataPatch carries the optional metadata fields of a patch request. Nil
// pointers leave the stored value untouched.
type MetadataPatch struct {
	Category     *string          `json:"category"`
	Description  *string          `json:"description"`
	Tags         model.StringList `json:"tags"`
	CustomFields model.StringMap  `json:"custom_fields"`
}

func (p MetadataPatch) empty() bool {
	return p.Category == nil && p.Description == nil && p.Tags == nil && p.CustomFields == nil
}

// mergeTags appends the tags missing from existing, preserving order.
func mergeTags(existing, incoming model.StringList) model.StringList {
	seen := make(map[string]bool, len(existing))
	merged := existing
	for _, tag := range existing {
		seen[tag] = true
	}
	for _, tag := range incoming {
		if !seen[tag] {
			merged = append(merged, tag)
			seen[tag] = true
		}
	}
	return merged
}

// promoteDescribed advances a new document to described and bumps the task
// counter. Documents already described or further along are untouched.
func promoteDescribed(tx *gorm.DB, doc *model.Document) error {
	if model.StatusRank(doc.Status) >= model.StatusRank(model.DocDescribed) {
		return nil
	}
	if err := tx.Model(&model.Document{}).Where("id = ?", doc.ID).
		Update("status", model.DocDescribed).Error; err != nil {
		return err
	}
	doc.Status = model.DocDescribed
	return tx.Model(&model.Task{}).Where("id = ?", doc.TaskID).
		Update("docs_described", gorm.Expr("docs_described + 1")).Error
}

// PatchMetadata applies a metadata patch: it overwrites the supplied fields,
// bumps the version and promotes the document from new to described.
func (e *Engine) PatchMetadata(documentID string, patch MetadataPatch, editorID string) (*model.Document, *model.DocumentMetadata, error) {
	db, err := e.router.ForResource(documentID)
	if err != nil {
		return nil, nil, err
	}
	var doc model.Document
	if err := db.First(&doc, "id = ?", documentID).Error; err != nil {
		return nil, nil, ErrDocumentNotFound
	}
	var meta model.DocumentMetadata
	if err := db.First(&meta, "document_id = ?", documentID).Error; err != nil {
		meta = model.DocumentMetadata{ID: model.NewID(), DocumentID: documentID, Version: 0}
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if patch.Category != nil {
			meta.Category = *patch.Category
		}
		if patch.Description != nil {
			meta.Description = *patch.Description
		}
		if patch.Tags != nil {
			meta.Tags = patch.Tags
		}
		if patch.CustomFields != nil {
			meta.CustomFields = patch.CustomFields
		}
		now := time.Now()
		meta.EditedBy = editorID
		meta.EditedAt = &now
		meta.Version++
		if err := tx.Save(&meta).Error; err != nil {
			return err
		}
		return promoteDescribed(tx, &doc)
	})
	if err != nil {
		return nil, nil, err
	}
	return &doc, &meta, nil
}

// BulkPatchMetadata applies one patch to many documents. Tag lists merge with
// the stored tags instead of replacing them.
func (e *Engine) BulkPatchMetadata(documentIDs []string, patch MetadataPatch, editorID string) (int, error) {
	if patch.empty() {
		return 0, nil
	}
	updated := 0
	for _, id := range documentIDs {
		db, err := e.router.ForResource(id)
		if err != nil {
			return updated, err
		}
		var doc model.Document
		if err := db.First(&doc, "id = ?", id).Error; err != nil {
			continue
		}
		var meta model.DocumentMetadata
		if err := db.First(&meta, "document_id = ?", id).Error; err != nil {
			meta = model.DocumentMetadata{ID: model.NewID(), DocumentID: id, Version: 0}
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if patch.Category != nil {
				meta.Category = *patch.Category
			}
			if patch.Description != nil {
				meta.Description = *patch.Description
			}
			if patch.Tags != nil {
				meta.Tags = mergeTags(meta.Tags, patch.Tags)
			}
			now := time.Now()
			meta.EditedBy = editorID
			meta.EditedAt = &now
			meta.Version++
			if err := tx.Save(&meta).Error; err != nil {
				return err
			}
			return promoteDescribed(tx, &doc)
		})
		if err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// Approve advances a described document to approved and bumps the counter.
// Approving a document that is not yet described promotes it through the
// described stage first so the counter chain stays monotone.
func (e *Engine) Approve(documentID string) (*model.Document, error) {
	db, err := e.router.ForResource(documentID)
	if err != nil {
		return nil, err
	}
	var doc model.Document
	if err := db.First(&doc, "id = ?", documentID).Error; err != nil {
		return nil, ErrDocumentNotFound
	}
	if model.StatusRank(doc.Status) >= model.StatusRank(model.DocApproved) {
		return &doc, nil
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := promoteDescribed(tx, &doc); err != nil {
			return err
		}
		if err := tx.Model(&model.Document{}).Where("id = ?", doc.ID).
			Update("status", model.DocApproved).Error; err != nil {
			return err
		}
		doc.Status = model.DocApproved
		return tx.Model(&model.Task{}).Where("id = ?", doc.TaskID).
			Update("docs_approved", gorm.Expr("docs_approved + 1")).Error
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// CreateDocument inserts one manually entered document into a task, with the
// same defaults, identifier generation and counter updates an import run
// applies.
func (e *Engine) CreateDocument(taskID string, rec adapters.ImportRecord) (*model.Document, *model.DocumentMetadata, error) {
	db, err := e.router.ForResource(taskID)
	if err != nil {
		return nil, nil, err
	}
	var task model.Task
	if err := db.First(&task, "id = ?", taskID).Error; err != nil {
		return nil, nil, ErrTaskNotFound
	}
	if rec.SourceType == "" {
		rec.SourceType = "manual"
	}

	var docs []model.Document
	err = db.Transaction(func(tx *gorm.DB) error {
		docs, err = createDocuments(tx, &task, []adapters.ImportRecord{rec})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	e.routeDocuments(taskID, docs)

	var meta model.DocumentMetadata
	if err := db.First(&meta, "document_id = ?", docs[0].ID).Error; err != nil {
		return nil, nil, err
	}
	return &docs[0], &meta, nil
}

// DeleteDocument removes a document with its metadata side-car and walks the
// task counters back by the stages the document had reached.
func (e *Engine) DeleteDocument(documentID string) error {
	db, err := e.router.ForResource(documentID)
	if err != nil {
		return err
	}
	var doc model.Document
	if err := db.First(&doc, "id = ?", documentID).Error; err != nil {
		return ErrDocumentNotFound
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{
			"docs_total": gorm.Expr("docs_total - 1"),
		}
		rank := model.StatusRank(doc.Status)
		if rank >= model.StatusRank(model.DocDescribed) {
			updates["docs_described"] = gorm.Expr("docs_described - 1")
		}
		if rank >= model.StatusRank(model.DocApproved) {
			updates["docs_approved"] = gorm.Expr("docs_approved - 1")
		}
		if rank >= model.StatusRank(model.DocExported) {
			updates["docs_exported"] = gorm.Expr("docs_exported - 1")
		}
		if err := tx.Model(&model.Task{}).Where("id = ?", doc.TaskID).
			Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Delete(&model.DocumentMetadata{}, "document_id = ?", doc.ID).Error; err != nil {
			return err
		}
		if err := tx.Where("parent_id = ? OR child_id = ?", doc.ID, doc.ID).
			Delete(&model.DocumentRelation{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Document{}, "id = ?", doc.ID).Error
	})
	if err != nil {
		return err
	}
	if err := e.router.Unroute(doc.ID); err != nil {
		common.Logger.WithError(err).WithField("document", doc.ID).Warn("failed to unroute document")
	}
	return nil
}

// DocumentDuplicates returns the other documents in the same entity database
// sharing the document's deterministic identifier.
func (e *Engine) DocumentDuplicates(documentID string) ([]model.Document, error) {
	db, err := e.router.ForResource(documentID)
	if err != nil {
		return nil, err
	}
	var doc model.Document
	if err := db.First(&doc, "id = ?", documentID).Error; err != nil {
		return nil, ErrDocumentNotFound
	}
	if doc.DocID == "" {
		return nil, nil
	}
	var dupes []model.Document
	err = db.Where("doc_id = ? AND id <> ?", doc.DocID, doc.ID).
		Order("created_at").Find(&dupes).Error
	return dupes, err
}

// DuplicateGroup is one set of documents sharing a deterministic identifier.
type DuplicateGroup struct {
	DocID     string           `json:"doc_id"`
	Documents []model.Document `json:"documents"`
}

// TaskDuplicates groups the task's documents by deterministic identifier and
// returns every group with more than one member.
func (e *Engine) TaskDuplicates(taskID string) ([]DuplicateGroup, error) {
	db, err := e.router.ForResource(taskID)
	if err != nil {
		return nil, err
	}
	var docs []model.Document
	if err := db.Where("task_id = ? AND doc_id <> ''", taskID).
		Order("doc_id, created_at").Find(&docs).Error; err != nil {
		return nil, err
	}
	byID := make(map[string][]model.Document)
	var order []string
	for _, doc := range docs {
		if _, ok := byID[doc.DocID]; !ok {
			order = append(order, doc.DocID)
		}
		byID[doc.DocID] = append(byID[doc.DocID], doc)
	}
	var groups []DuplicateGroup
	for _, id := range order {
		if len(byID[id]) > 1 {
			groups = append(groups, DuplicateGroup{DocID: id, Documents: byID[id]})
		}
	}
	return groups, nil
}
