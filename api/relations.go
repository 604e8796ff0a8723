package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/exef-io/exef/model"
)

// relationTypeLabels maps relation tags to their display names.
var relationTypeLabels = map[model.RelationType]string{
	model.RelPayment:           "Płatność",
	model.RelCorrection:        "Korekta",
	model.RelContractToInvoice: "Umowa do faktury",
	model.RelAttachment:        "Załącznik",
	model.RelDuplicate:         "Duplikat",
	model.RelRelated:           "Powiązany",
}

type relationTypeInfo struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

func (s *Server) handleRelationTypes(c echo.Context) error {
	infos := make([]relationTypeInfo, 0, len(model.RelationTypes))
	for _, rt := range model.RelationTypes {
		infos = append(infos, relationTypeInfo{Type: string(rt), Name: relationTypeLabels[rt]})
	}
	return c.JSON(http.StatusOK, infos)
}

type createRelationRequest struct {
	ParentID     string `json:"parent_id" validate:"required"`
	ChildID      string `json:"child_id" validate:"required"`
	RelationType string `json:"relation_type" validate:"required"`
}

func (s *Server) handleCreateRelation(c echo.Context) error {
	var req createRelationRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	if req.ParentID == req.ChildID {
		return echo.NewHTTPError(http.StatusUnprocessableEntity,
			"dokument nie może być powiązany sam ze sobą")
	}
	if _, ok := relationTypeLabels[model.RelationType(req.RelationType)]; !ok {
		return echo.NewHTTPError(http.StatusUnprocessableEntity,
			"nieznany typ relacji: "+req.RelationType)
	}

	parent, err := s.loadDocument(c, req.ParentID, canDescribe)
	if err != nil {
		return err
	}
	edb, err := scopeFrom(c).ForResource(parent.ID)
	if err != nil {
		return err
	}
	var child model.Document
	if err := edb.First(&child, "id = ?", req.ChildID).Error; err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "nie znaleziono dokumentu powiązanego")
	}

	relation := model.DocumentRelation{
		ID:        model.NewID(),
		ParentID:  parent.ID,
		ChildID:   child.ID,
		Type:      model.RelationType(req.RelationType),
		CreatedBy: identityID(c),
	}
	if err := edb.Create(&relation).Error; err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "taka relacja już istnieje")
	}
	if nip := scopeFrom(c).NIPOf(parent.ID); nip != "" {
		_ = s.rt.Route(relation.ID, nip, "relation")
	}
	return c.JSON(http.StatusCreated, relation)
}

func (s *Server) handleListRelations(c echo.Context) error {
	doc, err := s.loadDocument(c, c.Param("id"), canView)
	if err != nil {
		return err
	}
	edb, err := scopeFrom(c).ForResource(doc.ID)
	if err != nil {
		return err
	}
	relations := []model.DocumentRelation{}
	if err := edb.Where("parent_id = ? OR child_id = ?", doc.ID, doc.ID).
		Order("created_at").Find(&relations).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusOK, relations)
}

// relationWithContext pairs a relation with the document on the other side
// of the link.
type relationWithContext struct {
	Relation model.DocumentRelation `json:"relation"`
	Linked   model.Document         `json:"linked_document"`
	Role     string                 `json:"role"`
}

func (s *Server) handleRelationsWithContext(c echo.Context) error {
	doc, err := s.loadDocument(c, c.Param("id"), canView)
	if err != nil {
		return err
	}
	edb, err := scopeFrom(c).ForResource(doc.ID)
	if err != nil {
		return err
	}
	relations := []model.DocumentRelation{}
	if err := edb.Where("parent_id = ? OR child_id = ?", doc.ID, doc.ID).
		Order("created_at").Find(&relations).Error; err != nil {
		return err
	}

	out := make([]relationWithContext, 0, len(relations))
	for _, rel := range relations {
		otherID, role := rel.ChildID, "parent"
		if rel.ChildID == doc.ID {
			otherID, role = rel.ParentID, "child"
		}
		var other model.Document
		if err := edb.First(&other, "id = ?", otherID).Error; err != nil {
			continue
		}
		out = append(out, relationWithContext{Relation: rel, Linked: other, Role: role})
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleDeleteRelation(c echo.Context) error {
	relationID := c.Param("id")
	edb, err := scopeFrom(c).ForResource(relationID)
	if err != nil {
		return err
	}
	var relation model.DocumentRelation
	if err := edb.First(&relation, "id = ?", relationID).Error; err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "nie znaleziono relacji")
	}
	if _, err := s.loadDocument(c, relation.ParentID, canDescribe); err != nil {
		return err
	}
	if err := edb.Delete(&model.DocumentRelation{}, "id = ?", relationID).Error; err != nil {
		return err
	}
	_ = s.rt.Unroute(relationID)
	return c.NoContent(http.StatusNoContent)
}
