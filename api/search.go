package api

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/exef-io/exef/model"
)

func limitParam(c echo.Context, def, max int) int {
	limit, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// handleSearchDocuments finds documents across an entity by number,
// contractor name, tax ID or deterministic identifier.
func (s *Server) handleSearchDocuments(c echo.Context) error {
	entityID := c.QueryParam("entity_id")
	if entityID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "brak parametru entity_id")
	}
	if _, ok := s.membership(c, entityID); !ok {
		return domainError(ErrForbidden)
	}
	edb, err := scopeFrom(c).ForEntity(entityID)
	if err != nil {
		return err
	}

	q := edb.Model(&model.Document{}).
		Joins("JOIN tasks ON tasks.id = documents.task_id").
		Joins("JOIN projects ON projects.id = tasks.project_id").
		Where("projects.entity_id = ?", entityID)
	if term := strings.TrimSpace(c.QueryParam("q")); term != "" {
		pattern := "%" + strings.ToLower(term) + "%"
		q = q.Where(
			"lower(documents.number) LIKE ? OR lower(documents.contractor) LIKE ? OR documents.contractor_nip LIKE ? OR documents.doc_id LIKE ?",
			pattern, pattern, pattern, pattern)
	}
	if excl := c.QueryParam("exclude_project_id"); excl != "" {
		q = q.Where("projects.id <> ?", excl)
	}
	if excl := c.QueryParam("exclude_document_id"); excl != "" {
		q = q.Where("documents.id <> ?", excl)
	}

	docs := []model.Document{}
	if err := q.Order("documents.created_at DESC").
		Limit(limitParam(c, 20, 100)).Find(&docs).Error; err != nil {
		return err
	}
	return c.JSON(http.StatusOK, docs)
}

// corporateTokens are legal-form words ignored when comparing contractor
// names; sharing them says nothing about the businesses being the same.
var corporateTokens = map[string]bool{
	"sp": true, "z": true, "o": true, "oo": true, "o.o": true,
	"sa": true, "s.a": true, "ska": true, "sp.j": true, "spj": true,
	"sp.k": true, "spk": true, "spółka": true, "spolka": true,
	"akcyjna": true, "jawna": true, "cywilna": true, "komandytowa": true,
	"firma": true, "phu": true, "fhu": true, "pphu": true,
}

func nameTokens(name string) map[string]bool {
	tokens := map[string]bool{}
	cleaned := strings.ToLower(name)
	cleaned = strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '"', '(', ')', '-':
			return ' '
		}
		return r
	}, cleaned)
	for _, tok := range strings.Fields(cleaned) {
		if len(tok) > 1 && !corporateTokens[tok] {
			tokens[tok] = true
		}
	}
	return tokens
}

func normalizedName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// matchScore rates how likely two documents describe the same underlying
// transaction. The score is the sum of partial signals, capped at 1.0.
func matchScore(base, cand *model.Document) (float64, []string) {
	score := 0.0
	var reasons []string

	if base.ContractorNIP != "" && base.ContractorNIP == cand.ContractorNIP {
		score += 0.35
		reasons = append(reasons, "zgodny NIP")
	}

	if !base.AmountGross.IsZero() && !cand.AmountGross.IsZero() {
		diff := base.AmountGross.Sub(cand.AmountGross).Abs()
		switch {
		case diff.IsZero():
			score += 0.35
			reasons = append(reasons, "identyczna kwota brutto")
		case diff.LessThanOrEqual(base.AmountGross.Abs().Mul(decimal.NewFromFloat(0.01))):
			score += 0.25
			reasons = append(reasons, "kwota brutto zbliżona (1%)")
		case diff.LessThanOrEqual(base.AmountGross.Abs().Mul(decimal.NewFromFloat(0.05))):
			score += 0.10
			reasons = append(reasons, "kwota brutto podobna (5%)")
		}
	}

	baseName, candName := normalizedName(base.Contractor), normalizedName(cand.Contractor)
	switch {
	case baseName != "" && baseName == candName:
		score += 0.20
		reasons = append(reasons, "zgodna nazwa kontrahenta")
	case baseName != "" && candName != "" &&
		(strings.Contains(baseName, candName) || strings.Contains(candName, baseName)):
		score += 0.15
		reasons = append(reasons, "częściowo zgodna nazwa kontrahenta")
	default:
		shared := 0
		candTokens := nameTokens(cand.Contractor)
		for tok := range nameTokens(base.Contractor) {
			if candTokens[tok] {
				shared++
			}
		}
		if shared >= 2 {
			score += 0.10
			reasons = append(reasons, "wspólne słowa w nazwie kontrahenta")
		}
	}

	if base.DocumentDate != nil && cand.DocumentDate != nil {
		days := base.DocumentDate.Sub(*cand.DocumentDate).Hours() / 24
		if days < 0 {
			days = -days
		}
		switch {
		case days <= 7:
			score += 0.10
			reasons = append(reasons, "data w odstępie 7 dni")
		case days <= 30:
			score += 0.05
			reasons = append(reasons, "data w odstępie 30 dni")
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score, reasons
}

type matchSuggestion struct {
	Document model.Document `json:"document"`
	Score    float64        `json:"score"`
	Reasons  []string       `json:"reasons"`
}

// handleMatchDocuments suggests documents likely describing the same
// transaction, for linking payments to invoices. Candidates from the
// document's own project are excluded.
func (s *Server) handleMatchDocuments(c echo.Context) error {
	doc, err := s.loadDocument(c, c.Param("id"), canView)
	if err != nil {
		return err
	}
	edb, err := scopeFrom(c).ForResource(doc.ID)
	if err != nil {
		return err
	}
	var task model.Task
	if err := edb.First(&task, "id = ?", doc.TaskID).Error; err != nil {
		return err
	}
	var proj model.Project
	if err := edb.First(&proj, "id = ?", task.ProjectID).Error; err != nil {
		return err
	}

	var candidates []model.Document
	if err := edb.Model(&model.Document{}).
		Joins("JOIN tasks ON tasks.id = documents.task_id").
		Joins("JOIN projects ON projects.id = tasks.project_id").
		Where("projects.entity_id = ? AND tasks.project_id <> ? AND documents.id <> ?",
			proj.EntityID, task.ProjectID, doc.ID).
		Find(&candidates).Error; err != nil {
		return err
	}

	suggestions := []matchSuggestion{}
	for i := range candidates {
		score, reasons := matchScore(doc, &candidates[i])
		if score > 0 {
			suggestions = append(suggestions, matchSuggestion{
				Document: candidates[i],
				Score:    score,
				Reasons:  reasons,
			})
		}
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Score > suggestions[j].Score
	})
	if limit := limitParam(c, 10, 50); len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return c.JSON(http.StatusOK, suggestions)
}
