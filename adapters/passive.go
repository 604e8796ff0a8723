package adapters

import (
	"context"
	"time"

	"github.com/exef-io/exef/model"
)

// PassiveImporter backs the manual, upload and webhook source types.
// Documents enter through HTTP endpoints, so Fetch returns nothing; the
// source row exists to carry configuration and run history.
type PassiveImporter struct {
	tag  string
	name string
}

// NewPassiveImporter returns the factory for a passive tag.
func NewPassiveImporter(tag string) ImporterFactory {
	return func(_ model.StringMap, sourceName string) Importer {
		return &PassiveImporter{tag: tag, name: sourceName}
	}
}

// Fetch returns the empty list.
func (p *PassiveImporter) Fetch(_ context.Context, _, _ *time.Time) ([]ImportRecord, error) {
	return nil, nil
}

// TestConnection is always ok for passive sources.
func (p *PassiveImporter) TestConnection(_ context.Context) ConnectionStatus {
	return ConnectionStatus{OK: true, Message: "źródło pasywne, dokumenty przyjmowane przez API"}
}
