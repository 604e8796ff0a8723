package adapters

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/exef-io/exef/model"
)

// CSVExporter writes the generic semicolon-delimited CSV with UTF-8 BOM.
// Its header uses the same column names the csv importer accepts, so an
// exported file re-imports losslessly.
type CSVExporter struct {
	config model.StringMap
	name   string
}

// NewCSVExporter builds the generic csv export adapter.
func NewCSVExporter(config model.StringMap, sourceName string) Exporter {
	return &CSVExporter{config: config, name: sourceName}
}

var csvExportHeader = []string{
	"number", "contractor", "nip", "amount_net", "amount_vat",
	"amount_gross", "currency", "date", "doc_type", "category", "description",
}

// Export serialises the documents into one CSV artifact.
func (c *CSVExporter) Export(docs []ExportDocument, taskName string) (ExportResult, error) {
	var buf bytes.Buffer
	buf.WriteString(UTF8BOM)
	w := csv.NewWriter(&buf)
	w.Comma = ';'

	if err := w.Write(csvExportHeader); err != nil {
		return ExportResult{}, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, doc := range docs {
		row := []string{
			doc.Number,
			doc.Contractor,
			doc.ContractorNIP,
			doc.AmountNet.StringFixed(2),
			doc.AmountVAT.StringFixed(2),
			doc.AmountGross.StringFixed(2),
			doc.Currency,
			formatDate(doc.DocumentDate, "2006-01-02"),
			string(doc.Kind),
			doc.Category,
			doc.Description,
		}
		if err := w.Write(row); err != nil {
			return ExportResult{}, fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return ExportResult{}, err
	}

	return ExportResult{
		Content:      buf.String(),
		Filename:     fmt.Sprintf("dokumenty_%s_%s.csv", safeFilename(taskName), time.Now().Format("20060102")),
		Format:       "csv",
		DocsExported: len(docs),
		Encoding:     EncodingUTF8BOM,
	}, nil
}

// TestConnection is static for file exporters.
func (c *CSVExporter) TestConnection(ctx context.Context) ConnectionStatus {
	return staticOK("eksport CSV gotowy")(ctx)
}
