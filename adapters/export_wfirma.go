package adapters

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/exef-io/exef/model"
)

// WFirmaExporter writes the 14-column semicolon CSV the wFirma import
// wizard understands.
type WFirmaExporter struct {
	config model.StringMap
	name   string
}

// NewWFirmaExporter builds the wFirma export adapter.
func NewWFirmaExporter(config model.StringMap, sourceName string) Exporter {
	return &WFirmaExporter{config: config, name: sourceName}
}

var wfirmaHeader = []string{
	"Lp", "Rodzaj dokumentu", "Numer", "Data wystawienia", "Data sprzedaży",
	"Kontrahent", "NIP", "Netto", "Stawka VAT", "VAT", "Brutto", "Waluta",
	"Kategoria", "Opis",
}

// Export serialises the documents into the wFirma CSV layout.
func (w *WFirmaExporter) Export(docs []ExportDocument, taskName string) (ExportResult, error) {
	var buf bytes.Buffer
	buf.WriteString(UTF8BOM)
	cw := csv.NewWriter(&buf)
	cw.Comma = ';'

	if err := cw.Write(wfirmaHeader); err != nil {
		return ExportResult{}, fmt.Errorf("failed to write header: %w", err)
	}
	for i, doc := range docs {
		row := []string{
			strconv.Itoa(i + 1),
			kindLabel(doc.Kind),
			doc.Number,
			formatDate(doc.DocumentDate, "2006-01-02"),
			formatDate(doc.DocumentDate, "2006-01-02"),
			doc.Contractor,
			doc.ContractorNIP,
			doc.AmountNet.StringFixed(2),
			fmt.Sprintf("%d%%", vatRate(doc.AmountNet, doc.AmountVAT)),
			doc.AmountVAT.StringFixed(2),
			doc.AmountGross.StringFixed(2),
			doc.Currency,
			doc.Category,
			doc.Description,
		}
		if err := cw.Write(row); err != nil {
			return ExportResult{}, fmt.Errorf("failed to write row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return ExportResult{}, err
	}

	return ExportResult{
		Content:      buf.String(),
		Filename:     fmt.Sprintf("wfirma_%s_%s.csv", safeFilename(taskName), time.Now().Format("20060102")),
		Format:       "csv",
		DocsExported: len(docs),
		Encoding:     EncodingUTF8BOM,
	}, nil
}

// TestConnection is static; wFirma imports files, there is no API session.
func (w *WFirmaExporter) TestConnection(ctx context.Context) ConnectionStatus {
	return staticOK("eksport wFirma gotowy")(ctx)
}
