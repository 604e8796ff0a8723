package adapters

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/charmap"

	"github.com/exef-io/exef/model"
)

// SymfoniaExporter writes the semicolon CSV Symfonia FK imports. Symfonia
// reads Windows-1250 with comma decimal separators and DD.MM.YYYY dates.
type SymfoniaExporter struct {
	config model.StringMap
	name   string
}

// NewSymfoniaExporter builds the Symfonia export adapter.
func NewSymfoniaExporter(config model.StringMap, sourceName string) Exporter {
	return &SymfoniaExporter{config: config, name: sourceName}
}

var symfoniaHeader = []string{
	"Lp", "Rodzaj", "Numer dokumentu", "Data", "Kontrahent", "NIP",
	"Netto", "VAT", "Brutto", "Waluta", "Opis",
}

func plnAmount(d decimal.Decimal) string {
	return strings.ReplaceAll(d.StringFixed(2), ".", ",")
}

// Export serialises documents and transcodes the artifact to CP1250.
func (s *SymfoniaExporter) Export(docs []ExportDocument, taskName string) (ExportResult, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = ';'

	if err := w.Write(symfoniaHeader); err != nil {
		return ExportResult{}, fmt.Errorf("failed to write header: %w", err)
	}
	for i, doc := range docs {
		row := []string{
			strconv.Itoa(i + 1),
			kindLabel(doc.Kind),
			doc.Number,
			formatDate(doc.DocumentDate, "02.01.2006"),
			doc.Contractor,
			doc.ContractorNIP,
			plnAmount(doc.AmountNet),
			plnAmount(doc.AmountVAT),
			plnAmount(doc.AmountGross),
			doc.Currency,
			doc.Description,
		}
		if err := w.Write(row); err != nil {
			return ExportResult{}, fmt.Errorf("failed to write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return ExportResult{}, err
	}

	encoded, err := charmap.Windows1250.NewEncoder().String(buf.String())
	if err != nil {
		return ExportResult{}, fmt.Errorf("failed to encode CP1250: %w", err)
	}

	return ExportResult{
		Content:      encoded,
		Filename:     fmt.Sprintf("symfonia_%s_%s.csv", safeFilename(taskName), time.Now().Format("20060102")),
		Format:       "csv",
		DocsExported: len(docs),
		Encoding:     EncodingCP1250,
	}, nil
}

// TestConnection is static; Symfonia imports files, there is no API session.
func (s *SymfoniaExporter) TestConnection(ctx context.Context) ConnectionStatus {
	return staticOK("eksport Symfonia gotowy")(ctx)
}
