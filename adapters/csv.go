package adapters

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/exef-io/exef/model"
)

// columnAliases maps canonical column names to the English and Polish header
// spellings accepted in CSV uploads. Matching is case-insensitive.
var columnAliases = map[string][]string{
	"number":      {"number", "numer", "nr", "nr_dokumentu", "numer_faktury", "invoice_number"},
	"contractor":  {"contractor", "kontrahent", "nazwa", "nazwa_kontrahenta", "sprzedawca", "nabywca", "name"},
	"nip":         {"nip", "contractor_nip", "nip_kontrahenta", "tax_id"},
	"net":         {"amount_net", "netto", "kwota_netto", "net"},
	"vat":         {"amount_vat", "vat", "kwota_vat", "podatek", "tax"},
	"gross":       {"amount_gross", "brutto", "kwota_brutto", "kwota", "gross", "amount"},
	"date":        {"date", "data", "data_wystawienia", "data_dokumentu", "document_date"},
	"currency":    {"currency", "waluta"},
	"description": {"description", "opis", "tytul", "tytuł", "title"},
	"category":    {"category", "kategoria"},
	"doc_type":    {"doc_type", "typ", "rodzaj", "type"},
}

// DetectDelimiter picks the CSV delimiter by comparing semicolon and comma
// counts on the first line. Semicolon wins ties because Polish spreadsheets
// export with semicolons.
func DetectDelimiter(data []byte) rune {
	line := data
	if idx := bytes.IndexByte(data, '\n'); idx >= 0 {
		line = data[:idx]
	}
	if bytes.Count(line, []byte{','}) > bytes.Count(line, []byte{';'}) {
		return ','
	}
	return ';'
}

// mapHeader resolves each canonical column to its index in the header row,
// or -1 when absent.
func mapHeader(header []string) map[string]int {
	cols := make(map[string]int, len(columnAliases))
	for canonical := range columnAliases {
		cols[canonical] = -1
	}
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(raw, "\uFEFF")))
		for canonical, aliases := range columnAliases {
			if cols[canonical] >= 0 {
				continue
			}
			for _, alias := range aliases {
				if name == alias {
					cols[canonical] = i
					break
				}
			}
		}
	}
	return cols
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(model.NormalizeAmount(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseDate(s string) *time.Time {
	norm := model.NormalizeDate(s)
	if norm == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", norm)
	if err != nil {
		return nil
	}
	return &t
}

func parseDocKind(s string) model.DocumentKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "receipt", "paragon":
		return model.KindReceipt
	case "contract", "umowa":
		return model.KindContract
	case "correction", "korekta":
		return model.KindCorrection
	case "proforma":
		return model.KindProforma
	case "payment_in":
		return model.KindPaymentIn
	case "payment_out":
		return model.KindPaymentOut
	case "cv":
		return model.KindCV
	default:
		return model.KindInvoice
	}
}

// ParseDocumentCSV parses tabular invoice data into import records. Rows
// with no number, no gross amount and no contractor name are skipped
// silently; rows that fail to parse are skipped with an error naming the
// row index. The artifact therefore imports as success or partial.
func ParseDocumentCSV(data []byte, sourceType string) ([]ImportRecord, []string) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = DetectDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, []string{fmt.Sprintf("nieprawidłowy plik CSV: %v", err)}
	}
	if len(rows) < 2 {
		return nil, nil
	}

	cols := mapHeader(rows[0])
	var records []ImportRecord
	var errs []string
	for i, row := range rows[1:] {
		number := cell(row, cols["number"])
		gross := cell(row, cols["gross"])
		contractor := cell(row, cols["contractor"])
		if number == "" && gross == "" && contractor == "" {
			continue
		}

		rec := ImportRecord{
			Kind:          parseDocKind(cell(row, cols["doc_type"])),
			Number:        number,
			Contractor:    contractor,
			ContractorNIP: model.NormalizeNIP(cell(row, cols["nip"])),
			AmountNet:     parseDecimal(cell(row, cols["net"])),
			AmountVAT:     parseDecimal(cell(row, cols["vat"])),
			AmountGross:   parseDecimal(gross),
			Currency:      strings.ToUpper(cell(row, cols["currency"])),
			DocumentDate:  parseDate(cell(row, cols["date"])),
			SourceType:    sourceType,
			SourceID:      fmt.Sprintf("%s-row-%d", sourceType, i+1),
			Description:   cell(row, cols["description"]),
			Category:      cell(row, cols["category"]),
		}
		if rec.ContractorNIP != "" && !model.ValidNIP(rec.ContractorNIP) {
			errs = append(errs, fmt.Sprintf("wiersz %d: nieprawidłowy NIP %q", i+1, rec.ContractorNIP))
		}
		records = append(records, rec)
	}
	return records, errs
}

// CSVImporter parses config-provided CSV content. The upload handler injects
// the file bytes into the config under "content".
type CSVImporter struct {
	config model.StringMap
	name   string
}

// NewCSVImporter builds the csv import adapter.
func NewCSVImporter(config model.StringMap, sourceName string) Importer {
	return &CSVImporter{config: config, name: sourceName}
}

// Fetch parses the configured CSV content. The period bounds are ignored;
// a CSV carries whatever rows it carries.
func (c *CSVImporter) Fetch(_ context.Context, _, _ *time.Time) ([]ImportRecord, error) {
	content := c.config["content"]
	if content == "" {
		return nil, nil
	}
	records, errs := ParseDocumentCSV([]byte(content), "csv")
	if len(records) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("%s", errs[0])
	}
	return records, nil
}

// TestConnection validates that content is present and parseable.
func (c *CSVImporter) TestConnection(_ context.Context) ConnectionStatus {
	if c.config["content"] == "" {
		return ConnectionStatus{OK: false, Message: "brak zawartości CSV w konfiguracji"}
	}
	records, errs := ParseDocumentCSV([]byte(c.config["content"]), "csv")
	if len(errs) > 0 && len(records) == 0 {
		return ConnectionStatus{OK: false, Message: errs[0]}
	}
	return ConnectionStatus{OK: true, Message: fmt.Sprintf("rozpoznano %d wierszy", len(records))}
}
