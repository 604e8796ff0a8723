package adapters

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/exef-io/exef/model"
)

// bankAliases locates statement columns by header substring search. The
// generic set covers most Polish bank exports; named banks override single
// entries where their CSV layout diverges.
type bankAliases struct {
	amount     []string
	title      []string
	contractor []string
	date       []string
	details    []string
}

var genericBankAliases = bankAliases{
	amount:     []string{"kwota", "amount"},
	title:      []string{"tytul", "tytuł", "title", "opis"},
	contractor: []string{"kontrahent", "nadawca", "odbiorca"},
	date:       []string{"data", "date"},
	details:    []string{"szczegoly", "szczegóły", "details"},
}

// bankLayouts carries the per-bank alias overrides. Each named bank is the
// generic parser with a different column map, not a separate implementation.
var bankLayouts = map[string]bankAliases{
	"bank": genericBankAliases,
	"bank_ing": {
		amount:     []string{"kwota transakcji", "kwota"},
		title:      []string{"tytuł", "tytul"},
		contractor: []string{"dane kontrahenta", "kontrahent"},
		date:       []string{"data transakcji", "data"},
		details:    []string{"szczegóły", "szczegoly"},
	},
	"bank_mbank": {
		amount:     []string{"kwota"},
		title:      []string{"opis operacji", "tytuł"},
		contractor: []string{"nadawca/odbiorca", "kontrahent"},
		date:       []string{"data operacji", "data"},
		details:    []string{"tytuł operacji"},
	},
	"bank_pko": {
		amount:     []string{"kwota"},
		title:      []string{"opis transakcji", "tytuł"},
		contractor: []string{"nadawca", "odbiorca"},
		date:       []string{"data operacji", "data waluty"},
		details:    []string{"opis"},
	},
	"bank_santander": {
		amount:     []string{"kwota"},
		title:      []string{"tytułem", "tytuł"},
		contractor: []string{"kontrahent", "nadawca"},
		date:       []string{"data operacji"},
		details:    []string{"szczegóły"},
	},
	"bank_pekao": {
		amount:     []string{"kwota operacji", "kwota"},
		title:      []string{"tytułem", "opis"},
		contractor: []string{"nadawca / odbiorca", "kontrahent"},
		date:       []string{"data księgowania", "data"},
		details:    []string{"szczegóły"},
	},
}

var (
	invoiceNumberPattern = regexp.MustCompile(`(?i)(FV|FA|FZ)\s*[:\-#]?\s*([A-Z0-9/\-]+)`)
	bankNIPPattern       = regexp.MustCompile(`NIP:?\s*(\d{10})`)
)

// BankImporter parses bank-statement CSVs into payment documents. Transfer
// direction follows the amount sign: positive amounts become payment_in,
// negative payment_out.
type BankImporter struct {
	tag     string
	aliases bankAliases
	config  model.StringMap
	name    string
}

// NewBankImporter builds a bank-statement importer for the given tag. An
// unknown tag gets the generic column aliases.
func NewBankImporter(tag string, config model.StringMap, sourceName string) Importer {
	aliases, ok := bankLayouts[tag]
	if !ok {
		aliases = genericBankAliases
	}
	return &BankImporter{tag: tag, aliases: aliases, config: config, name: sourceName}
}

func findColumn(header []string, aliases []string) int {
	for _, alias := range aliases {
		for i, raw := range header {
			if strings.Contains(strings.ToLower(raw), alias) {
				return i
			}
		}
	}
	return -1
}

// Fetch parses the configured statement content. Rows outside the period
// bounds are dropped when bounds are given.
func (b *BankImporter) Fetch(_ context.Context, periodStart, periodEnd *time.Time) ([]ImportRecord, error) {
	content := b.config["content"]
	if content == "" {
		return nil, nil
	}
	data := bytes.TrimPrefix([]byte(content), []byte{0xEF, 0xBB, 0xBF})
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = DetectDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("nieprawidłowy wyciąg CSV: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	header := rows[0]
	amountCol := findColumn(header, b.aliases.amount)
	titleCol := findColumn(header, b.aliases.title)
	contractorCol := findColumn(header, b.aliases.contractor)
	dateCol := findColumn(header, b.aliases.date)
	detailsCol := findColumn(header, b.aliases.details)
	if amountCol < 0 {
		return nil, fmt.Errorf("nie znaleziono kolumny z kwotą w wyciągu")
	}

	var records []ImportRecord
	for i, row := range rows[1:] {
		rawAmount := cell(row, amountCol)
		if rawAmount == "" {
			continue
		}
		amount := parseDecimal(rawAmount)
		if amount.IsZero() {
			continue
		}

		kind := model.KindPaymentIn
		if amount.IsNegative() {
			kind = model.KindPaymentOut
		}

		title := cell(row, titleCol)
		details := cell(row, detailsCol)
		searchable := title + " " + details

		number := ""
		if m := invoiceNumberPattern.FindStringSubmatch(searchable); m != nil {
			number = model.NormalizeDocNumber(m[1] + " " + m[2])
		}
		nip := ""
		if m := bankNIPPattern.FindStringSubmatch(searchable); m != nil {
			nip = m[1]
		}

		date := parseDate(cell(row, dateCol))
		if date != nil {
			if periodStart != nil && date.Before(*periodStart) {
				continue
			}
			if periodEnd != nil && date.After(*periodEnd) {
				continue
			}
		}

		records = append(records, ImportRecord{
			Kind:          kind,
			Number:        number,
			Contractor:    cell(row, contractorCol),
			ContractorNIP: nip,
			AmountGross:   amount.Abs(),
			Currency:      "PLN",
			DocumentDate:  date,
			SourceType:    b.tag,
			SourceID:      fmt.Sprintf("%s-row-%d", b.tag, i+1),
			Description:   title,
		})
	}
	return records, nil
}

// TestConnection validates that statement content parses at all.
func (b *BankImporter) TestConnection(_ context.Context) ConnectionStatus {
	if b.config["content"] == "" {
		return ConnectionStatus{OK: false, Message: "brak zawartości wyciągu w konfiguracji"}
	}
	records, err := b.Fetch(context.Background(), nil, nil)
	if err != nil {
		return ConnectionStatus{OK: false, Message: err.Error()}
	}
	return ConnectionStatus{OK: true, Message: fmt.Sprintf("rozpoznano %d operacji", len(records))}
}
