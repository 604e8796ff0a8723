package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/exef-io/exef/common"
	"github.com/exef-io/exef/model"
)

// MockImporter is the fallback the flow engine uses when a source type has
// no registered adapter. It emits a small deterministic sample so that
// development flows stay exercisable; production builds should never reach
// it, which is why every instantiation logs at warning level.
type MockImporter struct {
	sourceType string
	name       string
}

// NewMockImporter builds the fallback generator for an unregistered tag.
func NewMockImporter(sourceType, sourceName string) *MockImporter {
	common.Logger.WithField("source_type", sourceType).WithField("source", sourceName).
		Warn("no adapter registered, falling back to mock generator")
	return &MockImporter{sourceType: sourceType, name: sourceName}
}

var mockContractors = []struct {
	name string
	nip  string
}{
	{"Hurtownia Papiernicza ALFA Sp. z o.o.", "5213003700"},
	{"BETA Usługi IT S.A.", "5272525995"},
	{"GAMMA Transport Jan Kowalski", "9512008374"},
}

// Fetch emits three deterministic invoices dated inside the period.
func (m *MockImporter) Fetch(_ context.Context, periodStart, _ *time.Time) ([]ImportRecord, error) {
	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	if periodStart != nil {
		base = periodStart.AddDate(0, 0, 14)
	}
	records := make([]ImportRecord, 0, len(mockContractors))
	for i, contractor := range mockContractors {
		date := base.AddDate(0, 0, i)
		records = append(records, ImportRecord{
			Kind:          model.KindInvoice,
			Number:        fmt.Sprintf("MOCK/%d/%d", i+1, date.Year()),
			Contractor:    contractor.name,
			ContractorNIP: contractor.nip,
			AmountNet:     decimal.NewFromInt(int64(100 * (i + 1))),
			AmountVAT:     decimal.NewFromInt(int64(23 * (i + 1))),
			AmountGross:   decimal.NewFromInt(int64(123 * (i + 1))),
			Currency:      "PLN",
			DocumentDate:  &date,
			SourceType:    m.sourceType,
			SourceID:      fmt.Sprintf("mock-%s-%d", m.sourceType, i+1),
			Description:   "dokument testowy",
		})
	}
	return records, nil
}

// TestConnection reports the fallback nature of the adapter.
func (m *MockImporter) TestConnection(_ context.Context) ConnectionStatus {
	return ConnectionStatus{OK: true, Message: "generator testowy (brak zarejestrowanego adaptera)"}
}
