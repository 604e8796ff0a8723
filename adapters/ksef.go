package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/exef-io/exef/model"
)

// ksefEnvironments maps the environment tag to the API base URL. The mock
// environment points at a local stub used in development and tests.
var ksefEnvironments = map[string]string{
	"test": "https://ksef-test.mf.gov.pl/api",
	"demo": "https://ksef-demo.mf.gov.pl/api",
	"prod": "https://ksef.mf.gov.pl/api",
	"mock": "http://localhost:8091/api",
}

const ksefTimeout = 10 * time.Second

// KSeFImporter fetches e-invoices from the national KSeF system over REST.
type KSeFImporter struct {
	config model.StringMap
	name   string
	client *http.Client
}

// NewKSeFImporter builds the KSeF import adapter.
func NewKSeFImporter(config model.StringMap, sourceName string) Importer {
	return &KSeFImporter{
		config: config,
		name:   sourceName,
		client: &http.Client{Timeout: ksefTimeout},
	}
}

func (k *KSeFImporter) baseURL() string {
	// An explicit URL in config overrides the environment table.
	if base := k.config["base_url"]; base != "" {
		return base
	}
	env := k.config["environment"]
	if env == "" {
		env = "test"
	}
	if base, ok := ksefEnvironments[env]; ok {
		return base
	}
	return ksefEnvironments["test"]
}

func (k *KSeFImporter) get(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	u := k.baseURL() + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if token := k.config["token"]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")
	return k.client.Do(req)
}

// Fetch lists invoices for the configured NIP within the period bounds.
// The response body may be a bare list or wrapped under "invoices" or
// "items"; all three shapes are accepted.
func (k *KSeFImporter) Fetch(ctx context.Context, periodStart, periodEnd *time.Time) ([]ImportRecord, error) {
	nip := model.NormalizeNIP(k.config["nip"])
	if nip == "" {
		return nil, fmt.Errorf("brak NIP w konfiguracji źródła KSeF")
	}

	query := url.Values{"nip": {nip}}
	if periodStart != nil {
		query.Set("dateFrom", periodStart.Format("2006-01-02"))
	}
	if periodEnd != nil {
		query.Set("dateTo", periodEnd.Format("2006-01-02"))
	}

	res, err := k.get(ctx, "/invoices", query)
	if err != nil {
		return nil, fmt.Errorf("żądanie do KSeF nieudane: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, fmt.Errorf("KSeF zwrócił status %d: %s", res.StatusCode, string(body))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("nie można odczytać odpowiedzi KSeF: %w", err)
	}

	items, err := decodeKSeFList(body)
	if err != nil {
		return nil, err
	}

	records := make([]ImportRecord, 0, len(items))
	for i, item := range items {
		records = append(records, ksefRecord(item, i))
	}
	return records, nil
}

func decodeKSeFList(body []byte) ([]map[string]any, error) {
	var list []map[string]any
	if err := json.Unmarshal(body, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Invoices []map[string]any `json:"invoices"`
		Items    []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("niezrozumiała odpowiedź KSeF: %w", err)
	}
	if wrapped.Invoices != nil {
		return wrapped.Invoices, nil
	}
	return wrapped.Items, nil
}

// pick returns the first non-empty string value under any of the keys.
func pick(item map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := item[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return decimal.NewFromFloat(v).String()
		}
	}
	return ""
}

func ksefRecord(item map[string]any, index int) ImportRecord {
	sourceID := pick(item, "ksefReferenceNumber", "referenceNumber", "id")
	if sourceID == "" {
		sourceID = fmt.Sprintf("ksef-%d", index)
	}
	return ImportRecord{
		Kind:          model.KindInvoice,
		Number:        pick(item, "invoiceNumber", "number", "numer"),
		Contractor:    pick(item, "sellerName", "seller", "nazwa"),
		ContractorNIP: model.NormalizeNIP(pick(item, "sellerNip", "nip")),
		AmountNet:     parseDecimal(pick(item, "netAmount", "net", "netto")),
		AmountVAT:     parseDecimal(pick(item, "vatAmount", "vat")),
		AmountGross:   parseDecimal(pick(item, "grossAmount", "gross", "brutto")),
		Currency:      "PLN",
		DocumentDate:  parseDate(pick(item, "issueDate", "date", "data")),
		SourceType:    "ksef",
		SourceID:      sourceID,
	}
}

// TestConnection validates the configured NIP (format and checksum) and
// probes the environment's health endpoint.
func (k *KSeFImporter) TestConnection(ctx context.Context) ConnectionStatus {
	nip := model.NormalizeNIP(k.config["nip"])
	if nip == "" {
		return ConnectionStatus{OK: false, Message: "brak NIP w konfiguracji"}
	}
	if !model.ValidNIP(nip) {
		return ConnectionStatus{OK: false, Message: fmt.Sprintf("nieprawidłowy NIP: %s", nip)}
	}

	res, err := k.get(ctx, "/health", nil)
	if err != nil {
		return ConnectionStatus{OK: false, Message: fmt.Sprintf("środowisko KSeF niedostępne: %v", err)}
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return ConnectionStatus{OK: false, Message: fmt.Sprintf("KSeF zwrócił status %d", res.StatusCode)}
	}
	return ConnectionStatus{OK: true, Message: "połączono z KSeF"}
}
