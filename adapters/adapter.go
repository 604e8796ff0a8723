// Package adapters defines the uniform contract every import and export
// adapter implements, and the registry that makes adapters discoverable by a
// short string tag. Importers fetch external records and map them onto the
// canonical document shape; exporters serialise described documents into the
// target accounting-software format.
package adapters

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/exef-io/exef/model"
)

// ImportRecord is one record produced by an import adapter. It carries a
// subset of the canonical document fields; missing fields are allowed and
// the flow engine fills defaults.
type ImportRecord struct {
	Kind          model.DocumentKind
	Number        string
	Contractor    string
	ContractorNIP string
	AmountNet     decimal.Decimal
	AmountVAT     decimal.Decimal
	AmountGross   decimal.Decimal
	Currency      string
	DocumentDate  *time.Time

	// SourceType is the adapter tag, SourceID a per-source unique record ID.
	SourceType string
	SourceID   string

	Description      string
	Category         string
	OriginalFilename string
}

// ExportDocument is a document joined with its metadata side-car, the shape
// exporters consume.
type ExportDocument struct {
	model.Document
	Category    string
	Description string
}

// ExportResult is the serialised artifact of one export run.
type ExportResult struct {
	// Content holds the full artifact as text.
	Content  string
	Filename string

	// Format is "csv" or "xml".
	Format string

	DocsExported int

	// Encoding names the output encoding; UTF-8 with BOM unless the target
	// software requires otherwise (Symfonia wants CP1250).
	Encoding string
}

// ConnectionStatus is the result of a connectivity probe. The probe must not
// mutate external state; opening a connection, logging in, listing a mailbox
// or HEAD-ing an endpoint are acceptable side effects.
type ConnectionStatus struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Importer fetches external records for a period. Nil period bounds let the
// adapter choose its own window, typically from config.
type Importer interface {
	Fetch(ctx context.Context, periodStart, periodEnd *time.Time) ([]ImportRecord, error)
	TestConnection(ctx context.Context) ConnectionStatus
}

// Exporter serialises documents into one artifact.
type Exporter interface {
	Export(docs []ExportDocument, taskName string) (ExportResult, error)
	TestConnection(ctx context.Context) ConnectionStatus
}

// ImporterFactory builds an importer from its source configuration.
type ImporterFactory func(config model.StringMap, sourceName string) Importer

// ExporterFactory builds an exporter from its source configuration.
type ExporterFactory func(config model.StringMap, sourceName string) Exporter

// ConfigField describes one configuration key of a source type, for the
// source-type catalogue endpoint.
type ConfigField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Secret   bool   `json:"secret,omitempty"`
	Default  string `json:"default,omitempty"`
}

// SourceTypeInfo is the catalogue entry of one registered tag.
type SourceTypeInfo struct {
	Type         string        `json:"type"`
	Name         string        `json:"name"`
	Icon         string        `json:"icon"`
	ConfigFields []ConfigField `json:"config_fields"`
}

// Registry holds the process-wide adapter maps. Built once at startup and
// read-only afterwards.
type Registry struct {
	importers  map[string]ImporterFactory
	exporters  map[string]ExporterFactory
	importMeta []SourceTypeInfo
	exportMeta []SourceTypeInfo
}

// NewRegistry builds the registry with every built-in adapter registered.
func NewRegistry() *Registry {
	r := &Registry{
		importers: make(map[string]ImporterFactory),
		exporters: make(map[string]ExporterFactory),
	}

	r.registerImporter(SourceTypeInfo{
		Type: "email", Name: "Skrzynka e-mail (IMAP)", Icon: "mail",
		ConfigFields: []ConfigField{
			{Key: "host", Label: "Serwer IMAP", Required: true},
			{Key: "username", Label: "Użytkownik", Required: true},
			{Key: "password", Label: "Hasło", Secret: true},
			{Key: "port", Label: "Port", Default: "993"},
			{Key: "folder", Label: "Folder", Default: "INBOX"},
			{Key: "days_back", Label: "Dni wstecz", Default: "30"},
			{Key: "doc_type", Label: "Typ dokumentu", Default: "invoice"},
			{Key: "subject_pattern", Label: "Wzorzec tematu"},
			{Key: "sender_filter", Label: "Filtr nadawcy"},
			{Key: "attachment_extensions", Label: "Rozszerzenia załączników"},
			{Key: "filename_pattern", Label: "Wzorzec nazwy pliku"},
		},
	}, NewEmailImporter)

	r.registerImporter(SourceTypeInfo{
		Type: "ksef", Name: "KSeF", Icon: "landmark",
		ConfigFields: []ConfigField{
			{Key: "nip", Label: "NIP", Required: true},
			{Key: "token", Label: "Token", Secret: true},
			{Key: "environment", Label: "Środowisko", Default: "test"},
		},
	}, NewKSeFImporter)

	r.registerImporter(SourceTypeInfo{
		Type: "csv", Name: "Plik CSV", Icon: "file-spreadsheet",
		ConfigFields: []ConfigField{
			{Key: "content", Label: "Zawartość CSV", Required: true},
		},
	}, NewCSVImporter)

	for _, passive := range []struct{ tag, name, icon string }{
		{"manual", "Wpis ręczny", "pencil"},
		{"upload", "Wgrany plik", "upload"},
		{"webhook", "Webhook", "webhook"},
	} {
		r.registerImporter(SourceTypeInfo{Type: passive.tag, Name: passive.name, Icon: passive.icon},
			NewPassiveImporter(passive.tag))
	}

	bankFields := []ConfigField{
		{Key: "content", Label: "Wyciąg CSV", Required: true},
	}
	for _, bank := range []struct{ tag, name string }{
		{"bank", "Wyciąg bankowy (CSV)"},
		{"bank_ing", "ING Bank Śląski"},
		{"bank_mbank", "mBank"},
		{"bank_pko", "PKO BP"},
		{"bank_santander", "Santander"},
		{"bank_pekao", "Pekao SA"},
	} {
		tag := bank.tag
		r.registerImporter(SourceTypeInfo{Type: tag, Name: bank.name, Icon: "building-bank", ConfigFields: bankFields},
			func(config model.StringMap, name string) Importer {
				return NewBankImporter(tag, config, name)
			})
	}

	r.registerExporter(SourceTypeInfo{
		Type: "wfirma", Name: "wFirma (CSV)", Icon: "file-export",
	}, NewWFirmaExporter)
	r.registerExporter(SourceTypeInfo{
		Type: "jpk_pkpir", Name: "JPK_PKPIR (XML)", Icon: "file-code",
		ConfigFields: []ConfigField{
			{Key: "company_nip", Label: "NIP podmiotu", Required: true},
			{Key: "company_name", Label: "Nazwa podmiotu", Required: true},
		},
	}, NewJPKPKPIRExporter)
	r.registerExporter(SourceTypeInfo{
		Type: "comarch", Name: "Comarch Optima (XML)", Icon: "file-code",
	}, NewComarchExporter)
	r.registerExporter(SourceTypeInfo{
		Type: "symfonia", Name: "Symfonia (CSV)", Icon: "file-export",
	}, NewSymfoniaExporter)
	r.registerExporter(SourceTypeInfo{
		Type: "enova", Name: "enova365 (XML)", Icon: "file-code",
	}, NewEnovaExporter)
	r.registerExporter(SourceTypeInfo{
		Type: "csv", Name: "CSV", Icon: "file-spreadsheet",
	}, NewCSVExporter)

	return r
}

func (r *Registry) registerImporter(info SourceTypeInfo, factory ImporterFactory) {
	r.importers[info.Type] = factory
	r.importMeta = append(r.importMeta, info)
}

func (r *Registry) registerExporter(info SourceTypeInfo, factory ExporterFactory) {
	r.exporters[info.Type] = factory
	r.exportMeta = append(r.exportMeta, info)
}

// Importer instantiates the import adapter registered under tag.
func (r *Registry) Importer(tag string, config model.StringMap, sourceName string) (Importer, bool) {
	factory, ok := r.importers[tag]
	if !ok {
		return nil, false
	}
	return factory(config, sourceName), true
}

// Exporter instantiates the export adapter registered under tag.
func (r *Registry) Exporter(tag string, config model.StringMap, sourceName string) (Exporter, bool) {
	factory, ok := r.exporters[tag]
	if !ok {
		return nil, false
	}
	return factory(config, sourceName), true
}

// ImportTypes returns the catalogue of import source types.
func (r *Registry) ImportTypes() []SourceTypeInfo { return r.importMeta }

// ExportTypes returns the catalogue of export source types.
func (r *Registry) ExportTypes() []SourceTypeInfo { return r.exportMeta }
