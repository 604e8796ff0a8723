package adapters

import (
	"context"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/exef-io/exef/model"
)

// ComarchNamespace is the Comarch ERP Optima offline import schema.
const ComarchNamespace = "http://www.comarch.pl/cdn/optima/offline"

type comarchRegistry struct {
	XMLName         xml.Name `xml:"REJESTR_ZAKUPOW_VAT"`
	DataWystapienia string   `xml:"DATA_WYSTAWIENIA"`
	DataZakupu      string   `xml:"DATA_ZAKUPU"`
	NumerDokumentu  string   `xml:"NUMER_DOKUMENTU"`
	Kontrahent      string   `xml:"KONTRAHENT_NAZWA"`
	KontrahentNIP   string   `xml:"KONTRAHENT_NIP"`
	StawkaVAT       string   `xml:"STAWKA_VAT"`
	Netto           string   `xml:"NETTO"`
	VAT             string   `xml:"VAT"`
	Brutto          string   `xml:"BRUTTO"`
	Waluta          string   `xml:"WALUTA"`
	Kategoria       string   `xml:"KATEGORIA,omitempty"`
	Opis            string   `xml:"OPIS,omitempty"`
}

type comarchFile struct {
	XMLName   xml.Name          `xml:"ROOT"`
	Xmlns     string            `xml:"xmlns,attr"`
	Rejestry  []comarchRegistry `xml:"REJESTRY_ZAKUPOW_VAT>REJESTR_ZAKUPOW_VAT"`
}

// ComarchExporter serialises documents into the Comarch ERP Optima offline
// purchase-registry XML.
type ComarchExporter struct {
	config model.StringMap
	name   string
}

// NewComarchExporter builds the Comarch Optima export adapter.
func NewComarchExporter(config model.StringMap, sourceName string) Exporter {
	return &ComarchExporter{config: config, name: sourceName}
}

// Export emits one REJESTR_ZAKUPOW_VAT entry per document.
func (c *ComarchExporter) Export(docs []ExportDocument, taskName string) (ExportResult, error) {
	file := comarchFile{Xmlns: ComarchNamespace}
	for _, doc := range docs {
		file.Rejestry = append(file.Rejestry, comarchRegistry{
			DataWystapienia: formatDate(doc.DocumentDate, "2006-01-02"),
			DataZakupu:      formatDate(doc.DocumentDate, "2006-01-02"),
			NumerDokumentu:  doc.Number,
			Kontrahent:      doc.Contractor,
			KontrahentNIP:   doc.ContractorNIP,
			StawkaVAT:       fmt.Sprintf("%d", vatRate(doc.AmountNet, doc.AmountVAT)),
			Netto:           doc.AmountNet.StringFixed(2),
			VAT:             doc.AmountVAT.StringFixed(2),
			Brutto:          doc.AmountGross.StringFixed(2),
			Waluta:          doc.Currency,
			Kategoria:       doc.Category,
			Opis:            doc.Description,
		})
	}

	body, err := xml.MarshalIndent(file, "", "  ")
	if err != nil {
		return ExportResult{}, fmt.Errorf("failed to serialize Comarch file: %w", err)
	}

	return ExportResult{
		Content:      xml.Header + string(body),
		Filename:     fmt.Sprintf("comarch_%s_%s.xml", safeFilename(taskName), time.Now().Format("20060102")),
		Format:       "xml",
		DocsExported: len(docs),
		Encoding:     EncodingUTF8BOM,
	}, nil
}

// TestConnection is static; Optima imports files offline.
func (c *ComarchExporter) TestConnection(ctx context.Context) ConnectionStatus {
	return staticOK("eksport Comarch Optima gotowy")(ctx)
}
