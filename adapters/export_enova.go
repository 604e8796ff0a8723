package adapters

import (
	"context"
	"encoding/xml"
	"fmt"
	"time"

	"github.com/exef-io/exef/model"
)

// EnovaNamespace is the enova365 import schema.
const EnovaNamespace = "http://www.enova.pl/schema/import"

type enovaDocument struct {
	XMLName    xml.Name `xml:"DokumentZakupu"`
	Numer      string   `xml:"Numer"`
	Data       string   `xml:"Data"`
	Kontrahent struct {
		Nazwa string `xml:"Nazwa"`
		NIP   string `xml:"NIP"`
	} `xml:"Kontrahent"`
	Netto     string `xml:"Netto"`
	VAT       string `xml:"VAT"`
	Brutto    string `xml:"Brutto"`
	Waluta    string `xml:"Waluta"`
	Kategoria string `xml:"Kategoria,omitempty"`
	Opis      string `xml:"Opis,omitempty"`
}

type enovaFile struct {
	XMLName   xml.Name        `xml:"Pakiet"`
	Xmlns     string          `xml:"xmlns,attr"`
	Dokumenty []enovaDocument `xml:"Dokumenty>DokumentZakupu"`
}

// EnovaExporter serialises documents into the enova365 purchase-document XML.
type EnovaExporter struct {
	config model.StringMap
	name   string
}

// NewEnovaExporter builds the enova365 export adapter.
func NewEnovaExporter(config model.StringMap, sourceName string) Exporter {
	return &EnovaExporter{config: config, name: sourceName}
}

// Export emits one DokumentZakupu per document.
func (e *EnovaExporter) Export(docs []ExportDocument, taskName string) (ExportResult, error) {
	file := enovaFile{Xmlns: EnovaNamespace}
	for _, doc := range docs {
		ed := enovaDocument{
			Numer:     doc.Number,
			Data:      formatDate(doc.DocumentDate, "2006-01-02"),
			Netto:     doc.AmountNet.StringFixed(2),
			VAT:       doc.AmountVAT.StringFixed(2),
			Brutto:    doc.AmountGross.StringFixed(2),
			Waluta:    doc.Currency,
			Kategoria: doc.Category,
			Opis:      doc.Description,
		}
		ed.Kontrahent.Nazwa = doc.Contractor
		ed.Kontrahent.NIP = doc.ContractorNIP
		file.Dokumenty = append(file.Dokumenty, ed)
	}

	body, err := xml.MarshalIndent(file, "", "  ")
	if err != nil {
		return ExportResult{}, fmt.Errorf("failed to serialize enova file: %w", err)
	}

	return ExportResult{
		Content:      xml.Header + string(body),
		Filename:     fmt.Sprintf("enova_%s_%s.xml", safeFilename(taskName), time.Now().Format("20060102")),
		Format:       "xml",
		DocsExported: len(docs),
		Encoding:     EncodingUTF8BOM,
	}, nil
}

// TestConnection is static; enova365 imports files offline.
func (e *EnovaExporter) TestConnection(ctx context.Context) ConnectionStatus {
	return staticOK("eksport enova365 gotowy")(ctx)
}
