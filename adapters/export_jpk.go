package adapters

import (
	"context"
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/exef-io/exef/model"
)

// JPKPKPIRNamespace is the Ministry of Finance schema for JPK_PKPIR variant 3.
const JPKPKPIRNamespace = "http://jpk.mf.gov.pl/wzor/2022/02/17/02171/"

// purchaseCategory matches the metadata categories booked as goods and
// materials purchases (column 10 of the PKPIR ledger). Everything else lands
// in column 13, other expenses.
var purchaseCategory = regexp.MustCompile(`(?i)towar|materiał|material|zakup`)

type jpkHeader struct {
	KodFormularza      jpkFormCode `xml:"KodFormularza"`
	WariantFormularza  int         `xml:"WariantFormularza"`
	CelZlozenia        int         `xml:"CelZlozenia"`
	DataWytworzeniaJPK string      `xml:"DataWytworzeniaJPK"`
	DataOd             string      `xml:"DataOd"`
	DataDo             string      `xml:"DataDo"`
}

type jpkFormCode struct {
	SystemCode string `xml:"kodSystemowy,attr"`
	Version    string `xml:"wersjaSchemy,attr"`
	Value      string `xml:",chardata"`
}

type jpkSubject struct {
	NIP        string `xml:"NIP"`
	PelnaNazwa string `xml:"PelnaNazwa"`
}

type jpkInfo struct {
	LiczbaWierszy int    `xml:"LiczbaWierszy"`
	SumaK13       string `xml:"SumaK13"`
	SumaK14       string `xml:"SumaK14"`
	SumaK15       string `xml:"SumaK15"`
}

type jpkRow struct {
	K1  int    `xml:"K_1"`
	K2  string `xml:"K_2"`
	K3  string `xml:"K_3"`
	K4  string `xml:"K_4"`
	K6  string `xml:"K_6"`
	K10 string `xml:"K_10,omitempty"`
	K13 string `xml:"K_13,omitempty"`
}

type jpkFile struct {
	XMLName  xml.Name   `xml:"JPK"`
	Xmlns    string     `xml:"xmlns,attr"`
	Naglowek jpkHeader  `xml:"Naglowek"`
	Podmiot1 jpkSubject `xml:"Podmiot1"`
	Info     jpkInfo    `xml:"PKPIRInfo"`
	Rows     []jpkRow   `xml:"PKPIRWiersz"`
}

// JPKPKPIRExporter serialises documents into a JPK_PKPIR(3) XML file for the
// revenue and expense ledger.
type JPKPKPIRExporter struct {
	config model.StringMap
	name   string
}

// NewJPKPKPIRExporter builds the JPK_PKPIR export adapter.
func NewJPKPKPIRExporter(config model.StringMap, sourceName string) Exporter {
	return &JPKPKPIRExporter{config: config, name: sourceName}
}

// Export builds the JPK file. Net amounts of goods and materials categories
// go to column 10, all other net amounts to column 13.
func (j *JPKPKPIRExporter) Export(docs []ExportDocument, taskName string) (ExportResult, error) {
	companyNIP := model.NormalizeNIP(j.config["company_nip"])
	companyName := strings.TrimSpace(j.config["company_name"])
	if companyNIP == "" || companyName == "" {
		return ExportResult{}, fmt.Errorf("eksport JPK_PKPIR wymaga company_nip i company_name w konfiguracji")
	}

	from, to := dateRange(docs)
	file := jpkFile{
		Xmlns: JPKPKPIRNamespace,
		Naglowek: jpkHeader{
			KodFormularza:      jpkFormCode{SystemCode: "JPK_PKPIR (3)", Version: "1-0", Value: "JPK_PKPIR"},
			WariantFormularza:  3,
			CelZlozenia:        1,
			DataWytworzeniaJPK: time.Now().Format("2006-01-02T15:04:05"),
			DataOd:             from.Format("2006-01-02"),
			DataDo:             to.Format("2006-01-02"),
		},
		Podmiot1: jpkSubject{NIP: companyNIP, PelnaNazwa: companyName},
	}

	var sum10, sum13 decimal.Decimal
	for i, doc := range docs {
		row := jpkRow{
			K1: i + 1,
			K2: formatDate(doc.DocumentDate, "2006-01-02"),
			K3: doc.Number,
			K4: doc.Contractor,
			K6: doc.Description,
		}
		if purchaseCategory.MatchString(doc.Category) {
			row.K10 = doc.AmountNet.StringFixed(2)
			sum10 = sum10.Add(doc.AmountNet)
		} else {
			row.K13 = doc.AmountNet.StringFixed(2)
			sum13 = sum13.Add(doc.AmountNet)
		}
		file.Rows = append(file.Rows, row)
	}
	file.Info = jpkInfo{
		LiczbaWierszy: len(docs),
		SumaK13:       sum13.StringFixed(2),
		SumaK14:       sum13.StringFixed(2),
		SumaK15:       sum10.Add(sum13).StringFixed(2),
	}

	body, err := xml.MarshalIndent(file, "", "  ")
	if err != nil {
		return ExportResult{}, fmt.Errorf("failed to serialize JPK file: %w", err)
	}

	return ExportResult{
		Content:      xml.Header + string(body),
		Filename:     fmt.Sprintf("jpk_pkpir_%s_%s.xml", safeFilename(taskName), time.Now().Format("20060102")),
		Format:       "xml",
		DocsExported: len(docs),
		Encoding:     EncodingUTF8BOM,
	}, nil
}

// TestConnection verifies the mandatory subject configuration.
func (j *JPKPKPIRExporter) TestConnection(_ context.Context) ConnectionStatus {
	nip := model.NormalizeNIP(j.config["company_nip"])
	if !model.ValidNIP(nip) {
		return ConnectionStatus{OK: false, Message: "nieprawidłowy NIP podmiotu"}
	}
	if strings.TrimSpace(j.config["company_name"]) == "" {
		return ConnectionStatus{OK: false, Message: "brak nazwy podmiotu"}
	}
	return ConnectionStatus{OK: true, Message: "konfiguracja JPK_PKPIR poprawna"}
}
