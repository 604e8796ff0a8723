package adapters

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/exef-io/exef/model"
)

// Encoding tags carried in ExportResult. The content itself is stored as
// text; the download handler applies the encoding when serving the file.
const (
	EncodingUTF8BOM = "utf-8-bom"
	EncodingCP1250  = "cp1250"
)

// UTF8BOM is prepended to CSV artifacts so that Excel opens them correctly.
const UTF8BOM = "\uFEFF"

// kindLabels maps document kinds to the Polish labels accounting packages
// expect.
var kindLabels = map[model.DocumentKind]string{
	model.KindInvoice:    "Faktura VAT",
	model.KindReceipt:    "Paragon",
	model.KindContract:   "Umowa",
	model.KindPaymentIn:  "Wpłata",
	model.KindPaymentOut: "Wypłata",
	model.KindCorrection: "Faktura korygująca",
	model.KindProforma:   "Faktura proforma",
	model.KindCV:         "CV",
}

func kindLabel(kind model.DocumentKind) string {
	if label, ok := kindLabels[kind]; ok {
		return label
	}
	return "Dokument"
}

var filenameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// safeFilename turns a task name into a filesystem-safe fragment.
func safeFilename(name string) string {
	s := filenameUnsafe.ReplaceAllString(name, "_")
	return strings.Trim(s, "_")
}

func formatDate(t *time.Time, layout string) string {
	if t == nil {
		return ""
	}
	return t.Format(layout)
}

// vatRate derives the VAT percentage from net and vat amounts, defaulting
// to 23 when either is zero.
func vatRate(net, vat decimal.Decimal) int {
	if net.IsZero() || vat.IsZero() {
		return 23
	}
	rate := vat.Div(net).Mul(decimal.NewFromInt(100)).Round(0)
	return int(rate.IntPart())
}

// dateRange returns the min and max document dates of the set. Documents
// without a date are ignored; when none carries a date both bounds are now.
func dateRange(docs []ExportDocument) (time.Time, time.Time) {
	var min, max time.Time
	for _, doc := range docs {
		if doc.DocumentDate == nil {
			continue
		}
		d := *doc.DocumentDate
		if min.IsZero() || d.Before(min) {
			min = d
		}
		if max.IsZero() || d.After(max) {
			max = d
		}
	}
	if min.IsZero() {
		now := time.Now()
		return now, now
	}
	return min, max
}

// staticOK is the TestConnection of exporters without external dependencies.
func staticOK(message string) func(context.Context) ConnectionStatus {
	return func(context.Context) ConnectionStatus {
		return ConnectionStatus{OK: true, Message: message}
	}
}
