package model

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// kindCodes maps document kinds to the three-letter code embedded in the
// deterministic identifier. Kinds without an entry fall back to DOC.
var kindCodes = map[DocumentKind]string{
	KindInvoice:    "FV",
	KindReceipt:    "PAR",
	KindContract:   "UMO",
	KindCorrection: "KOR",
	KindProforma:   "PRO",
}

// KindCode returns the identifier code for a document kind.
func KindCode(kind DocumentKind) string {
	if c, ok := kindCodes[kind]; ok {
		return c
	}
	return "DOC"
}

var numberSeparators = regexp.MustCompile(`[\s\-_]+`)
var repeatedSlash = regexp.MustCompile(`/+`)

// NormalizeDocNumber upper-cases a document number, collapses runs of
// whitespace, dashes and underscores to a single slash, collapses repeated
// slashes and strips leading/trailing slashes.
func NormalizeDocNumber(number string) string {
	s := strings.ToUpper(strings.TrimSpace(number))
	s = numberSeparators.ReplaceAllString(s, "/")
	s = repeatedSlash.ReplaceAllString(s, "/")
	return strings.Trim(s, "/")
}

// dateLayouts are the accepted input formats, tried in order. The canonical
// output is always YYYY-MM-DD.
var dateLayouts = []string{
	"2006-01-02",
	"02-01-2006",
	"02.01.2006",
	"02/01/2006",
	"2006/01/02",
	"20060102",
}

// NormalizeDate parses a date from ISO or one of the common Polish layouts
// and emits it as YYYY-MM-DD. Unparseable input yields the empty string.
func NormalizeDate(date string) string {
	s := strings.TrimSpace(date)
	if s == "" {
		return ""
	}
	// Timestamps reduce to their date part.
	if idx := strings.IndexAny(s, "T "); idx > 0 {
		s = s[:idx]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02")
		}
	}
	return ""
}

// NormalizeAmount strips currency symbols, whitespace and thousands
// separators, converts the decimal comma, rounds half-up to two fractional
// digits and emits a plain decimal string. Empty or unparseable input
// becomes "0.00".
func NormalizeAmount(amount string) string {
	s := strings.TrimSpace(amount)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			b.WriteRune(r)
		}
	}
	s = b.String()
	if s == "" || s == "-" {
		return "0.00"
	}
	// When both separators appear the last one is the decimal mark.
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.ReplaceAll(s, ",", ".")
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = s[:lastComma] + "." + s[lastComma+1:]
			s = strings.ReplaceAll(s[:strings.LastIndex(s, ".")], ",", "") + s[strings.LastIndex(s, "."):]
		} else {
			s = strings.ReplaceAll(s, ",", ".")
		}
	case lastDot >= 0 && strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s[:lastDot], ".", "") + s[lastDot:]
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "0.00"
	}
	return d.Round(2).StringFixed(2)
}

// AmountString renders a decimal for the identifier input.
func AmountString(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

// GenerateDocID computes the deterministic document identifier from the four
// identity-bearing fields. The normalised values are joined with "|" in the
// fixed order (tax ID, number, date, amount); the first eight bytes of the
// SHA-256 digest render as sixteen upper-case hex characters. The final
// identifier is DOC-{kind code}-{hex16}.
//
// When fewer than two of the four inputs carry a meaningful value (non-empty
// and, for the amount, not "0.00") no identifier is produced and ok is
// false; such documents never participate in deduplication.
func GenerateDocID(contractorNIP, number, date, amount string, kind DocumentKind) (id string, ok bool) {
	nip := NormalizeNIP(contractorNIP)
	num := NormalizeDocNumber(number)
	day := NormalizeDate(date)
	amt := NormalizeAmount(amount)

	meaningful := 0
	if nip != "" {
		meaningful++
	}
	if num != "" {
		meaningful++
	}
	if day != "" {
		meaningful++
	}
	if amt != "" && amt != "0.00" {
		meaningful++
	}
	if meaningful < 2 {
		return "", false
	}

	payload := strings.Join([]string{nip, num, day, amt}, "|")
	sum := sha256.Sum256([]byte(payload))
	return fmt.Sprintf("DOC-%s-%016X", KindCode(kind), sum[:8]), true
}
