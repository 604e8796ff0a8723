package adapters

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"

	"github.com/exef-io/exef/common"
	"github.com/exef-io/exef/model"
)

// FANamespace is the KSeF FA(2) invoice schema namespace. XML attachments
// under any other root namespace are ignored.
const FANamespace = "http://crd.gov.pl/wzor/2023/06/29/12648/"

const imapTimeout = 15 * time.Second

var (
	pdfNumberPattern  = regexp.MustCompile(`(?i)(FV|FA|FZ|Faktura)[_\-/]?\d+[_\-/]?\d{2,4}?`)
	bodyNumberPattern = regexp.MustCompile(`(FV|FA|FZ)\s*[:\-#]?\s*([A-Z0-9/\-]+)`)
	bodyGrossPattern  = regexp.MustCompile(`(?i)(brutto|do zapłaty|razem)[:\s]*([0-9\s,.]+)\s*(PLN|zł)?`)
	bodyNIPPattern    = regexp.MustCompile(`NIP[:\s]*(\d[\d\s\-]{8,}\d)`)
)

// EmailImporter walks an IMAP mailbox and extracts documents from CSV, XML
// and PDF attachments, falling back to text-body heuristics for messages
// without usable attachments.
type EmailImporter struct {
	config model.StringMap
	name   string

	subjectPattern  *regexp.Regexp
	filenamePattern *regexp.Regexp
	senderFilters   []string
	extensions      map[string]bool
}

// NewEmailImporter builds the email import adapter. Invalid regular
// expressions in the configuration are ignored and logged.
func NewEmailImporter(config model.StringMap, sourceName string) Importer {
	e := &EmailImporter{config: config, name: sourceName}

	if pattern := config["subject_pattern"]; pattern != "" {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			common.Logger.WithError(err).WithField("source", sourceName).
				Warn("ignoring invalid subject_pattern")
		} else {
			e.subjectPattern = re
		}
	}
	if pattern := config["filename_pattern"]; pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			common.Logger.WithError(err).WithField("source", sourceName).
				Warn("ignoring invalid filename_pattern")
		} else {
			e.filenamePattern = re
		}
	}
	if filters := config["sender_filter"]; filters != "" {
		for _, f := range strings.Split(filters, ",") {
			if f = strings.TrimSpace(strings.ToLower(f)); f != "" {
				e.senderFilters = append(e.senderFilters, f)
			}
		}
	}
	if exts := config["attachment_extensions"]; exts != "" {
		e.extensions = make(map[string]bool)
		for _, ext := range strings.Split(exts, ",") {
			if ext = strings.TrimSpace(strings.ToLower(ext)); ext != "" {
				e.extensions[ext] = true
			}
		}
	}
	return e
}

func (e *EmailImporter) docKind() model.DocumentKind {
	if t := e.config["doc_type"]; t != "" {
		return parseDocKind(t)
	}
	return model.KindInvoice
}

func (e *EmailImporter) daysBack() int {
	if v := e.config["days_back"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return 30
}

func (e *EmailImporter) dial() (*imapclient.Client, error) {
	host := e.config["host"]
	if host == "" {
		return nil, fmt.Errorf("brak hosta IMAP w konfiguracji")
	}
	port := e.config["port"]
	if port == "" {
		port = "993"
	}
	addr := net.JoinHostPort(host, port)
	dialer := &net.Dialer{Timeout: imapTimeout}

	var c *imapclient.Client
	var err error
	if port == "993" {
		c, err = imapclient.DialWithDialerTLS(dialer, addr, nil)
	} else {
		c, err = imapclient.DialWithDialer(dialer, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("połączenie IMAP nieudane: %w", err)
	}
	c.Timeout = imapTimeout

	if err := c.Login(e.config["username"], e.config["password"]); err != nil {
		_ = c.Logout()
		return nil, fmt.Errorf("logowanie IMAP nieudane: %w", err)
	}
	return c, nil
}

// Fetch walks messages received since today minus days_back, filters by
// subject and sender, and extracts records from attachments. The text body
// is parsed only when no attachment yielded a record.
func (e *EmailImporter) Fetch(_ context.Context, _, _ *time.Time) ([]ImportRecord, error) {
	c, err := e.dial()
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Logout() }()

	folder := e.config["folder"]
	if folder == "" {
		folder = "INBOX"
	}
	if _, err := c.Select(folder, true); err != nil {
		return nil, fmt.Errorf("nie można otworzyć folderu %s: %w", folder, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Since = time.Now().AddDate(0, 0, -e.daysBack())
	ids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("wyszukiwanie wiadomości nieudane: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)
	section := &imap.BodySectionName{}
	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	var records []ImportRecord
	for msg := range messages {
		if msg.Envelope == nil || !e.matches(msg.Envelope) {
			continue
		}
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		records = append(records, e.parseMessage(msg.Envelope, body)...)
	}
	if err := <-done; err != nil {
		return records, fmt.Errorf("pobieranie wiadomości nieudane: %w", err)
	}
	return records, nil
}

func (e *EmailImporter) matches(env *imap.Envelope) bool {
	if e.subjectPattern != nil && !e.subjectPattern.MatchString(env.Subject) {
		return false
	}
	if len(e.senderFilters) > 0 {
		matched := false
		for _, from := range env.From {
			addr := strings.ToLower(from.Address())
			for _, filter := range e.senderFilters {
				if strings.Contains(addr, filter) {
					matched = true
					break
				}
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func (e *EmailImporter) wantsAttachment(filename string) bool {
	if e.filenamePattern != nil && !e.filenamePattern.MatchString(filename) {
		return false
	}
	if e.extensions != nil {
		ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
		return e.extensions[ext]
	}
	return true
}

func (e *EmailImporter) parseMessage(env *imap.Envelope, body io.Reader) []ImportRecord {
	reader, err := mail.CreateReader(body)
	if err != nil {
		common.Logger.WithError(err).Debug("unreadable message, skipping")
		return nil
	}

	messageID := env.MessageId
	if messageID == "" {
		messageID = fmt.Sprintf("%s-%d", env.Subject, env.Date.Unix())
	}

	var records []ImportRecord
	var textBody string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		switch header := part.Header.(type) {
		case *mail.AttachmentHeader:
			filename, _ := header.Filename()
			if filename == "" || !e.wantsAttachment(filename) {
				continue
			}
			data, err := io.ReadAll(part.Body)
			if err != nil {
				continue
			}
			records = append(records, e.parseAttachment(filename, data, messageID)...)
		case *mail.InlineHeader:
			ctype, _, _ := header.ContentType()
			if strings.HasPrefix(ctype, "text/") && textBody == "" {
				data, err := io.ReadAll(part.Body)
				if err == nil {
					textBody = string(data)
				}
			}
		}
	}

	// The body heuristics run only when no attachment produced a record.
	if len(records) == 0 && textBody != "" {
		if rec, ok := e.parseTextBody(textBody, env, messageID); ok {
			records = append(records, rec)
		}
	}
	return records
}

func (e *EmailImporter) parseAttachment(filename string, data []byte, messageID string) []ImportRecord {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".csv":
		records, errs := ParseDocumentCSV(data, "email")
		for _, msg := range errs {
			common.Logger.WithField("attachment", filename).Warn(msg)
		}
		for i := range records {
			records[i].Kind = e.docKind()
			records[i].SourceID = fmt.Sprintf("%s/%s#%d", messageID, filename, i)
			records[i].OriginalFilename = filename
		}
		return records
	case ".xml":
		rec, ok := parseFAInvoice(data)
		if !ok {
			return nil
		}
		rec.SourceType = "email"
		rec.SourceID = fmt.Sprintf("%s/%s", messageID, filename)
		rec.OriginalFilename = filename
		return []ImportRecord{rec}
	case ".pdf":
		// No OCR; the filename is the only metadata a PDF yields.
		rec := ImportRecord{
			Kind:             e.docKind(),
			SourceType:       "email",
			SourceID:         fmt.Sprintf("%s/%s", messageID, filename),
			OriginalFilename: filename,
			Currency:         "PLN",
		}
		if m := pdfNumberPattern.FindString(filename); m != "" {
			rec.Number = model.NormalizeDocNumber(m)
		}
		return []ImportRecord{rec}
	default:
		return nil
	}
}

func (e *EmailImporter) parseTextBody(body string, env *imap.Envelope, messageID string) (ImportRecord, bool) {
	rec := ImportRecord{
		Kind:        e.docKind(),
		SourceType:  "email",
		SourceID:    messageID,
		Currency:    "PLN",
		Description: env.Subject,
	}
	found := false
	if m := bodyNumberPattern.FindStringSubmatch(body); m != nil {
		rec.Number = model.NormalizeDocNumber(m[1] + " " + m[2])
		found = true
	}
	if m := bodyGrossPattern.FindStringSubmatch(body); m != nil {
		rec.AmountGross = parseDecimal(m[2])
		found = true
	}
	if m := bodyNIPPattern.FindStringSubmatch(body); m != nil {
		rec.ContractorNIP = model.NormalizeNIP(m[1])
		found = true
	}
	if !env.Date.IsZero() {
		date := env.Date
		rec.DocumentDate = &date
	}
	return rec, found
}

// TestConnection dials the server, logs in and opens the configured folder
// read-only. It never mutates mailbox state.
func (e *EmailImporter) TestConnection(_ context.Context) ConnectionStatus {
	if e.config["host"] == "" || e.config["username"] == "" {
		return ConnectionStatus{OK: false, Message: "wymagane pola: host, username"}
	}
	c, err := e.dial()
	if err != nil {
		return ConnectionStatus{OK: false, Message: err.Error()}
	}
	defer func() { _ = c.Logout() }()

	folder := e.config["folder"]
	if folder == "" {
		folder = "INBOX"
	}
	status, err := c.Select(folder, true)
	if err != nil {
		return ConnectionStatus{OK: false, Message: fmt.Sprintf("folder %s niedostępny: %v", folder, err)}
	}
	return ConnectionStatus{OK: true, Message: fmt.Sprintf("połączono, %d wiadomości w %s", status.Messages, folder)}
}

// faInvoice is the minimal FA(2) envelope the email adapter understands.
type faInvoice struct {
	XMLName xml.Name `xml:"Faktura"`
	Seller  struct {
		NIP  string `xml:"DaneIdentyfikacyjne>NIP"`
		Name string `xml:"DaneIdentyfikacyjne>Nazwa"`
	} `xml:"Podmiot1"`
	Fa struct {
		Currency  string `xml:"KodWaluty"`
		IssueDate string `xml:"P_1"`
		Number    string `xml:"P_2"`
		Gross     string `xml:"P_15"`
	} `xml:"Fa"`
}

// parseFAInvoice parses a single e-invoice in the FA(2) schema. Documents
// under a different root namespace are rejected.
func parseFAInvoice(data []byte) (ImportRecord, bool) {
	var inv faInvoice
	if err := xml.Unmarshal(data, &inv); err != nil {
		return ImportRecord{}, false
	}
	if inv.XMLName.Space != FANamespace {
		return ImportRecord{}, false
	}
	currency := inv.Fa.Currency
	if currency == "" {
		currency = "PLN"
	}
	rec := ImportRecord{
		Kind:          model.KindInvoice,
		Number:        inv.Fa.Number,
		Contractor:    inv.Seller.Name,
		ContractorNIP: model.NormalizeNIP(inv.Seller.NIP),
		AmountGross:   parseDecimal(inv.Fa.Gross),
		Currency:      currency,
		DocumentDate:  parseDate(inv.Fa.IssueDate),
	}
	return rec, rec.Number != "" || !rec.AmountGross.IsZero()
}
