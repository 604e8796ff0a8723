package api

import (
	"bytes"
	"fmt"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/exef-io/exef/config"
)

// Mailer delivers magic-link messages over SMTP. An unconfigured mailer
// drops messages and reports that, so login links still work through the
// debug response path.
type Mailer struct {
	cfg config.SMTPConfig
}

func NewMailer(cfg config.SMTPConfig) *Mailer {
	return &Mailer{cfg: cfg}
}

// Configured reports whether an SMTP host is set.
func (m *Mailer) Configured() bool { return m.cfg.Host != "" }

// SendMagicLink mails a single-use login token to the recipient.
func (m *Mailer) SendMagicLink(to, token string) error {
	if !m.Configured() {
		return fmt.Errorf("smtp nie jest skonfigurowany")
	}

	var buf bytes.Buffer
	var header mail.Header
	header.SetDate(time.Now())
	header.SetAddressList("From", []*mail.Address{{Address: m.cfg.From}})
	header.SetAddressList("To", []*mail.Address{{Address: to}})
	header.SetSubject("Twój link logowania")

	mw, err := mail.CreateWriter(&buf, header)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}
	var th mail.InlineHeader
	th.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	tw, err := mw.CreateSingleInline(th)
	if err != nil {
		return fmt.Errorf("failed to build message body: %w", err)
	}
	fmt.Fprintf(tw, "Aby się zalogować, użyj jednorazowego tokenu:\n\n%s\n\nToken wygasa po kilkunastu minutach.\n", token)
	_ = tw.Close()
	_ = mw.Close()

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth sasl.Client
	if m.cfg.Username != "" {
		auth = sasl.NewPlainClient("", m.cfg.Username, m.cfg.Password)
	}
	if m.cfg.UseTLS {
		return smtp.SendMailTLS(addr, auth, m.cfg.From, []string{to}, &buf)
	}
	return smtp.SendMail(addr, auth, m.cfg.From, []string{to}, &buf)
}
