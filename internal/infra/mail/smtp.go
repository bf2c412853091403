package mail

import (
	"context"
	"fmt"
	"io"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"

	"github.com/opencivics/dispatch/internal/domain"
	"github.com/opencivics/dispatch/internal/usecase"
)

// SMTPMailer is one SMTP connection. A delivery worker opens one for the
// length of a run and reuses it; a dropped connection is reopened on the
// next send rather than failing the subscriber outright.
type SMTPMailer struct {
	addr string
	from string

	client *smtp.Client
}

// Config holds the outbound transport settings.
type Config struct {
	Host string
	Port int
	From string
}

func NewSMTPMailer(cfg Config) *SMTPMailer {
	return &SMTPMailer{
		addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		from: cfg.From,
	}
}

// Factory builds one independent mailer per delivery worker.
func Factory(cfg Config) usecase.MailerFactory {
	return func() usecase.Mailer {
		return NewSMTPMailer(cfg)
	}
}

// Connect dials the server, retrying briefly with backoff: a refused dial
// at run start is almost always a restarting relay, not a dead one.
func (m *SMTPMailer) Connect(ctx context.Context) error {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		client, err := smtp.Dial(m.addr)
		if err != nil {
			return retry.RetryableError(err)
		}
		m.client = client
		return nil
	})
	if err != nil {
		return domain.TransientSendError{Err: errors.Wrapf(err, "dialing %s", m.addr)}
	}
	return nil
}

func (m *SMTPMailer) Close() error {
	if m.client == nil {
		return nil
	}
	err := m.client.Quit()
	m.client = nil
	return err
}

// Send delivers one multipart/alternative message. SMTP 5xx replies on the
// recipient are classified as permanent bounces; everything else is
// transient and retried on the next scheduled run.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, textBody, htmlBody string) error {
	if m.client == nil {
		if err := m.Connect(ctx); err != nil {
			return err
		}
	}

	err := m.send(to, subject, textBody, htmlBody)
	if err == nil {
		return nil
	}
	if isPermanent(err) {
		return domain.PermanentBounceError{Address: to, Err: err}
	}
	if isConnectionDropped(err) {
		// The relay hung up between sends; reopen once and retry.
		m.client = nil
		if cerr := m.Connect(ctx); cerr != nil {
			return cerr
		}
		err = m.send(to, subject, textBody, htmlBody)
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return domain.PermanentBounceError{Address: to, Err: err}
		}
	}
	return domain.TransientSendError{Err: err}
}

func (m *SMTPMailer) send(to, subject, textBody, htmlBody string) error {
	if err := m.client.Mail(m.from); err != nil {
		return err
	}
	if err := m.client.Rcpt(to); err != nil {
		// Leave the session clean for the next recipient.
		_ = m.client.Reset()
		return err
	}
	w, err := m.client.Data()
	if err != nil {
		return err
	}
	if err := writeMessage(w, m.from, to, subject, textBody, htmlBody); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

const altBoundary = "dispatch-alt-boundary"

func writeMessage(w io.Writer, from, to, subject, textBody, htmlBody string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n", altBoundary)
	b.WriteString("\r\n")

	if _, err := io.WriteString(w, b.String()); err != nil {
		return err
	}
	if err := writePart(w, "text/plain; charset=utf-8", textBody); err != nil {
		return err
	}
	if err := writePart(w, "text/html; charset=utf-8", htmlBody); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "--%s--\r\n", altBoundary)
	return err
}

func writePart(w io.Writer, contentType, body string) error {
	_, err := fmt.Fprintf(w, "--%s\r\nContent-Type: %s\r\nContent-Transfer-Encoding: quoted-printable\r\n\r\n", altBoundary, contentType)
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(w)
	if _, err := io.WriteString(qp, body); err != nil {
		return err
	}
	if err := qp.Close(); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\r\n")
	return err
}

func isPermanent(err error) bool {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code >= 500 && tpErr.Code < 600
	}
	return false
}

func isConnectionDropped(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

var _ usecase.Mailer = (*SMTPMailer)(nil)
