package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/weather-station-pipeline/internal/config"
)

const defaultSendTimeout = 10 * time.Second

// SMTPTransport relays emails through an SMTP server, upgrading to TLS when
// the server offers STARTTLS.
type SMTPTransport struct {
	host    string
	addr    string
	auth    smtp.Auth
	timeout time.Duration
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
	now     func() time.Time
}

func NewSMTPTransport(cfg config.EmailConfig) *SMTPTransport {
	t := &SMTPTransport{
		host:    cfg.SMTPHost,
		addr:    net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		timeout: cfg.SendTimeout,
		dial:    (&net.Dialer{}).DialContext,
		now:     time.Now,
	}
	if t.timeout <= 0 {
		t.timeout = defaultSendTimeout
	}
	if cfg.SMTPUsername != "" {
		t.auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return t
}

// Send delivers e. Every network step shares one deadline: the earlier of
// ctx's deadline and the transport timeout.
func (t *SMTPTransport) Send(ctx context.Context, e Email) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if err := t.deliver(ctx, e); err != nil {
		return fmt.Errorf("send email via %s: %w", t.addr, err)
	}
	return nil
}

func (t *SMTPTransport) deliver(ctx context.Context, e Email) error {
	conn, err := t.dial(ctx, "tcp", t.addr)
	if err != nil {
		return err
	}
	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return err
	}
	// Unblocks a pending read or write as soon as ctx is cancelled.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c, err := smtp.NewClient(conn, t.host)
	if err != nil {
		_ = conn.Close()
		return withContext(ctx, err)
	}
	defer c.Close()

	if err := t.converse(c, e); err != nil {
		return withContext(ctx, err)
	}
	return withContext(ctx, c.Quit())
}

func (t *SMTPTransport) converse(c *smtp.Client, e Email) error {
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: t.host, MinVersion: tls.VersionTLS12}); err != nil {
			return err
		}
	}
	if t.auth != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp: server doesn't support AUTH")
		}
		if err := c.Auth(t.auth); err != nil {
			return err
		}
	}
	if err := c.Mail(e.From); err != nil {
		return err
	}
	if err := c.Rcpt(e.To); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(formatMessage(e, t.now())); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// withContext reports the context error in place of the I/O error it caused.
func withContext(ctx context.Context, err error) error {
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

func formatMessage(e Email, date time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + headerValue(e.From) + "\r\n")
	b.WriteString("To: " + headerValue(e.To) + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", headerValue(e.Subject)) + "\r\n")
	b.WriteString("Date: " + date.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	body := strings.ReplaceAll(e.Body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

// headerValue folds a value onto one line so it cannot start a new header.
func headerValue(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool { return r == '\r' || r == '\n' }), " ")
}
