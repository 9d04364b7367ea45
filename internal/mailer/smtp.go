package mailer

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-mailer/internal/config"
)

// SMTPMailer submits each message in its own SMTP session, authenticating with SASL PLAIN.
type SMTPMailer struct {
	addr     string
	username string
	password string
	from     mail.Address
	log      *zap.Logger
}

func NewSMTPMailer(cfg config.SMTPConfig, log *zap.Logger) *SMTPMailer {
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &SMTPMailer{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		username: cfg.Username,
		password: cfg.Password,
		from:     mail.Address{Name: cfg.FromName, Address: from},
		log:      log.Named("smtp"),
	}
}

// Send blocks until the server accepts the message or ctx ends. On cancellation the session is
// abandoned and finishes in the background.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg, err := composeMessage(m.from, to, subject, body, time.Now())
	if err != nil {
		return fmt.Errorf("compose message: %w", err)
	}

	auth := sasl.NewPlainClient("", m.username, m.password)
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(m.addr, auth, m.from.Address, []string{to}, bytes.NewReader(msg))
	}()

	select {
	case err := <-done:
		if err != nil {
			m.log.Debug("delivery rejected", zap.String("to", to), zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send to %s: %w", to, ctx.Err())
	}
}

// composeMessage builds a multipart/alternative message: the literal body as text/plain and its
// escaped HTML rendition.
func composeMessage(from mail.Address, to, subject, body string, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	var out bytes.Buffer
	fmt.Fprintf(&out, "From: %s\r\n", from.String())
	fmt.Fprintf(&out, "To: %s\r\n", to)
	fmt.Fprintf(&out, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&out, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&out, "Message-ID: <%s@%s>\r\n", uuid.NewString(), domainOf(from.Address))
	out.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&out, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", mw.Boundary())

	for _, part := range []struct{ contentType, content string }{
		{"text/plain; charset=utf-8", body},
		{"text/html; charset=utf-8", HTMLBody(body)},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {part.contentType},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(part.content)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	out.Write(buf.Bytes())
	return out.Bytes(), nil
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 {
		return addr[i+1:]
	}
	return "localhost"
}
