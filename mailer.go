package accounts

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/flosch/pongo2/v6"
	goerrors "github.com/goliatone/go-errors"
)

const verificationEmailTemplate = "views/emails/verification.html"

// Message is a single outbound email
type Message struct {
	To      string
	Subject string
	Body    string
	HTML    bool
}

// Mailer delivers outbound email
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to the Mailer interface
type MailerFunc func(ctx context.Context, msg Message) error

func (f MailerFunc) Send(ctx context.Context, msg Message) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

// SMTPMailer sends mail through an SMTP relay. Port 465 uses implicit TLS,
// any other port is upgraded with STARTTLS.
type SMTPMailer struct {
	cfg    MailConfig
	auth   smtp.Auth
	logger Logger
	now    func() time.Time
}

var _ Mailer = (*SMTPMailer)(nil)

// NewSMTPMailer returns a mailer for cfg
func NewSMTPMailer(cfg MailConfig) *SMTPMailer {
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.SMTPServer)
	}

	return &SMTPMailer{
		cfg:    cfg,
		auth:   auth,
		logger: defLogger{},
		now:    time.Now,
	}
}

func (m *SMTPMailer) WithLogger(logger Logger) *SMTPMailer {
	if logger != nil {
		m.logger = logger
	}
	return m
}

func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid recipient address").
			WithMetadata(map[string]any{"to": msg.To})
	}

	if m.cfg.SMTPServer == "" {
		return goerrors.New("smtp server is not configured", goerrors.CategoryInternal)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout())
	defer cancel()

	address := net.JoinHostPort(m.cfg.SMTPServer, fmt.Sprint(m.cfg.SMTPPort))
	raw := m.buildMessage(msg)

	var (
		conn net.Conn
		err  error
	)

	dialer := &net.Dialer{Timeout: m.timeout()}
	if m.cfg.SMTPPort == 465 {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config:    &tls.Config{ServerName: m.cfg.SMTPServer},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", address)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}

	if err != nil {
		m.logger.Error("failed to connect to SMTP server", "address", address, "error", err)
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to connect to SMTP server")
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.cfg.SMTPServer)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to create SMTP client")
	}
	defer client.Close()

	if m.cfg.SMTPPort != 465 {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: m.cfg.SMTPServer}); err != nil {
				return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to start TLS")
			}
		}
	}

	if err := m.deliver(client, msg.To, raw); err != nil {
		m.logger.Error("failed to deliver email", "to", msg.To, "error", err)
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to deliver email").
			WithMetadata(map[string]any{"to": msg.To})
	}

	return nil
}

func (m *SMTPMailer) deliver(client *smtp.Client, to string, raw []byte) error {
	if m.auth != nil {
		if err := client.Auth(m.auth); err != nil {
			return err
		}
	}

	if err := client.Mail(m.sender()); err != nil {
		return err
	}

	if err := client.Rcpt(to); err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}

	if _, err := w.Write(raw); err != nil {
		return err
	}

	if err := w.Close(); err != nil {
		return err
	}

	return client.Quit()
}

func (m *SMTPMailer) sender() string {
	if m.cfg.From != "" {
		return m.cfg.From
	}
	return m.cfg.Username
}

func (m *SMTPMailer) timeout() time.Duration {
	if m.cfg.Timeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(m.cfg.Timeout) * time.Second
}

func (m *SMTPMailer) buildMessage(msg Message) []byte {
	contentType := "text/plain"
	if msg.HTML {
		contentType = "text/html"
	}

	from := m.sender()
	domain := "localhost"
	if at := strings.LastIndex(from, "@"); at >= 0 {
		domain = from[at+1:]
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", messageID(domain, m.now()))
	fmt.Fprintf(&buf, "Date: %s\r\n", m.now().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", m.cfg.SenderName), from)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: %s; charset=\"utf-8\"\r\n\r\n", contentType)
	buf.WriteString(msg.Body)

	return buf.Bytes()
}

func messageID(domain string, now time.Time) string {
	nonce := make([]byte, 8)
	rand.Read(nonce)
	return fmt.Sprintf("<%d.%s@%s>", now.UnixNano(), hex.EncodeToString(nonce), domain)
}

// VerificationEmail renders the account verification message
type VerificationEmail struct {
	Subject string
	tpl     *pongo2.Template
}

// NewVerificationEmail compiles the embedded verification template
func NewVerificationEmail() (*VerificationEmail, error) {
	raw, err := viewsFS.ReadFile(verificationEmailTemplate)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read verification email template")
	}

	tpl, err := pongo2.FromBytes(raw)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to compile verification email template")
	}

	return &VerificationEmail{
		Subject: "Confirm your email address",
		tpl:     tpl,
	}, nil
}

// Render builds the message sent to user with the verification link
func (v *VerificationEmail) Render(user *User, link string, ttl time.Duration) (Message, error) {
	name := strings.TrimSpace(user.FirstName)
	if name == "" {
		name = user.GetUsername()
	}
	if name == "" {
		name = user.Email
	}

	body, err := v.tpl.Execute(pongo2.Context{
		"name": name,
		"link": link,
		"ttl":  ttl.String(),
	})
	if err != nil {
		return Message{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render verification email")
	}

	return Message{
		To:      user.Email,
		Subject: v.Subject,
		Body:    body,
		HTML:    true,
	}, nil
}
