package notifier

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

// Email is one outbound email.
type Email struct {
	From    string
	To      string
	Subject string
	Text    string
	HTML    string
}

// EmailProvider sends email through one backend.
type EmailProvider interface {
	// Name returns the provider name (e.g., "smtp", "ses").
	Name() string
	// SendEmail sends the email and returns the provider message id.
	SendEmail(ctx context.Context, email *Email) (string, error)
}

// EmailAdapter delivers the direct_message channel.
type EmailAdapter struct {
	provider EmailProvider
	from     string
	timeout  time.Duration
}

// NewEmailAdapter creates an email adapter over provider.
func NewEmailAdapter(provider EmailProvider, from string, timeout time.Duration) (*EmailAdapter, error) {
	if provider == nil {
		return nil, fmt.Errorf("email provider is required")
	}
	if from == "" {
		return nil, fmt.Errorf("from address is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EmailAdapter{provider: provider, from: from, timeout: timeout}, nil
}

// Channel returns direct_message.
func (e *EmailAdapter) Channel() models.Channel { return models.ChannelDirectMessage }

// Timeout returns the per-send timeout.
func (e *EmailAdapter) Timeout() time.Duration { return e.timeout }

// Send emails msg to its address.
func (e *EmailAdapter) Send(ctx context.Context, msg *Message) (*Receipt, error) {
	if msg.Address == "" || !strings.Contains(msg.Address, "@") {
		return nil, &DeliveryError{Channel: e.Channel(), Permanent: true, Err: fmt.Errorf("invalid email address %q", msg.Address)}
	}

	id, err := e.provider.SendEmail(ctx, &Email{
		From:    e.from,
		To:      msg.Address,
		Subject: msg.Subject,
		Text:    msg.Body,
		HTML:    msg.HTML,
	})
	if err != nil {
		return nil, &DeliveryError{Channel: e.Channel(), Err: fmt.Errorf("%s: %w", e.provider.Name(), err)}
	}
	return &Receipt{ProviderID: id}, nil
}

// Close is a no-op for email.
func (e *EmailAdapter) Close() error { return nil }

// SMTPConfig holds SMTP configuration.
type SMTPConfig struct {
	Host     string // SMTP server host
	Port     int    // SMTP server port (465 for implicit TLS, 587 for STARTTLS)
	Username string // SMTP username (optional)
	Password string // SMTP password (optional)
}

// Validate validates the SMTP configuration.
func (c *SMTPConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("SMTP host is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("SMTP port is required")
	}
	return nil
}

// SMTPProvider sends email over SMTP.
type SMTPProvider struct {
	config SMTPConfig
}

// NewSMTPProvider creates an SMTP provider.
func NewSMTPProvider(config SMTPConfig) (*SMTPProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid smtp config: %w", err)
	}
	return &SMTPProvider{config: config}, nil
}

// Name returns "smtp".
func (p *SMTPProvider) Name() string { return "smtp" }

// SendEmail sends email via SMTP. The generated Message-ID is returned.
func (p *SMTPProvider) SendEmail(ctx context.Context, email *Email) (string, error) {
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), p.config.Host)
	msg := buildMIMEMessage(email, messageID)

	addr := fmt.Sprintf("%s:%d", p.config.Host, p.config.Port)
	tlsConfig := &tls.Config{ServerName: p.config.Host}

	var client *smtp.Client
	var err error
	if p.config.Port == 465 {
		client, err = p.connectImplicitTLS(ctx, addr, tlsConfig)
	} else {
		client, err = p.connectSTARTTLS(ctx, addr, tlsConfig)
	}
	if err != nil {
		return "", fmt.Errorf("connect to SMTP server: %w", err)
	}
	defer client.Close()

	if p.config.Username != "" && p.config.Password != "" {
		auth := smtp.PlainAuth("", p.config.Username, p.config.Password, p.config.Host)
		if err := client.Auth(auth); err != nil {
			return "", fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(extractEmail(email.From)); err != nil {
		return "", fmt.Errorf("set sender: %w", err)
	}
	if err := client.Rcpt(email.To); err != nil {
		return "", fmt.Errorf("add recipient %s: %w", email.To, err)
	}

	w, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("start data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return "", fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close data: %w", err)
	}

	return messageID, client.Quit()
}

// connectImplicitTLS connects using implicit TLS (port 465).
func (p *SMTPProvider) connectImplicitTLS(ctx context.Context, addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 30 * time.Second}, Config: tlsConfig}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	bindDeadline(ctx, conn)
	return smtp.NewClient(conn, p.config.Host)
}

// connectSTARTTLS connects using STARTTLS (port 587 or 25).
func (p *SMTPProvider) connectSTARTTLS(ctx context.Context, addr string, tlsConfig *tls.Config) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	bindDeadline(ctx, conn)

	client, err := smtp.NewClient(conn, p.config.Host)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, fmt.Errorf("STARTTLS failed: %w", err)
		}
	}
	return client, nil
}

// bindDeadline applies the context deadline to the whole SMTP conversation.
func bindDeadline(ctx context.Context, conn net.Conn) {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
}

// buildMIMEMessage builds a MIME message, multipart when HTML is present.
func buildMIMEMessage(email *Email, messageID string) []byte {
	var msg strings.Builder

	msg.WriteString(fmt.Sprintf("From: %s\r\n", email.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", email.To))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", email.Subject))
	msg.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))
	msg.WriteString("MIME-Version: 1.0\r\n")

	if email.HTML == "" {
		msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		msg.WriteString(email.Text)
		msg.WriteString("\r\n")
		return []byte(msg.String())
	}

	boundary := fmt.Sprintf("----=_Part_%d", time.Now().UnixNano())
	msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary))

	msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(email.Text)
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	msg.WriteString(email.HTML)
	msg.WriteString("\r\n")

	msg.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	return []byte(msg.String())
}

// extractEmail extracts the email address from a "Name <email>" format.
func extractEmail(addr string) string {
	if start := strings.Index(addr, "<"); start != -1 {
		if end := strings.Index(addr, ">"); end != -1 {
			return addr[start+1 : end]
		}
	}
	return addr
}
