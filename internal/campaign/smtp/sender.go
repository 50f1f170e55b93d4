// Package smtp provides the SMTP send capability.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/blastline/dispatch/internal/domain"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Config holds SMTP sender configuration.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	FromAddress string
	// RateLimit is a courtesy cap on connections per second to the
	// provider, independent of campaign rate limits. Zero disables it.
	RateLimit   float64
	DialTimeout time.Duration
}

// Sender delivers email over SMTP with STARTTLS. Failures are
// classified into transient and permanent send errors by SMTP reply
// code, so the dispatcher knows what to retry.
type Sender struct {
	config  Config
	auth    smtp.Auth
	limiter *rate.Limiter
}

// NewSender creates an SMTP sender.
func NewSender(config Config) (*Sender, error) {
	if config.Host == "" {
		return nil, errors.New("smtp sender: host is required")
	}
	if config.FromAddress == "" {
		return nil, errors.New("smtp sender: from address is required")
	}
	if config.Port == 0 {
		config.Port = 587
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}

	var auth smtp.Auth
	if config.User != "" && config.Password != "" {
		auth = smtp.PlainAuth("", config.User, config.Password, config.Host)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}

	slog.Info("smtp sender configured",
		"host", config.Host,
		"port", config.Port,
		"from_address", config.FromAddress,
		"rate_limit", config.RateLimit,
	)

	return &Sender{
		config:  config,
		auth:    auth,
		limiter: limiter,
	}, nil
}

// Send delivers one email and returns its message ID.
func (s *Sender) Send(ctx context.Context, to, subject, body string) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", domain.NewTransientSendError(fmt.Errorf("rate wait: %w", err))
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), s.config.Host)
	msg := s.buildMessage(messageID, to, subject, body)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	if err := s.deliver(ctx, addr, to, msg); err != nil {
		return "", classify(err)
	}
	return messageID, nil
}

// buildMessage constructs the message with headers in deterministic
// order.
func (s *Sender) buildMessage(messageID, to, subject, body string) []byte {
	var msg strings.Builder

	msg.WriteString(fmt.Sprintf("From: %s\r\n", s.config.FromAddress))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	return []byte(msg.String())
}

// deliver sends the message over one STARTTLS connection.
func (s *Sender) deliver(ctx context.Context, addr, to string, msg []byte) error {
	dialer := &net.Dialer{Timeout: s.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName: s.config.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if s.auth != nil {
		if err := client.Auth(s.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	from := extractEmail(s.config.FromAddress)
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// extractEmail extracts the address from formats like
// "Name <mail@example.com>".
func extractEmail(address string) string {
	if idx := strings.Index(address, "<"); idx != -1 {
		end := strings.Index(address, ">")
		if end > idx {
			return address[idx+1 : end]
		}
	}
	return address
}

// classify wraps an SMTP failure as a transient or permanent send
// error. Network errors and 4xx replies are transient; 5xx replies are
// permanent.
func classify(err error) *domain.SendError {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.NewTransientSendError(err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.NewTransientSendError(err)
	}

	errStr := err.Error()

	// 4xx codes are temporary failures.
	for _, code := range []string{"421", "450", "451", "452"} {
		if strings.Contains(errStr, code) {
			return domain.NewTransientSendError(err)
		}
	}

	// 552 (mailbox full) is often temporary in practice.
	if strings.Contains(errStr, "552") {
		return domain.NewTransientSendError(err)
	}

	// 5xx codes mean the recipient will never accept this message.
	for _, code := range []string{"550", "551", "553", "554"} {
		if strings.Contains(errStr, code) {
			return domain.NewPermanentSendError(err)
		}
	}

	// Unknown failures default to transient so at-least-once holds.
	return domain.NewTransientSendError(err)
}
