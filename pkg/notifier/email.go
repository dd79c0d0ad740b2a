package notifier

import (
	"time"

	"github.com/go-pkgz/email"
	"github.com/go-pkgz/lgr"
)

// EmailConfig holds the SMTP submission settings, user supplied.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	StartTLS bool
	TLS      bool
	Timeout  time.Duration
}

// NewEmailSender builds the SMTP transport from config. Returns nil when no
// host is configured, email alerts are then skipped for all endpoints.
func NewEmailSender(cfg EmailConfig) MailSender {
	if cfg.Host == "" {
		return nil
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return email.NewSender(cfg.Host,
		email.Port(cfg.Port),
		email.Auth(cfg.Username, cfg.Password),
		email.STARTTLS(cfg.StartTLS),
		email.TLS(cfg.TLS),
		email.TimeOut(timeout),
		email.ContentType("text/plain"),
		email.Log(lgr.Default()),
	)
}
