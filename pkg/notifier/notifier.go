package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-pkgz/email"
	"github.com/go-pkgz/lgr"

	"github.com/wakewatch/wakewatch/pkg/domain"
)

// Alerter is the platform notification capability, i.e. whatever surfaces
// an alert to the user locally.
type Alerter interface {
	Alert(ctx context.Context, title, body, dedupKey string) error
}

// MailSender sends a plain text email, satisfied by *email.Sender
type MailSender interface {
	Send(text string, params email.Params) error
}

// Notifier fires user-facing alerts when an endpoint crosses the
// consecutive-failure threshold. Alert and email failures are logged and
// swallowed, they never affect endpoint status or the poll cycle.
type Notifier struct {
	alerter Alerter
	mail    MailSender // nil when no SMTP transport is configured
	from    string
}

// New creates a notifier. mail may be nil, email alerts are then skipped.
func New(alerter Alerter, mail MailSender, from string) *Notifier {
	return &Notifier{alerter: alerter, mail: mail, from: from}
}

// FailureThreshold fires the local alert and, when the endpoint opted in and
// an SMTP transport is available, sends an email.
func (n *Notifier) FailureThreshold(ctx context.Context, ep domain.Endpoint, consecutiveFailures int) {
	title := fmt.Sprintf("wakewatch: %s is down", ep.URL)
	body := fmt.Sprintf("ping to %s failed %d times in a row", ep.URL, consecutiveFailures)
	dedupKey := fmt.Sprintf("endpoint-%d-failures", ep.ID)

	if err := n.alerter.Alert(ctx, title, body, dedupKey); err != nil {
		lgr.Printf("[WARN] failed to deliver alert for %s: %v", ep.URL, err)
	}

	if !ep.EmailEnabled || ep.EmailAddress == "" {
		return
	}
	if n.mail == nil {
		lgr.Printf("[DEBUG] email alert for %s skipped, no smtp transport configured", ep.URL)
		return
	}

	lastAttempt := "never"
	if ep.LastPingTime != nil {
		lastAttempt = ep.LastPingTime.Format(time.RFC1123)
	}

	text := fmt.Sprintf("Hello,\n\nthe ping to %s has failed %d times in a row.\n\n"+
		"Last attempt: %s\nLast error: %s\n\nPlease check that the site is up.\n\nwakewatch",
		ep.URL, consecutiveFailures, lastAttempt, ep.LastError)

	params := email.Params{
		From:    n.from,
		To:      []string{ep.EmailAddress},
		Subject: fmt.Sprintf("wakewatch alert: ping to %s failed", ep.URL),
	}

	if err := n.mail.Send(text, params); err != nil {
		lgr.Printf("[WARN] failed to send email alert to %s for %s: %v", ep.EmailAddress, ep.URL, err)
		return
	}
	lgr.Printf("[INFO] email alert sent to %s for %s", ep.EmailAddress, ep.URL)
}
