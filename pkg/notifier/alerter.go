package notifier

import (
	"context"

	"github.com/go-pkgz/lgr"
)

// LogAlerter is the default Alerter, it writes alerts to the log. A real
// deployment can swap in a desktop or push notification implementation.
type LogAlerter struct{}

// Alert logs the alert at warn level
func (a *LogAlerter) Alert(_ context.Context, title, body, dedupKey string) error {
	lgr.Printf("[WARN] ALERT [%s] %s: %s", dedupKey, title, body)
	return nil
}
