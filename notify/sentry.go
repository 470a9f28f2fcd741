package notify

import (
	"context"

	"github.com/getsentry/sentry-go"
)

// SentryReporter forwards delivery failures to Sentry. A nil Hub uses the
// current hub.
type SentryReporter struct {
	Hub *sentry.Hub
}

func (r SentryReporter) ReportFailure(_ context.Context, d Delivery, err error) {
	hub := r.Hub
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", "notify")
		scope.SetTag("template", d.TemplateID)
		scope.SetTag("request_id", d.RequestID)
		hub.CaptureException(err)
	})
}
