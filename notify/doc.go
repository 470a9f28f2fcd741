// Package notify delivers one-time codes and other messages through a
// caller-supplied [Notifier].
//
// [Dispatcher] runs sends on worker goroutines so the triggering request
// never waits on a provider. Each outcome is written back as SENT or FAILED
// through a status callback; failures may also be reported to Sentry with
// [SentryReporter].
package notify
