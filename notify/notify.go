package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Notifier delivers a templated message and returns the provider's delivery id.
type Notifier interface {
	Send(ctx context.Context, destination, templateID string, vars map[string]string) (string, error)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, destination, templateID string, vars map[string]string) (string, error)

func (f NotifierFunc) Send(ctx context.Context, destination, templateID string, vars map[string]string) (string, error) {
	return f(ctx, destination, templateID, vars)
}

// LogNotifier logs deliveries instead of sending them. Variables are not
// logged since they carry the one-time code.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Send(_ context.Context, destination, templateID string, vars map[string]string) (string, error) {
	id := uuid.NewString()
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("goIdentity: notification", "delivery_id", id, "template", templateID, "destination", MaskEmail(destination), "vars", len(vars))
	return id, nil
}

// Sent is one delivery captured by Recorder.
type Sent struct {
	DeliveryID  string
	Destination string
	TemplateID  string
	Vars        map[string]string
}

// Recorder keeps every delivery in memory. It is meant for tests and local
// development.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
	Err  error
}

func (r *Recorder) Send(_ context.Context, destination, templateID string, vars map[string]string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return "", r.Err
	}
	cp := make(map[string]string, len(vars))
	for k, v := range vars {
		cp[k] = v
	}
	id := uuid.NewString()
	r.sent = append(r.sent, Sent{DeliveryID: id, Destination: destination, TemplateID: templateID, Vars: cp})
	return id, nil
}

// Sent returns a copy of the deliveries so far.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}
