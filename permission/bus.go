package permission

import (
	"context"
	"errors"
	"sync"
)

// EventKind names a permission-affecting mutation.
type EventKind string

const (
	UserRolesChanged       EventKind = "user_roles_changed"
	RolePermissionsChanged EventKind = "role_permissions_changed"
	RefreshAll             EventKind = "refresh_all"
)

// Event describes one committed mutation. UserID is set for
// UserRolesChanged, RoleID for RolePermissionsChanged.
type Event struct {
	Kind   EventKind
	UserID string
	RoleID string
	Op     string
}

// Handler reacts to an event. Returning an error fails the publishing
// mutation.
type Handler func(ctx context.Context, ev Event) error

// Bus delivers events synchronously, in subscription order, on the
// publisher's goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish runs every handler and joins their errors.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
