package delivery

import (
	"context"
	"sync"

	"github.com/medrex/healthon/pkg/interfaces"
)

const defaultInboxSize = 50

// ToastInbox is the last-resort display surface: notifications queue up until
// the UI drains them and renders in-app toasts. The oldest toast is dropped
// when the inbox is full.
type ToastInbox struct {
	mu    sync.Mutex
	size  int
	items []interfaces.DisplayMessage
}

// NewToastInbox creates an inbox holding at most size toasts
func NewToastInbox(size int) *ToastInbox {
	if size <= 0 {
		size = defaultInboxSize
	}
	return &ToastInbox{size: size}
}

// Available is always true; an in-app toast needs no permission
func (i *ToastInbox) Available() bool {
	return true
}

// Show queues msg
func (i *ToastInbox) Show(ctx context.Context, msg interfaces.DisplayMessage) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(i.items) == i.size {
		i.items = i.items[1:]
	}
	i.items = append(i.items, msg)
	return nil
}

// Drain returns the queued toasts oldest first and empties the inbox
func (i *ToastInbox) Drain() []interfaces.DisplayMessage {
	i.mu.Lock()
	defer i.mu.Unlock()

	out := i.items
	i.items = nil
	if out == nil {
		out = []interfaces.DisplayMessage{}
	}
	return out
}
