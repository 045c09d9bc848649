package engine

import (
	"sync"

	"mysql-triggers/internal/models"
)

// NotificationKind names an engine lifecycle or dispatch notification.
type NotificationKind string

const (
	NotifyStarted         NotificationKind = "started"
	NotifyStopped         NotificationKind = "stopped"
	NotifyPaused          NotificationKind = "paused"
	NotifyResumed         NotificationKind = "resumed"
	NotifyBinlog          NotificationKind = "binlog"
	NotifyTriggerError    NotificationKind = "trigger_error"
	NotifyConnectionError NotificationKind = "connection_error"
	NotifyStreamError     NotificationKind = "stream_error"
)

// Notification carries the payload for a single notification. Event is set
// for binlog notifications, Err for the error kinds, and Trigger names the
// offending trigger for trigger errors.
type Notification struct {
	Kind    NotificationKind
	Event   *models.RowEvent
	Trigger string
	Err     error
}

// Listener receives notifications. Listeners for a kind are invoked
// synchronously in registration order; a slow listener delays dispatch.
type Listener func(Notification)

type notifier struct {
	mu        sync.RWMutex
	listeners map[NotificationKind][]Listener
}

func newNotifier() *notifier {
	return &notifier{listeners: make(map[NotificationKind][]Listener)}
}

func (n *notifier) on(kind NotificationKind, fn Listener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners[kind] = append(n.listeners[kind], fn)
}

func (n *notifier) emit(msg Notification) {
	n.mu.RLock()
	fns := n.listeners[msg.Kind]
	n.mu.RUnlock()

	for _, fn := range fns {
		fn(msg)
	}
}
