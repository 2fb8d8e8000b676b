package notify

import "log/slog"

// Kind categorizes a user-visible notification.
type Kind string

const (
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
	KindError   Kind = "error"
)

// Notifier delivers fire-and-forget user-visible toasts. Implementations
// must not block the caller.
type Notifier interface {
	Notify(kind Kind, title, message string)
}

// SlogNotifier routes notifications to structured logs. Used when no UI
// surface is attached.
type SlogNotifier struct {
	log *slog.Logger
}

func NewSlogNotifier(log *slog.Logger) *SlogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &SlogNotifier{log: log}
}

func (n *SlogNotifier) Notify(kind Kind, title, message string) {
	n.log.Info("notification",
		slog.String("kind", string(kind)),
		slog.String("title", title),
		slog.String("message", message),
	)
}

// MultiNotifier fans a notification out to several sinks.
type MultiNotifier struct {
	list []Notifier
}

func NewMultiNotifier(list ...Notifier) *MultiNotifier {
	return &MultiNotifier{list: list}
}

func (m *MultiNotifier) Notify(kind Kind, title, message string) {
	for _, n := range m.list {
		if n != nil {
			n.Notify(kind, title, message)
		}
	}
}
