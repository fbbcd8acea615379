// Package notify delivers the transient success and error notifications that
// follow every mutation.
package notify

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"

	"github.com/connor-davis/threereco-admin/transport"
)

// GenericMessage is shown when an error carries nothing a user can act on.
const GenericMessage = "Something went wrong. Please try again."

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

type Notification struct {
	Level   Level
	Title   string
	Message string
	Time    time.Time
}

// Notifier receives notifications. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to a Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Success sends a success notification.
func Success(n Notifier, title, message string) {
	if n == nil {
		return
	}
	n.Notify(Notification{Level: LevelSuccess, Title: title, Message: message, Time: time.Now()})
}

// Error sends an error notification whose message is Message(err).
func Error(n Notifier, title string, err error) {
	if n == nil {
		return
	}
	n.Notify(Notification{Level: LevelError, Title: title, Message: Message(err), Time: time.Now()})
}

// Info sends an informational notification.
func Info(n Notifier, title, message string) {
	if n == nil {
		return
	}
	n.Notify(Notification{Level: LevelInfo, Title: title, Message: message, Time: time.Now()})
}

// Message maps err to what a user should read: the server's message for API
// errors, a short description for timeouts and unreachable servers, and
// GenericMessage for anything else.
func Message(err error) string {
	if err == nil {
		return ""
	}

	var apiErr *transport.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}

	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		return "Please correct the highlighted fields."
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "The server took too long to respond."
	}
	if errors.Is(err, context.Canceled) {
		return "The request was cancelled."
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "The server took too long to respond."
		}
		return "Could not reach the server."
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "Could not reach the server."
	}

	return GenericMessage
}

// LogNotifier writes notifications to a zerolog logger.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (l LogNotifier) Notify(n Notification) {
	event := l.Logger.Info()
	if n.Level == LevelError {
		event = l.Logger.Error()
	}
	event.Str("level_kind", string(n.Level)).Str("title", n.Title).Msg(n.Message)
}

// Recorder keeps every notification it receives.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

// All returns the notifications received so far.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// Count returns how many notifications of level were received.
func (r *Recorder) Count(level Level) int {
	n := 0
	for _, sent := range r.All() {
		if sent.Level == level {
			n++
		}
	}
	return n
}

// Last returns the most recent notification.
func (r *Recorder) Last() (Notification, bool) {
	all := r.All()
	if len(all) == 0 {
		return Notification{}, false
	}
	return all[len(all)-1], true
}

// Reset forgets everything received.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// Multi fans a notification out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(n Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(n)
		}
	}
}
