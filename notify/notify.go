// Package notify surfaces user-facing notifications. Failed remote calls
// produce exactly one notification each; the reducer never sees failures.
package notify

import "log"

// Severity of a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Notifier receives user-facing notifications.
type Notifier interface {
	Notify(severity Severity, title, message string)
}

// Log is a Notifier that writes to the standard logger.
type Log struct{}

func (Log) Notify(severity Severity, title, message string) {
	switch severity {
	case SeverityError:
		log.Printf("ERROR: %s: %s", title, message)
	case SeveritySuccess:
		log.Printf("INFO: %s: %s", title, message)
	default:
		log.Printf("INFO: %s: %s", title, message)
	}
}

// Recorder captures notifications for tests.
type Recorder struct {
	Entries []Entry
}

// Entry is one recorded notification.
type Entry struct {
	Severity Severity
	Title    string
	Message  string
}

func (r *Recorder) Notify(severity Severity, title, message string) {
	r.Entries = append(r.Entries, Entry{Severity: severity, Title: title, Message: message})
}
