package model

import "time"

// Event is a single calendar event on the target date, produced by the
// extractor and consumed by the summary composer. Immutable after creation.
type Event struct {
	Title       string
	Description string
	Location    string

	Start time.Time
	// End is zero when the event has no DTEND.
	End time.Time

	AllDay bool
}

// HasEnd reports whether the event carries an end instant.
func (e Event) HasEnd() bool {
	return !e.End.IsZero()
}

// FormatTimeRange renders the event's time span for display:
// "HH:MM-HH:MM", "HH:MM" when no end is known, or "all day".
func (e Event) FormatTimeRange() string {
	if e.AllDay {
		return "all day"
	}
	start := e.Start.Format("15:04")
	if !e.HasEnd() {
		return start
	}
	return start + "-" + e.End.Format("15:04")
}

// ExportErrorType classifies an export failure.
type ExportErrorType string

const (
	ExportErrTimeout     ExportErrorType = "timeout"
	ExportErrEmptyOutput ExportErrorType = "empty_output"
	ExportErrExecution   ExportErrorType = "execution_error"
	ExportErrSystem      ExportErrorType = "system_error"
)

// ExportOutcome is the result of one exporter invocation. Exactly one is
// produced per run; failures are values here, never propagated errors.
type ExportOutcome struct {
	Success    bool
	OutputFile string
	ErrorMsg   string
	ErrorType  ExportErrorType
	Elapsed    time.Duration
}

// NotificationOutcome is the result of one push delivery attempt.
type NotificationOutcome struct {
	Success  bool
	ErrorMsg string
	// SentAt is set only on success.
	SentAt time.Time
}

// DailySummary is the composed message for one target date.
type DailySummary struct {
	Date        time.Time
	Events      []Event
	TotalEvents int
	Message     string
	GeneratedAt time.Time
}
