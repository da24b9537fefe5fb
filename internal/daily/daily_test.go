package daily

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"calnotify/internal/model"
)

type fakeExporter struct {
	outcome model.ExportOutcome
	calls   int
}

func (f *fakeExporter) Run(context.Context) model.ExportOutcome {
	f.calls++
	return f.outcome
}

type fakeComposer struct {
	message string
	panics  bool
	calls   int
}

func (f *fakeComposer) Compose(targetDate time.Time, events []model.Event) model.DailySummary {
	f.calls++
	if f.panics {
		panic("compose exploded")
	}
	return model.DailySummary{
		Date:        targetDate,
		Events:      events,
		TotalEvents: len(events),
		Message:     f.message,
		GeneratedAt: time.Now(),
	}
}

type fakeSender struct {
	fail     bool
	messages []string
}

func (f *fakeSender) Send(_ context.Context, message string) model.NotificationOutcome {
	f.messages = append(f.messages, message)
	if f.fail {
		return model.NotificationOutcome{Success: false, ErrorMsg: "HTTP 500: boom"}
	}
	return model.NotificationOutcome{Success: true, SentAt: time.Now()}
}

func exportedFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "export.ics")
	if err := os.WriteFile(path, []byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func staticExtract(events []model.Event) ExtractFunc {
	return func(string, time.Time) []model.Event { return events }
}

func newNotifier(t *testing.T, exp *fakeExporter, extract ExtractFunc, comp *fakeComposer, snd *fakeSender) (*Notifier, string) {
	t.Helper()
	backup := filepath.Join(t.TempDir(), "backup.ics")
	return &Notifier{
		Exporter:           exp,
		Extract:            extract,
		Composer:           comp,
		Sender:             snd,
		BackupPath:         backup,
		Location:           time.UTC,
		NotifyWhenNoEvents: true,
	}, backup
}

var someDate = time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

func TestRunSuccessBacksUpExport(t *testing.T) {
	file := exportedFile(t)
	exp := &fakeExporter{outcome: model.ExportOutcome{Success: true, OutputFile: file}}
	comp := &fakeComposer{message: "today's summary"}
	snd := &fakeSender{}
	events := []model.Event{{Title: "Meeting", Start: someDate.Add(9 * time.Hour)}}

	n, backup := newNotifier(t, exp, staticExtract(events), comp, snd)

	if !n.Run(context.Background(), someDate) {
		t.Fatal("Run returned false, want success")
	}
	if len(snd.messages) != 1 || snd.messages[0] != "today's summary" {
		t.Errorf("sent messages = %v", snd.messages)
	}

	got, err := os.ReadFile(backup)
	if err != nil {
		t.Fatalf("backup not written: %v", err)
	}
	want, _ := os.ReadFile(file)
	if string(got) != string(want) {
		t.Error("backup content differs from export")
	}
}

func TestRunExportFailureSendsOneErrorNotification(t *testing.T) {
	exp := &fakeExporter{outcome: model.ExportOutcome{
		Success:   false,
		ErrorMsg:  "export command execution timeout",
		ErrorType: model.ExportErrTimeout,
	}}
	comp := &fakeComposer{message: "unused"}
	snd := &fakeSender{}
	extractCalls := 0
	extract := func(string, time.Time) []model.Event {
		extractCalls++
		return nil
	}

	n, backup := newNotifier(t, exp, extract, comp, snd)

	if n.Run(context.Background(), someDate) {
		t.Fatal("Run returned true on export failure")
	}
	if extractCalls != 0 {
		t.Error("extraction ran despite export failure")
	}
	if comp.calls != 0 {
		t.Error("composer ran despite export failure")
	}
	if len(snd.messages) != 1 {
		t.Fatalf("sent %d messages, want exactly one error notification", len(snd.messages))
	}
	msg := snd.messages[0]
	for _, want := range []string{"Date: 2026-08-31", "export command execution timeout", "manually"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error notification missing %q:\n%s", want, msg)
		}
	}
	if _, err := os.Stat(backup); !os.IsNotExist(err) {
		t.Error("backup written on failed run")
	}
}

func TestRunNotificationFailure(t *testing.T) {
	file := exportedFile(t)
	exp := &fakeExporter{outcome: model.ExportOutcome{Success: true, OutputFile: file}}
	comp := &fakeComposer{message: "summary"}
	snd := &fakeSender{fail: true}

	n, backup := newNotifier(t, exp, staticExtract(nil), comp, snd)

	if n.Run(context.Background(), someDate) {
		t.Fatal("Run returned true when the push failed")
	}
	// No error-notification loop: a failing channel must not alert
	// through itself.
	if len(snd.messages) != 1 {
		t.Errorf("sent %d messages, want exactly 1", len(snd.messages))
	}
	if _, err := os.Stat(backup); !os.IsNotExist(err) {
		t.Error("backup written despite failed notification")
	}
}

func TestRunExtractionFailureDegradesToEmptySummary(t *testing.T) {
	file := exportedFile(t)
	exp := &fakeExporter{outcome: model.ExportOutcome{Success: true, OutputFile: file}}
	comp := &fakeComposer{message: "empty-day summary"}
	snd := &fakeSender{}

	n, _ := newNotifier(t, exp, staticExtract(nil), comp, snd)

	if !n.Run(context.Background(), someDate) {
		t.Fatal("Run returned false; empty extraction must not fail the run")
	}
	if comp.calls != 1 {
		t.Error("composer not invoked for empty day")
	}
	if len(snd.messages) != 1 {
		t.Errorf("sent %d messages, want 1", len(snd.messages))
	}
}

func TestRunSuppressesEmptyDayWhenConfigured(t *testing.T) {
	file := exportedFile(t)
	exp := &fakeExporter{outcome: model.ExportOutcome{Success: true, OutputFile: file}}
	comp := &fakeComposer{message: "unused"}
	snd := &fakeSender{}

	n, backup := newNotifier(t, exp, staticExtract(nil), comp, snd)
	n.NotifyWhenNoEvents = false

	if !n.Run(context.Background(), someDate) {
		t.Fatal("suppressed run should report success")
	}
	if comp.calls != 0 || len(snd.messages) != 0 {
		t.Error("compose/send ran despite suppression")
	}
	// Export succeeded, so the rolling backup still advances.
	if _, err := os.Stat(backup); err != nil {
		t.Errorf("backup missing on suppressed run: %v", err)
	}
}

func TestRunBackupFailureDoesNotFailRun(t *testing.T) {
	file := exportedFile(t)
	exp := &fakeExporter{outcome: model.ExportOutcome{Success: true, OutputFile: file}}
	comp := &fakeComposer{message: "summary"}
	snd := &fakeSender{}

	n, _ := newNotifier(t, exp, staticExtract(nil), comp, snd)
	// A backup destination that cannot be a directory's child.
	n.BackupPath = filepath.Join(file, "impossible", "backup.ics")

	if !n.Run(context.Background(), someDate) {
		t.Error("backup failure changed the run outcome")
	}
}

func TestRunRecoversFromPanic(t *testing.T) {
	file := exportedFile(t)
	exp := &fakeExporter{outcome: model.ExportOutcome{Success: true, OutputFile: file}}
	comp := &fakeComposer{panics: true}
	snd := &fakeSender{}

	n, _ := newNotifier(t, exp, staticExtract(nil), comp, snd)

	if n.Run(context.Background(), someDate) {
		t.Fatal("Run returned true after a panic")
	}
	if len(snd.messages) != 1 || !strings.Contains(snd.messages[0], "compose exploded") {
		t.Errorf("expected one error notification carrying the panic, got %v", snd.messages)
	}
}

func TestRunDefaultsTargetDateToToday(t *testing.T) {
	file := exportedFile(t)
	exp := &fakeExporter{outcome: model.ExportOutcome{Success: true, OutputFile: file}}
	snd := &fakeSender{}

	var composedDate time.Time
	comp := &fakeComposer{message: "summary"}
	n, _ := newNotifier(t, exp, staticExtract(nil), comp, snd)
	n.Now = func() time.Time {
		return time.Date(2026, 8, 31, 7, 30, 0, 0, time.UTC)
	}
	n.Extract = func(_ string, targetDate time.Time) []model.Event {
		composedDate = targetDate
		return nil
	}

	if !n.Run(context.Background(), time.Time{}) {
		t.Fatal("Run failed")
	}
	y, m, d := composedDate.Date()
	if y != 2026 || m != time.August || d != 31 {
		t.Errorf("defaulted target date = %v, want 2026-08-31", composedDate)
	}
}
