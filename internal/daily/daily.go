package daily

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	appLog "calnotify/internal/log"
	"calnotify/internal/model"
)

// Exporter produces the day's ICS file.
type Exporter interface {
	Run(ctx context.Context) model.ExportOutcome
}

// Composer renders a set of events into a summary.
type Composer interface {
	Compose(targetDate time.Time, events []model.Event) model.DailySummary
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, message string) model.NotificationOutcome
}

// ExtractFunc reads an ICS file and returns the target date's events.
type ExtractFunc func(path string, targetDate time.Time) []model.Event

// Notifier sequences one daily-summary run:
// export → extract → compose → notify → backup, with an error
// notification on export failure. It owns no retry policy.
type Notifier struct {
	Exporter Exporter
	Extract  ExtractFunc
	Composer Composer
	Sender   Sender

	// BackupPath receives a copy of the exported file after a successful
	// (or suppressed) run.
	BackupPath string

	// Location is the zone "today" is evaluated in when no target date
	// is given.
	Location *time.Location

	// NotifyWhenNoEvents, when false, suppresses the push entirely on an
	// empty day; the run still counts as success.
	NotifyWhenNoEvents bool

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

// Run executes the pipeline for targetDate (zero means today in the
// configured zone) and reports overall success. A panic anywhere in the
// pipeline is converted into a best-effort error notification so a single
// bad day can never take the scheduler down.
func (n *Notifier) Run(ctx context.Context, targetDate time.Time) (ok bool) {
	now := n.now()
	if targetDate.IsZero() {
		loc := n.Location
		if loc == nil {
			loc = time.Local
		}
		targetDate = now.In(loc)
	}

	defer func() {
		if r := recover(); r != nil {
			appLog.Error("unexpected panic in daily run", fmt.Errorf("%v", r), "date", dateStr(targetDate))
			n.sendErrorNotification(ctx, targetDate, fmt.Sprintf("unexpected error: %v", r))
			ok = false
		}
	}()

	appLog.Info("daily summary run starting", "date", dateStr(targetDate))

	export := n.Exporter.Run(ctx)
	if !export.Success {
		appLog.Error("export failed", fmt.Errorf("%s", export.ErrorMsg),
			"error_type", string(export.ErrorType), "elapsed", export.Elapsed.String())
		// The run failed even when the error notification goes through;
		// the summary itself was never delivered.
		n.sendErrorNotification(ctx, targetDate, export.ErrorMsg)
		return false
	}

	// Extraction failures degrade to an empty event list inside Extract;
	// they never fail the run.
	events := n.Extract(export.OutputFile, targetDate)

	if len(events) == 0 && !n.NotifyWhenNoEvents {
		appLog.Info("no events and notifications for empty days are off; skipping send", "date", dateStr(targetDate))
		n.backup(export.OutputFile)
		return true
	}

	sum := n.Composer.Compose(targetDate, events)

	result := n.Sender.Send(ctx, sum.Message)
	if !result.Success {
		// Terminal failure mode: reported, not re-alerted, to avoid a
		// failing channel alerting through itself.
		appLog.Error("failed to send daily summary", fmt.Errorf("%s", result.ErrorMsg), "date", dateStr(targetDate))
		return false
	}

	appLog.Info("daily summary sent", "date", dateStr(targetDate), "events", sum.TotalEvents)
	n.backup(export.OutputFile)
	return true
}

// backup copies the exported file to BackupPath, overwriting any previous
// backup. Failures are logged only; they never change the run outcome.
func (n *Notifier) backup(sourceFile string) {
	if n.BackupPath == "" || sourceFile == "" {
		return
	}
	if err := copyFile(sourceFile, n.BackupPath); err != nil {
		appLog.Warn("failed to back up ICS file", "err", err.Error(), "path", n.BackupPath)
		return
	}
	appLog.Debug("ICS file backed up", "path", n.BackupPath)
}

// sendErrorNotification pushes a fixed-format failure report through the
// same channel as the summary. Its outcome becomes the run's outcome.
func (n *Notifier) sendErrorNotification(ctx context.Context, targetDate time.Time, errText string) bool {
	msg := "⚠️ calnotify error\n\n" +
		"Date: " + dateStr(targetDate) + "\n" +
		"Time: " + n.now().Format("15:04") + "\n\n" +
		"Error:\n" + errText + "\n\n" +
		"Please check the source calendar manually."

	result := n.Sender.Send(ctx, msg)
	if !result.Success {
		appLog.Error("failed to send error notification", fmt.Errorf("%s", result.ErrorMsg), "date", dateStr(targetDate))
	}
	return result.Success
}

func (n *Notifier) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func dateStr(t time.Time) string {
	return t.Format("2006-01-02")
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
