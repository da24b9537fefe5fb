package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"calnotify/internal/config"
	"calnotify/internal/daily"
	"calnotify/internal/exporter"
	"calnotify/internal/ics"
	appLog "calnotify/internal/log"
	"calnotify/internal/notify"
	"calnotify/internal/schedule"
	"calnotify/internal/summary"
	"calnotify/internal/web"
)

const version = "1.0.0"

func main() {
	app := &cli.App{
		Name:    "calnotify",
		Usage:   "Daily calendar summary push notifier",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML config file",
				Value:   "config.yaml",
			},
		},
		Commands: []*cli.Command{
			daemonCommand(),
			manualCommand(),
			statusCommand(),
		},
		// Default to daemon mode when no subcommand is given.
		Action: daemonAction,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func daemonCommand() *cli.Command {
	return &cli.Command{
		Name:   "daemon",
		Usage:  "Run the scheduler until interrupted",
		Action: daemonAction,
	}
}

func manualCommand() *cli.Command {
	return &cli.Command{
		Name:  "manual",
		Usage: "Run one daily summary and exit 0/1",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "date",
				Usage: "Target date (YYYY-MM-DD, default today)",
			},
		},
		Action: manualAction,
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Print the scheduler configuration state as key/value lines",
		Action: statusAction,
	}
}

// initialize loads and validates configuration and sets up logging and
// the directory layout.
func initialize(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("creating directories: %w", err)
	}
	if err := appLog.Setup(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}

	appLog.Info("configuration loaded",
		"path", path,
		"time", cfg.DailySummary.Time,
		"timezone", cfg.DailySummary.Timezone,
		"include_description", cfg.DailySummary.IncludeDescription,
		"include_location", cfg.DailySummary.IncludeLocation,
		"max_events_display", cfg.DailySummary.MaxEventsDisplay,
	)
	return cfg, nil
}

// buildNotifier wires the pipeline stages from config.
func buildNotifier(cfg *config.Config, loc *time.Location) *daily.Notifier {
	return &daily.Notifier{
		Exporter: &exporter.Runner{
			Command:    cfg.Calendar.Exporter.Command,
			Email:      cfg.Calendar.Email,
			Password:   cfg.Calendar.Password,
			OutputPath: cfg.Paths.TempICS,
			Timeout:    time.Duration(cfg.Calendar.Exporter.TimeoutSeconds) * time.Second,
		},
		Extract: ics.Extract,
		Composer: summary.New(summary.Options{
			Greeting:           cfg.Notification.Greeting,
			Closing:            cfg.Notification.Closing,
			Footer:             cfg.Notification.Footer,
			NoEventsMessage:    cfg.DailySummary.NoEventsMessage,
			IncludeDescription: cfg.DailySummary.IncludeDescription,
			IncludeLocation:    cfg.DailySummary.IncludeLocation,
			MaxEventsDisplay:   cfg.DailySummary.MaxEventsDisplay,
			MaxMessageLength:   cfg.Notification.MaxMessageLength,
		}),
		Sender: &notify.Sender{
			ChannelAccessToken: cfg.Notification.ChannelAccessToken,
			UserID:             cfg.Notification.UserID,
			Client: &http.Client{
				Timeout: time.Duration(cfg.Notification.TimeoutSeconds) * time.Second,
			},
		},
		BackupPath:         cfg.Paths.BackupICS,
		Location:           loc,
		NotifyWhenNoEvents: cfg.DailySummary.NotifyWhenNoEvents,
	}
}

// buildScheduler wires a scheduler around the notifier.
func buildScheduler(cfg *config.Config) (*schedule.Scheduler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	hour, minute, err := cfg.ParseDailyTime()
	if err != nil {
		return nil, err
	}

	notifier := buildNotifier(cfg, loc)

	return schedule.New(schedule.Config{
		Enabled:  cfg.DailySummary.Enabled,
		Hour:     hour,
		Minute:   minute,
		Location: loc,
	}, notifier.Run)
}

func daemonAction(c *cli.Context) error {
	appLog.Info("calnotify starting", "version", version)
	defer appLog.Sync()

	cfg, err := initialize(c)
	if err != nil {
		return err
	}

	sched, err := buildScheduler(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	sched.Start()
	defer sched.Stop()

	if next, ok := sched.NextRun(); ok {
		appLog.Info("next notification scheduled", "at", next.Format(time.RFC3339))
	}

	if cfg.Web.Listen != "" {
		go func() {
			if err := web.Serve(ctx, cfg, sched); err != nil {
				appLog.Error("admin server failed", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()

	// Give the log sink a moment to flush before exiting.
	time.Sleep(100 * time.Millisecond)
	appLog.Info("calnotify exiting")
	return nil
}

func manualAction(c *cli.Context) error {
	defer appLog.Sync()

	cfg, err := initialize(c)
	if err != nil {
		return err
	}

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	var targetDate time.Time
	if d := c.String("date"); d != "" {
		targetDate, err = time.ParseInLocation("2006-01-02", d, loc)
		if err != nil {
			return fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", d)
		}
	}

	appLog.Info("running manual notification")
	notifier := buildNotifier(cfg, loc)
	if !notifier.Run(c.Context, targetDate) {
		return cli.Exit("manual notification failed", 1)
	}
	appLog.Info("manual notification completed successfully")
	return nil
}

func statusAction(c *cli.Context) error {
	// Status works even with incomplete credentials: load and normalize
	// only, then report what the scheduler would do.
	path := c.String("config")
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", path, err)
	}

	sched, err := buildScheduler(cfg)
	if err != nil {
		return err
	}

	st := sched.Status()
	fmt.Println("=== calnotify status ===")
	fmt.Printf("config: %s\n", filepath.Clean(path))
	fmt.Printf("running: %t\n", st.Running)
	fmt.Printf("daily_summary_enabled: %t\n", st.Enabled)
	fmt.Printf("scheduled_time: %s\n", st.ScheduledTime)
	fmt.Printf("timezone: %s\n", st.Timezone)
	if st.NextRunTime != "" {
		fmt.Printf("next_run_time: %s\n", st.NextRunTime)
	} else {
		fmt.Println("next_run_time: -")
	}
	fmt.Printf("jobs_count: %d\n", st.JobsCount)
	return nil
}
