package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DailySummaryConfig controls when and how the daily summary is produced.
type DailySummaryConfig struct {
	// Enabled toggles the scheduled trigger. When false the scheduler
	// starts but registers no job.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Time is the local fire time in "HH:MM" form.
	Time string `yaml:"time" json:"time"`

	// Timezone is the IANA zone the fire time and target date are
	// evaluated in (e.g. "Asia/Tokyo").
	Timezone string `yaml:"timezone" json:"timezone"`

	IncludeDescription bool `yaml:"include_description" json:"include_description"`
	IncludeLocation    bool `yaml:"include_location" json:"include_location"`

	// MaxEventsDisplay caps how many events are rendered; the rest
	// collapse into a "+N more" line.
	MaxEventsDisplay int `yaml:"max_events_display" json:"max_events_display"`

	// NotifyWhenNoEvents controls whether an empty day still produces a
	// push. When false the run sends nothing and reports success.
	NotifyWhenNoEvents bool   `yaml:"notify_when_no_events" json:"notify_when_no_events"`
	NoEventsMessage    string `yaml:"no_events_message" json:"no_events_message"`
}

// ExporterConfig describes how the external export command is run.
//
// RetryCount and RetryDelaySeconds are accepted for compatibility with
// existing config files but the pipeline makes exactly one attempt.
type ExporterConfig struct {
	Command           string `yaml:"command" json:"command"`
	TimeoutSeconds    int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	RetryCount        int    `yaml:"retry_count" json:"retry_count"`
	RetryDelaySeconds int    `yaml:"retry_delay_seconds" json:"retry_delay_seconds"`
}

// CalendarConfig holds the calendar account identity and exporter options.
type CalendarConfig struct {
	Email    string         `yaml:"email" json:"email"`
	Password string         `yaml:"password" json:"-"`
	Exporter ExporterConfig `yaml:"exporter" json:"exporter"`
}

// NotificationConfig holds LINE Messaging API credentials and message
// framing text.
type NotificationConfig struct {
	ChannelAccessToken string `yaml:"channel_access_token" json:"-"`
	UserID             string `yaml:"user_id" json:"user_id"`

	MaxMessageLength int `yaml:"max_message_length" json:"max_message_length"`
	TimeoutSeconds   int `yaml:"timeout_seconds" json:"timeout_seconds"`

	Greeting string `yaml:"greeting" json:"greeting"`
	Closing  string `yaml:"closing" json:"closing"`
	Footer   string `yaml:"footer" json:"footer"`
}

// PathsConfig holds file-system locations used by the pipeline.
type PathsConfig struct {
	// TempICS is where the exporter writes its output each run.
	TempICS string `yaml:"temp_ics" json:"temp_ics"`
	// BackupICS is the rolling backup of the last successful export.
	BackupICS string `yaml:"backup_ics" json:"backup_ics"`
	// Logs is the log directory.
	Logs string `yaml:"logs" json:"logs"`
}

// LoggingConfig configures the log sink.
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the admin server.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"-"`
}

// WebConfig configures the optional admin HTTP server. An empty listen
// address disables it.
type WebConfig struct {
	Listen    string           `yaml:"listen" json:"listen"`
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	DailySummary DailySummaryConfig `yaml:"daily_summary" json:"daily_summary"`
	Calendar     CalendarConfig     `yaml:"calendar" json:"calendar"`
	Notification NotificationConfig `yaml:"notification" json:"notification"`
	Paths        PathsConfig        `yaml:"paths" json:"paths"`
	Logging      LoggingConfig      `yaml:"logging" json:"logging"`
	Web          WebConfig          `yaml:"web" json:"web"`
}

// DefaultConfig returns an in-memory default configuration. Credentials
// are left as ${VAR} placeholders so a freshly written file documents the
// expected environment variables.
func DefaultConfig() *Config {
	return &Config{
		DailySummary: DailySummaryConfig{
			Enabled:            true,
			Time:               "07:30",
			Timezone:           "Asia/Tokyo",
			IncludeDescription: true,
			IncludeLocation:    true,
			MaxEventsDisplay:   10,
			NotifyWhenNoEvents: true,
			NoEventsMessage:    "No events today.\nEnjoy a quiet day!",
		},
		Calendar: CalendarConfig{
			Email:    "${TIMETREE_EMAIL}",
			Password: "${TIMETREE_PASSWORD}",
			Exporter: ExporterConfig{
				Command:           "timetree-exporter",
				TimeoutSeconds:    120,
				RetryCount:        3,
				RetryDelaySeconds: 30,
			},
		},
		Notification: NotificationConfig{
			ChannelAccessToken: "${LINE_CHANNEL_ACCESS_TOKEN}",
			UserID:             "${LINE_USER_ID}",
			MaxMessageLength:   1000,
			TimeoutSeconds:     10,
			Greeting:           "🌅 Good morning! Here is today's schedule",
			Closing:            "Have a great day! ✨",
			Footer:             "calnotify",
		},
		Paths: PathsConfig{
			TempICS:   "./temp/calendar_export.ics",
			BackupICS: "./data/backup.ics",
			Logs:      "./logs",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "./logs/calnotify.log",
		},
		Web: WebConfig{
			Listen: "",
		},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.DailySummary.Time == "" {
		c.DailySummary.Time = def.DailySummary.Time
	}
	if c.DailySummary.Timezone == "" {
		c.DailySummary.Timezone = def.DailySummary.Timezone
	}
	if c.DailySummary.MaxEventsDisplay <= 0 {
		c.DailySummary.MaxEventsDisplay = def.DailySummary.MaxEventsDisplay
	}
	if c.DailySummary.NoEventsMessage == "" {
		c.DailySummary.NoEventsMessage = def.DailySummary.NoEventsMessage
	}

	if c.Calendar.Exporter.Command == "" {
		c.Calendar.Exporter.Command = def.Calendar.Exporter.Command
	}
	if c.Calendar.Exporter.TimeoutSeconds <= 0 {
		c.Calendar.Exporter.TimeoutSeconds = def.Calendar.Exporter.TimeoutSeconds
	}

	if c.Notification.MaxMessageLength <= 0 {
		c.Notification.MaxMessageLength = def.Notification.MaxMessageLength
	}
	if c.Notification.TimeoutSeconds <= 0 {
		c.Notification.TimeoutSeconds = def.Notification.TimeoutSeconds
	}
	if c.Notification.Greeting == "" {
		c.Notification.Greeting = def.Notification.Greeting
	}
	if c.Notification.Closing == "" {
		c.Notification.Closing = def.Notification.Closing
	}
	if c.Notification.Footer == "" {
		c.Notification.Footer = def.Notification.Footer
	}

	if c.Paths.TempICS == "" {
		c.Paths.TempICS = def.Paths.TempICS
	}
	if c.Paths.BackupICS == "" {
		c.Paths.BackupICS = def.Paths.BackupICS
	}
	if c.Paths.Logs == "" {
		c.Paths.Logs = def.Paths.Logs
	}

	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// ParseDailyTime parses DailySummary.Time into hour and minute,
// rejecting anything outside 00:00–23:59.
func (c *Config) ParseDailyTime() (hour, minute int, err error) {
	parts := strings.Split(c.DailySummary.Time, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q: expected HH:MM", c.DailySummary.Time)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: %w", c.DailySummary.Time, err)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q: %w", c.DailySummary.Time, err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time %q: out of range 00:00-23:59", c.DailySummary.Time)
	}
	return hour, minute, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.DailySummary.Timezone)
}

// Validate checks the fields the pipeline cannot run without. It is
// separate from Load so that a freshly created default file can be
// written first and reported as incomplete second.
func (c *Config) Validate() error {
	if _, _, err := c.ParseDailyTime(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.DailySummary.Timezone, err)
	}
	if c.Calendar.Email == "" || looksUnset(c.Calendar.Email) {
		return errors.New("calendar.email is not set")
	}
	if c.Calendar.Password == "" || looksUnset(c.Calendar.Password) {
		return errors.New("calendar.password is not set")
	}
	if c.Notification.ChannelAccessToken == "" || looksUnset(c.Notification.ChannelAccessToken) {
		return errors.New("notification.channel_access_token is not set")
	}
	if c.Notification.UserID == "" || looksUnset(c.Notification.UserID) {
		return errors.New("notification.user_id is not set")
	}
	return nil
}

// looksUnset reports whether a value is still an unsubstituted ${VAR}
// placeholder.
func looksUnset(v string) bool {
	return strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}")
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// substituteEnv replaces ${VAR} references with values from the process
// environment. Unset variables are left as-is so Validate can report them.
func substituteEnv(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envVarPattern.FindSubmatch(m)[1]
		if v, ok := os.LookupEnv(string(name)); ok {
			return []byte(v)
		}
		return m
	})
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist: create parent directory if needed,
//     write a default config with 0600 perms, and return it.
//   - If the file exists: substitute ${VAR} environment references,
//     unmarshal, and normalize defaults.
//
// Load does not Validate; callers decide whether a config with missing
// credentials is fatal (daemon/manual) or acceptable (status).
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(substituteEnv(data), &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".calnotify-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// EnsureDirectories creates the parent directories for every configured
// file path so the exporter, backup step and log sink can write without
// racing on first use.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Paths.TempICS),
		filepath.Dir(c.Paths.BackupICS),
		c.Paths.Logs,
	}
	for _, d := range dirs {
		if d == "" || d == "." {
			continue
		}
		if err := os.MkdirAll(d, 0o755); err != nil {
			return err
		}
	}
	return nil
}
