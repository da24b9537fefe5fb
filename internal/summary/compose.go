package summary

import (
	"fmt"
	"strings"
	"time"

	appLog "calnotify/internal/log"
	"calnotify/internal/model"
)

const (
	// descriptionMaxRunes caps each rendered event description.
	descriptionMaxRunes = 100
	// truncationMarker terminates a message cut down to the length cap.
	truncationMarker = "...(truncated)"
)

// Options are the configuration-driven formatting rules for one summary.
type Options struct {
	Greeting string
	Closing  string
	Footer   string

	NoEventsMessage    string
	IncludeDescription bool
	IncludeLocation    bool

	// MaxEventsDisplay caps rendered entries; the remainder collapses
	// into one "+N more" line.
	MaxEventsDisplay int
	// MaxMessageLength caps the whole message in runes. A composed
	// message never exceeds it.
	MaxMessageLength int
}

// Composer renders daily summaries. Compose is pure apart from Now, which
// feeds the generation timestamp and footer.
type Composer struct {
	Opts Options

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

func New(opts Options) *Composer {
	return &Composer{Opts: opts, Now: time.Now}
}

// Compose renders the given events for targetDate into a DailySummary.
// Events are assumed to be pre-sorted by start instant (the extractor's
// output contract).
func (c *Composer) Compose(targetDate time.Time, events []model.Event) model.DailySummary {
	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}

	var parts []string

	parts = append(parts, c.Opts.Greeting)
	parts = append(parts, "")
	parts = append(parts, fmt.Sprintf("📅 %s (%s)", targetDate.Format("2006-01-02"), targetDate.Format("Mon")))
	parts = append(parts, "")

	if len(events) == 0 {
		parts = append(parts, "📝 "+c.Opts.NoEventsMessage)
	} else {
		parts = append(parts, "⏰ Today's schedule:")

		display := events
		if c.Opts.MaxEventsDisplay > 0 && len(display) > c.Opts.MaxEventsDisplay {
			display = display[:c.Opts.MaxEventsDisplay]
		}

		for _, ev := range display {
			parts = append(parts, fmt.Sprintf("・%s %s", ev.FormatTimeRange(), ev.Title))

			if c.Opts.IncludeDescription {
				if desc := strings.TrimSpace(ev.Description); desc != "" {
					parts = append(parts, "  "+truncateRunes(desc, descriptionMaxRunes))
				}
			}
			if c.Opts.IncludeLocation {
				if loc := strings.TrimSpace(ev.Location); loc != "" {
					parts = append(parts, "  📍 "+loc)
				}
			}
		}

		if remaining := len(events) - len(display); remaining > 0 {
			parts = append(parts, fmt.Sprintf("  ... +%d more", remaining))
		}
	}

	parts = append(parts, "")
	parts = append(parts, c.Opts.Closing)
	parts = append(parts, "")
	parts = append(parts, "---")
	parts = append(parts, fmt.Sprintf("%s | sent %s", c.Opts.Footer, now.Format("15:04")))

	message := strings.Join(parts, "\n")

	if max := c.Opts.MaxMessageLength; max > 0 {
		if truncated, ok := enforceLength(message, max); ok {
			appLog.Warn("message exceeds length cap, truncating", "cap", max)
			message = truncated
		}
	}

	return model.DailySummary{
		Date:        targetDate,
		Events:      events,
		TotalEvents: len(events),
		Message:     message,
		GeneratedAt: now,
	}
}

// enforceLength cuts message to exactly max runes, ending in the
// truncation marker. The second return is false when no cut was needed.
func enforceLength(message string, max int) (string, bool) {
	runes := []rune(message)
	if len(runes) <= max {
		return message, false
	}
	marker := []rune(truncationMarker)
	if max <= len(marker) {
		return string(marker[:max]), true
	}
	return string(runes[:max-len(marker)]) + truncationMarker, true
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
