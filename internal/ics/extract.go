package ics

import (
	"errors"
	"os"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	appLog "calnotify/internal/log"
	"calnotify/internal/model"
)

// maxOccurrencesPerEvent caps recurrence expansion per VEVENT as a safety
// net against pathological rules.
const maxOccurrencesPerEvent = 100

// parsedEvent is the normalized representation of a single VEVENT before
// date filtering and recurrence expansion.
type parsedEvent struct {
	Summary     string
	Description string
	Location    string

	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule string
	ExDates  []time.Time
}

// Extract reads the ICS file at path and returns the events whose start
// date equals targetDate, ascending by start instant. It never fails the
// caller: an unreadable or malformed file degrades to an empty slice, and
// individual malformed VEVENTs are skipped with a warning.
func Extract(path string, targetDate time.Time) []model.Event {
	body, err := os.ReadFile(path)
	if err != nil {
		appLog.Error("ics read failed", err, "path", path)
		return nil
	}

	cal, err := ical.ParseCalendar(strings.NewReader(string(body)))
	if err != nil {
		appLog.Error("ics parse failed", err, "path", path)
		return nil
	}

	events := make([]model.Event, 0)

	for _, comp := range cal.Events() {
		pe, perr := parseVEvent(comp)
		if perr != nil {
			appLog.Warn("skipping malformed event", "err", perr.Error())
			continue
		}
		events = append(events, occurrencesOn(pe, targetDate)...)
	}

	// Ascending by start; all-day events already carry midnight starts.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Start.Before(events[j].Start)
	})

	appLog.Info("events extracted", "path", path, "date", targetDate.Format("2006-01-02"), "count", len(events))
	return events
}

func parseVEvent(ve *ical.VEvent) (parsedEvent, error) {
	var out parsedEvent

	// DTSTART is mandatory; everything else degrades gracefully.
	dtStartProp := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStartProp == nil || dtStartProp.Value == "" {
		return out, errors.New("missing DTSTART")
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	out.Start = start

	if end, err := ve.GetEndAt(); err == nil {
		out.End = end
	}

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if out.Summary == "" {
		out.Summary = "(untitled)"
	}
	if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
		out.Description = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
		out.Location = p.Value
	}

	// All-day: VALUE=DATE parameter or a date-only DTSTART value.
	if params := dtStartProp.ICalParameters; params != nil {
		if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			out.AllDay = true
		}
	}
	if !strings.Contains(dtStartProp.Value, "T") {
		out.AllDay = true
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	return out, nil
}

// occurrencesOn returns the concrete model.Events the parsed VEVENT
// contributes to targetDate. Non-recurring events match when their start
// date (date portion only) equals the target date; recurring events match
// when the rule produces an instance starting that day.
func occurrencesOn(pe parsedEvent, targetDate time.Time) []model.Event {
	if pe.RawRRule == "" {
		if !sameDate(pe.Start, targetDate) {
			return nil
		}
		return []model.Event{makeEvent(pe, pe.Start, pe.End)}
	}

	r, err := rrule.StrToRRule(pe.RawRRule)
	if err != nil {
		appLog.Warn("skipping unparsable RRULE", "rrule", pe.RawRRule, "err", err.Error())
		// Fall back to the base instance so the event is not lost entirely.
		if sameDate(pe.Start, targetDate) {
			return []model.Event{makeEvent(pe, pe.Start, pe.End)}
		}
		return nil
	}
	r.DTStart(pe.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range pe.ExDates {
		set.ExDate(ex.In(pe.Start.Location()))
	}

	// Expand over the target day expressed in the event's own timezone,
	// mirroring the date-portion comparison used for single events.
	loc := pe.Start.Location()
	dayStart := time.Date(targetDate.Year(), targetDate.Month(), targetDate.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.Add(24*time.Hour - time.Nanosecond)

	occTimes := set.Between(dayStart, dayEnd, true)
	if len(occTimes) > maxOccurrencesPerEvent {
		appLog.Warn("recurrence expansion truncated", "cap", maxOccurrencesPerEvent)
		occTimes = occTimes[:maxOccurrencesPerEvent]
	}

	var dur time.Duration
	if !pe.End.IsZero() {
		dur = pe.End.Sub(pe.Start)
	}

	out := make([]model.Event, 0, len(occTimes))
	for _, occStart := range occTimes {
		if !sameDate(occStart, targetDate) {
			continue
		}
		var occEnd time.Time
		if pe.AllDay {
			occStart = time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			occEnd = occStart.Add(24 * time.Hour)
		} else if dur > 0 {
			occEnd = occStart.Add(dur)
		}
		out = append(out, makeEvent(pe, occStart, occEnd))
	}
	return out
}

func makeEvent(pe parsedEvent, start, end time.Time) model.Event {
	allDay := pe.AllDay
	if end.IsZero() {
		// No end instant at all: treated as all-day per the data model.
		allDay = true
	}
	return model.Event{
		Title:       pe.Summary,
		Description: pe.Description,
		Location:    pe.Location,
		Start:       start,
		End:         end,
		AllDay:      allDay,
	}
}

// sameDate compares the date portions of two instants, each in its own
// timezone. Timestamp equality is deliberately not used: a multi-day or
// late-night event starting on the target date still counts.
func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// parseICSTime parses a basic ICS date/date-time string, used for EXDATE
// values where full parameter context is unavailable.
func parseICSTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, time.Local)
	}
	return time.ParseInLocation("20060102", v, time.Local)
}
