package ics

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "calwatch/internal/log"
)

var (
	ErrEmptyBody    = errors.New("empty ICS body")
	ErrMissingUID   = errors.New("missing UID")
	ErrMissingStart = errors.New("missing DTSTART")
)

// Source identifies one calendar feed.
type Source struct {
	// Name is the calendar name; it keys the calendar within a snapshot.
	Name string
	// Path is where the ICS payload is read from.
	Path string
}

// ParsedEvent is the normalized representation of a VEVENT as produced
// by the ICS parser. Recurrence expansion operates on this type.
type ParsedEvent struct {
	Source Source

	UID string
	Seq int

	Summary     string
	Description string
	Location    string
	FreeBusy    string
	MeetingURL  string

	Start  time.Time
	End    time.Time
	AllDay bool
	// Floating is set for date-times without TZID or UTC designator. They
	// are read as UTC wall-clock values.
	Floating bool

	RawRRule   string
	RDates     []time.Time
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present)
	IsOverride bool       // true if this VEVENT overrides one recurring instance
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - Date-only values mark the event all-day and are anchored at UTC
//     midnight so the date never shifts with the viewer's zone.
//   - A VEVENT that cannot be parsed is logged and skipped; the rest of
//     the feed is still returned.
//   - RRULE/EXDATE/RECURRENCE-ID are recorded but not expanded; see
//     ExpandOccurrences.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyBody
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "calendar", src.Name)
		return nil, fmt.Errorf("parse calendar %q: %w", src.Name, err)
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			appLog.Error("ics vevent skipped", perr, "calendar", src.Name, "uid", propValue(comp, ical.ComponentPropertyUniqueId))
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "calendar", src.Name, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent
	out.Source = src

	out.UID = strings.TrimSpace(propValue(ve, ical.ComponentPropertyUniqueId))
	if out.UID == "" {
		return out, ErrMissingUID
	}

	if seq := propValue(ve, ical.ComponentPropertySequence); seq != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(seq)); err == nil {
			out.Seq = n
		}
	}

	out.Summary = propValue(ve, ical.ComponentPropertySummary)
	out.Description = propValue(ve, ical.ComponentPropertyDescription)
	out.Location = propValue(ve, ical.ComponentPropertyLocation)
	out.FreeBusy = freeBusy(ve)
	out.MeetingURL = meetingURL(ve, out.Description, out.Location)

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || strings.TrimSpace(dtStart.Value) == "" {
		return out, ErrMissingStart
	}
	start, err := parsePropTime(dtStart.Value, dtStart.ICalParameters)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start.t
	out.AllDay = start.dateOnly
	out.Floating = start.floating

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && strings.TrimSpace(dtEnd.Value) != "" {
		end, err := parsePropTime(dtEnd.Value, dtEnd.ICalParameters)
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		out.End = end.t
	} else if out.AllDay {
		out.End = out.Start.AddDate(0, 0, 1)
	} else {
		out.End = out.Start
	}

	out.RawRRule = propValue(ve, ical.ComponentPropertyRrule)

	// EXDATE and RDATE may appear multiple times and hold comma separated values.
	out.ExDates = parseDateList(ve.GetProperties(ical.ComponentPropertyExdate), out.UID)
	out.RDates = parseDateList(ve.GetProperties("RDATE"), out.UID)

	if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil && rid.Value != "" {
		if t, err := parsePropTime(rid.Value, rid.ICalParameters); err == nil {
			out.Recurrence = &t.t
			out.IsOverride = true
		}
	}

	return out, nil
}

func parseDateList(props []*ical.IANAProperty, uid string) []time.Time {
	var out []time.Time
	for _, p := range props {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			pt, err := parsePropTime(part, p.ICalParameters)
			if err != nil {
				appLog.Debug("ics date list value ignored", "uid", uid, "value", part, "err", err)
				continue
			}
			out = append(out, pt.t)
		}
	}
	return out
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

type propTime struct {
	t        time.Time
	dateOnly bool
	floating bool
}

// parsePropTime parses an ICS DATE or DATE-TIME value honoring VALUE and
// TZID parameters.
func parsePropTime(v string, params map[string][]string) (propTime, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return propTime{}, errors.New("empty time value")
	}

	if strings.EqualFold(firstParam(params, "VALUE"), "DATE") || !strings.Contains(v, "T") {
		t, err := time.ParseInLocation("20060102", v, time.UTC)
		if err != nil {
			return propTime{}, err
		}
		return propTime{t: t, dateOnly: true}, nil
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse("20060102T150405Z", v)
		return propTime{t: t}, err
	}

	if tzid := firstParam(params, "TZID"); tzid != "" {
		loc := resolveTZID(tzid)
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return propTime{t: t}, err
	}

	t, err := time.ParseInLocation("20060102T150405", v, time.UTC)
	return propTime{t: t, floating: true}, err
}

func firstParam(params map[string][]string, key string) string {
	if params == nil {
		return ""
	}
	if vs, ok := params[key]; ok && len(vs) > 0 {
		return strings.Trim(vs[0], `"`)
	}
	return ""
}

// Common Windows zone names emitted by Exchange/Outlook feeds.
var windowsToIANA = map[string]string{
	"Pacific Standard Time":          "America/Los_Angeles",
	"Mountain Standard Time":         "America/Denver",
	"Central Standard Time":          "America/Chicago",
	"Eastern Standard Time":          "America/New_York",
	"GMT Standard Time":              "Europe/London",
	"W. Europe Standard Time":        "Europe/Berlin",
	"Romance Standard Time":          "Europe/Paris",
	"Central Europe Standard Time":   "Europe/Budapest",
	"Central European Standard Time": "Europe/Warsaw",
	"China Standard Time":            "Asia/Shanghai",
	"Tokyo Standard Time":            "Asia/Tokyo",
	"Korea Standard Time":            "Asia/Seoul",
	"India Standard Time":            "Asia/Kolkata",
	"AUS Eastern Standard Time":      "Australia/Sydney",
}

// resolveTZID maps a TZID parameter onto a location. Unknown zones fall
// back to UTC rather than dropping the event.
func resolveTZID(tzid string) *time.Location {
	if name, ok := windowsToIANA[tzid]; ok {
		tzid = name
	}
	if loc, err := time.LoadLocation(tzid); err == nil {
		return loc
	}
	appLog.Warn("ics unknown TZID, using UTC", "tzid", tzid)
	return time.UTC
}

func freeBusy(ve *ical.VEvent) string {
	if v := propValue(ve, "X-MICROSOFT-CDO-BUSYSTATUS"); v != "" {
		return strings.ToUpper(strings.TrimSpace(v))
	}
	switch strings.ToUpper(strings.TrimSpace(propValue(ve, "TRANSP"))) {
	case "OPAQUE":
		return "BUSY"
	case "TRANSPARENT":
		return "FREE"
	}
	return ""
}

var meetingLinkPattern = regexp.MustCompile(`https://[^\s<>"]*(teams\.microsoft\.com|zoom\.us|meet\.google\.com|webex\.com)[^\s<>"]*`)

// meetingURL prefers the URL property and falls back to the first known
// meeting link found in the description or location.
func meetingURL(ve *ical.VEvent, description, location string) string {
	if u := strings.TrimSpace(propValue(ve, "URL")); u != "" {
		return u
	}
	if m := meetingLinkPattern.FindString(description); m != "" {
		return m
	}
	return meetingLinkPattern.FindString(location)
}
