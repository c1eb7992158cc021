package dispatch

import (
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"calwatch/internal/model"
)

// ConvertToMinutes turns a rule's "when" amount into minutes. unit accepts
// the host's numeric codes ("1" minutes, "2" hours, "3" days, "4" weeks) or
// the unit names. Unknown units are taken as minutes.
func ConvertToMinutes(value float64, unit string) int {
	factor := 1.0
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "2", "hour", "hours":
		factor = 60
	case "3", "day", "days":
		factor = 60 * 24
	case "4", "week", "weeks":
		factor = 60 * 24 * 7
	}
	return int(math.Round(value * factor))
}

// Duration returns the event length as readable text ("1 day 2 hours
// 30 minutes") and in whole minutes.
func Duration(event model.CalendarEvent) (string, int) {
	if event.Start.IsZero() || event.End.IsZero() {
		return "", 0
	}
	minutes := int(math.Round(event.End.DiffMinutes(event.Start)))
	if minutes <= 0 {
		return "0 minutes", 0
	}

	days := minutes / (60 * 24)
	hours := minutes % (60 * 24) / 60
	mins := minutes % 60

	var parts []string
	for _, p := range []struct {
		n    int
		unit string
	}{{days, "day"}, {hours, "hour"}, {mins, "minute"}} {
		if p.n == 0 {
			continue
		}
		if p.n == 1 {
			parts = append(parts, fmt.Sprintf("1 %s", p.unit))
		} else {
			parts = append(parts, fmt.Sprintf("%d %ss", p.n, p.unit))
		}
	}
	return strings.Join(parts, " "), minutes
}

// Capitalize upper-cases the first rune and lower-cases the rest.
func Capitalize(word string) string {
	if word == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(word)
	return string(unicode.ToUpper(r)) + strings.ToLower(word[size:])
}

// TokenValue trims text for use as a token; empty stays empty.
func TokenValue(text string) string {
	return strings.TrimSpace(text)
}
