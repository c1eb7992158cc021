package conditions

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calwatch/internal/model"
	"calwatch/internal/zoned"
)

var instant = time.Date(2021, 11, 5, 20, 0, 0, 0, time.UTC)

func nowPair(t *testing.T) zoned.Pair {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Oslo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return zoned.PairAt(instant, loc)
}

func ev(start, end time.Duration) model.CalendarEvent {
	return model.CalendarEvent{
		UID:      "uid",
		Start:    zoned.New(instant.Add(start)),
		End:      zoned.New(instant.Add(end)),
		DateType: model.DateTypeDateTime,
	}
}

func TestIsEventOngoing(t *testing.T) {
	now := nowPair(t)

	tests := []struct {
		name  string
		event model.CalendarEvent
		want  bool
	}{
		{"started before, ends after", ev(-time.Hour, time.Hour), true},
		{"starts exactly now", ev(0, time.Hour), true},
		{"ends exactly now", ev(-time.Hour, 0), true},
		{"starts in one second", ev(time.Second, time.Hour), false},
		{"ended one second ago", ev(-time.Hour, -time.Second), false},
		{"starts in half a second", ev(500*time.Millisecond, time.Hour), true},
		{"future", ev(time.Hour, 2*time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEventOngoing(now, []model.CalendarEvent{tt.event}, ""))
		})
	}
}

func TestIsEventIn(t *testing.T) {
	now := nowPair(t)

	tests := []struct {
		name  string
		event model.CalendarEvent
		want  bool
	}{
		{"exactly 10 minutes", ev(10*time.Minute, time.Hour), true},
		{"10.01 minutes", ev(10*time.Minute+600*time.Millisecond, time.Hour), false},
		{"starts now", ev(0, time.Hour), true},
		{"already started", ev(-time.Second, time.Hour), false},
		{"5 minutes", ev(5*time.Minute, time.Hour), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsEventIn(now, []model.CalendarEvent{tt.event}, 10))
		})
	}
}

func TestWillEventNotIn(t *testing.T) {
	now := nowPair(t)

	tests := []struct {
		name  string
		event model.CalendarEvent
		want  bool
	}{
		{"ends in 9.99 minutes", ev(-time.Hour, 9*time.Minute+59400*time.Millisecond), true},
		{"ends in exactly 10 minutes", ev(-time.Hour, 10*time.Minute), false},
		{"ends now", ev(-time.Hour, 0), true},
		{"already ended", ev(-time.Hour, -time.Second), false},
		{"ends in an hour", ev(-time.Hour, time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, WillEventNotIn(now, []model.CalendarEvent{tt.event}, 10))
		})
	}
}

func TestAnyEventMatches(t *testing.T) {
	now := nowPair(t)
	events := []model.CalendarEvent{
		ev(2*time.Hour, 3*time.Hour),
		ev(-time.Hour, time.Hour),
	}

	assert.True(t, IsEventOngoing(now, events, "test"))
	assert.False(t, IsEventIn(now, events, 10))
	assert.False(t, IsEventOngoing(now, nil, "test"))
	assert.False(t, IsEventIn(now, nil, 10))
	assert.False(t, WillEventNotIn(now, nil, 10))
}

func TestMalformedEventsAreExcluded(t *testing.T) {
	now := nowPair(t)
	missingStart := model.CalendarEvent{UID: "broken", End: zoned.New(instant.Add(time.Hour))}
	missingEnd := model.CalendarEvent{UID: "broken", Start: zoned.New(instant)}

	events := []model.CalendarEvent{missingStart, missingEnd}
	assert.False(t, IsEventOngoing(now, events, ""))
	assert.False(t, IsEventIn(now, events, 60))
	assert.False(t, WillEventNotIn(now, events, 60))

	// A well-formed event after a broken one still counts.
	assert.True(t, IsEventOngoing(now, append(events, ev(-time.Minute, time.Minute)), ""))
}

func TestFullDayAndFloatingUseLocalWallClock(t *testing.T) {
	allDay := model.CalendarEvent{
		UID:      "allday",
		Start:    zoned.Date(2021, 11, 5, time.UTC),
		End:      zoned.Date(2021, 11, 6, time.UTC),
		DateType: model.DateTypeDate,
		FullDay:  true,
	}
	floating := model.CalendarEvent{
		UID:                    "floating",
		Start:                  zoned.New(time.Date(2021, 11, 5, 10, 0, 0, 0, time.UTC)),
		End:                    zoned.New(time.Date(2021, 11, 5, 11, 0, 0, 0, time.UTC)),
		DateType:               model.DateTypeDateTime,
		SkipTimezoneConversion: true,
	}
	require.True(t, allDay.UseOffsetClock())
	require.True(t, floating.UseOffsetClock())

	ongoing := func(now zoned.Pair, events []model.CalendarEvent) bool { return IsEventOngoing(now, events, "") }
	startsIn := func(now zoned.Pair, events []model.CalendarEvent) bool { return IsEventIn(now, events, 10) }
	endsIn := func(now zoned.Pair, events []model.CalendarEvent) bool { return WillEventNotIn(now, events, 10) }

	tests := []struct {
		name  string
		zone  string
		local [5]int // year, month, day, hour, minute on the zone's wall clock
		check func(zoned.Pair, []model.CalendarEvent) bool
		event model.CalendarEvent
		want  bool
	}{
		{"tokyo morning of the day is ongoing", "Asia/Tokyo", [5]int{2021, 11, 5, 8, 0}, ongoing, allDay, true},
		{"tokyo morning after is over", "Asia/Tokyo", [5]int{2021, 11, 6, 8, 0}, ongoing, allDay, false},
		{"tokyo floating at local 10:30", "Asia/Tokyo", [5]int{2021, 11, 5, 10, 30}, ongoing, floating, true},
		{"tokyo floating at local 11:30", "Asia/Tokyo", [5]int{2021, 11, 5, 11, 30}, ongoing, floating, false},
		{"tokyo all-day starts in 5 minutes", "Asia/Tokyo", [5]int{2021, 11, 4, 23, 55}, startsIn, allDay, true},
		{"tokyo floating starts in 8 minutes", "Asia/Tokyo", [5]int{2021, 11, 5, 9, 52}, startsIn, floating, true},
		{"tokyo all-day ends in 5 minutes", "Asia/Tokyo", [5]int{2021, 11, 5, 23, 55}, endsIn, allDay, true},
		{"tokyo floating ends in 5 minutes", "Asia/Tokyo", [5]int{2021, 11, 5, 10, 55}, endsIn, floating, true},
		{"los angeles evening of the day is ongoing", "America/Los_Angeles", [5]int{2021, 11, 5, 21, 0}, ongoing, allDay, true},
		{"los angeles day before is not ongoing", "America/Los_Angeles", [5]int{2021, 11, 4, 20, 0}, ongoing, allDay, false},
		{"los angeles all-day ends in 9 minutes", "America/Los_Angeles", [5]int{2021, 11, 5, 23, 51}, endsIn, allDay, true},
		{"los angeles all-day does not start within 10 minutes at 17:00", "America/Los_Angeles", [5]int{2021, 11, 4, 17, 0}, startsIn, allDay, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc, err := time.LoadLocation(tt.zone)
			require.NoError(t, err)
			l := tt.local
			now := zoned.PairAt(time.Date(l[0], time.Month(l[1]), l[2], l[3], l[4], 0, 0, loc), loc)

			assert.Equal(t, tt.want, tt.check(now, []model.CalendarEvent{tt.event}))
		})
	}
}

func TestEvaluator(t *testing.T) {
	e := Evaluator{Clock: zoned.FixedClock(instant), Timezone: "Europe/Oslo"}
	events := []model.CalendarEvent{ev(5*time.Minute, 30*time.Minute)}

	assert.False(t, e.Ongoing(events))
	assert.True(t, e.StartsIn(events, 5))
	assert.False(t, e.EndsIn(events, 30))
	assert.True(t, e.EndsIn(events, 31))

	bad := Evaluator{Clock: zoned.FixedClock(instant), Timezone: "Nowhere/Invalid"}
	assert.True(t, bad.Now().Regular.Instant().Equal(instant))
	assert.True(t, bad.StartsIn(events, 5))
}
