package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calwatch/internal/model"
	"calwatch/internal/zoned"
)

func event(uid, text string, day int) model.CalendarEvent {
	start := time.Date(2021, 11, day, 20, 0, 0, 0, time.UTC)
	return model.CalendarEvent{
		UID:         uid,
		Start:       zoned.New(start),
		End:         zoned.New(start.Add(time.Hour)),
		DateType:    model.DateTypeDateTime,
		Summary:     text,
		Description: text,
		Location:    text,
	}
}

func fixture() []model.Calendar {
	return []model.Calendar{
		{
			Name: "CalendarOne",
			Events: []model.CalendarEvent{
				event("cal_one_One", "One - 1", 5),
				event("cal_one_Two", "Two - 1", 6),
				event("cal_one_Three", "", 6),
			},
		},
		{
			Name: "CalendarTwo",
			Events: []model.CalendarEvent{
				event("cal_two_One", "One - 2", 5),
				event("cal_two_Two", "Two - 2", 6),
				event("cal_two_Four", "", 6),
			},
		},
	}
}

func TestFilterByCalendar(t *testing.T) {
	calendars := fixture()

	result := FilterByCalendar(calendars, "CalendarOne")
	require.Len(t, result, 1)
	assert.Equal(t, calendars[0], result[0])

	result = FilterByCalendar(calendars, "CalendarThree")
	require.NotNil(t, result)
	assert.Empty(t, result)

	result = FilterByCalendar(nil, "doesNotMatter")
	require.NotNil(t, result)
	assert.Empty(t, result)

	assert.Empty(t, FilterByCalendar(nil, ""))
}

func TestFilterByCalendar_EveryCalendarFindsItself(t *testing.T) {
	calendars := fixture()
	for _, c := range calendars {
		result := FilterByCalendar(calendars, c.Name)
		require.Len(t, result, 1)
		assert.Equal(t, c, result[0])
	}
}

func TestFilterByProperty(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		field   Field
		matcher Matcher
		// Expected field values per calendar, in order.
		wantOne []string
		wantTwo []string
	}{
		{"contains One", "One", FieldSummary, MatcherContains, []string{"One - 1"}, []string{"One - 2"}},
		{"contains Three", "Three", FieldSummary, MatcherContains, nil, nil},
		{"default matcher", "One", FieldSummary, "", []string{"One - 1"}, []string{"One - 2"}},
		{"equal in CalendarOne", "One - 1", FieldSummary, MatcherEqual, []string{"One - 1"}, nil},
		{"equal in CalendarTwo", "One - 2", FieldSummary, MatcherEqual, nil, []string{"One - 2"}},
		{"equal partial", "One", FieldSummary, MatcherEqual, nil, nil},
		{"starts with One", "One", FieldSummary, MatcherStartsWith, []string{"One - 1"}, []string{"One - 2"}},
		{"starts with full", "One - 2", FieldSummary, MatcherStartsWith, nil, []string{"One - 2"}},
		{"starts with 1", "1", FieldSummary, MatcherStartsWith, nil, nil},
		{"ends with 1", "1", FieldSummary, MatcherEndsWith, []string{"One - 1", "Two - 1"}, nil},
		{"ends with 2", "2", FieldSummary, MatcherEndsWith, nil, []string{"One - 2", "Two - 2"}},
		{"ends with Two", "Two", FieldSummary, MatcherEndsWith, nil, nil},
		{"description contains", "One", FieldDescription, MatcherContains, []string{"One - 1"}, []string{"One - 2"}},
		{"description equal", "One - 1", FieldDescription, MatcherEqual, []string{"One - 1"}, nil},
		{"location contains", "One", FieldLocation, MatcherContains, []string{"One - 1"}, []string{"One - 2"}},
		{"location equal", "One - 2", FieldLocation, MatcherEqual, nil, []string{"One - 2"}},
		{"case sensitive", "one", FieldSummary, MatcherContains, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FilterByProperty(fixture(), tt.query, tt.field, tt.matcher)

			require.Len(t, result, 2)
			assert.Equal(t, "CalendarOne", result[0].Name)
			assert.Equal(t, "CalendarTwo", result[1].Name)
			assert.Equal(t, tt.wantOne, values(result[0].Events, tt.field))
			assert.Equal(t, tt.wantTwo, values(result[1].Events, tt.field))
		})
	}
}

func TestFilterByProperty_MissingInput(t *testing.T) {
	result := FilterByProperty(nil, "doesNotMatter", FieldSummary, MatcherContains)
	require.NotNil(t, result)
	assert.Empty(t, result)

	assert.Empty(t, FilterByProperty(nil, "", FieldSummary, MatcherEqual))

	// Calendars present but no query: every calendar kept, no events.
	result = FilterByProperty(fixture(), "", FieldSummary, MatcherContains)
	require.Len(t, result, 2)
	assert.Empty(t, result[0].Events)
	assert.Empty(t, result[1].Events)
}

func TestFilterByUID(t *testing.T) {
	result := FilterByUID(fixture(), "cal_one_One")
	require.Len(t, result, 2)
	assert.Equal(t, "CalendarOne", result[0].Name)
	require.Len(t, result[0].Events, 1)
	assert.Equal(t, "cal_one_One", result[0].Events[0].UID)
	assert.Equal(t, "CalendarTwo", result[1].Name)
	assert.Empty(t, result[1].Events)

	result = FilterByUID(fixture(), "cal_three_One")
	require.Len(t, result, 2)
	assert.Empty(t, result[0].Events)
	assert.Empty(t, result[1].Events)

	result = FilterByUID(nil, "")
	require.NotNil(t, result)
	assert.Empty(t, result)

	result = FilterByUID(fixture(), "")
	require.Len(t, result, 2)
	assert.Empty(t, result[0].Events)
	assert.Empty(t, result[1].Events)
}

func TestFilterDoesNotMutateInput(t *testing.T) {
	calendars := fixture()
	before := fixture()

	FilterByProperty(calendars, "One", FieldSummary, MatcherContains)
	FilterByUID(calendars, "cal_two_Two")

	assert.Equal(t, before, calendars)
}

func TestParseFieldAndMatcher(t *testing.T) {
	f, err := ParseField("Location")
	require.NoError(t, err)
	assert.Equal(t, FieldLocation, f)
	_, err = ParseField("uid")
	assert.Error(t, err)

	m, err := ParseMatcher("Starts With")
	require.NoError(t, err)
	assert.Equal(t, MatcherStartsWith, m)
	m, err = ParseMatcher("")
	require.NoError(t, err)
	assert.Equal(t, MatcherContains, m)
	_, err = ParseMatcher("regex")
	assert.Error(t, err)
}

func values(events []model.CalendarEvent, field Field) []string {
	var out []string
	for _, e := range events {
		out = append(out, fieldValue(e, field))
	}
	return out
}
