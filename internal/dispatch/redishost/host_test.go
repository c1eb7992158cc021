package redishost

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calwatch/internal/dispatch"
)

func setupTestHost(t *testing.T) (*Host, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	host, err := New(&Config{Address: mr.Addr(), ChannelPrefix: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { host.Close() })

	return host, mr
}

func TestNew(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{Address: "127.0.0.1:1"})
	assert.Error(t, err)

	host, _ := setupTestHost(t)
	assert.NoError(t, host.Health(context.Background()))
	assert.Equal(t, "test:trigger:event_starts", host.TriggerChannel("event_starts"))
}

func TestTriggerPublishes(t *testing.T) {
	host, _ := setupTestHost(t)
	ctx := context.Background()

	sub := host.rdb.Subscribe(ctx, host.TriggerChannel("event_starts_calendar"))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)
	ch := sub.Channel()

	err = host.TriggerCard("event_starts_calendar").Trigger(ctx,
		dispatch.Tokens{"event_name": "Standup"},
		&dispatch.State{CalendarName: "Work"},
	)
	require.NoError(t, err)

	msg := <-ch
	var got Message
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, "event_starts_calendar", got.Trigger)
	assert.Equal(t, "Standup", got.Tokens["event_name"])
	require.NotNil(t, got.State)
	assert.Equal(t, "Work", got.State.CalendarName)
	assert.Nil(t, got.State.When)
}

func TestArgumentValues(t *testing.T) {
	host, mr := setupTestHost(t)
	ctx := context.Background()

	t.Run("missing key is an empty list", func(t *testing.T) {
		v, err := host.TriggerCard("event_changed_calendar").ArgumentValues(ctx)
		require.NoError(t, err)
		assert.Equal(t, []*dispatch.ArgumentValue{}, v)
	})

	t.Run("list entries are decoded", func(t *testing.T) {
		_, err := mr.RPush(host.ArgsKey("event_starts_in"),
			`{"when":15,"type":"1"}`,
			`null`,
			`{"calendar":{"name":"Work"}}`,
			`not json`,
		)
		require.NoError(t, err)

		v, err := host.TriggerCard("event_starts_in").ArgumentValues(ctx)
		require.NoError(t, err)
		values, ok := v.([]*dispatch.ArgumentValue)
		require.True(t, ok)
		require.Len(t, values, 4)
		assert.Equal(t, &dispatch.ArgumentValue{When: 15, Type: "1"}, values[0])
		assert.Nil(t, values[1])
		assert.Equal(t, "Work", values[2].Calendar.Name)
		assert.Nil(t, values[3])
	})

	t.Run("other key types are not a list", func(t *testing.T) {
		require.NoError(t, mr.Set(host.ArgsKey("event_stops_in"), "oops"))

		v, err := host.TriggerCard("event_stops_in").ArgumentValues(ctx)
		require.NoError(t, err)
		assert.Equal(t, "string", v)
	})
}

func TestIncrement(t *testing.T) {
	host, mr := setupTestHost(t)
	ctx := context.Background()

	require.NoError(t, host.Increment(ctx, "event_starts", nil))
	require.NoError(t, host.Increment(ctx, "event_starts", nil))
	require.NoError(t, host.Increment(ctx, "event_starts_in", map[string]string{"when": "15", "type": "1"}))

	assert.Equal(t, "2", mr.HGet(host.HitsKey(), "event_starts"))
	assert.Equal(t, "1", mr.HGet(host.HitsKey(), "event_starts_in|type=1|when=15"))

	hits, err := host.Hits(ctx)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestHostWithDispatcher(t *testing.T) {
	host, mr := setupTestHost(t)
	ctx := context.Background()

	d := dispatch.New(host, host, dispatch.Options{})
	d.TriggerSynchronizationError(ctx, dispatch.SyncError{Calendar: "Work"})

	assert.Equal(t, "1", mr.HGet(host.HitsKey(), dispatch.CardSynchronizationError))
}
