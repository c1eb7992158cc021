package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "UTC", cfg.Timezone)
	assert.Equal(t, "*/15 * * * *", cfg.RefreshCron)
	assert.Equal(t, "* * * * *", cfg.TriggerCron)
	assert.Equal(t, EventLimit{Value: 2, Type: "weeks"}, cfg.EventLimit)
	assert.Equal(t, DateFormat{Long: "01/02/2006", Time: "15:04"}, cfg.DateFormat)
	assert.Equal(t, "calwatch", cfg.Redis.ChannelPrefix)
	assert.NotNil(t, cfg.Calendars)
	assert.NoError(t, cfg.Validate())
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
timezone: Europe/Oslo
date_format:
  long: 02.01.2006
  short: DD.MM
event_limit:
  value: 3
  type: Days
calendars:
  - name: Work
    path: /tmp/work.ics
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Oslo", cfg.Timezone)
	assert.Equal(t, EventLimit{Value: 3, Type: "days"}, cfg.EventLimit)
	assert.Equal(t, []CalendarConfig{{Name: "Work", Path: "/tmp/work.ics"}}, cfg.Calendars)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, DateFormat{Long: "02.01.2006", Time: "15:04"}, cfg.DateFormat)
	assert.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load("")
	assert.ErrorIs(t, err, ErrEmptyPath)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("calendars: [oops"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Calendars = append(cfg.Calendars, CalendarConfig{Name: "Home", Path: "home.ics"})
	cfg.BasicAuth = &BasicAuthConfig{Username: "u", Password: "p"}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RefreshCron = "every now and then"
	cfg.Calendars = []CalendarConfig{
		{Name: "Work", Path: "a.ics"},
		{Name: "Work", Path: "b.ics"},
		{Name: "", Path: "c.ics"},
		{Name: "NoPath"},
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refresh")
	assert.Contains(t, err.Error(), `duplicate name "Work"`)
	assert.Contains(t, err.Error(), "calendars[2]: name is empty")
	assert.Contains(t, err.Error(), "calendars[3]: path is empty")
}
