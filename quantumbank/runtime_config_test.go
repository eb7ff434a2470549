package quantumbank

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuntimeConfigValueChanged(t *testing.T) {
	paused := true
	status := "online"

	tests := []struct {
		name      string
		current   any
		update    any
		isChanged bool
	}{
		{
			name:      "nil update pointer",
			current:   false,
			update:    (*bool)(nil),
			isChanged: false,
		},
		{
			name:      "non-pointer update",
			current:   false,
			update:    true,
			isChanged: false,
		},
		{
			name:      "bool changed",
			current:   false,
			update:    &paused,
			isChanged: true,
		},
		{
			name:      "bool unchanged",
			current:   true,
			update:    &paused,
			isChanged: false,
		},
		{
			name:      "string changed",
			current:   "away",
			update:    &status,
			isChanged: true,
		},
		{
			name:      "string unchanged",
			current:   "online",
			update:    &status,
			isChanged: false,
		},
	}
	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				assert.Equal(
					t,
					tt.isChanged,
					runtimeConfigValueChanged(tt.current, tt.update),
				)
			},
		)
	}
}

func TestRuntimeConfigUpdateValidate(t *testing.T) {
	level := DBLogLevelWarn
	update := RuntimeConfigUpdate{LogLevel: &level}
	require.NoError(t, update.validate())

	bogus := DBLogLevel("LOUD")
	update = RuntimeConfigUpdate{DiscordLogLevel: &bogus}
	require.Error(t, update.validate())

	// nil pointers are omitted from validation entirely
	require.NoError(t, RuntimeConfigUpdate{}.validate())
}

func TestGetDiscordPresenceStatusUpdate(t *testing.T) {
	config := DefaultRuntimeConfig()
	config.DiscordCustomStatus = "open for business"

	presence := getDiscordPresenceStatusUpdate(config)
	assert.False(t, presence.AFK)
	assert.Equal(t, "open for business", presence.Status)

	config.Paused = true
	presence = getDiscordPresenceStatusUpdate(config)
	assert.True(t, presence.AFK)
	assert.Equal(t, string(discordgo.StatusDoNotDisturb), presence.Status)
}

func TestDefaultRuntimeConfig(t *testing.T) {
	config := DefaultRuntimeConfig()
	assert.False(t, config.Paused)
	assert.True(t, config.DiscordGatewayEnabled)
	assert.Equal(t, DefaultDiscordCustomStatus, config.DiscordCustomStatus)
	assert.Equal(t, DBLogLevelInfo, config.LogLevel)
	assert.NoError(t, structValidator.Struct(config))
}

func TestRuntimeConfigLogValueRedactsCredentials(t *testing.T) {
	config := DefaultRuntimeConfig()
	config.AdminUsername = "teller_nine"
	config.AdminPassword = "hunter2"

	logged := config.LogValue().String()
	assert.NotContains(t, logged, "teller_nine")
	assert.NotContains(t, logged, "hunter2")
	assert.Contains(t, logged, "[redacted]")
}

func TestDBLogLevel(t *testing.T) {
	var level DBLogLevel
	require.NoError(t, level.Set("warn"))
	assert.Equal(t, DBLogLevelWarn, level)
	assert.Equal(t, slog.LevelWarn, level.Level())

	require.Error(t, level.Set("verbose"))

	require.NoError(t, level.Scan([]byte("error")))
	assert.Equal(t, DBLogLevelError, level)

	data, err := DBLogLevelDebug.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"DEBUG"`, strings.TrimSpace(string(data)))

	require.NoError(t, level.UnmarshalJSON([]byte(`"info"`)))
	assert.Equal(t, DBLogLevelInfo, level)
}
