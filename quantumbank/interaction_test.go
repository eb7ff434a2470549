package quantumbank

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInteractionScope(t *testing.T) {
	assert.Equal(t, "guild", interactionScope("guild-1"))
	assert.Equal(t, "dm", interactionScope(""))
}

func TestNewInteractionLog(t *testing.T) {
	user := &discordgo.User{ID: "100", Username: "alice"}

	interaction := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "interaction-1",
			AppID:     "app-1",
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   "guild-1",
			ChannelID: "channel-1",
		},
	}

	interactionLog, err := newInteractionLog(interaction, user)
	require.NoError(t, err)
	assert.Equal(t, "interaction-1", interactionLog.InteractionID)
	assert.Equal(t, "100", interactionLog.UserID)
	assert.Equal(t, "guild-1", interactionLog.GuildID)
	assert.Equal(t, "channel-1", interactionLog.ChannelID)
	assert.Equal(t, "guild", interactionLog.Context)
	assert.NotEmpty(t, interactionLog.Payload)

	// a DM interaction carries no guild ID
	interaction.GuildID = ""
	interactionLog, err = newInteractionLog(interaction, user)
	require.NoError(t, err)
	assert.Equal(t, "dm", interactionLog.Context)
}

func TestNewUserInteraction(t *testing.T) {
	account := &Account{
		ModelStringID: ModelStringID{ID: "100"},
		Username:      "alice",
	}

	interaction := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:        "interaction-1",
			AppID:     "app-1",
			Token:     "token-1",
			Type:      discordgo.InteractionApplicationCommand,
			GuildID:   "guild-1",
			ChannelID: "channel-1",
		},
	}

	record := NewUserInteraction(interaction, account)
	require.NotNil(t, record)
	assert.Equal(t, "interaction-1", record.InteractionID)
	assert.Equal(t, "100", record.UserID)
	assert.Equal(t, "guild", record.CommandContext)
	assert.NotZero(t, record.TokenExpires)
	assert.NotEmpty(t, record.Content)

	interaction.GuildID = ""
	record = NewUserInteraction(interaction, nil)
	require.NotNil(t, record)
	assert.Equal(t, "dm", record.CommandContext)
	assert.Empty(t, record.UserID)
}
