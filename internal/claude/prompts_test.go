package claude

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ireland-samantha/npc-relay/internal/storage"
)

func sampleInput() TurnInput {
	return TurnInput{
		Username:         "al",
		AIName:           "bot",
		Prompt:           "hello",
		GameDay:          "12",
		GameTime:         "8:30",
		GameUptime:       "3600",
		ComputerID:       "pc1",
		SummaryThreshold: 600,
	}
}

func TestConversationID(t *testing.T) {
	assert.Equal(t, "pc1-al-bot", sampleInput().ConversationID())
	assert.Equal(t, "--", TurnInput{}.ConversationID())
}

func TestBuildSystemPrompt(t *testing.T) {
	template := "You are {AINAME} on computer {COMPUTERID}. Day {GAMEDAY} at {GAMETIME}, " +
		"up {GAMEUPTIME}. Talking to {USERNAME} ({USERNAME}). Limit {SUMMARYTHRESHOLD}. " +
		"Key {CONVERSATION_ID}. Said: {PROMPT}. Unknown: {MOOD} {ainame}"

	got := BuildSystemPrompt(sampleInput(), template)

	want := "You are bot on computer pc1. Day 12 at 8:30, up 3600. Talking to al (al). " +
		"Limit 600. Key pc1-al-bot. Said: hello. Unknown: {MOOD} {ainame}"
	assert.Equal(t, want, got)
}

func TestBuildSystemPrompt_IsDeterministic(t *testing.T) {
	in := sampleInput()
	in.Prompt = "say {USERNAME}"
	template := "{PROMPT} / {USERNAME}"

	first := BuildSystemPrompt(in, template)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, BuildSystemPrompt(in, template))
	}
	// Substituted values are not expanded again.
	assert.Equal(t, "say {USERNAME} / al", first)
}

func TestBuildUserPrompt(t *testing.T) {
	got := BuildUserPrompt(sampleInput())

	assert.True(t, strings.HasPrefix(got, "# IMPORTANT HIDDEN DETAILS"))
	assert.Contains(t, got, "Your name is: bot.")
	assert.Contains(t, got, "You are speaking to: al.")
	assert.Contains(t, got, "The game time and day is: 12 at 8:30.")
	assert.Contains(t, got, "The game uptime is 3600.")
	assert.True(t, strings.HasSuffix(got, "Now, the user says: hello"))
}

func TestPromptLibrary(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	library := NewPromptLibrary(store)

	_, err := library.Load(ctx, SystemPromptName)
	assert.ErrorIs(t, err, ErrPromptNotFound)

	require.NoError(t, store.Set(ctx, SystemPromptName, []byte("You are {AINAME}.")))
	require.NoError(t, store.Set(ctx, "greeting", []byte("Hi")))

	template, err := library.Load(ctx, SystemPromptName)
	require.NoError(t, err)
	assert.Equal(t, "You are {AINAME}.", template)

	names, err := library.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"greeting", "system"}, names)
}
