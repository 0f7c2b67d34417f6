// Package claude provides prompt composition for NPC conversations.
package claude

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ireland-samantha/npc-relay/internal/storage"
)

const (
	// DefaultSummaryThreshold is the response length above which answers are condensed.
	DefaultSummaryThreshold = 600

	// SystemPromptName is the preprompt used to build the system message.
	SystemPromptName = "system"
)

// ErrPromptNotFound is returned when a named preprompt does not exist.
var ErrPromptNotFound = errors.New("preprompt not found")

// TurnInput carries the per-request fields sent by the game.
type TurnInput struct {
	Username         string
	AIName           string
	Prompt           string
	GameDay          string
	GameTime         string
	GameUptime       string
	ComputerID       string
	SummaryThreshold int
}

// ConversationID returns the storage key for this conversation.
func (in TurnInput) ConversationID() string {
	return ConversationID(in.ComputerID, in.Username, in.AIName)
}

// ConversationID joins the fields identifying a conversation.
func ConversationID(computerID, username, aiName string) string {
	return computerID + "-" + username + "-" + aiName
}

// Field is a template placeholder name and its substituted value.
type Field struct {
	Name  string
	Value string
}

// Fields lists the template placeholders available to preprompts.
func (in TurnInput) Fields() []Field {
	return []Field{
		{Name: "USERNAME", Value: in.Username},
		{Name: "AINAME", Value: in.AIName},
		{Name: "PROMPT", Value: in.Prompt},
		{Name: "GAMEDAY", Value: in.GameDay},
		{Name: "GAMETIME", Value: in.GameTime},
		{Name: "GAMEUPTIME", Value: in.GameUptime},
		{Name: "COMPUTERID", Value: in.ComputerID},
		{Name: "SUMMARYTHRESHOLD", Value: strconv.Itoa(in.SummaryThreshold)},
		{Name: "CONVERSATION_ID", Value: in.ConversationID()},
	}
}

// BuildSystemPrompt substitutes every {FIELD} placeholder in template.
// Unknown placeholders are left as they are.
func BuildSystemPrompt(in TurnInput, template string) string {
	fields := in.Fields()
	pairs := make([]string, 0, len(fields)*2)
	for _, f := range fields {
		pairs = append(pairs, "{"+f.Name+"}", f.Value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// BuildUserPrompt wraps the player's words with the hidden game context.
func BuildUserPrompt(in TurnInput) string {
	var builder strings.Builder
	builder.WriteString("# IMPORTANT HIDDEN DETAILS\n\n")
	fmt.Fprintf(&builder, "Your name is: %s.\n", in.AIName)
	fmt.Fprintf(&builder, "You are speaking to: %s.\n", in.Username)
	fmt.Fprintf(&builder, "The game time and day is: %s at %s.\n", in.GameDay, in.GameTime)
	fmt.Fprintf(&builder, "The game uptime is %s.\n", in.GameUptime)
	fmt.Fprintf(&builder, "Now, the user says: %s", in.Prompt)
	return builder.String()
}

// PromptLibrary reads named preprompt templates from a store.
type PromptLibrary struct {
	store storage.Store
}

// NewPromptLibrary creates a library backed by store.
func NewPromptLibrary(store storage.Store) *PromptLibrary {
	return &PromptLibrary{store: store}
}

// Load returns the raw template text of a preprompt.
func (l *PromptLibrary) Load(ctx context.Context, name string) (string, error) {
	data, err := l.store.Get(ctx, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrPromptNotFound, name)
		}
		return "", fmt.Errorf("failed to load preprompt %s: %w", name, err)
	}
	return string(data), nil
}

// Names lists the available preprompts.
func (l *PromptLibrary) Names(ctx context.Context) ([]string, error) {
	return l.store.Keys(ctx, "**")
}
