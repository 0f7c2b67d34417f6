// Package claude provides conversation management for NPC chats.
package claude

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/ireland-samantha/npc-relay/internal/metrics"
	"github.com/ireland-samantha/npc-relay/internal/storage"
)

// MaxStoredMessages caps the persisted history: the system message plus
// the most recent entries after it.
const MaxStoredMessages = 10

const (
	StatusSuccess = "success"
	StatusError   = "error"

	// MessageMemoryCleared and MessageNoMemory are the clear outcomes.
	MessageMemoryCleared = "Memory cleared."
	MessageNoMemory      = "No memory to clear."
)

// State describes what was stored for a conversation when a turn began.
type State string

const (
	StateEmpty  State = "empty"
	StateActive State = "active"
)

// TurnResult is the outcome of a successful turn.
type TurnResult struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Summarized bool   `json:"summarized"`
}

// ClearResult is the outcome of a clear request.
type ClearResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ConversationManager runs conversation turns against a Completer and
// persists trimmed histories in a store.
type ConversationManager struct {
	completer Completer
	store     storage.Store
	prompts   *PromptLibrary
	locks     *keyLocks
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewConversationManager creates a new conversation manager.
func NewConversationManager(
	completer Completer,
	store storage.Store,
	prompts *PromptLibrary,
	m *metrics.Metrics,
	logger *slog.Logger,
) *ConversationManager {
	return &ConversationManager{
		completer: completer,
		store:     store,
		prompts:   prompts,
		locks:     newKeyLocks(),
		metrics:   m,
		logger:    logger,
	}
}

// Turn handles one player utterance and returns the NPC reply. Nothing is
// persisted unless the backend answers.
func (m *ConversationManager) Turn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	conversationID := in.ConversationID()
	logger := m.logger.With("conversation_id", conversationID)

	unlock := m.locks.Lock(conversationID)
	defer unlock()

	history, found, err := m.load(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	state := StateEmpty
	if found {
		state = StateActive
	}

	template, err := m.prompts.Load(ctx, SystemPromptName)
	if err != nil {
		m.metrics.ObserveTurn(string(state), "error")
		return nil, err
	}
	system := SystemMessage(BuildSystemPrompt(in, template))
	user := UserMessage(BuildUserPrompt(in))

	// The request is built on a copy; only the bookkeeping below is added
	// to the stored history.
	var request []Message
	if state == StateEmpty {
		history = []Message{system}
		request = []Message{system, user}
		logger.Info("starting new conversation")
	} else {
		history[0] = system
		request = make([]Message, 0, len(history))
		request = append(request, history[1:]...)
		request = append(request, user)
		logger.Info("continuing conversation", "stored_messages", len(history))
	}

	replies, err := m.completer.Converse(ctx, request)
	if err != nil {
		m.metrics.ObserveTurn(string(state), "backend_error")
		return nil, err
	}
	if len(replies) == 0 || replies[len(replies)-1].Role != RoleAssistant {
		m.metrics.ObserveTurn(string(state), "backend_error")
		return nil, fmt.Errorf("%w: reply is missing an assistant message", ErrBackend)
	}
	reply := replies[len(replies)-1].Content

	// Turn bookkeeping: the raw utterance and a marker closing the turn.
	history = append(history, UserMessage(in.Prompt), SystemMessage(conversationID))

	summarized := false
	if utf8.RuneCountInString(reply) > in.SummaryThreshold {
		reply, err = m.completer.Summarize(ctx, reply)
		if err != nil {
			m.metrics.ObserveTurn(string(state), "backend_error")
			return nil, err
		}
		summarized = true
		m.metrics.ObserveSummary()
		logger.Info("response summarized", "threshold", in.SummaryThreshold)
	}

	if err := m.save(ctx, conversationID, TrimHistory(history)); err != nil {
		m.metrics.ObserveTurn(string(state), "error")
		return nil, err
	}
	logger.Info("saved conversation history")
	m.metrics.ObserveTurn(string(state), "success")

	return &TurnResult{
		Status:     StatusSuccess,
		Message:    reply,
		Summarized: summarized,
	}, nil
}

// Clear resets a conversation to an empty history. Clearing a conversation
// that was never stored reports an error status rather than an error.
func (m *ConversationManager) Clear(ctx context.Context, conversationID string) (*ClearResult, error) {
	logger := m.logger.With("conversation_id", conversationID)
	logger.Info("attempting to clear memory")

	unlock := m.locks.Lock(conversationID)
	defer unlock()

	if _, err := m.store.Get(ctx, conversationID); err != nil {
		if errors.Is(err, storage.ErrInvalidKey) {
			return nil, err
		}
		logger.Warn("failed to clear memory", "error", err)
		m.metrics.ObserveClear(StatusError)
		return &ClearResult{Status: StatusError, Message: MessageNoMemory}, nil
	}

	if err := m.save(ctx, conversationID, []Message{}); err != nil {
		logger.Warn("failed to clear memory", "error", err)
		m.metrics.ObserveClear(StatusError)
		return &ClearResult{Status: StatusError, Message: MessageNoMemory}, nil
	}

	logger.Info("cleared memory")
	m.metrics.ObserveClear(StatusSuccess)
	return &ClearResult{Status: StatusSuccess, Message: MessageMemoryCleared}, nil
}

// load reads a stored history. found is false when nothing usable is
// stored: the key is absent, holds an empty list, or cannot be parsed.
func (m *ConversationManager) load(ctx context.Context, conversationID string) (history []Message, found bool, err error) {
	data, err := m.store.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			m.logger.Debug("no conversation history found", "conversation_id", conversationID)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to load conversation: %w", err)
	}

	history, err = DecodeHistory(data)
	if err != nil {
		m.logger.Warn("discarding unreadable conversation history",
			"conversation_id", conversationID,
			"error", err,
		)
		return nil, false, nil
	}
	if len(history) == 0 {
		return nil, false, nil
	}

	m.logger.Debug("loaded conversation history", "conversation_id", conversationID, "messages", len(history))
	return history, true, nil
}

func (m *ConversationManager) save(ctx context.Context, conversationID string, history []Message) error {
	data, err := EncodeHistory(history)
	if err != nil {
		return err
	}
	if err := m.store.Set(ctx, conversationID, data); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// TrimHistory keeps history[0] and the last MaxStoredMessages-1 entries after it.
func TrimHistory(history []Message) []Message {
	if len(history) <= MaxStoredMessages {
		return history
	}
	trimmed := make([]Message, 0, MaxStoredMessages)
	trimmed = append(trimmed, history[0])
	return append(trimmed, history[len(history)-(MaxStoredMessages-1):]...)
}
