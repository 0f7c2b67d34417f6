// Package server provides the HTTP handlers for the relay.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/ireland-samantha/npc-relay/internal/claude"
	"github.com/ireland-samantha/npc-relay/internal/storage"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Conversations runs turns and clears conversations.
type Conversations interface {
	Turn(ctx context.Context, in claude.TurnInput) (*claude.TurnResult, error)
	Clear(ctx context.Context, conversationID string) (*claude.ClearResult, error)
}

// Handler serves the conversation endpoints.
type Handler struct {
	conversations    Conversations
	summaryThreshold int
	backendTimeout   time.Duration
	logger           *slog.Logger
}

// HandlerOptions configures a Handler.
type HandlerOptions struct {
	// SummaryThreshold applies when a request omits summarythreshold.
	SummaryThreshold int
	// BackendTimeout bounds a whole turn; zero means no limit.
	BackendTimeout time.Duration
}

// NewHandler creates a new conversation handler.
func NewHandler(conversations Conversations, opts HandlerOptions, logger *slog.Logger) *Handler {
	threshold := opts.SummaryThreshold
	if threshold <= 0 {
		threshold = claude.DefaultSummaryThreshold
	}
	return &Handler{
		conversations:    conversations,
		summaryThreshold: threshold,
		backendTimeout:   opts.BackendTimeout,
		logger:           logger,
	}
}

// HandleConversation runs one conversation turn.
func (h *Handler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)
	logger.Info("received conversation request")

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	in, err := h.parseTurnInput(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	if h.backendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.backendTimeout)
		defer cancel()
	}

	result, err := h.conversations.Turn(ctx, in)
	if err != nil {
		h.writeTurnError(w, logger, in.ConversationID(), err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleClearConversation resets a conversation's memory.
func (h *Handler) HandleClearConversation(w http.ResponseWriter, r *http.Request) {
	logger := loggerFrom(r.Context(), h.logger)

	body, err := readBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	conversationID, err := parseConversationID(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.conversations.Clear(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidKey) {
			writeError(w, http.StatusBadRequest, "invalid conversation identifier")
			return
		}
		logger.Error("failed to clear conversation", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HandleHealth reports liveness.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeTurnError(w http.ResponseWriter, logger *slog.Logger, conversationID string, err error) {
	logger = logger.With("conversation_id", conversationID, "error", err)

	switch {
	case errors.Is(err, storage.ErrInvalidKey):
		writeError(w, http.StatusBadRequest, "invalid conversation identifier")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error("conversation turn timed out")
		writeError(w, http.StatusGatewayTimeout, "completion backend timed out")
	case errors.Is(err, claude.ErrBackend):
		logger.Error("completion backend failed")
		writeError(w, http.StatusBadGateway, "completion backend error")
	default:
		logger.Error("conversation turn failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// parseTurnInput reads the request fields. Values may be JSON strings or
// numbers; absent and null fields are empty.
func (h *Handler) parseTurnInput(body []byte) (claude.TurnInput, error) {
	doc, err := parseObject(body)
	if err != nil {
		return claude.TurnInput{}, err
	}
	field := func(name string) string { return stringField(doc, name) }

	in := claude.TurnInput{
		Username:         field("username"),
		AIName:           field("ainame"),
		Prompt:           field("prompt"),
		GameDay:          field("gameday"),
		GameTime:         field("gametime"),
		GameUptime:       field("gameuptime"),
		ComputerID:       field("computerid"),
		SummaryThreshold: h.summaryThreshold,
	}

	threshold := doc.Get("summarythreshold")
	switch threshold.Type {
	case gjson.Null:
	case gjson.Number:
		in.SummaryThreshold = int(threshold.Int())
	case gjson.String:
		n, err := strconv.Atoi(strings.TrimSpace(threshold.Str))
		if err != nil {
			return claude.TurnInput{}, fmt.Errorf("summarythreshold must be an integer, got %q", threshold.Str)
		}
		in.SummaryThreshold = n
	default:
		return claude.TurnInput{}, errors.New("summarythreshold must be an integer")
	}

	return in, nil
}

// parseConversationID reads only the fields identifying a conversation.
func parseConversationID(body []byte) (string, error) {
	doc, err := parseObject(body)
	if err != nil {
		return "", err
	}
	return claude.ConversationID(
		stringField(doc, "computerid"),
		stringField(doc, "username"),
		stringField(doc, "ainame"),
	), nil
}

func parseObject(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, errors.New("request body must be valid JSON")
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return gjson.Result{}, errors.New("request body must be a JSON object")
	}
	return doc, nil
}

func stringField(doc gjson.Result, name string) string {
	v := doc.Get(name)
	if !v.Exists() || v.Type == gjson.Null {
		return ""
	}
	return v.String()
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	return body, nil
}
