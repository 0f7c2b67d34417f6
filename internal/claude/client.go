// Package claude provides Anthropic Claude API integration.
package claude

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/ireland-samantha/npc-relay/internal/metrics"
)

const (
	// DefaultModel is used when no model name is configured.
	DefaultModel = "claude-3-5-haiku-latest"
	// DefaultMaxTokens is the default response token limit.
	DefaultMaxTokens = 1024
	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 0.1
)

// summaryInstruction asks the model to condense a reply without commenting on it.
const summaryInstruction = "# Summarize Task\n" +
	"Reformat this message to be more concise without losing any details. " +
	"This is the final response so it should not mention that it is condensed or shortened in any way:"

// ErrBackend wraps failures returned by the completion backend.
var ErrBackend = errors.New("completion backend error")

// Completer produces model replies.
type Completer interface {
	// Converse returns messages with one assistant reply appended.
	Converse(ctx context.Context, messages []Message) ([]Message, error)

	// Summarize returns a condensed version of text.
	Summarize(ctx context.Context, text string) (string, error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int64
	Temperature float64

	// Options are appended after the options derived from the fields above.
	Options []option.RequestOption
}

// Client wraps the Anthropic SDK client.
type Client struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewClient creates a new Claude API client. Requests are not retried.
func NewClient(cfg ClientConfig, m *metrics.Metrics, logger *slog.Logger) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, cfg.Options...)

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	return &Client{
		client:      anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		metrics:     m,
		logger:      logger,
	}
}

// Converse streams a reply to messages and returns messages plus the reply.
func (c *Client) Converse(ctx context.Context, messages []Message) ([]Message, error) {
	reply, err := c.stream(ctx, "converse", messages)
	if err != nil {
		return nil, err
	}

	result := make([]Message, 0, len(messages)+1)
	result = append(result, messages...)
	return append(result, AssistantMessage(reply)), nil
}

// Summarize asks the model to condense text in a throwaway conversation.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	return c.stream(ctx, "summarize", []Message{
		UserMessage(summaryInstruction + "\n\n" + text),
	})
}

// stream runs one streaming completion and joins the text deltas in order.
func (c *Client) stream(ctx context.Context, operation string, messages []Message) (string, error) {
	params := c.buildParams(messages)
	if len(params.Messages) == 0 {
		return "", fmt.Errorf("%w: no user or assistant messages to send", ErrBackend)
	}

	c.logger.Debug("creating chat completion",
		"operation", operation,
		"model", c.model,
		"messages", len(params.Messages),
	)

	start := time.Now()
	stream := c.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var reply strings.Builder
	for stream.Next() {
		event := stream.Current()
		if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" {
			c.logger.Debug("completion delta", "operation", operation, "text", event.Delta.Text)
			reply.WriteString(event.Delta.Text)
		}
	}

	if err := stream.Err(); err != nil {
		c.metrics.ObserveCompletion(operation, "error", time.Since(start))
		return "", fmt.Errorf("%w: %s: %w", ErrBackend, operation, err)
	}

	c.metrics.ObserveCompletion(operation, "success", time.Since(start))
	c.logger.Debug("chat completion finished",
		"operation", operation,
		"chars", reply.Len(),
		"duration", time.Since(start),
	)
	return reply.String(), nil
}

// buildParams converts a history into request parameters. A system message
// at position 0 becomes the system prompt; later system messages have no
// place in the Messages API and are skipped. Consecutive messages with the
// same role are merged into one turn.
func (c *Client) buildParams(messages []Message) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		if messages[0].Content != "" {
			system = append(system, anthropic.TextBlockParam{Text: messages[0].Content})
		}
		messages = messages[1:]
	}

	var turns []anthropic.MessageParam
	for _, msg := range messages {
		var role anthropic.MessageParamRole
		switch msg.Role {
		case RoleUser:
			role = anthropic.MessageParamRoleUser
		case RoleAssistant:
			role = anthropic.MessageParamRoleAssistant
		default:
			continue
		}
		if msg.Content == "" {
			continue
		}

		block := anthropic.NewTextBlock(msg.Content)
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content = append(turns[n-1].Content, block)
			continue
		}
		turns = append(turns, anthropic.MessageParam{
			Role:    role,
			Content: []anthropic.ContentBlockParamUnion{block},
		})
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Messages:    turns,
		Temperature: param.NewOpt(c.temperature),
	}
	if len(system) > 0 {
		params.System = system
	}
	return params
}
