// Package upstream implements the uniform chat client for node endpoints.
// Every node speaks the OpenAI-compatible chat completion protocol; the
// differences between providers (endpoint, credential) are node data.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/roelfdiedericks/llmgate/internal/classify"
	. "github.com/roelfdiedericks/llmgate/internal/logging"
	"github.com/roelfdiedericks/llmgate/internal/node"
)

// Turn is one conversation message in a normalized request.
type Turn struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Result is the outcome of one completed call.
type Result struct {
	Text         string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// Caller is the narrow surface the stream session drives. Implemented by
// *Client; faked in tests.
type Caller interface {
	// Stream opens a streaming completion and forwards each content delta to
	// onDelta as it arrives. A stream that completes without any content
	// returns classify.ErrEmptyResponse.
	Stream(ctx context.Context, turns []Turn, maxTokens int, onDelta func(delta string)) (*Result, error)
}

// Client is the chat client for a single node.
type Client struct {
	node   node.Node
	client *openai.Client
}

// NewClient builds a client for one node.
func NewClient(n node.Node) *Client {
	apiKey := n.APIKey
	if apiKey == "" {
		apiKey = "not-needed" // local servers don't require auth
	}

	cfg := openai.DefaultConfig(apiKey)
	baseURL := n.EndpointURL
	if !strings.HasSuffix(baseURL, "/v1") && !strings.HasSuffix(baseURL, "/v1/") {
		baseURL = strings.TrimSuffix(baseURL, "/") + "/v1"
	}
	cfg.BaseURL = baseURL

	L_debug("upstream: client created", "node", n.ID, "baseURL", baseURL, "model", n.Model)
	return &Client{node: n, client: openai.NewClientWithConfig(cfg)}
}

func toMessages(turns []Turn) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		role := t.Role
		switch role {
		case openai.ChatMessageRoleSystem, openai.ChatMessageRoleUser, openai.ChatMessageRoleAssistant:
		default:
			role = openai.ChatMessageRoleUser
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}
	return msgs
}

// Stream opens a chat completion stream and forwards deltas as they arrive.
func (c *Client) Stream(ctx context.Context, turns []Turn, maxTokens int, onDelta func(delta string)) (*Result, error) {
	if maxTokens <= 0 || maxTokens > c.node.MaxTokens {
		maxTokens = c.node.MaxTokens
	}

	req := openai.ChatCompletionRequest{
		Model:     c.node.Model,
		Messages:  toMessages(turns),
		MaxTokens: maxTokens,
		Stream:    true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}

	started := time.Now()
	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		logStreamError(c.node, "stream creation failed", err)
		return nil, fmt.Errorf("stream error: %w", err)
	}
	defer stream.Close()

	result := &Result{}
	chunkNum := 0

	for {
		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				L_trace("upstream: stream complete",
					"node", c.node.ID,
					"chunks", chunkNum,
					"duration", time.Since(started).Round(time.Millisecond),
					"textLen", len(result.Text),
				)
				break
			}
			logStreamError(c.node, "stream recv failed", err)
			return nil, fmt.Errorf("stream error: %w", err)
		}
		chunkNum++

		if chunk.Usage != nil {
			result.InputTokens = chunk.Usage.PromptTokens
			result.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			result.Text += choice.Delta.Content
			if onDelta != nil {
				onDelta(choice.Delta.Content)
			}
		}
		if choice.FinishReason != "" {
			result.FinishReason = string(choice.FinishReason)
		}
	}

	// A final event lacking any content is an empty response, not a success.
	if strings.TrimSpace(result.Text) == "" {
		L_warn("upstream: empty response", "node", c.node.ID, "chunks", chunkNum, "finishReason", result.FinishReason)
		return nil, classify.ErrEmptyResponse
	}
	return result, nil
}

// logStreamError extracts typed API error detail the way the SDK surfaces it.
func logStreamError(n node.Node, msg string, err error) {
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	if errors.As(err, &apiErr) {
		L_error(msg+" (APIError)",
			"node", n.ID,
			"model", n.Model,
			"statusCode", apiErr.HTTPStatusCode,
			"code", apiErr.Code,
			"message", apiErr.Message,
			"type", apiErr.Type,
		)
	} else if errors.As(err, &reqErr) {
		L_error(msg+" (RequestError)",
			"node", n.ID,
			"model", n.Model,
			"statusCode", reqErr.HTTPStatusCode,
			"error", reqErr.Error(),
		)
	} else {
		L_error(msg, "node", n.ID, "model", n.Model, "error", err)
	}
}
