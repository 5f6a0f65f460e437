package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"
)

// temperature is fixed for all chat completions
const temperature = 0.7

// Message is one role/content pair in a chat completion request
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserMessage builds a single-message conversation, the shape every prompt
// in this service uses
func UserMessage(content string) []Message {
	return []Message{{Role: openai.ChatMessageRoleUser, Content: content}}
}

// Fragment is one streamed piece of completion text. A non-nil Err is
// terminal: no further fragments follow it.
type Fragment struct {
	Text string
	Err  error
}

// Backend issues chat completions against a concrete provider endpoint.
// Caller layers retry and failover on top of it.
type Backend interface {
	// Complete performs a non-streaming completion and returns the full text
	Complete(ctx context.Context, model string, messages []Message, jsonMode bool) (string, error)
	// Stream performs a streaming completion. The returned channel is a
	// single-pass, forward-only fragment sequence closed on completion.
	// Implementations must stop sending when ctx is cancelled, so a consumer
	// abandoning the sequence mid-flight can release the stream by cancelling.
	Stream(ctx context.Context, model string, messages []Message) (<-chan Fragment, error)
}

// APIBackend is the Backend implementation over the OpenAI-compatible APIs
// resolved by Gateway
type APIBackend struct {
	gateway *Gateway
}

// NewAPIBackend creates a backend over the given gateway
func NewAPIBackend(gateway *Gateway) *APIBackend {
	return &APIBackend{gateway: gateway}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// Complete implements Backend
func (b *APIBackend) Complete(ctx context.Context, model string, messages []Message, jsonMode bool) (string, error) {
	client, err := b.gateway.ClientFor(model)
	if err != nil {
		return "", err
	}

	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Temperature: temperature,
	}
	if jsonMode && supportsJSONMode(model) {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in LLM response")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream implements Backend
func (b *APIBackend) Stream(ctx context.Context, model string, messages []Message) (<-chan Fragment, error) {
	client, err := b.gateway.ClientFor(model)
	if err != nil {
		return nil, err
	}

	stream, err := client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(messages),
		Temperature: temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}

	out := make(chan Fragment)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				select {
				case out <- Fragment{Err: err}:
				case <-ctx.Done():
				}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			select {
			case out <- Fragment{Text: resp.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
