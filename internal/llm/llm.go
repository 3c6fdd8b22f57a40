// Package llm provides text generation over OpenAI-compatible chat APIs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/PoshanP/ThinkFolio-sub000/pkg/logger"
)

// Role constants for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a generation call.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// Response is the result of a blocking generation call.
type Response struct {
	Content      string
	FinishReason string
	InputTokens  int
	OutputTokens int
}

// StreamFunc receives each incremental text delta during streaming. A
// non-nil return aborts the stream.
type StreamFunc func(delta string) error

// Generator defines the interface for chat completion.
type Generator interface {
	// Complete generates a full response in one call.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream generates a response incrementally, invoking onDelta for each
	// token delta, and returns the accumulated response. The accumulated
	// content equals what Complete would have returned for the same input.
	Stream(ctx context.Context, req Request, onDelta StreamFunc) (*Response, error)
}

// Config holds generator configuration.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	MaxTokens      int
	Temperature    float32
	RequestTimeout time.Duration
}

// DefaultConfig returns default generator configuration.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:         apiKey,
		Model:          "gpt-4o-mini",
		MaxTokens:      2048,
		Temperature:    0.2,
		RequestTimeout: 120 * time.Second,
	}
}

// OpenAIGenerator implements Generator using the OpenAI chat API.
type OpenAIGenerator struct {
	client *openai.Client
	config Config
	log    *logger.Logger
}

// NewOpenAIGenerator creates a new generator.
func NewOpenAIGenerator(cfg Config, log *logger.Logger) (*OpenAIGenerator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if log == nil {
		log = logger.Default()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(clientCfg),
		config: cfg,
		log:    log.WithComponent("llm"),
	}, nil
}

// Complete generates a full response in one call.
func (g *OpenAIGenerator) Complete(ctx context.Context, req Request) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, g.config.RequestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(reqCtx, g.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty completion response")
	}

	choice := resp.Choices[0]
	g.log.Debug("completion finished",
		"model", resp.Model,
		"finish_reason", choice.FinishReason,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Stream generates a response incrementally and returns the accumulated
// result once the stream completes.
func (g *OpenAIGenerator) Stream(ctx context.Context, req Request, onDelta StreamFunc) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, g.config.RequestTimeout)
	defer cancel()

	start := time.Now()
	stream, err := g.client.CreateChatCompletionStream(reqCtx, g.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}
	defer stream.Close()

	var sb strings.Builder
	finishReason := ""

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("stream receive: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = string(choice.FinishReason)
		}
		if choice.Delta.Content == "" {
			continue
		}

		sb.WriteString(choice.Delta.Content)
		if onDelta != nil {
			if err := onDelta(choice.Delta.Content); err != nil {
				return nil, fmt.Errorf("stream aborted by caller: %w", err)
			}
		}
	}

	g.log.Debug("stream finished",
		"finish_reason", finishReason,
		"chars", sb.Len(),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Response{
		Content:      sb.String(),
		FinishReason: finishReason,
	}, nil
}

func (g *OpenAIGenerator) buildRequest(req Request, stream bool) openai.ChatCompletionRequest {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.config.MaxTokens
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = g.config.Temperature
	}

	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	return openai.ChatCompletionRequest{
		Model:       g.config.Model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Stream:      stream,
	}
}
