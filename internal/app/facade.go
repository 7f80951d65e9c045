package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docscribe/internal/ai"
)

// ErrUpstream marks any failure of the language model provider. The cause is
// folded into the message; callers only branch on the sentinel.
var ErrUpstream = errors.New("llm upstream failed")

const (
	summarizeSystemPrompt = "You are a helpful assistant that writes faithful document summaries."
	answerSystemPrompt    = "You are a helpful assistant. Answer the user's question based only on the provided document context. If the context does not contain enough information, say so. Do not make up facts."
)

// LLMFacade is the single seam to the language model provider. Every call
// either returns provider output or an ErrUpstream-wrapped failure; nothing
// is retried and no fallback content is invented.
type LLMFacade interface {
	Summarize(ctx context.Context, text string) (string, error)
	Answer(ctx context.Context, contextText string, history []ai.ChatMessage, question string) (string, error)
	StreamAnswer(ctx context.Context, contextText string, history []ai.ChatMessage, question string, onChunk func(string) error) (string, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIFacade implements LLMFacade against an OpenAI-compatible endpoint.
// Each request runs under its own deadline derived from timeout.
type OpenAIFacade struct {
	client  *ai.OpenAICompatibleClient
	chatCfg ai.ChatConfig
	embCfg  ai.EmbeddingConfig
	timeout time.Duration
}

func NewOpenAIFacade(chatCfg ai.ChatConfig, embCfg ai.EmbeddingConfig, timeout time.Duration) *OpenAIFacade {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIFacade{
		client:  ai.NewOpenAICompatibleClient(timeout),
		chatCfg: chatCfg,
		embCfg:  embCfg,
		timeout: timeout,
	}
}

func (f *OpenAIFacade) Summarize(ctx context.Context, text string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	messages := []ai.ChatMessage{
		{Role: "system", Content: summarizeSystemPrompt},
		{Role: "user", Content: "Please provide a comprehensive summary of the following document:\n\n" + text + "\n\nSummary:"},
	}
	out, err := f.client.Complete(callCtx, f.chatCfg, messages)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return strings.TrimSpace(out), nil
}

func (f *OpenAIFacade) Answer(ctx context.Context, contextText string, history []ai.ChatMessage, question string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	out, err := f.client.Complete(callCtx, f.chatCfg, answerMessages(contextText, history, question))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return strings.TrimSpace(out), nil
}

func (f *OpenAIFacade) StreamAnswer(ctx context.Context, contextText string, history []ai.ChatMessage, question string, onChunk func(string) error) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	out, err := f.client.StreamComplete(callCtx, f.chatCfg, answerMessages(contextText, history, question), onChunk)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return strings.TrimSpace(out), nil
}

func (f *OpenAIFacade) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	vec, err := f.client.Embed(callCtx, f.embCfg, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return vec, nil
}

func (f *OpenAIFacade) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	vecs, err := f.client.EmbedBatch(callCtx, f.embCfg, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return vecs, nil
}

func answerMessages(contextText string, history []ai.ChatMessage, question string) []ai.ChatMessage {
	system := answerSystemPrompt
	if strings.TrimSpace(contextText) != "" {
		system += "\n\nContext:\n" + contextText
	}

	messages := make([]ai.ChatMessage, 0, len(history)+2)
	messages = append(messages, ai.ChatMessage{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, ai.ChatMessage{Role: "user", Content: question})
	return messages
}
