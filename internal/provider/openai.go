package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storyquest-server/internal/models"
)

// openAIProvider работает с любым OpenAI-совместимым бэкендом (OpenAI,
// OpenRouter, LM Studio) через BaseURL.
type openAIProvider struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

var _ Provider = (*openAIProvider)(nil)

func (p *openAIProvider) Name() string { return "openai" }

func (p *openAIProvider) Generate(ctx context.Context, req models.GenerationRequest) (*models.StoryGeneration, error) {
	startTime := time.Now()

	resp, err := p.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:       p.model,
		Messages:    p.buildMessages(req),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	duration := time.Since(startTime)

	if err != nil {
		aiRequestsTotal.WithLabelValues(p.Name(), "error").Inc()
		p.logger.Warn("OpenAI request failed", zap.Duration("duration", duration), zap.Error(err))
		return nil, p.classify(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		aiRequestsTotal.WithLabelValues(p.Name(), "error_empty_response").Inc()
		return nil, &ProviderError{Provider: p.Name(), Kind: Transient,
			Err: errors.New("получен пустой ответ")}
	}

	gen, err := ParseStoryGeneration(resp.Choices[0].Message.Content, req.Ending)
	if err != nil {
		aiRequestsTotal.WithLabelValues(p.Name(), "error_malformed").Inc()
		p.logger.Warn("OpenAI response failed contract validation", zap.Error(err))
		return nil, &ProviderError{Provider: p.Name(), Kind: Transient, Err: err}
	}

	aiRequestsTotal.WithLabelValues(p.Name(), "success").Inc()
	aiRequestDuration.WithLabelValues(p.Name()).Observe(duration.Seconds())
	observeUsage(p.Name(), models.UsageInfo{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	})
	p.logger.Debug("OpenAI request completed",
		zap.Duration("duration", duration),
		zap.Int("total_tokens", resp.Usage.TotalTokens))
	return gen, nil
}

func (p *openAIProvider) GenerateStream(ctx context.Context, req models.GenerationRequest, chunkHandler func(string) error) (*models.StoryGeneration, error) {
	startTime := time.Now()

	stream, err := p.client.CreateChatCompletionStream(ctx, openaigo.ChatCompletionRequest{
		Model:       p.model,
		Messages:    p.buildMessages(req),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	})
	if err != nil {
		aiRequestsTotal.WithLabelValues(p.Name(), "error_stream_init").Inc()
		return nil, p.classify(err)
	}
	defer stream.Close()

	var fullText strings.Builder
	var finalUsage openaigo.Usage
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			aiRequestsTotal.WithLabelValues(p.Name(), "error_stream_read").Inc()
			return nil, p.classify(err)
		}
		if response.Usage != nil && response.Usage.TotalTokens > 0 {
			finalUsage = *response.Usage
		}
		if len(response.Choices) > 0 {
			chunk := response.Choices[0].Delta.Content
			if chunk == "" {
				continue
			}
			fullText.WriteString(chunk)
			if chunkHandler != nil {
				if err := chunkHandler(chunk); err != nil {
					// Потребитель отказался от стрима (дисконнект и т.п.).
					return nil, &ProviderError{Provider: p.Name(), Kind: Permanent, Err: err}
				}
			}
		}
	}
	duration := time.Since(startTime)

	gen, err := ParseStoryGeneration(fullText.String(), req.Ending)
	if err != nil {
		aiRequestsTotal.WithLabelValues(p.Name(), "error_malformed").Inc()
		return nil, &ProviderError{Provider: p.Name(), Kind: Transient, Err: err}
	}

	aiRequestsTotal.WithLabelValues(p.Name(), "success_stream").Inc()
	aiRequestDuration.WithLabelValues(p.Name()).Observe(duration.Seconds())
	if finalUsage.TotalTokens > 0 {
		observeUsage(p.Name(), models.UsageInfo{
			PromptTokens:     finalUsage.PromptTokens,
			CompletionTokens: finalUsage.CompletionTokens,
			TotalTokens:      finalUsage.TotalTokens,
		})
	} else {
		// Usage в стриме пришел не от всех бэкендов — оцениваем сами.
		prompt := estimateTokens(p.model, req.SystemMessage) + estimateTokens(p.model, req.Prompt)
		completion := estimateTokens(p.model, fullText.String())
		observeUsage(p.Name(), models.UsageInfo{
			PromptTokens:     prompt,
			CompletionTokens: completion,
			TotalTokens:      prompt + completion,
		})
	}
	return gen, nil
}

func (p *openAIProvider) Summarize(ctx context.Context, req models.GenerationRequest) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:       p.model,
		Messages:    p.buildMessages(req),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		aiRequestsTotal.WithLabelValues(p.Name(), "error_summarize").Inc()
		return "", p.classify(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		aiRequestsTotal.WithLabelValues(p.Name(), "error_empty_response").Inc()
		return "", &ProviderError{Provider: p.Name(), Kind: Transient,
			Err: errors.New("получен пустой ответ")}
	}
	aiRequestsTotal.WithLabelValues(p.Name(), "success_summarize").Inc()
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (p *openAIProvider) IsHealthy(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := p.client.ListModels(healthCtx)
	return err == nil
}

func (p *openAIProvider) buildMessages(req models.GenerationRequest) []openaigo.ChatCompletionMessage {
	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: req.SystemMessage},
	}
	if req.Prompt != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{
			Role: openaigo.ChatMessageRoleUser, Content: req.Prompt,
		})
	}
	return messages
}

// classify переводит ошибку go-openai в ProviderError с видом ошибки.
func (p *openAIProvider) classify(err error) error {
	kind := Transient
	var apiErr *openaigo.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest, http.StatusNotFound:
			kind = Permanent
		}
	}
	return &ProviderError{Provider: p.Name(), Kind: kind, Err: err}
}
