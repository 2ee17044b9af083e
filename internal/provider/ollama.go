package provider

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"storyquest-server/internal/models"
)

// ollamaProvider работает с локальным Ollama через нативный API.
type ollamaProvider struct {
	client  *api.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

var _ Provider = (*ollamaProvider)(nil)

func (p *ollamaProvider) Name() string { return "ollama" }

func (p *ollamaProvider) Generate(ctx context.Context, req models.GenerationRequest) (*models.StoryGeneration, error) {
	requestCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	startTime := time.Now()
	var resp api.ChatResponse
	err := p.client.Chat(requestCtx, p.buildRequest(req, false), func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		aiRequestsTotal.WithLabelValues(p.Name(), "error").Inc()
		p.logger.Warn("Ollama request failed", zap.Duration("duration", duration), zap.Error(err))
		return nil, p.classify(err)
	}
	if resp.Message.Content == "" {
		aiRequestsTotal.WithLabelValues(p.Name(), "error_empty_response").Inc()
		return nil, &ProviderError{Provider: p.Name(), Kind: Transient,
			Err: errors.New("получен пустой ответ")}
	}

	gen, err := ParseStoryGeneration(resp.Message.Content, req.Ending)
	if err != nil {
		aiRequestsTotal.WithLabelValues(p.Name(), "error_malformed").Inc()
		p.logger.Warn("Ollama response failed contract validation", zap.Error(err))
		return nil, &ProviderError{Provider: p.Name(), Kind: Transient, Err: err}
	}

	aiRequestsTotal.WithLabelValues(p.Name(), "success").Inc()
	aiRequestDuration.WithLabelValues(p.Name()).Observe(duration.Seconds())
	observeUsage(p.Name(), models.UsageInfo{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	})
	return gen, nil
}

func (p *ollamaProvider) GenerateStream(ctx context.Context, req models.GenerationRequest, chunkHandler func(string) error) (*models.StoryGeneration, error) {
	requestCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	startTime := time.Now()
	var fullText strings.Builder
	var promptTokens, completionTokens int

	err := p.client.Chat(requestCtx, p.buildRequest(req, true), func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			fullText.WriteString(resp.Message.Content)
			if chunkHandler != nil {
				if err := chunkHandler(resp.Message.Content); err != nil {
					return err
				}
			}
		}
		if resp.Done {
			promptTokens = resp.PromptEvalCount
			completionTokens = resp.EvalCount
		}
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		aiRequestsTotal.WithLabelValues(p.Name(), "error_stream").Inc()
		p.logger.Warn("Ollama stream failed", zap.Duration("duration", duration), zap.Error(err))
		return nil, p.classify(err)
	}

	gen, err := ParseStoryGeneration(fullText.String(), req.Ending)
	if err != nil {
		aiRequestsTotal.WithLabelValues(p.Name(), "error_malformed").Inc()
		return nil, &ProviderError{Provider: p.Name(), Kind: Transient, Err: err}
	}

	aiRequestsTotal.WithLabelValues(p.Name(), "success_stream").Inc()
	aiRequestDuration.WithLabelValues(p.Name()).Observe(duration.Seconds())
	observeUsage(p.Name(), models.UsageInfo{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
	})
	return gen, nil
}

func (p *ollamaProvider) Summarize(ctx context.Context, req models.GenerationRequest) (string, error) {
	requestCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var resp api.ChatResponse
	err := p.client.Chat(requestCtx, p.buildRequest(req, false), func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	if err != nil {
		aiRequestsTotal.WithLabelValues(p.Name(), "error_summarize").Inc()
		return "", p.classify(err)
	}
	if resp.Message.Content == "" {
		aiRequestsTotal.WithLabelValues(p.Name(), "error_empty_response").Inc()
		return "", &ProviderError{Provider: p.Name(), Kind: Transient,
			Err: errors.New("получен пустой ответ")}
	}
	aiRequestsTotal.WithLabelValues(p.Name(), "success_summarize").Inc()
	return strings.TrimSpace(resp.Message.Content), nil
}

func (p *ollamaProvider) IsHealthy(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return p.client.Heartbeat(healthCtx) == nil
}

func (p *ollamaProvider) buildRequest(req models.GenerationRequest, stream bool) *api.ChatRequest {
	messages := []api.Message{
		{Role: "system", Content: req.SystemMessage},
	}
	if req.Prompt != "" {
		messages = append(messages, api.Message{Role: "user", Content: req.Prompt})
	}
	return &api.ChatRequest{
		Model:    p.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": float64(req.Temperature),
			"num_predict": req.MaxTokens,
		},
	}
}

// Ollama локальный: любые сбои считаем временными, кроме отмены потребителем.
func (p *ollamaProvider) classify(err error) error {
	kind := Transient
	if errors.Is(err, context.Canceled) {
		kind = Permanent
	}
	return &ProviderError{Provider: p.Name(), Kind: kind, Err: err}
}
