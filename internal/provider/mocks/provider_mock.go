package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storyquest-server/internal/models"
)

// Mock Provider
type Provider struct {
	mock.Mock
	ProviderName string
}

func (m *Provider) Generate(ctx context.Context, req models.GenerationRequest) (*models.StoryGeneration, error) {
	args := m.Called(ctx, req)
	gen, _ := args.Get(0).(*models.StoryGeneration)
	return gen, args.Error(1)
}

func (m *Provider) GenerateStream(ctx context.Context, req models.GenerationRequest, chunkHandler func(string) error) (*models.StoryGeneration, error) {
	args := m.Called(ctx, req, chunkHandler)
	gen, _ := args.Get(0).(*models.StoryGeneration)
	return gen, args.Error(1)
}

func (m *Provider) Summarize(ctx context.Context, req models.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *Provider) Name() string {
	if m.ProviderName != "" {
		return m.ProviderName
	}
	return "mock"
}

func (m *Provider) IsHealthy(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}
