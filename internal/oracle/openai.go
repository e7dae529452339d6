package oracle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/ashita-ai/ichiba/internal/model"
)

// OpenAIConfig configures an OpenAI-compatible chat completion oracle.
// BaseURL may point at any compatible gateway.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	// JSONMode requests a JSON object response format.
	JSONMode bool
}

// OpenAIOracle asks a chat completion model for each decision.
type OpenAIOracle struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	jsonMode    bool
	logger      *slog.Logger
}

// NewOpenAI creates an oracle backed by the chat completions API.
func NewOpenAI(cfg OpenAIConfig, logger *slog.Logger) *OpenAIOracle {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 200
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = openai.GPT4oMini
	}
	return &OpenAIOracle{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       modelName,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		jsonMode:    cfg.JSONMode,
		logger:      logger,
	}
}

// Decide sends one chat completion request. It does not retry.
func (o *OpenAIOracle) Decide(ctx context.Context, req Request) (model.Decision, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(req)},
		},
	}
	if o.jsonMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return model.Decision{}, fmt.Errorf("oracle: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return model.Decision{}, ErrEmptyResponse
	}

	o.logger.Debug("oracle: reply",
		"agent_id", req.Agent.ID,
		"epoch", req.Epoch,
		"tokens", resp.Usage.TotalTokens,
	)
	return ParseDecision(resp.Choices[0].Message.Content)
}
