package nlu

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const DefaultOpenAIModel = "gpt-5-nano"

type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAI builds a chat-completions provider. httpClient may be nil; extra
// options are appended last (tests point the base URL at a local server).
func NewOpenAI(apiKey, model string, httpClient *http.Client, opts ...option.RequestOption) *OpenAIProvider {
	if model == "" {
		model = DefaultOpenAIModel
	}

	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// the client does its own single retry
		option.WithMaxRetries(0),
	}
	if httpClient != nil {
		base = append(base, option.WithHTTPClient(httpClient))
	}

	return &OpenAIProvider{
		client: openai.NewClient(append(base, opts...)...),
		model:  model,
	}
}

func (p *OpenAIProvider) Name() string {
	return "openai:" + p.model
}

// FixedTemperature reports whether the model only samples at its default
// temperature, so Request.Temperature is not sent.
func (p *OpenAIProvider) FixedTemperature() bool {
	return !acceptsTemperature(p.model)
}

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(req.System),
	}
	for _, t := range req.History {
		messages = append(messages, openai.UserMessage(t.User))
		if t.Assistant != "" {
			messages = append(messages, openai.AssistantMessage(t.Assistant))
		}
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(p.model),
	}
	if acceptsTemperature(p.model) {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apierr *openai.Error
		if errors.As(err, &apierr) && transientStatus(apierr.StatusCode) {
			return "", &TransientError{Err: fmt.Errorf("chat completion: %w", err)}
		}
		return "", fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	return resp.Choices[0].Message.Content, nil
}

// Reasoning models only accept the default temperature.
func acceptsTemperature(model string) bool {
	return !strings.HasPrefix(model, "gpt-5") && !strings.HasPrefix(model, "o1") &&
		!strings.HasPrefix(model, "o3") && !strings.HasPrefix(model, "o4")
}
