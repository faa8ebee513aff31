package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
)

type openAIClient struct {
	client    openai.Client
	model     string
	maxTokens int64
}

func newOpenAI(opts Options) *openAIClient {
	ropts := []ooption.RequestOption{
		ooption.WithAPIKey(strings.TrimSpace(opts.APIKey)),
		ooption.WithMaxRetries(0),
	}
	if strings.TrimSpace(opts.BaseURL) != "" {
		ropts = append(ropts, ooption.WithBaseURL(strings.TrimSpace(opts.BaseURL)))
	}
	return &openAIClient{
		client:    openai.NewClient(ropts...),
		model:     opts.Model,
		maxTokens: int64(opts.MaxOutputTokens),
	}
}

func (c *openAIClient) params(messages []Message) openai.ChatCompletionNewParams {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: out,
	}
	if c.maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.maxTokens)
	}
	return params
}

func (c *openAIClient) send(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return nil, wrapError("openai", status, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &APIError{Provider: "openai", Err: errors.New("response has no choices")}
	}
	return resp, nil
}

func (c *openAIClient) Complete(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.send(ctx, c.params(messages))
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *openAIClient) CallFunction(ctx context.Context, messages []Message, tool Tool) (Response, error) {
	params := c.params(messages)
	params.Tools = []openai.ChatCompletionToolParam{{
		Function: openai.FunctionDefinitionParam{
			Name:        tool.Name,
			Description: openai.String(tool.Description),
			Parameters:  openai.FunctionParameters(tool.Parameters.Map()),
		},
	}}
	params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
		OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
			Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: tool.Name},
		},
	}
	params.ParallelToolCalls = openai.Bool(false)

	resp, err := c.send(ctx, params)
	if err != nil {
		return Response{}, err
	}
	msg := resp.Choices[0].Message
	out := Response{Text: msg.Content}
	if len(msg.ToolCalls) > 0 {
		call := msg.ToolCalls[0]
		out.Call = &FunctionCall{Name: call.Function.Name, Arguments: json.RawMessage(call.Function.Arguments)}
	}
	return out, nil
}
