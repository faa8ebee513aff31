package llm

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func newAnthropic(opts Options) *anthropicClient {
	ropts := []aoption.RequestOption{
		aoption.WithAPIKey(strings.TrimSpace(opts.APIKey)),
		aoption.WithMaxRetries(0),
	}
	if strings.TrimSpace(opts.BaseURL) != "" {
		ropts = append(ropts, aoption.WithBaseURL(strings.TrimSpace(opts.BaseURL)))
	}
	return &anthropicClient{
		client:    anthropic.NewClient(ropts...),
		model:     opts.Model,
		maxTokens: int64(opts.MaxOutputTokens),
	}
}

func (c *anthropicClient) params(messages []Message) anthropic.MessageNewParams {
	system, rest := splitSystem(messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  buildAnthropicMessages(rest),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

func buildAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return out
}

func (c *anthropicClient) send(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return nil, wrapError("anthropic", status, err)
	}
	return msg, nil
}

func (c *anthropicClient) Complete(ctx context.Context, messages []Message) (string, error) {
	msg, err := c.send(ctx, c.params(messages))
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}
	return b.String(), nil
}

func (c *anthropicClient) CallFunction(ctx context.Context, messages []Message, tool Tool) (Response, error) {
	params := c.params(messages)
	var properties any
	var required []string
	if tool.Parameters != nil {
		properties = tool.Parameters.Map()["properties"]
		required = tool.Parameters.Required
	}
	params.Tools = []anthropic.ToolUnionParam{{OfTool: &anthropic.ToolParam{
		Name:        tool.Name,
		Description: anthropic.String(tool.Description),
		InputSchema: anthropic.ToolInputSchemaParam{Properties: properties, Required: required},
	}}}
	params.ToolChoice = anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: tool.Name}}

	msg, err := c.send(ctx, params)
	if err != nil {
		return Response{}, err
	}
	var resp Response
	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			if resp.Call == nil {
				resp.Call = &FunctionCall{Name: variant.Name, Arguments: json.RawMessage(variant.Input)}
			}
		}
	}
	resp.Text = text.String()
	return resp, nil
}
