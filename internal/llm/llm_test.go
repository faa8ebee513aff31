package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"
)

func TestWrapErrorClassification(t *testing.T) {
	base := errors.New("boom")
	cases := []struct {
		name      string
		status    int
		err       error
		transient bool
	}{
		{"rate limited", 429, base, true},
		{"overloaded", 529, base, true},
		{"bad gateway", 502, base, true},
		{"bad request", 400, base, false},
		{"unauthorized", 401, base, false},
		{"network", 0, &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"unknown", 0, base, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := wrapError("test", tc.status, tc.err)
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, tc.transient, IsTransient(err))
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestWrapErrorKeepsCancellation(t *testing.T) {
	err := wrapError("test", 0, fmt.Errorf("post: %w", context.Canceled))
	assert.ErrorIs(t, err, context.Canceled)
	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
	assert.Nil(t, wrapError("test", 0, nil))
}

func TestSplitSystem(t *testing.T) {
	system, rest := splitSystem([]Message{System("a"), User("u"), System(" b "), Assistant("x")})
	assert.Equal(t, "a\n\nb", system)
	assert.Equal(t, []Message{User("u"), Assistant("x")}, rest)
}

func TestProposeChangesSchema(t *testing.T) {
	tool := ProposeChangesTool()
	data, err := json.Marshal(tool.Parameters.Map())
	require.NoError(t, err)

	var doc struct {
		Type       string   `json:"type"`
		Required   []string `json:"required"`
		Properties struct {
			Changes struct {
				Type  string `json:"type"`
				Items struct {
					Required   []string `json:"required"`
					Properties struct {
						Action struct {
							Enum []string `json:"enum"`
						} `json:"action"`
					} `json:"properties"`
				} `json:"items"`
			} `json:"changes"`
		} `json:"properties"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "object", doc.Type)
	assert.Equal(t, []string{"changes"}, doc.Required)
	assert.Equal(t, "array", doc.Properties.Changes.Type)
	assert.Equal(t, []string{"filePath", "action"}, doc.Properties.Changes.Items.Required)
	assert.Equal(t, []string{"CREATE", "MODIFY", "DELETE"}, doc.Properties.Changes.Items.Properties.Action.Enum)
}

func TestToGenaiSchema(t *testing.T) {
	s := toGenaiSchema(ProposeChangesTool().Parameters)
	assert.Equal(t, genai.TypeObject, s.Type)
	changes := s.Properties["changes"]
	require.NotNil(t, changes)
	assert.Equal(t, genai.TypeArray, changes.Type)
	assert.Equal(t, genai.TypeString, changes.Items.Properties["content"].Type)
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(context.Background(), Options{Provider: "anthropic"}, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	_, err = New(context.Background(), Options{Provider: "llama", APIKey: "k"}, nil)
	assert.ErrorContains(t, err, "unsupported provider")

	c, err := New(context.Background(), Options{Provider: "OpenAI", APIKey: "k"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NotNil(t, c)
	assert.Equal(t, "gpt-4.1", DefaultModel("openai"))
}

type stubClient struct {
	text string
	err  error
}

func (s stubClient) Complete(context.Context, []Message) (string, error) { return s.text, s.err }

func (s stubClient) CallFunction(context.Context, []Message, Tool) (Response, error) {
	return Response{Text: s.text}, s.err
}

func TestWithLoggingPassesThrough(t *testing.T) {
	c := WithLogging(stubClient{text: "hi"}, zaptest.NewLogger(t))
	got, err := c.Complete(context.Background(), []Message{User("x")})
	require.NoError(t, err)
	assert.Equal(t, "hi", got)

	failing := WithLogging(stubClient{err: &APIError{Provider: "p", Status: 429, Transient: true, Err: errors.New("slow down")}}, zaptest.NewLogger(t))
	_, err = failing.CallFunction(context.Background(), nil, ProposeChangesTool())
	assert.True(t, IsTransient(err))
}
