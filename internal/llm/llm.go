// Package llm is the model capability used by chat and consolidation: plain
// completion and a forced single function call, over several providers.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// Role of a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single prompt turn.
type Message struct {
	Role    Role
	Content string
}

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant builds an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// FunctionCall is a structured tool invocation returned by the model.
type FunctionCall struct {
	Name      string
	Arguments json.RawMessage
}

// Response is the result of CallFunction: either a call or plain text.
type Response struct {
	Call *FunctionCall
	Text string
}

// Client is the capability every provider implements.
type Client interface {
	// Complete returns the model's text reply.
	Complete(ctx context.Context, messages []Message) (string, error)
	// CallFunction asks the model to invoke tool. Models may still answer
	// with text, which is returned in Response.Text.
	CallFunction(ctx context.Context, messages []Message, tool Tool) (Response, error)
}

// APIError is a failed provider request.
type APIError struct {
	Provider  string
	Status    int
	Transient bool
	Err       error
}

func (e *APIError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s request failed with status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Transient
}

func transientStatus(status int) bool {
	switch status {
	case 408, 409, 425, 429, 500, 502, 503, 504, 529:
		return true
	}
	return false
}

func transientTransport(err error) bool {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "overloaded")
}

// wrapError classifies a provider error. status is the HTTP status when the
// SDK exposed one, zero otherwise. Context cancellation passes through unchanged.
func wrapError(provider string, status int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	transient := false
	if status > 0 {
		transient = transientStatus(status)
	} else {
		transient = transientTransport(err)
	}
	return &APIError{Provider: provider, Status: status, Transient: transient, Err: err}
}

// splitSystem separates system messages, which every provider takes out of band.
func splitSystem(messages []Message) (string, []Message) {
	var system []string
	var rest []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, s)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
