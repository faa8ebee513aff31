// Package source reads user input from a pipe or the system clipboard.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
)

// ErrEmpty is returned when the chosen source has no content.
var ErrEmpty = errors.New("no input")

// Origin names where content came from.
type Origin string

const (
	OriginArgs      Origin = "arguments"
	OriginStdin     Origin = "stdin"
	OriginClipboard Origin = "clipboard"
)

// Provider reads from stdin when it is piped, otherwise from the clipboard.
type Provider struct {
	Stdin         *os.File
	readClipboard func() (string, error)
}

// New creates a Provider reading os.Stdin.
func New() *Provider {
	return &Provider{Stdin: os.Stdin, readClipboard: clipboard.ReadAll}
}

func (p *Provider) piped() bool {
	if p.Stdin == nil {
		return false
	}
	stat, err := p.Stdin.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice == 0
}

// Content returns args joined by spaces when present, else stdin or clipboard content.
func (p *Provider) Content(args []string) (string, Origin, error) {
	if text := strings.TrimSpace(strings.Join(args, " ")); text != "" {
		return text, OriginArgs, nil
	}
	if p.piped() {
		data, err := io.ReadAll(p.Stdin)
		if err != nil {
			return "", OriginStdin, fmt.Errorf("failed to read from stdin: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", OriginStdin, ErrEmpty
		}
		return string(data), OriginStdin, nil
	}

	read := p.readClipboard
	if read == nil {
		read = clipboard.ReadAll
	}
	content, err := read()
	if err != nil {
		return "", OriginClipboard, fmt.Errorf("failed to read from clipboard: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		return "", OriginClipboard, ErrEmpty
	}
	return content, OriginClipboard, nil
}
