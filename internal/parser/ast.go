package parser

import (
	"bytes"
	"strings"
	"unicode"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// CodeBlock is one fenced block of a markdown document.
type CodeBlock struct {
	// Lang is the first word of the info string, lowercased.
	Lang    string
	Content string
}

// ExtractCodeBlocks returns the fenced code blocks of source in document order.
func ExtractCodeBlocks(source []byte) ([]CodeBlock, error) {
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	var blocks []CodeBlock
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		fence, ok := n.(*ast.FencedCodeBlock)
		if !entering || !ok {
			return ast.WalkContinue, nil
		}
		blocks = append(blocks, CodeBlock{
			Lang:    strings.ToLower(string(fence.Language(source))),
			Content: blockBody(fence, source),
		})
		return ast.WalkSkipChildren, nil
	})
	if err != nil {
		return nil, err
	}
	return blocks, nil
}

func blockBody(n ast.Node, source []byte) string {
	var buf bytes.Buffer
	segs := n.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		buf.Write(seg.Value(source))
	}
	return buf.String()
}

func isFenceLine(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~")
}

// UnwrapFence returns the body of a fenced code block.
//
// Text that starts and ends with a fence line is unwrapped by dropping those
// two lines, so fences nested in the body survive. Otherwise the first fenced
// block found in surrounding prose is returned. Text without fences loses
// its leading blank lines and trailing whitespace but keeps indentation.
func UnwrapFence(s string) string {
	normalized := strings.ReplaceAll(s, "\r\n", "\n")
	trimmed := strings.TrimSpace(normalized)
	lines := strings.Split(trimmed, "\n")

	if len(lines) >= 2 && isFenceLine(lines[0]) && isFenceLine(lines[len(lines)-1]) &&
		strings.TrimSpace(lines[len(lines)-1])[3:] == "" {
		body := strings.Join(lines[1:len(lines)-1], "\n")
		if body == "" {
			return ""
		}
		return body + "\n"
	}

	if !strings.Contains(trimmed, "```") && !strings.Contains(trimmed, "~~~") {
		return trimBlankLines(normalized)
	}
	blocks, err := ExtractCodeBlocks([]byte(trimmed))
	if err != nil || len(blocks) == 0 {
		return trimmed
	}
	return blocks[0].Content
}

func trimBlankLines(s string) string {
	s = strings.TrimRightFunc(s, unicode.IsSpace)
	start := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsSpace(r) })
	if start < 0 {
		return ""
	}
	return s[strings.LastIndexByte(s[:start], '\n')+1:]
}
