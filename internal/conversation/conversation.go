// Package conversation stores the append-only log of a coding session.
//
// The log is newline-delimited JSON. Chat turns are "message" records; the
// consolidation pipeline adds "system" records on every stage transition and
// "error" records before a fatal error is returned, so the file explains what
// the tool did and not only what was said.
package conversation

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Record types written to the log.
const (
	TypeMessage = "message"
	TypeSystem  = "system"
	TypeError   = "error"
)

// Entry is one line of the log.
type Entry struct {
	Type      string    `json:"type"`
	Role      Role      `json:"role,omitempty"`
	Content   string    `json:"content,omitempty"`
	Error     string    `json:"error,omitempty"`
	// Raw is the model output behind an error, when there is one.
	Raw       string    `json:"raw,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Message is a turn of the reconstructed conversation.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// Conversation is the ordered message sequence read back from a log.
type Conversation struct {
	Messages []Message
}

// Transcript renders the conversation as plain text for prompts.
func (c Conversation) Transcript() string {
	var b strings.Builder
	for _, m := range c.Messages {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", m.Role, strings.TrimSpace(m.Content))
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

// Chat returns only the user and assistant turns, the part that is sent to a model.
func (c Conversation) Chat() []Message {
	var out []Message
	for _, m := range c.Messages {
		if m.Role == RoleUser || m.Role == RoleAssistant {
			out = append(out, m)
		}
	}
	return out
}

// Log appends entries to a file. It is safe for concurrent use.
type Log struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open returns a Log for path. The file and its directory are created on first write.
func Open(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// Path returns the file backing the log.
func (l *Log) Path() string {
	return l.path
}

// Append writes one entry, stamping it when Timestamp is zero.
func (l *Log) Append(e Entry) error {
	if e.Type == "" {
		return errors.New("conversation entry has no type")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode conversation entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// AddMessage appends a chat turn.
func (l *Log) AddMessage(role Role, content string) error {
	return l.Append(Entry{Type: TypeMessage, Role: role, Content: content})
}

// System appends a system-role entry describing what the tool is doing.
func (l *Log) System(content string) error {
	return l.Append(Entry{Type: TypeSystem, Role: RoleSystem, Content: content})
}

// rawOutputError is implemented by errors that carry the model output
// they were raised for.
type rawOutputError interface {
	error
	RawOutput() string
}

// Error appends an error entry. Model output carried by err is stored
// alongside the message.
func (l *Log) Error(stage string, err error) error {
	e := Entry{Type: TypeError, Role: RoleSystem, Content: stage, Error: err.Error()}
	var raw rawOutputError
	if errors.As(err, &raw) {
		e.Raw = raw.RawOutput()
	}
	return l.Append(e)
}

// Entries reads every entry in order. A missing file yields none.
func (l *Log) Entries() ([]Entry, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return out, fmt.Errorf("%s:%d: %w", l.path, line, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// Load reconstructs the conversation. Error entries are kept as system
// messages so a transcript shows why earlier runs stopped.
func (l *Log) Load() (Conversation, error) {
	entries, err := l.Entries()
	if err != nil {
		return Conversation{}, err
	}
	var c Conversation
	for _, e := range entries {
		m := Message{Role: e.Role, Content: e.Content, Timestamp: e.Timestamp}
		switch e.Type {
		case TypeMessage:
			if m.Role == "" {
				m.Role = RoleUser
			}
		case TypeSystem:
			m.Role = RoleSystem
		case TypeError:
			m.Role = RoleSystem
			m.Content = fmt.Sprintf("%s failed: %s", e.Content, e.Error)
		default:
			continue
		}
		c.Messages = append(c.Messages, m)
	}
	return c, nil
}
