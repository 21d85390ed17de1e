package agentloop

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/martinemde/coder/unifiedllm"
)

// Role identifies who produced a message.
type Role = unifiedllm.Role

const (
	RoleSystem    = unifiedllm.RoleSystem
	RoleUser      = unifiedllm.RoleUser
	RoleAssistant = unifiedllm.RoleAssistant
	RoleTool      = unifiedllm.RoleTool
)

// Message is one entry in a conversation. ToolCallID is set exactly when
// Role is RoleTool; ToolCalls is only set on assistant messages.
type Message struct {
	Role       Role                  `yaml:"role"`
	Content    string                `yaml:"content"`
	ToolCallID string                `yaml:"tool_call_id,omitempty"`
	ToolCalls  []unifiedllm.ToolCall `yaml:"tool_calls,omitempty"`
}

func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func AssistantMessage(content string, calls []unifiedllm.ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

func ToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// Metadata describes the session a conversation belongs to.
type Metadata struct {
	RepositoryPath string   `yaml:"repository_path"`
	Model          string   `yaml:"model"`
	Provider       string   `yaml:"provider"`
	FilesReviewed  []string `yaml:"files_reviewed"`
	// MaxTokens bounds the transmitted view; nil means unbounded.
	MaxTokens *int `yaml:"max_tokens,omitempty"`
	// PinSystemMessage keeps a leading system message in the bounded view
	// whenever it fits the budget on its own.
	PinSystemMessage bool `yaml:"pin_system_message"`
}

// Conversation is an append-only message log.
type Conversation struct {
	ID        string    `yaml:"id"`
	CreatedAt time.Time `yaml:"created_at"`
	Messages  []Message `yaml:"messages"`
	Metadata  Metadata  `yaml:"metadata"`
}

// NewConversation starts an empty conversation.
func NewConversation(meta Metadata) *Conversation {
	return &Conversation{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		Metadata:  meta,
	}
}

// AddMessage appends msg.
func (c *Conversation) AddMessage(msg Message) {
	c.Messages = append(c.Messages, msg)
}

// AddReviewedFile records that path was read, once.
func (c *Conversation) AddReviewedFile(path string) {
	for _, p := range c.Metadata.FilesReviewed {
		if p == path {
			return
		}
	}
	c.Metadata.FilesReviewed = append(c.Metadata.FilesReviewed, path)
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.Messages)
}

// Clone returns a deep copy, safe to hand to a failure handler.
func (c *Conversation) Clone() *Conversation {
	clone := *c
	clone.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		if m.ToolCalls != nil {
			m.ToolCalls = append([]unifiedllm.ToolCall(nil), m.ToolCalls...)
		}
		clone.Messages[i] = m
	}
	clone.Metadata.FilesReviewed = append([]string(nil), c.Metadata.FilesReviewed...)
	if c.Metadata.MaxTokens != nil {
		n := *c.Metadata.MaxTokens
		clone.Metadata.MaxTokens = &n
	}
	return &clone
}

// messageTokens counts the tokens a message occupies on the wire.
func messageTokens(counter unifiedllm.TokenCounter, model string, m Message) (int, error) {
	n, err := counter.CountTokens(model, m.Content)
	if err != nil {
		return 0, err
	}
	for _, tc := range m.ToolCalls {
		k, err := counter.CountTokens(model, tc.Name+string(tc.Arguments))
		if err != nil {
			return 0, err
		}
		n += k
	}
	return n, nil
}

// BoundedView returns the messages to transmit. Without a budget it is the
// whole log. With one, it is the longest suffix whose token total fits,
// preceded by the leading system message when pinning is on and that
// message fits by itself.
func (c *Conversation) BoundedView(counter unifiedllm.TokenCounter) ([]Message, error) {
	if c.Metadata.MaxTokens == nil {
		out := make([]Message, len(c.Messages))
		copy(out, c.Messages)
		return out, nil
	}
	budget := *c.Metadata.MaxTokens
	model := c.Metadata.Model

	count := func(m Message) (int, error) {
		n, err := messageTokens(counter, model, m)
		if err != nil {
			return 0, newError(KindTokenization, "bounded_view", "tokenizer unavailable", err)
		}
		return n, nil
	}

	messages := c.Messages
	var pinned []Message
	if c.Metadata.PinSystemMessage && len(messages) > 0 && messages[0].Role == RoleSystem {
		cost, err := count(messages[0])
		if err != nil {
			return nil, err
		}
		if cost <= budget {
			pinned = messages[:1]
			budget -= cost
		}
		messages = messages[1:]
	}

	total := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		cost, err := count(messages[i])
		if err != nil {
			return nil, err
		}
		if total+cost > budget {
			break
		}
		total += cost
		start = i
	}

	out := make([]Message, 0, len(pinned)+len(messages)-start)
	out = append(out, pinned...)
	out = append(out, messages[start:]...)
	return out, nil
}

// String renders the conversation for debugging and failure reports.
func (c *Conversation) String() string {
	var sb strings.Builder
	sb.WriteString("Conversation {\n")
	fmt.Fprintf(&sb, "  id: %s\n", c.ID)
	fmt.Fprintf(&sb, "  created: %s\n", c.CreatedAt.Format(time.RFC3339))
	sb.WriteString("  messages: [\n")
	for _, m := range c.Messages {
		fmt.Fprintf(&sb, "    %s", m.Role)
		if m.ToolCallID != "" {
			fmt.Fprintf(&sb, " (%s)", m.ToolCallID)
		}
		fmt.Fprintf(&sb, ": %s\n", m.Content)
		for _, tc := range m.ToolCalls {
			fmt.Fprintf(&sb, "      -> %s %s %s\n", tc.ID, tc.Name, string(tc.Arguments))
		}
	}
	sb.WriteString("  ]\n")
	fmt.Fprintf(&sb, "  repository: %s\n", c.Metadata.RepositoryPath)
	fmt.Fprintf(&sb, "  model: %s/%s\n", c.Metadata.Provider, c.Metadata.Model)
	fmt.Fprintf(&sb, "  files_reviewed: %v\n", c.Metadata.FilesReviewed)
	sb.WriteString("}")
	return sb.String()
}
