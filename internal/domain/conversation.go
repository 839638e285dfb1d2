package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Role tags a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates ContentBlock variants.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one of TextBlock, ToolUseBlock or ToolResultBlock.
type ContentBlock interface {
	BlockType() BlockType
}

type TextBlock struct {
	Text string
}

type ToolUseBlock struct {
	ID    string
	Name  string
	Input json.RawMessage
}

type ToolResultBlock struct {
	ToolUseID string
	Content   string
	IsError   bool
}

func (TextBlock) BlockType() BlockType       { return BlockText }
func (ToolUseBlock) BlockType() BlockType    { return BlockToolUse }
func (ToolResultBlock) BlockType() BlockType { return BlockToolResult }

// Message is a role-tagged entry in the conversation history.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// TextMessage builds a single-block text message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{TextBlock{Text: text}}}
}

// Text joins the message's text blocks.
func (m Message) Text() string {
	parts := make([]string, 0, len(m.Content))
	for _, block := range m.Content {
		if text, ok := block.(TextBlock); ok && strings.TrimSpace(text.Text) != "" {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolSchema describes a tool offered to the generator.
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is a generator request to invoke a tool.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// StopReason reports why a generation round ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

// GenerationResult is one response from the generator.
type GenerationResult struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason StopReason
}

// Blocks renders the result as assistant content blocks, text first.
func (r GenerationResult) Blocks() []ContentBlock {
	blocks := make([]ContentBlock, 0, len(r.ToolCalls)+1)
	if strings.TrimSpace(r.Text) != "" {
		blocks = append(blocks, TextBlock{Text: r.Text})
	}
	for _, call := range r.ToolCalls {
		blocks = append(blocks, ToolUseBlock{ID: call.ID, Name: call.Name, Input: call.Input})
	}
	return blocks
}

// Submission is the structured record delivered over the submission side-channel.
type Submission struct {
	ConversationID string            `json:"conversationId"`
	Fields         map[string]string `json:"fields"`
	SubmittedAt    time.Time         `json:"submittedAt"`
}
