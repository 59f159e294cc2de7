package openai

import (
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/banyanlabs/banyan/provider"
	"github.com/banyanlabs/banyan/types"
)

// buildRequest converts a neutral request into a Chat Completions request.
func buildRequest(req provider.Request) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: convertMessages(req),
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if req.Options.MaxTokens > 0 {
		chatReq.MaxTokens = req.Options.MaxTokens
	}
	if req.Options.Temperature != nil {
		chatReq.Temperature = float32(*req.Options.Temperature)
	}
	if len(req.Options.StopSequences) > 0 {
		chatReq.Stop = req.Options.StopSequences
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertTools(req.Tools)
	}
	return chatReq
}

// convertMessages flattens the neutral message list into Chat Completions
// messages. The system prompt becomes the leading system message, and every
// tool result becomes its own role-"tool" message, as the API requires.
func convertMessages(req provider.Request) []openai.ChatCompletionMessage {
	messages := provider.SanitizeMessages(req.Messages, req.Options.TextOnly)

	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case types.RoleAssistant:
			out = append(out, convertAssistant(msg))
		default:
			out = append(out, convertUser(msg)...)
		}
	}
	return out
}

func convertAssistant(msg types.Message) openai.ChatCompletionMessage {
	m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
	for _, block := range msg.Content {
		switch block.Type {
		case types.ContentTypeText:
			m.Content += block.Text
		case types.ContentTypeToolCall:
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   block.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      block.Name,
					Arguments: string(block.Arguments),
				},
			})
		}
		// Thinking blocks are not resubmittable through this API.
	}
	return m
}

// convertUser turns a user-side message into one or more API messages: tool
// result blocks each become a role-"tool" message, everything else is folded
// into a single user message.
func convertUser(msg types.Message) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	var parts []openai.ChatMessagePart
	var text string
	hasImage := false

	for _, block := range msg.Content {
		switch block.Type {
		case types.ContentTypeText:
			text += block.Text
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: block.Text,
			})
		case types.ContentTypeImage:
			hasImage = true
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    fmt.Sprintf("data:%s;base64,%s", block.MimeType, block.Data),
					Detail: openai.ImageURLDetailAuto,
				},
			})
		case types.ContentTypeToolResult:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				ToolCallID: block.ToolCallID,
				Content:    toolResultText(block),
			})
		}
	}

	if len(parts) > 0 {
		user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
		if hasImage {
			user.MultiContent = parts
		} else {
			user.Content = text
		}
		out = append(out, user)
	}
	return out
}

func toolResultText(block types.ContentBlock) string {
	var text string
	for _, part := range block.Parts {
		if part.Type == types.ContentTypeText {
			text += part.Text
		}
	}
	if text == "" && block.IsError {
		text = "tool execution failed"
	}
	return text
}

func convertTools(tools []provider.ToolDef) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		}
	}
	return out
}

func convertFinishReason(reason openai.FinishReason) types.StopReason {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return types.StopReasonToolUse
	case openai.FinishReasonLength:
		return types.StopReasonLength
	default:
		return types.StopReasonStop
	}
}
