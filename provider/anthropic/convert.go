package anthropic

import (
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/banyanlabs/banyan/provider"
	"github.com/banyanlabs/banyan/types"
)

// buildParams converts a neutral request into Anthropic message parameters.
func buildParams(req provider.Request) anthropic.MessageNewParams {
	maxTokens := int64(req.Options.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  convertMessages(req.Messages, req.Options.TextOnly),
	}

	if req.SystemPrompt != "" {
		system := anthropic.TextBlockParam{Text: req.SystemPrompt}
		if req.Options.CacheControl {
			system.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		params.System = []anthropic.TextBlockParam{system}
	}
	if req.Options.CacheControl {
		markLastUserBlockCached(params.Messages)
	}

	if tools := convertTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}
	if req.Options.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Options.Temperature)
	}
	if len(req.Options.StopSequences) > 0 {
		params.StopSequences = req.Options.StopSequences
	}
	if req.Options.ThinkingBudget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(req.Options.ThinkingBudget))
	}
	return params
}

func convertMessages(messages []types.Message, textOnly bool) []anthropic.MessageParam {
	messages = provider.SanitizeMessages(messages, textOnly)

	params := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		role := anthropic.MessageParamRoleUser
		if msg.Role == types.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}

		content := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Content))
		for _, block := range msg.Content {
			if p, ok := convertBlock(block); ok {
				content = append(content, p)
			}
		}
		if len(content) == 0 {
			continue
		}
		params = append(params, anthropic.MessageParam{Role: role, Content: content})
	}
	return params
}

func convertBlock(block types.ContentBlock) (anthropic.ContentBlockParamUnion, bool) {
	switch block.Type {
	case types.ContentTypeText:
		return anthropic.NewTextBlock(block.Text), true

	case types.ContentTypeThinking:
		return anthropic.NewThinkingBlock(block.Signature, block.Thinking), true

	case types.ContentTypeToolCall:
		var input any
		if len(block.Arguments) > 0 {
			_ = json.Unmarshal(block.Arguments, &input)
		}
		// The API requires a JSON object for tool input, never null.
		if input == nil {
			input = map[string]any{}
		}
		return anthropic.NewToolUseBlock(block.ID, input, block.Name), true

	case types.ContentTypeToolResult:
		return convertToolResult(block), true

	case types.ContentTypeImage:
		return anthropic.NewImageBlockBase64(block.MimeType, block.Data), true
	}
	return anthropic.ContentBlockParamUnion{}, false
}

func convertToolResult(block types.ContentBlock) anthropic.ContentBlockParamUnion {
	textOnly := true
	for _, part := range block.Parts {
		if part.Type != types.ContentTypeText {
			textOnly = false
			break
		}
	}
	if textOnly {
		var text string
		for _, part := range block.Parts {
			text += part.Text
		}
		return anthropic.NewToolResultBlock(block.ToolCallID, text, block.IsError)
	}

	content := make([]anthropic.ToolResultBlockParamContentUnion, 0, len(block.Parts))
	for _, part := range block.Parts {
		switch part.Type {
		case types.ContentTypeText:
			content = append(content, anthropic.ToolResultBlockParamContentUnion{
				OfText: &anthropic.TextBlockParam{Text: part.Text},
			})
		case types.ContentTypeImage:
			content = append(content, anthropic.ToolResultBlockParamContentUnion{
				OfImage: &anthropic.ImageBlockParam{
					Source: anthropic.ImageBlockParamSourceUnion{
						OfBase64: &anthropic.Base64ImageSourceParam{
							MediaType: anthropic.Base64ImageSourceMediaType(part.MimeType),
							Data:      part.Data,
						},
					},
				},
			})
		}
	}
	result := anthropic.ToolResultBlockParam{
		ToolUseID: block.ToolCallID,
		Content:   content,
	}
	if block.IsError {
		result.IsError = anthropic.Bool(true)
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: &result}
}

func convertTools(tools []provider.ToolDef) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	params := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema struct {
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		_ = json.Unmarshal(t.InputSchema, &schema)

		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       "object",
			Properties: schema.Properties,
		}
		if len(schema.Required) > 0 {
			inputSchema.Required = schema.Required
		}

		toolParam := anthropic.ToolParam{
			Name:        t.Name,
			Description: anthropic.String(t.Description),
			InputSchema: inputSchema,
		}
		params = append(params, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return params
}

// markLastUserBlockCached annotates the final content block of the most
// recent user message as an ephemeral cache breakpoint, so repeated turns
// reuse the prefix up to and including that block.
func markLastUserBlockCached(messages []anthropic.MessageParam) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != anthropic.MessageParamRoleUser {
			continue
		}
		content := messages[i].Content
		for j := len(content) - 1; j >= 0; j-- {
			switch {
			case content[j].OfText != nil:
				content[j].OfText.CacheControl = anthropic.NewCacheControlEphemeralParam()
			case content[j].OfToolResult != nil:
				content[j].OfToolResult.CacheControl = anthropic.NewCacheControlEphemeralParam()
			case content[j].OfImage != nil:
				content[j].OfImage.CacheControl = anthropic.NewCacheControlEphemeralParam()
			default:
				continue
			}
			return
		}
		return
	}
}

func convertStopReason(reason string) types.StopReason {
	switch reason {
	case "tool_use":
		return types.StopReasonToolUse
	case "max_tokens":
		return types.StopReasonLength
	case "end_turn", "stop_sequence", "pause_turn", "refusal":
		return types.StopReasonStop
	default:
		return types.StopReasonStop
	}
}
