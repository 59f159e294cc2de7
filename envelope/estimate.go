package envelope

import "github.com/banyanlabs/banyan/types"

// perMessageOverhead approximates role and framing tokens per message.
const perMessageOverhead = 4

// EstimateTokens approximates the token count of the envelope using the
// chars/4 heuristic. It is intentionally conservative: base64 image data is
// counted at full length.
func EstimateTokens(env Envelope) int {
	total := len(env.SystemPrompt) / 4
	for i := range env.Messages {
		total += EstimateMessageTokens(&env.Messages[i])
	}
	for _, t := range env.Tools {
		total += (len(t.Name) + len(t.Description) + len(t.InputSchema)) / 4
	}
	return total
}

// EstimateMessageTokens approximates the token count of one message.
func EstimateMessageTokens(msg *types.Message) int {
	return perMessageOverhead + charLen(msg.Content)/4
}

func charLen(blocks []types.ContentBlock) int {
	n := 0
	for _, b := range blocks {
		n += len(b.Text) + len(b.Thinking) + len(b.Arguments) + len(b.Data)
		n += charLen(b.Parts)
	}
	return n
}
