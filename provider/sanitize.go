package provider

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/banyanlabs/banyan/types"
)

// SanitizeText replaces lone UTF-16 surrogates and invalid UTF-8 byte
// sequences with the Unicode replacement character. Providers reject
// payloads containing unpaired surrogates, which can survive JSON round
// trips through less careful tooling (surrogates arrive as invalid UTF-8
// once decoded into a Go string).
func SanitizeText(s string) string {
	if utf8.ValidString(s) && !strings.ContainsFunc(s, utf16.IsSurrogate) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if (r == utf8.RuneError && size == 1) || utf16.IsSurrogate(r) {
			b.WriteRune(utf8.RuneError)
			i += size
			continue
		}
		b.WriteRune(r)
		i += size
	}
	return b.String()
}

// SanitizeMessages prepares the outgoing message list for a provider:
//
//   - lone surrogates in text and thinking content are replaced,
//   - empty text blocks are dropped,
//   - image blocks are dropped for text-only models,
//   - thinking blocks without a signature are demoted to text so the server
//     does not reject an unverifiable block on resubmission.
//
// The input is not mutated.
func SanitizeMessages(messages []types.Message, textOnly bool) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		m := msg
		m.Content = sanitizeBlocks(msg.Content, textOnly)
		if len(m.Content) == 0 && len(msg.Content) > 0 {
			// Message reduced to nothing; drop it rather than sending an
			// empty content list.
			continue
		}
		out = append(out, m)
	}
	return out
}

func sanitizeBlocks(blocks []types.ContentBlock, textOnly bool) []types.ContentBlock {
	out := make([]types.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case types.ContentTypeText:
			b.Text = SanitizeText(b.Text)
			if strings.TrimSpace(b.Text) == "" {
				continue
			}
		case types.ContentTypeThinking:
			if b.Signature == "" {
				text := SanitizeText(b.Thinking)
				if strings.TrimSpace(text) == "" {
					continue
				}
				b = types.ContentBlock{Type: types.ContentTypeText, Text: text}
			} else {
				b.Thinking = SanitizeText(b.Thinking)
			}
		case types.ContentTypeImage:
			if textOnly {
				continue
			}
		case types.ContentTypeToolResult:
			b.Parts = sanitizeBlocks(b.Parts, textOnly)
		}
		out = append(out, b)
	}
	return out
}
