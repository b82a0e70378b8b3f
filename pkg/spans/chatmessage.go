package spans

import (
	"encoding/json"
	"fmt"
)

// ContentPart is a flat rendering of the Rust tagged enum
// ChatMessageContentPart (language_model/chat_message.rs): Type
// discriminates which of the fields are populated. A flat struct with
// omitempty tags avoids hand-rolled UnmarshalJSON/MarshalJSON for what
// is, in Go, a plain interop union.
type ContentPart struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// image_url / document_url
	URL    string `json:"url,omitempty"`
	Detail string `json:"detail,omitempty"`

	// image / document (inline base64)
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	// tool_call
	Name      string          `json:"name,omitempty"`
	ID        string          `json:"id,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

const (
	ContentPartText       = "text"
	ContentPartImageURL   = "image_url"
	ContentPartImage      = "image"
	ContentPartDocument   = "document"
	ContentPartDocumentURL = "document_url"
	ContentPartToolCall   = "tool_call"
)

// ChatMessageContent is either plain text or a list of typed content
// parts (Rust's untagged Text(String) | ContentPartList(Vec<...>)).
type ChatMessageContent struct {
	Text  string
	Parts []ContentPart
}

// MarshalJSON renders Text when Parts is nil, else the part list (an
// empty non-nil Parts renders as []).
func (c ChatMessageContent) MarshalJSON() ([]byte, error) {
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

func (c *ChatMessageContent) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.Parts = nil
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("spans: chat message content is neither a string nor a part list: %w", err)
	}
	c.Parts = parts
	return nil
}

// ChatMessage is one reconstructed turn, mirroring
// language_model/chat_message.rs's ChatMessage.
type ChatMessage struct {
	Role       string              `json:"role"`
	Content    ChatMessageContent  `json:"content"`
	ToolCallID *string             `json:"tool_call_id,omitempty"`
}

// reconstructInput builds the ordered chat-message sequence for a
// span's input, trying schemas in precedence order:
// explicit lmnr.span.input > indexed gen_ai.prompt.N > SDK-style
// ai.prompt.messages > LiteLLM SpanAttributes.LLM_PROMPTS.N >
// traceloop.entity.input (raw string, no JSON assumed).
func reconstructInput(attrs Attrs) (json.RawMessage, bool) {
	if raw, ok := attrs.getString(attrInput); ok {
		return parseOrRawString(raw), true
	}
	if msgs, ok := inputChatMessagesFromPrefix(attrs, attrGenAIPromptPrefix); ok {
		return marshalMessages(msgs), true
	}
	if raw, ok := attrs.getString(attrAISDKPromptMessages); ok {
		return parseOrRawString(raw), true
	}
	if msgs, ok := inputChatMessagesFromPrefix(attrs, attrLiteLLMPromptsPrefix); ok {
		return marshalMessages(msgs), true
	}
	if raw, ok := attrs.getString(attrTraceloopEntityInput); ok {
		b, _ := json.Marshal(raw)
		return b, true
	}
	return nil, false
}

// reconstructOutput is reconstructInput's output-side counterpart.
func reconstructOutput(attrs Attrs) (json.RawMessage, bool) {
	if raw, ok := attrs.getString(attrOutput); ok {
		return parseOrRawString(raw), true
	}
	if out, ok := outputFromCompletionPrefix(attrs, attrGenAICompletionPrefix, false); ok {
		return out, true
	}
	if text, ok := attrs.getString(attrAISDKResponseText); ok {
		b, _ := json.Marshal(text)
		return b, true
	}
	if out, ok := outputFromCompletionPrefix(attrs, attrLiteLLMCompletionsPrefix, false); ok {
		return out, true
	}
	if raw, ok := attrs.getString(attrTraceloopEntityOutput); ok {
		b, _ := json.Marshal(raw)
		return b, true
	}
	return nil, false
}

// parseOrRawString parses s as JSON when possible, else wraps it as a
// JSON string literal (step 2: "parsing JSON when possible
// and falling back to the raw string").
func parseOrRawString(s string) json.RawMessage {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return json.RawMessage(b)
}

func marshalMessages(msgs []ChatMessage) json.RawMessage {
	b, err := json.Marshal(msgs)
	if err != nil {
		return json.RawMessage("[]")
	}
	return b
}

// inputChatMessagesFromPrefix loops index i while "{prefix}{i}.content"
// exists, defaulting role to "user" — input_chat_messages_from_prompt_content
// in traces/spans.rs.
func inputChatMessagesFromPrefix(attrs Attrs, prefix string) ([]ChatMessage, bool) {
	var messages []ChatMessage
	for i := 0; ; i++ {
		contentKey := fmt.Sprintf("%s%d.content", prefix, i)
		content, ok := attrs.getString(contentKey)
		if !ok {
			break
		}

		role := "user"
		if r, ok := attrs.getString(fmt.Sprintf("%s%d.role", prefix, i)); ok {
			role = r
		}

		var parts []ContentPart
		if err := json.Unmarshal([]byte(content), &parts); err == nil {
			messages = append(messages, ChatMessage{Role: role, Content: ChatMessageContent{Parts: parts}})
		} else {
			messages = append(messages, ChatMessage{Role: role, Content: ChatMessageContent{Text: content}})
		}
	}
	if len(messages) == 0 {
		return nil, false
	}
	return messages, true
}

// outputFromCompletionPrefix mirrors output_from_completion_content:
// an optional text message plus a (possibly indexed) list of tool
// calls, concatenated as content parts of a single assistant message.
func outputFromCompletionPrefix(attrs Attrs, prefix string, useIndexInTools bool) (json.RawMessage, bool) {
	text, hasText := attrs.getString(prefix + "0.content")

	var parts []ContentPart
	if hasText && text != "" {
		parts = append(parts, ContentPart{Type: ContentPartText, Text: text})
	}

	for i := 0; ; i++ {
		nameKey := fmt.Sprintf("%s0.tool_calls.%d.name", prefix, i)
		if !useIndexInTools && i > 0 {
			break
		}
		name, ok := attrs.getString(nameKey)
		if !ok {
			break
		}
		id, _ := attrs.getString(fmt.Sprintf("%s0.tool_calls.%d.id", prefix, i))
		argsRaw, _ := attrs.getString(fmt.Sprintf("%s0.tool_calls.%d.arguments", prefix, i))

		var args json.RawMessage
		if argsRaw != "" {
			if json.Valid([]byte(argsRaw)) {
				args = json.RawMessage(argsRaw)
			} else {
				b, _ := json.Marshal(argsRaw)
				args = b
			}
		}
		parts = append(parts, ContentPart{Type: ContentPartToolCall, Name: name, ID: id, Arguments: args})
	}

	if len(parts) == 0 {
		return nil, false
	}
	msg := ChatMessage{Role: "assistant", Content: ChatMessageContent{Parts: parts}}
	return marshalMessages([]ChatMessage{msg}), true
}
