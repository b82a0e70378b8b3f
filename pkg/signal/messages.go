package signal

import (
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// storedMessage is the run-conversation turn format persisted via
// SignalRunMessage.SerializedContent — a format independent of the
// provider SDK's own wire types, so swapping providers never requires
// a storage migration. role is one of "system", "user", "model".
type storedMessage struct {
	Role             string                  `json:"role"`
	Text             string                  `json:"text,omitempty"`
	FunctionCall     *storedFunctionCall     `json:"function_call,omitempty"`
	FunctionResponse *storedFunctionResponse `json:"function_response,omitempty"`
}

type storedFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type storedFunctionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response,omitempty"`
}

func marshalStoredMessage(m storedMessage) (json.RawMessage, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("signal: marshal stored message: %w", err)
	}
	return b, nil
}

func unmarshalStoredMessage(raw json.RawMessage) (storedMessage, error) {
	var m storedMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return storedMessage{}, fmt.Errorf("signal: unmarshal stored message: %w", err)
	}
	return m, nil
}

// toGenaiContent converts a non-system stored message into the
// content a genai request carries.
func (m storedMessage) toGenaiContent() *genai.Content {
	part := &genai.Part{}
	switch {
	case m.FunctionCall != nil:
		var args map[string]any
		_ = json.Unmarshal(m.FunctionCall.Args, &args)
		part.FunctionCall = &genai.FunctionCall{Name: m.FunctionCall.Name, Args: args}
	case m.FunctionResponse != nil:
		var resp map[string]any
		_ = json.Unmarshal(m.FunctionResponse.Response, &resp)
		part.FunctionResponse = &genai.FunctionResponse{Name: m.FunctionResponse.Name, Response: resp}
	default:
		part.Text = m.Text
	}
	return &genai.Content{Role: m.Role, Parts: []*genai.Part{part}}
}

func storedMessageFromText(role, text string) storedMessage {
	return storedMessage{Role: role, Text: text}
}

func storedMessageFromFunctionCall(fc *genai.FunctionCall) (storedMessage, error) {
	args, err := json.Marshal(fc.Args)
	if err != nil {
		return storedMessage{}, err
	}
	return storedMessage{Role: "model", FunctionCall: &storedFunctionCall{Name: fc.Name, Args: args}}, nil
}

func storedMessageFromFunctionResponse(name string, response map[string]any) (storedMessage, error) {
	b, err := json.Marshal(response)
	if err != nil {
		return storedMessage{}, err
	}
	return storedMessage{Role: "user", FunctionResponse: &storedFunctionResponse{Name: name, Response: b}}, nil
}
