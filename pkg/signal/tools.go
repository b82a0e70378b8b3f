package signal

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"google.golang.org/genai"
)

// Tool names the pending worker dispatches on (step 4).
const (
	ToolGetFullSpanInfo      = "get_full_span_info"
	ToolSubmitIdentification = "submit_identification"
)

// validateStructuredOutputSchema compiles schema with
// santhosh-tekuri/jsonschema/v6 and reports whether it is a valid JSON
// Schema document. Nothing in this package calls it:
// buildToolDefinitions converts the schema by hand
// (jsonSchemaToGenaiSchema) without validating it.
func validateStructuredOutputSchema(schema json.RawMessage) error {
	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return fmt.Errorf("signal: structured_output_schema is not valid JSON: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("signal-output.json", doc); err != nil {
		return fmt.Errorf("signal: structured_output_schema: %w", err)
	}
	if _, err := c.Compile("signal-output.json"); err != nil {
		return fmt.Errorf("signal: structured_output_schema does not compile: %w", err)
	}
	return nil
}

// buildToolDefinitions builds the two tools exposed to every
// submission request (step 4): get_full_span_info lets the
// model request detail on specific spans by their 1-based position in
// the trace skeleton listing (see buildSpanIndex);
// submit_identification finalizes the run, carrying the signal's own
// structured_output_schema as its "data" parameter's schema.
func buildToolDefinitions(structuredOutputSchema json.RawMessage) (*genai.Tool, error) {
	dataSchema, err := jsonSchemaToGenaiSchema(structuredOutputSchema)
	if err != nil {
		return nil, fmt.Errorf("signal: convert structured_output_schema: %w", err)
	}

	getSpanInfo := &genai.FunctionDeclaration{
		Name:        ToolGetFullSpanInfo,
		Description: "Retrieve full input/output/attribute detail for one or more spans identified by their 1-based position in the trace skeleton listing.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"span_ids": {
					Type:  genai.TypeArray,
					Items: &genai.Schema{Type: genai.TypeInteger},
				},
			},
			Required: []string{"span_ids"},
		},
	}

	submitIdentification := &genai.FunctionDeclaration{
		Name:        ToolSubmitIdentification,
		Description: "Finalize the signal evaluation for this run: whether the configured condition was identified in the trace, and if so, the structured data describing it.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"identified": {Type: genai.TypeBoolean},
				"data":       dataSchema,
			},
			Required: []string{"identified"},
		},
	}

	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{getSpanInfo, submitIdentification},
	}, nil
}

// jsonSchemaToGenaiSchema converts a (typically object-shaped) JSON
// Schema document into the subset genai.Schema supports: type,
// description, properties, required, items, and enum. Unsupported
// keywords are dropped rather than rejected — the provider only needs
// enough structure to constrain tool-call arguments, not full JSON
// Schema semantics.
func jsonSchemaToGenaiSchema(raw json.RawMessage) (*genai.Schema, error) {
	if len(raw) == 0 {
		return &genai.Schema{Type: genai.TypeObject}, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return convertSchemaNode(doc), nil
}

func convertSchemaNode(doc map[string]any) *genai.Schema {
	s := &genai.Schema{}
	if t, ok := doc["type"].(string); ok {
		s.Type = jsonSchemaType(t)
	}
	if d, ok := doc["description"].(string); ok {
		s.Description = d
	}
	if enumRaw, ok := doc["enum"].([]any); ok {
		for _, v := range enumRaw {
			if str, ok := v.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
	}
	if props, ok := doc["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, v := range props {
			if child, ok := v.(map[string]any); ok {
				s.Properties[name] = convertSchemaNode(child)
			}
		}
	}
	if req, ok := doc["required"].([]any); ok {
		for _, v := range req {
			if str, ok := v.(string); ok {
				s.Required = append(s.Required, str)
			}
		}
	}
	if items, ok := doc["items"].(map[string]any); ok {
		s.Items = convertSchemaNode(items)
	}
	if s.Type == "" {
		s.Type = genai.TypeObject
	}
	return s
}

func jsonSchemaType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeObject
	}
}
