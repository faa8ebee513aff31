package llm

// Schema is the subset of JSON Schema the providers share.
type Schema struct {
	Type        string
	Description string
	Properties  map[string]*Schema
	Required    []string
	Items       *Schema
	Enum        []string
}

// Map renders the schema as a JSON Schema document.
func (s *Schema) Map() map[string]any {
	if s == nil {
		return nil
	}
	m := map[string]any{"type": s.Type}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.Map()
		}
		m["properties"] = props
	}
	if len(s.Required) > 0 {
		m["required"] = append([]string(nil), s.Required...)
	}
	if s.Items != nil {
		m["items"] = s.Items.Map()
	}
	if len(s.Enum) > 0 {
		m["enum"] = append([]string(nil), s.Enum...)
	}
	return m
}

// Tool is a function the model can be forced to call.
type Tool struct {
	Name        string
	Description string
	Parameters  *Schema
}

// ProposeChangesName is the function used to return final file contents.
const ProposeChangesName = "propose_changes"

// ProposeChangesTool describes the structured "propose changes" capability:
// an object with a required array "changes" of {filePath, action, content?}.
func ProposeChangesTool() Tool {
	return Tool{
		Name:        ProposeChangesName,
		Description: "Propose the final state of every file that must be created, modified or deleted.",
		Parameters: &Schema{
			Type: "object",
			Properties: map[string]*Schema{
				"changes": {
					Type:        "array",
					Description: "One entry per file.",
					Items: &Schema{
						Type: "object",
						Properties: map[string]*Schema{
							"filePath": {Type: "string", Description: "Path relative to the project root."},
							"action":   {Type: "string", Enum: []string{"CREATE", "MODIFY", "DELETE"}},
							"content":  {Type: "string", Description: "Complete file content. Required for CREATE and MODIFY."},
						},
						Required: []string{"filePath", "action"},
					},
				},
			},
			Required: []string{"changes"},
		},
	}
}
