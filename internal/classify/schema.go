package classify

// Categories is the document taxonomy the classifier must pick from.
var Categories = []string{
	"financial",
	"legal",
	"medical",
	"identity",
	"correspondence",
	"other",
}

// BuildClassificationJSONSchema returns a JSON-Schema (draft 2020-12 subset)
// as a generic map. We pass it to the model as a structured output constraint
// and also use it locally to validate the response.
func BuildClassificationJSONSchema() map[string]any {
	props := map[string]any{
		"summary":        map[string]any{"type": "string", "minLength": 1},
		"classification": map[string]any{"type": "string", "minLength": 1},
		"category": map[string]any{
			"type": "string",
			"enum": Categories,
		},
		"relevant_dates": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		},
		"pages_count": map[string]any{"type": "integer", "minimum": 0},
		"contact": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string", "minLength": 1},
		},
	}
	required := []string{"summary", "classification", "category"}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}
