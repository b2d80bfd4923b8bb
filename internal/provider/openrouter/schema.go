package openrouter

// BuildRecordJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a
// generic map. It is sent to the model as the output contract and used
// locally to validate the reply.
func BuildRecordJSONSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"materials":       stringArrayProp(),
			"standards":       stringArrayProp(),
			"roughnessValues": map[string]any{"type": "array", "items": map[string]any{"type": "number", "exclusiveMinimum": 0.0}},
			"fits":            stringArrayProp(),
			"heatTreatments":  stringArrayProp(),
			"rawText":         map[string]any{"type": "string"},
		},
		"required": []string{"materials", "standards", "roughnessValues", "fits", "heatTreatments", "rawText"},
	}
}

func stringArrayProp() map[string]any {
	return map[string]any{
		"type":  "array",
		"items": map[string]any{"type": "string", "minLength": 1},
	}
}
