package memoryworker

func stringArraySchema(description string) map[string]any {
	return map[string]any{
		"type":        "array",
		"items":       map[string]any{"type": "string"},
		"description": description,
	}
}

func summarySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"summary":        map[string]any{"type": "string", "description": "A concise summary of this conversation turn."},
			"themes":         stringArraySchema("Up to 5 themes discussed."),
			"persons":        stringArraySchema("Names of people mentioned."),
			"places":         stringArraySchema("Places mentioned."),
			"user_sentiment": map[string]any{"type": "string", "enum": []string{"positive", "neutral", "negative"}},
		},
		"required":             []string{"summary", "themes", "persons", "places", "user_sentiment"},
		"additionalProperties": false,
	}
}

func userMemorySchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"output_preferences":    stringArraySchema("How the user likes responses formatted."),
			"personal_preferences":  stringArraySchema("General personal preferences."),
			"assistant_preferences": stringArraySchema("How the user wants the assistant to behave."),
			"knowledge":             stringArraySchema("Facts the user has told the assistant."),
			"interests":             stringArraySchema("Topics the user is interested in."),
			"dislikes":              stringArraySchema("Things the user dislikes."),
			"family_and_friends":    stringArraySchema("People in the user's life."),
			"work_profile":          stringArraySchema("The user's job, employer, or professional context."),
			"goals":                 stringArraySchema("Goals the user has mentioned."),
		},
		"required": []string{
			"output_preferences", "personal_preferences", "assistant_preferences", "knowledge",
			"interests", "dislikes", "family_and_friends", "work_profile", "goals",
		},
		"additionalProperties": false,
	}
}
