package guardrail

import "github.com/kalambet/mathcoach/internal/engine"

const inputInstructions = `You are a mathematics input validator. Your output must be ONLY a single valid JSON object that conforms to the provided schema.

Check if the query is:
1. Related to mathematics (any level from basic to advanced)
2. An appropriate educational question

ACCEPT:
- All math topics (algebra, calculus, geometry, statistics, etc.)
- Concept explanations and clarifications
- Problem-solving questions
- Solution methods and approaches
- Math theory questions

REJECT:
- Non-math topics
- Inappropriate content
- Off-topic queries

Keep validation simple and focused.`

const outputInstructions = `You are a very lenient output validator for mathematics responses. Your output must be ONLY a single valid JSON object that conforms to the provided schema.

ACCEPT almost all responses unless they are completely inappropriate or empty.
Only REJECT if:
- Response is completely empty or gibberish
- Response is completely unrelated to mathematics
- Contains no actual mathematical content

Be very generous and forgiving. Focus only on basic structure validation.`

func buildMessages(instructions, subject string) []engine.Message {
	return []engine.Message{
		{Role: "system", Content: instructions},
		{Role: "user", Content: subject},
	}
}

func validationSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"is_subject_relevant": {Type: "boolean", Description: "Whether the text is about mathematics"},
			"is_appropriate":      {Type: "boolean", Description: "Whether the text is appropriate educational content"},
			"reasoning":           {Type: "string", Description: "One sentence explaining the verdict"},
		},
		Required: []string{"is_subject_relevant", "is_appropriate", "reasoning"},
	}
}
