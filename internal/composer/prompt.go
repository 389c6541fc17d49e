package composer

import (
	"fmt"
	"strings"
)

// MemoryStatus is reported to the model while long-term memory is not wired.
const MemoryStatus = "disabled (fallback mode)"

// TutorInstructions is the fixed system prompt of the synthesis model.
const TutorInstructions = `You are a math expert coach.

Your mission: help the student solve math problems and understand concepts through clear, comprehensive teaching.

Long-term memory is not available. Provide standard comprehensive responses:
- Focus on clear, detailed explanations
- Include comprehensive coverage of topics
- Provide general best practices and tips
- MAINTAIN CONTEXT: when the student refers to "previous problem" or "from earlier", use the conversation history provided

APPROACH:
1. Analyze the problem thoroughly
2. Use rag_search for worked problems on the same concepts
3. Use web_search for advanced techniques and references
4. Review the conversation history, if provided, for context
5. Provide a comprehensive solution

RESPONSE STRUCTURE:
- Problem Analysis: break down the question
- Concept Explanation: explain the underlying principles
- Step-by-Step Solution: detailed logical steps, so anyone reading understands the solution
- Alternative Methods: different approaches
- Key Formulas: important formulas used
- Common Mistakes: typical errors to avoid
- Related Topics: connected concepts
- Practice Recommendations: next steps
- Memory Insights: learning patterns (not available)
- Personalized Tips: general advice

QUALITY STANDARDS:
- Always use both rag_search and web_search
- Provide multiple solution methods when possible
- Include rigorous mathematical reasoning
- Emphasize understanding over memorization

Always end the practice recommendations with a question asking the student for feedback.`

// Input is what the enhanced query is assembled from.
type Input struct {
	SessionID   string
	QueryNumber int
	// Context is the rendered conversation history block.
	Context string
	Query   string
}

// Compose renders the enhanced query handed to the synthesis model: session
// metadata, the conversation history block, and the student's query.
func Compose(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session ID: %s\n", in.SessionID)
	fmt.Fprintf(&b, "Memory Status: %s\n", MemoryStatus)
	fmt.Fprintf(&b, "Query #%d\n\n", in.QueryNumber)
	b.WriteString(strings.TrimRight(in.Context, "\n"))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "CURRENT USER QUERY: %s\n\n", in.Query)
	b.WriteString("Please provide a comprehensive response using rag_search and web_search.\n")
	b.WriteString(`If the user refers to "previous problem", "from earlier", or similar context, use the conversation history above.`)
	return b.String()
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
