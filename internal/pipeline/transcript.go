package pipeline

import (
	"fmt"
	"strings"

	"github.com/kalambet/mathcoach/internal/synthesis"
)

const transcriptMemoryStatus = "disabled (using session context)"

// FormatTranscript renders a structured response as the human-readable
// transcript stored in session history and shown to the student.
func FormatTranscript(r synthesis.StructuredResponse, queryNumber int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Memory Status: %s\n", transcriptMemoryStatus)
	fmt.Fprintf(&b, "Query #%d\n\n", queryNumber)

	section(&b, "PROBLEM ANALYSIS", r.ProblemAnalysis)
	section(&b, "CONCEPT EXPLANATION", r.ConceptExplanation)
	section(&b, "STEP-BY-STEP SOLUTION", r.StepByStepSolution)

	methods := "Standard method provided above"
	if len(r.AlternativeMethods) > 0 {
		lines := make([]string, len(r.AlternativeMethods))
		for i, m := range r.AlternativeMethods {
			lines[i] = fmt.Sprintf("Method %d: %s", i+1, m)
		}
		methods = strings.Join(lines, "\n")
	}
	section(&b, "ALTERNATIVE METHODS", methods)
	section(&b, "KEY FORMULAS USED", bullets(r.KeyFormulasUsed, "Basic math formulas"))
	section(&b, "COMMON MISTAKES TO AVOID", bullets(r.CommonMistakesToAvoid, "Calculation errors and sign mistakes"))

	topics := "Math fundamentals"
	if len(r.RelatedTopics) > 0 {
		topics = strings.Join(r.RelatedTopics, ", ")
	}
	section(&b, "RELATED TOPICS", topics)

	fmt.Fprintf(&b, "DIFFICULTY LEVEL: %s\n", r.DifficultyLevel)
	fmt.Fprintf(&b, "ESTIMATED TIME TO SOLVE: %d minutes\n\n", r.TimeToSolveMinutes)

	section(&b, "PRACTICE RECOMMENDATIONS", r.PracticeRecommendations)
	section(&b, "MEMORY INSIGHTS", r.MemoryInsights)
	fmt.Fprintf(&b, "PERSONALIZED TIPS:\n%s\n", r.PersonalizedTips)
	b.WriteString(strings.Repeat("=", 70))
	return b.String()
}

func section(b *strings.Builder, title, body string) {
	fmt.Fprintf(b, "%s:\n%s\n\n", title, body)
}

func bullets(items []string, fallback string) string {
	if len(items) == 0 {
		return "• " + fallback
	}
	lines := make([]string, len(items))
	for i, it := range items {
		lines[i] = "• " + it
	}
	return strings.Join(lines, "\n")
}
