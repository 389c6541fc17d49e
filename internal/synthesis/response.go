package synthesis

// StructuredResponse is the sectioned explanation returned for a query.
type StructuredResponse struct {
	SessionID               string   `json:"session_id" yaml:"session_id"`
	ProblemAnalysis         string   `json:"problem_analysis" yaml:"problem_analysis"`
	ConceptExplanation      string   `json:"concept_explanation" yaml:"concept_explanation"`
	StepByStepSolution      string   `json:"step_by_step_solution" yaml:"step_by_step_solution"`
	AlternativeMethods      []string `json:"alternative_methods" yaml:"alternative_methods"`
	KeyFormulasUsed         []string `json:"key_formulas_used" yaml:"key_formulas_used"`
	CommonMistakesToAvoid   []string `json:"common_mistakes_to_avoid" yaml:"common_mistakes_to_avoid"`
	RelatedTopics           []string `json:"related_topics" yaml:"related_topics"`
	DifficultyLevel         string   `json:"difficulty_level" yaml:"difficulty_level"`
	TimeToSolveMinutes      int      `json:"time_to_solve_minutes" yaml:"time_to_solve_minutes"`
	PracticeRecommendations string   `json:"practice_recommendations" yaml:"practice_recommendations"`
	MemoryInsights          string   `json:"memory_insights" yaml:"memory_insights"`
	PersonalizedTips        string   `json:"personalized_tips" yaml:"personalized_tips"`
}

// normalize clamps values the model may return out of range and replaces
// null lists with empty ones.
func (r *StructuredResponse) normalize() {
	if r.TimeToSolveMinutes < 0 {
		r.TimeToSolveMinutes = 0
	}
	for _, list := range []*[]string{&r.AlternativeMethods, &r.KeyFormulasUsed, &r.CommonMistakesToAvoid, &r.RelatedTopics} {
		if *list == nil {
			*list = []string{}
		}
	}
}

const schemaName = "math_expert_response"

// responseSchema is the strict JSON schema sent as response_format.
func responseSchema() map[string]any {
	str := func(desc string) map[string]any {
		return map[string]any{"type": "string", "description": desc}
	}
	list := func(desc string) map[string]any {
		return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
	}
	props := map[string]any{
		"session_id":               str("Echo of the session id"),
		"problem_analysis":         str("Breakdown of the question"),
		"concept_explanation":      str("Underlying principles"),
		"step_by_step_solution":    str("Detailed logical solution steps"),
		"alternative_methods":      list("Different solution approaches"),
		"key_formulas_used":        list("Important formulas used"),
		"common_mistakes_to_avoid": list("Typical errors to avoid"),
		"related_topics":           list("Connected concepts"),
		"difficulty_level":         str("Easy, Medium, Hard or similar"),
		"time_to_solve_minutes":    map[string]any{"type": "integer", "description": "Estimated minutes to solve"},
		"practice_recommendations": str("Next steps, ending with a feedback question"),
		"memory_insights":          str("Learning patterns"),
		"personalized_tips":        str("General advice"),
	}
	required := []string{
		"session_id", "problem_analysis", "concept_explanation", "step_by_step_solution",
		"alternative_methods", "key_formulas_used", "common_mistakes_to_avoid", "related_topics",
		"difficulty_level", "time_to_solve_minutes", "practice_recommendations",
		"memory_insights", "personalized_tips",
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}
