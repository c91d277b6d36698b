package explain

// Explanation is the canonical form of a scoring service explanation. Absent values are
// nil pointers or empty slices, never omitted. RawFallbackText is set only when nothing
// structured could be extracted; the other fields are then at their defaults.
type Explanation struct {
	FinalProbabilityUsed *float64 `json:"final_probability_used"`
	ModelProbability     *float64 `json:"model_probability"`
	RuleProbability      *float64 `json:"rule_probability"`
	TopModelFeatures     []string `json:"top_model_features"`
	HumanReadableReasons []string `json:"human_readable_reasons"`
	RawFallbackText      *string  `json:"raw_fallback_text"`
}

// Unstructured reports whether the explanation could only be kept as verbatim text.
func (e Explanation) Unstructured() bool {
	return e.RawFallbackText != nil
}

// HasStructure reports whether any structured field carries a value.
func (e Explanation) HasStructure() bool {
	return e.FinalProbabilityUsed != nil ||
		e.ModelProbability != nil ||
		e.RuleProbability != nil ||
		len(e.TopModelFeatures) > 0 ||
		len(e.HumanReadableReasons) > 0
}

// Equal compares two explanations field by field.
func (e Explanation) Equal(other Explanation) bool {
	return equalFloat(e.FinalProbabilityUsed, other.FinalProbabilityUsed) &&
		equalFloat(e.ModelProbability, other.ModelProbability) &&
		equalFloat(e.RuleProbability, other.RuleProbability) &&
		equalStrings(e.TopModelFeatures, other.TopModelFeatures) &&
		equalStrings(e.HumanReadableReasons, other.HumanReadableReasons) &&
		equalString(e.RawFallbackText, other.RawFallbackText)
}

func emptyExplanation() Explanation {
	return Explanation{TopModelFeatures: []string{}, HumanReadableReasons: []string{}}
}

func equalFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
