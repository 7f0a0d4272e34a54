package domain

// QuestionType is how a question is presented and answered.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple-choice"
	QuestionShortAnswer    QuestionType = "short-answer"
)

// Valid reports whether t is a known question type.
func (t QuestionType) Valid() bool {
	return t == QuestionMultipleChoice || t == QuestionShortAnswer
}

// ValidationMode selects the answer validation strategy.
type ValidationMode string

const (
	ValidationExact    ValidationMode = "exact"
	ValidationFuzzy    ValidationMode = "fuzzy"
	ValidationSemantic ValidationMode = "semantic"
	ValidationHybrid   ValidationMode = "hybrid"
	// ValidationLate is recorded for answers that arrived after the question closed.
	ValidationLate ValidationMode = "late"
)

// Valid reports whether m is a selectable validation mode.
func (m ValidationMode) Valid() bool {
	switch m {
	case ValidationExact, ValidationFuzzy, ValidationSemantic, ValidationHybrid:
		return true
	}
	return false
}

// Question is one authored quiz question.
type Question struct {
	ID         string         `json:"id" yaml:"id"`
	Type       QuestionType   `json:"type" yaml:"type"`
	Prompt     string         `json:"prompt" yaml:"prompt"`
	Options    []string       `json:"options,omitempty" yaml:"options,omitempty"`
	Answers    []string       `json:"answers" yaml:"answers"`
	Validation ValidationMode `json:"validation,omitempty" yaml:"validation,omitempty"`
	TimeLimit  int            `json:"time_limit" yaml:"time_limit"` // seconds
	Points     int            `json:"points" yaml:"points"`         // defaults to 1000 if zero
}

// Quiz is an ordered collection of questions.
type Quiz struct {
	ID        string     `json:"id" yaml:"id"`
	Title     string     `json:"title" yaml:"title"`
	Questions []Question `json:"questions" yaml:"questions"`
}

// Question returns the question at index, if present.
func (q Quiz) Question(index int) (Question, bool) {
	if index < 0 || index >= len(q.Questions) {
		return Question{}, false
	}
	return q.Questions[index], true
}
