package extraction

import (
	"github.com/kailas-cloud/tenderlens/internal/domain"
)

// Field names in output order.
const (
	FieldTitle               = "title"
	FieldShortDescription    = "shortDescription"
	FieldTimeline            = "timeline"
	FieldBudget              = "budget"
	FieldSubmissionDeadline  = "submissionDeadline"
	FieldRequirements        = "requirements"
	FieldEvaluationMetrics   = "evaluationMetrics"
	FieldSpecialInstructions = "specialInstructions"
)

// Field is one extracted value. Value is nil when Present is false.
type Field struct {
	Name    string `json:"name"`
	Value   any    `json:"value"`
	Present bool   `json:"present"`
}

// Timeline is the project period as stated in the document.
type Timeline struct {
	StartDate *string `json:"startDate"`
	EndDate   *string `json:"endDate"`
}

// Categorized groups list items by requirement category.
type Categorized struct {
	Categories    map[string][]string `json:"categories"`
	Uncategorized []string            `json:"uncategorized"`
}

func emptyCategorized() Categorized {
	return Categorized{Categories: map[string][]string{}, Uncategorized: []string{}}
}

// Len returns the number of items.
func (c Categorized) Len() int {
	n := len(c.Uncategorized)
	for _, items := range c.Categories {
		n += len(items)
	}
	return n
}

// Result is the structured view of a solicitation document.
type Result struct {
	JobID               string               `json:"job_id"`
	Title               *string              `json:"title"`
	ShortDescription    *string              `json:"shortDescription"`
	Timeline            Timeline             `json:"timeline"`
	Budget              *float64             `json:"budget"`
	SubmissionDeadline  *string              `json:"submissionDeadline"`
	Requirements        Categorized          `json:"requirements"`
	EvaluationMetrics   Categorized          `json:"evaluationMetrics"`
	SpecialInstructions *string              `json:"specialInstructions"`
	Fields              []Field              `json:"fields"`
	Failed              []string             `json:"failed"`
	Usage               domain.UsageSnapshot `json:"usage"`
}

func (r *Result) buildFields() {
	timelinePresent := r.Timeline.StartDate != nil || r.Timeline.EndDate != nil
	r.Fields = []Field{
		field(FieldTitle, r.Title),
		field(FieldShortDescription, r.ShortDescription),
		{Name: FieldTimeline, Value: valueIf(timelinePresent, r.Timeline), Present: timelinePresent},
		field(FieldBudget, r.Budget),
		field(FieldSubmissionDeadline, r.SubmissionDeadline),
		{Name: FieldRequirements, Value: valueIf(r.Requirements.Len() > 0, r.Requirements), Present: r.Requirements.Len() > 0},
		{Name: FieldEvaluationMetrics, Value: valueIf(r.EvaluationMetrics.Len() > 0, r.EvaluationMetrics), Present: r.EvaluationMetrics.Len() > 0},
		field(FieldSpecialInstructions, r.SpecialInstructions),
	}
}

func field[T any](name string, v *T) Field {
	if v == nil {
		return Field{Name: name}
	}
	return Field{Name: name, Value: *v, Present: true}
}

func valueIf(ok bool, v any) any {
	if !ok {
		return nil
	}
	return v
}
