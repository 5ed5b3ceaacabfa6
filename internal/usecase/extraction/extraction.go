// Package extraction pulls structured solicitation fields out of raw document text.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/tenderlens/internal/domain"
	"github.com/kailas-cloud/tenderlens/internal/usecase/inference"
	"github.com/kailas-cloud/tenderlens/internal/usecase/job"
)

const (
	operation = "extract"

	systemPrompt = "You are an expert in government procurement. Extract information from RFP documents precisely. " +
		"Use null when the document does not state a value. Respond with a single JSON object and nothing else."
)

// Config tunes retrieval, parallelism and requirement categorization.
type Config struct {
	TopK                  int
	Concurrency           int
	RequirementCategories []string
}

// reply covers every aspect shape; each aspect reads the keys it asked for.
type reply struct {
	Value     json.RawMessage `json:"value"`
	StartDate *string         `json:"startDate"`
	EndDate   *string         `json:"endDate"`
	Items     []string        `json:"items"`
}

type aspect struct {
	name        string
	query       string
	instruction string
	shape       string
	fallback    any
	apply       func(r *Result, rep reply, lists *listItems) error
}

type listItems struct {
	requirements []string
	metrics      []string
}

var (
	valueFallback    = map[string]any{"value": nil}
	itemsFallback    = map[string]any{"items": []string{}}
	timelineFallback = map[string]any{"startDate": nil, "endDate": nil}
)

var aspects = []aspect{
	{
		name:        FieldTitle,
		query:       "Find the title, name or subject of the request for proposal",
		instruction: "the official title of the RFP",
		shape:       `{"value": "string or null"}`,
		fallback:    valueFallback,
		apply: func(r *Result, rep reply, _ *listItems) (err error) {
			r.Title, err = stringValue(rep.Value)
			return err
		},
	},
	{
		name:        FieldShortDescription,
		query:       "Find the project overview, background, purpose, objectives or scope summary",
		instruction: "a one or two sentence description of what is being procured",
		shape:       `{"value": "string or null"}`,
		fallback:    valueFallback,
		apply: func(r *Result, rep reply, _ *listItems) (err error) {
			r.ShortDescription, err = stringValue(rep.Value)
			return err
		},
	},
	{
		name:        FieldTimeline,
		query:       "Find the project timeline, period of performance, start date, end date, schedule or milestones",
		instruction: "the project start and end dates, formatted YYYY-MM-DD when possible",
		shape:       `{"startDate": "string or null", "endDate": "string or null"}`,
		fallback:    timelineFallback,
		apply: func(r *Result, rep reply, _ *listItems) error {
			r.Timeline = Timeline{StartDate: trimmed(rep.StartDate), EndDate: trimmed(rep.EndDate)}
			return nil
		},
	},
	{
		name:        FieldBudget,
		query:       "Find the budget, estimated contract value, funding amount, costs or pricing ceiling",
		instruction: "the total budget as a plain number without currency symbols",
		shape:       `{"value": number or null}`,
		fallback:    valueFallback,
		apply: func(r *Result, rep reply, _ *listItems) (err error) {
			r.Budget, err = moneyValue(rep.Value)
			return err
		},
	},
	{
		name:        FieldSubmissionDeadline,
		query:       "Find the proposal submission deadline, due date or closing date for responses",
		instruction: "the proposal submission deadline, formatted YYYY-MM-DD when possible",
		shape:       `{"value": "string or null"}`,
		fallback:    valueFallback,
		apply: func(r *Result, rep reply, _ *listItems) (err error) {
			r.SubmissionDeadline, err = stringValue(rep.Value)
			return err
		},
	},
	{
		name:        FieldRequirements,
		query:       "Find technical, management, functional or mandatory requirements the vendor must meet",
		instruction: "every distinct requirement the vendor must meet, one short sentence each",
		shape:       `{"items": ["string"]}`,
		fallback:    itemsFallback,
		apply: func(_ *Result, rep reply, lists *listItems) error {
			lists.requirements = cleanItems(rep.Items)
			return nil
		},
	},
	{
		name:        FieldEvaluationMetrics,
		query:       "Find the evaluation criteria, scoring method, weights or selection metrics",
		instruction: "every evaluation criterion or metric, including its weight when stated",
		shape:       `{"items": ["string"]}`,
		fallback:    itemsFallback,
		apply: func(_ *Result, rep reply, lists *listItems) error {
			lists.metrics = cleanItems(rep.Items)
			return nil
		},
	},
	{
		name:        FieldSpecialInstructions,
		query:       "Find special instructions, submission format, contact rules or conditions for bidders",
		instruction: "special instructions for bidders, summarized in one paragraph",
		shape:       `{"value": "string or null"}`,
		fallback:    valueFallback,
		apply: func(r *Result, rep reply, _ *listItems) (err error) {
			r.SpecialInstructions, err = stringValue(rep.Value)
			return err
		},
	},
}

// Service extracts fields.
type Service struct {
	deps job.Deps
	gen  Generator
	cfg  Config
}

// New returns a Service.
func New(deps job.Deps, gen Generator, cfg Config) (*Service, error) {
	if gen == nil {
		return nil, fmt.Errorf("%w: extraction requires a generator", domain.ErrConfiguration)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Service{deps: deps, gen: gen, cfg: cfg}, nil
}

// Extract returns every field it could find. A failed aspect is left empty and listed in
// Failed; only empty input, configuration errors and cancellation fail the call.
func (s *Service) Extract(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, domain.ErrEmptyInput
	}

	j, ctx, err := job.New(ctx, s.deps, operation)
	if err != nil {
		return Result{}, err
	}
	defer j.Close()

	res, err := s.run(ctx, j, text)
	if err != nil {
		return Result{}, j.Finish(err)
	}
	return res, j.Finish(nil)
}

func (s *Service) run(ctx context.Context, j *job.Job, text string) (Result, error) {
	if _, err := j.Ingest(ctx, text); err != nil {
		return Result{}, j.Wrap("ingest", err)
	}

	res := Result{
		JobID:             j.ID(),
		Requirements:      emptyCategorized(),
		EvaluationMetrics: emptyCategorized(),
		Failed:            []string{},
	}
	var (
		mu    sync.Mutex
		lists listItems
	)

	g := errgroup.Group{}
	g.SetLimit(s.cfg.Concurrency)
	for _, a := range aspects {
		g.Go(func() error {
			rep, err := s.extractAspect(ctx, j, a)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				err = a.apply(&res, rep, &lists)
			}
			if err != nil {
				res.Failed = append(res.Failed, a.name)
				j.Logger().Warn("Aspect extraction failed", zap.String("aspect", a.name), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Result{}, j.Wrap(operation, err)
	}

	var err error
	if res.Requirements, err = s.categorize(ctx, j, lists.requirements); err != nil {
		return Result{}, j.Wrap("requirements", err)
	}
	if res.EvaluationMetrics, err = s.categorize(ctx, j, lists.metrics); err != nil {
		return Result{}, j.Wrap("evaluation_metrics", err)
	}

	res.Failed = ordered(res.Failed)
	res.buildFields()
	res.Usage = j.Usage()

	j.Logger().Info("Fields extracted",
		zap.Int("failed", len(res.Failed)),
		zap.Int("requirements", res.Requirements.Len()),
		zap.Int("evaluation_metrics", res.EvaluationMetrics.Len()),
	)
	return res, nil
}

func (s *Service) extractAspect(ctx context.Context, j *job.Job, a aspect) (reply, error) {
	hits, err := j.Retrieve(ctx, a.query, s.cfg.TopK)
	if err != nil {
		return reply{}, err
	}

	prompt := fmt.Sprintf(`Extract %s from these sections of an RFP document.

Relevant sections:
%s

Format your response as a JSON object:
%s`, a.instruction, job.FormatHits(hits), a.shape)

	var rep reply
	outcome, err := s.gen.GenerateJSON(ctx, inference.Request{System: systemPrompt, Prompt: prompt, Fallback: a.fallback}, &rep)
	if err != nil {
		return reply{}, err
	}
	if outcome == inference.OutcomeFallback {
		return reply{}, fmt.Errorf("%s: %w", a.name, domain.ErrMalformedResponse)
	}
	return rep, nil
}

// categorize assigns items to requirement categories by embedding similarity.
func (s *Service) categorize(ctx context.Context, j *job.Job, items []string) (Categorized, error) {
	out := emptyCategorized()
	if len(items) == 0 {
		return out, nil
	}
	if len(s.cfg.RequirementCategories) == 0 {
		out.Uncategorized = items
		return out, nil
	}

	c, err := j.Classifier(ctx, s.cfg.RequirementCategories)
	if err != nil {
		return Categorized{}, err
	}
	assigned, err := c.Assign(ctx, items)
	if err != nil {
		return Categorized{}, err
	}
	for i, a := range assigned {
		if a.Category == "" {
			out.Uncategorized = append(out.Uncategorized, items[i])
			continue
		}
		out.Categories[a.Category] = append(out.Categories[a.Category], items[i])
	}
	return out, nil
}

// stringValue accepts a JSON string or null. Numbers are rendered as text.
func stringValue(raw json.RawMessage) (*string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		var n json.Number
		if nerr := json.Unmarshal(raw, &n); nerr != nil {
			return nil, fmt.Errorf("%w: expected string, got %s", domain.ErrMalformedResponse, raw)
		}
		s = n.String()
	}
	return trimmed(&s), nil
}

var (
	moneyRe    = regexp.MustCompile(`[^0-9.]`)
	millionRe  = regexp.MustCompile(`(?i)\d\s*(m|mm|million)\b`)
	thousandRe = regexp.MustCompile(`(?i)\d\s*(k|thousand)\b`)
)

// moneyValue accepts a number, a formatted amount such as "$1,250,000.00", or null.
func moneyValue(raw json.RawMessage) (*float64, error) {
	if isNull(raw) {
		return nil, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f, nil
	}
	s, err := stringValue(raw)
	if err != nil || s == nil {
		return nil, err
	}
	multiplier := 1.0
	switch {
	case millionRe.MatchString(*s):
		multiplier = 1e6
	case thousandRe.MatchString(*s):
		multiplier = 1e3
	}
	digits := moneyRe.ReplaceAllString(*s, "")
	if digits == "" {
		return nil, nil
	}
	f, err = strconv.ParseFloat(digits, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: budget %q", domain.ErrMalformedResponse, *s)
	}
	f *= multiplier
	return &f, nil
}

func isNull(raw json.RawMessage) bool {
	t := strings.TrimSpace(string(raw))
	return t == "" || t == "null"
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	switch strings.ToLower(t) {
	case "", "null", "n/a", "none", "not specified", "unknown":
		return nil
	}
	return &t
}

func cleanItems(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		key := strings.ToLower(it)
		if it == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
	}
	return out
}

// ordered sorts failed aspect names into field order.
func ordered(failed []string) []string {
	set := make(map[string]bool, len(failed))
	for _, f := range failed {
		set[f] = true
	}
	out := make([]string, 0, len(failed))
	for _, a := range aspects {
		if set[a.name] {
			out = append(out, a.name)
		}
	}
	return out
}
