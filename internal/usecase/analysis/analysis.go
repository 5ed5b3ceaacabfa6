// Package analysis gives advisory, non-scoring feedback on a proposal per aspect.
package analysis

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/tenderlens/internal/domain"
	"github.com/kailas-cloud/tenderlens/internal/domain/rfp"
	"github.com/kailas-cloud/tenderlens/internal/usecase/inference"
	"github.com/kailas-cloud/tenderlens/internal/usecase/job"
)

const (
	operation = "analyze"

	systemPrompt = "You are an expert in analyzing government procurement proposals. " +
		"Focus on providing clear, actionable suggestions for improvement. Respond with a single JSON object and nothing else."
)

// Aspect names.
const (
	AspectBudget        = "budget"
	AspectTechnical     = "technical"
	AspectTimeline      = "timeline"
	AspectTeam          = "team"
	AspectDocumentation = "documentation"
)

type aspect struct {
	name  string
	query string
}

var aspects = []aspect{
	{AspectBudget, "Find sections discussing budget, costs, pricing, financial details, or monetary aspects"},
	{AspectTechnical, "Find sections discussing technical specifications, requirements, implementation details, or technical approach"},
	{AspectTimeline, "Find sections discussing project timeline, schedule, milestones, or delivery dates"},
	{AspectTeam, "Find sections discussing team composition, roles, expertise, or staffing"},
	{AspectDocumentation, "Find sections discussing documentation, deliverables, or required documents"},
}

// Aspects returns the analyzed aspect names in order.
func Aspects() []string {
	out := make([]string, len(aspects))
	for i, a := range aspects {
		out[i] = a.name
	}
	return out
}

// Generator is the structured generation surface analysis needs.
type Generator interface {
	GenerateJSON(ctx context.Context, req inference.Request, out any) (inference.JSONOutcome, error)
}

// Config tunes retrieval and parallelism.
type Config struct {
	TopK        int
	Concurrency int
}

// AspectReport is the feedback for one aspect.
type AspectReport struct {
	Suggestions []string `json:"suggestions"`
	IsComplete  bool     `json:"isComplete"`
}

// Report is the advisory feedback for a proposal.
type Report struct {
	JobID       string                  `json:"job_id"`
	Aspects     map[string]AspectReport `json:"aspects"`
	Suggestions map[string][]string     `json:"suggestions"`
	// IsComplete is true when every analyzed aspect was judged complete.
	IsComplete bool                 `json:"isComplete"`
	Failed     []string             `json:"failed"`
	Usage      domain.UsageSnapshot `json:"usage"`
}

// Service analyzes proposals.
type Service struct {
	deps job.Deps
	gen  Generator
	cfg  Config
}

// New returns a Service.
func New(deps job.Deps, gen Generator, cfg Config) (*Service, error) {
	if gen == nil {
		return nil, fmt.Errorf("%w: analysis requires a generator", domain.ErrConfiguration)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Service{deps: deps, gen: gen, cfg: cfg}, nil
}

type reply struct {
	Suggestions []string `json:"suggestions"`
	IsComplete  *bool    `json:"isComplete"`
}

// Analyze returns suggestions per aspect. A failing aspect is listed in Failed and
// does not abort the others.
func (s *Service) Analyze(ctx context.Context, text string, ctxRFP rfp.Context) (Report, error) {
	if strings.TrimSpace(text) == "" {
		return Report{}, domain.ErrEmptyInput
	}

	j, ctx, err := job.New(ctx, s.deps, operation)
	if err != nil {
		return Report{}, err
	}
	defer j.Close()

	rep, err := s.run(ctx, j, text, ctxRFP)
	if err != nil {
		return Report{}, j.Finish(err)
	}
	return rep, j.Finish(nil)
}

func (s *Service) run(ctx context.Context, j *job.Job, text string, ctxRFP rfp.Context) (Report, error) {
	if _, err := j.Ingest(ctx, text); err != nil {
		return Report{}, j.Wrap("ingest", err)
	}

	rep := Report{
		JobID:       j.ID(),
		Aspects:     make(map[string]AspectReport, len(aspects)),
		Suggestions: make(map[string][]string, len(aspects)),
		Failed:      []string{},
	}
	var mu sync.Mutex

	g := errgroup.Group{}
	g.SetLimit(s.cfg.Concurrency)
	for _, a := range aspects {
		g.Go(func() error {
			ar, err := s.analyzeAspect(ctx, j, ctxRFP, a)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				j.Logger().Warn("Aspect analysis failed", zap.String("aspect", a.name), zap.Error(err))
				return nil
			}
			rep.Aspects[a.name] = ar
			rep.Suggestions[a.name] = ar.Suggestions
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return Report{}, j.Wrap(operation, err)
	}

	rep.IsComplete = len(rep.Aspects) > 0
	for _, a := range aspects {
		ar, ok := rep.Aspects[a.name]
		if !ok {
			rep.Failed = append(rep.Failed, a.name)
			continue
		}
		rep.IsComplete = rep.IsComplete && ar.IsComplete
	}
	if len(rep.Failed) > 0 {
		rep.IsComplete = false
	}
	rep.Usage = j.Usage()

	j.Logger().Info("Proposal analyzed",
		zap.Int("aspects", len(rep.Aspects)),
		zap.Int("failed", len(rep.Failed)),
		zap.Bool("complete", rep.IsComplete),
	)
	return rep, nil
}

func (s *Service) analyzeAspect(ctx context.Context, j *job.Job, ctxRFP rfp.Context, a aspect) (AspectReport, error) {
	hits, err := j.Retrieve(ctx, a.query, s.cfg.TopK)
	if err != nil {
		return AspectReport{}, err
	}

	prompt := fmt.Sprintf(`Analyze these sections of a bid proposal specifically focusing on %[1]s aspects:

RFP Details:
%[2]s
Relevant sections from the proposal:
%[3]s

Please analyze these sections and provide:
1. Specific suggestions for improvement related to %[1]s
2. Whether the %[1]s information appears complete

Format response as JSON:
{
    "suggestions": ["string"],
    "isComplete": boolean
}`, a.name, ctxRFP.Describe(), job.FormatHits(hits))

	var r reply
	outcome, err := s.gen.GenerateJSON(ctx, inference.Request{
		System:   systemPrompt,
		Prompt:   prompt,
		Fallback: map[string]any{"suggestions": []string{}, "isComplete": nil},
	}, &r)
	if err != nil {
		return AspectReport{}, err
	}
	if outcome == inference.OutcomeFallback || r.IsComplete == nil {
		return AspectReport{}, fmt.Errorf("%s: %w", a.name, domain.ErrMalformedResponse)
	}

	suggestions := make([]string, 0, len(r.Suggestions))
	for _, sg := range r.Suggestions {
		if sg = strings.TrimSpace(sg); sg != "" {
			suggestions = append(suggestions, sg)
		}
	}
	return AspectReport{Suggestions: suggestions, IsComplete: *r.IsComplete}, nil
}
