// Package evaluation scores a proposal against weighted criteria.
package evaluation

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/tenderlens/internal/domain"
	"github.com/kailas-cloud/tenderlens/internal/domain/criterion"
	"github.com/kailas-cloud/tenderlens/internal/domain/rfp"
	"github.com/kailas-cloud/tenderlens/internal/usecase/inference"
	"github.com/kailas-cloud/tenderlens/internal/usecase/job"
)

const (
	operation = "evaluate"

	systemPrompt = "You are an expert procurement bid evaluator with extensive experience in government contracts. " +
		"Focus on providing detailed, objective evaluations with specific evidence from the proposal. " +
		"Respond with a single JSON object and nothing else."

	complianceQuery = "Find sections discussing compliance, certifications, legal and regulatory obligations, " +
		"mandatory requirements, risks, assumptions or exclusions"
)

// Config tunes retrieval, parallelism and penalties.
type Config struct {
	TopK        int
	Concurrency int
	Penalty     Penalty
	RiskTiers   RiskTiers
}

// DefaultConfig mirrors the engine defaults.
func DefaultConfig() Config {
	return Config{
		TopK:        3,
		Concurrency: 1,
		Penalty:     Penalty{PerGap: 5, Cap: 20},
		RiskTiers:   DefaultRiskTiers(),
	}
}

// Service evaluates proposals.
type Service struct {
	deps job.Deps
	gen  Generator
	cfg  Config
}

// New validates cfg and returns a Service.
func New(deps job.Deps, gen Generator, cfg Config) (*Service, error) {
	if gen == nil {
		return nil, fmt.Errorf("%w: evaluation requires a generator", domain.ErrConfiguration)
	}
	if err := cfg.RiskTiers.Validate(); err != nil {
		return nil, err
	}
	if cfg.Penalty.PerGap < 0 || cfg.Penalty.Cap < 0 {
		return nil, fmt.Errorf("%w: compliance penalty must be non-negative", domain.ErrConfiguration)
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Service{deps: deps, gen: gen, cfg: cfg}, nil
}

type criterionReply struct {
	Score      *float64 `json:"score"`
	Comments   []string `json:"comments"`
	Evaluation string   `json:"evaluation"`
}

type complianceReply struct {
	ComplianceGaps []string `json:"complianceGaps"`
	RiskLevel      string   `json:"riskLevel"`
}

type summaryReply struct {
	Summary string `json:"summary"`
}

// Evaluate scores text against criteria. Any criterion that fails terminally fails the
// whole evaluation and no partial result is returned.
func (s *Service) Evaluate(
	ctx context.Context, text string, ctxRFP rfp.Context, criteria []criterion.Criterion,
) (criterion.Evaluation, error) {
	if err := criterion.Validate(criteria); err != nil {
		return criterion.Evaluation{}, err
	}
	if strings.TrimSpace(text) == "" {
		return criterion.Evaluation{}, domain.ErrEmptyInput
	}

	j, ctx, err := job.New(ctx, s.deps, operation)
	if err != nil {
		return criterion.Evaluation{}, err
	}
	defer j.Close()

	ev, err := s.run(ctx, j, text, ctxRFP, criteria)
	if err != nil {
		return criterion.Evaluation{}, j.Finish(err)
	}
	return ev, j.Finish(nil)
}

func (s *Service) run(
	ctx context.Context, j *job.Job, text string, ctxRFP rfp.Context, criteria []criterion.Criterion,
) (criterion.Evaluation, error) {
	if _, err := j.Ingest(ctx, text); err != nil {
		return criterion.Evaluation{}, j.Wrap("ingest", err)
	}

	results := make([]criterion.Result, len(criteria))
	var compliance complianceReply

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, c := range criteria {
		g.Go(func() error {
			r, err := s.scoreCriterion(gctx, j, ctxRFP, c)
			if err != nil {
				return j.Wrap(c.Key, err)
			}
			results[i] = r
			return nil
		})
	}
	g.Go(func() error {
		r, err := s.assessCompliance(gctx, j, ctxRFP)
		if err != nil {
			return j.Wrap("compliance", err)
		}
		compliance = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return criterion.Evaluation{}, err
	}

	perCriterion := make(map[string]criterion.Result, len(results))
	for _, r := range results {
		perCriterion[r.Key] = r
	}

	weighted := criterion.Weighted(criteria, perCriterion)
	risk, err := NormalizeRisk(compliance.RiskLevel)
	if err != nil {
		return criterion.Evaluation{}, j.Wrap("compliance", err)
	}
	penalties := criterion.Penalties{
		ComplianceGaps:      nonEmpty(compliance.ComplianceGaps),
		RiskLevel:           risk,
		ComplianceDeduction: s.cfg.Penalty.ComplianceDeduction(len(nonEmpty(compliance.ComplianceGaps))),
		RiskDeduction:       s.cfg.RiskTiers.Deduction(risk),
	}
	overall := criterion.ClampScore(math.Round(weighted) - penalties.ComplianceDeduction - penalties.RiskDeduction)

	ev := criterion.Evaluation{
		JobID:        j.ID(),
		OverallScore: overall,
		WeightedRaw:  weighted,
		PerCriterion: perCriterion,
		Penalties:    penalties,
	}
	ev.ShortSummary = s.summarize(ctx, j, ctxRFP, criteria, ev)
	ev.Usage = j.Usage()

	j.Logger().Info("Proposal evaluated",
		zap.Float64("weighted", weighted),
		zap.Float64("overall", overall),
		zap.Int("compliance_gaps", len(penalties.ComplianceGaps)),
		zap.String("risk_level", risk),
	)
	return ev, nil
}

func (s *Service) scoreCriterion(
	ctx context.Context, j *job.Job, ctxRFP rfp.Context, c criterion.Criterion,
) (criterion.Result, error) {
	hits, err := j.Retrieve(ctx, c.Query(), s.cfg.TopK)
	if err != nil {
		return criterion.Result{}, err
	}

	prompt := fmt.Sprintf(`Evaluate this bid proposal against a single criterion of the RFP.

RFP Details:
%s
Criterion: %s (key: %s, weight %.0f%%)

Relevant sections from the proposal:
%s

Score the proposal on this criterion from 0 to 100 using only the evidence above.
Format your response as a JSON object:
{
    "score": number,
    "comments": ["specific observation"],
    "evaluation": "short narrative"
}`, ctxRFP.Describe(), c.Name(), c.Key, c.Weight*100, job.FormatHits(hits))

	var reply criterionReply
	if _, err := s.gen.GenerateJSON(ctx, inference.Request{System: systemPrompt, Prompt: prompt}, &reply); err != nil {
		return criterion.Result{}, err
	}
	if reply.Score == nil {
		return criterion.Result{}, fmt.Errorf("%w: criterion %q reply has no score", domain.ErrMalformedResponse, c.Key)
	}
	score := criterion.ClampScore(*reply.Score)
	if score != *reply.Score {
		j.Logger().Warn("Criterion score clamped",
			zap.String("criterion", c.Key), zap.Float64("raw", *reply.Score), zap.Float64("clamped", score))
	}
	return criterion.Result{
		Key:       c.Key,
		Score:     score,
		Comments:  nonEmpty(reply.Comments),
		Narrative: strings.TrimSpace(reply.Evaluation),
	}, nil
}

func (s *Service) assessCompliance(ctx context.Context, j *job.Job, ctxRFP rfp.Context) (complianceReply, error) {
	hits, err := j.Retrieve(ctx, complianceQuery, s.cfg.TopK)
	if err != nil {
		return complianceReply{}, err
	}

	prompt := fmt.Sprintf(`Review this bid proposal for compliance gaps and delivery risk.

RFP Details:
%s
Relevant sections from the proposal:
%s

List every RFP requirement the proposal fails to address or contradicts, and rate the overall
delivery risk as one of "none", "low", "medium" or "high".
Format your response as a JSON object:
{
    "complianceGaps": ["missing or violated requirement"],
    "riskLevel": "none" | "low" | "medium" | "high"
}`, ctxRFP.Describe(), job.FormatHits(hits))

	var reply complianceReply
	if _, err := s.gen.GenerateJSON(ctx, inference.Request{System: systemPrompt, Prompt: prompt}, &reply); err != nil {
		return complianceReply{}, err
	}
	return reply, nil
}

// summarize asks for a short summary and falls back to a deterministic one.
func (s *Service) summarize(
	ctx context.Context, j *job.Job, ctxRFP rfp.Context, criteria []criterion.Criterion, ev criterion.Evaluation,
) string {
	fallback := DeterministicSummary(criteria, ev)

	var lines strings.Builder
	for _, c := range criteria {
		r := ev.PerCriterion[c.Key]
		fmt.Fprintf(&lines, "- %s: %.0f/100. %s\n", c.Name(), r.Score, r.Narrative)
	}
	prompt := fmt.Sprintf(`Write a short evaluation summary (max 100 words) of a bid proposal.

RFP Details:
%s
Overall score: %.0f/100
Per-criterion results:
%s
Compliance gaps: %d, risk level: %s

Format your response as a JSON object:
{
    "summary": "string"
}`, ctxRFP.Describe(), ev.OverallScore, lines.String(), len(ev.Penalties.ComplianceGaps), ev.Penalties.RiskLevel)

	var reply summaryReply
	_, err := s.gen.GenerateJSON(ctx, inference.Request{
		System:   systemPrompt,
		Prompt:   prompt,
		Fallback: summaryReply{Summary: fallback},
	}, &reply)
	if err != nil {
		j.Logger().Warn("Summary generation failed, using deterministic summary", zap.Error(err))
		return fallback
	}
	if strings.TrimSpace(reply.Summary) == "" {
		return fallback
	}
	return strings.TrimSpace(reply.Summary)
}

// DeterministicSummary describes an evaluation without a model call.
func DeterministicSummary(criteria []criterion.Criterion, ev criterion.Evaluation) string {
	type scored struct {
		name  string
		score float64
	}
	ranked := make([]scored, 0, len(criteria))
	for _, c := range criteria {
		ranked = append(ranked, scored{c.Name(), ev.PerCriterion[c.Key].Score})
	}
	sort.SliceStable(ranked, func(a, b int) bool { return ranked[a].score > ranked[b].score })

	var b strings.Builder
	fmt.Fprintf(&b, "Overall score %.0f/100.", ev.OverallScore)
	if len(ranked) > 0 {
		best, worst := ranked[0], ranked[len(ranked)-1]
		fmt.Fprintf(&b, " Strongest: %s (%.0f).", best.name, best.score)
		if len(ranked) > 1 {
			fmt.Fprintf(&b, " Weakest: %s (%.0f).", worst.name, worst.score)
		}
	}
	fmt.Fprintf(&b, " %d compliance gap(s), %s risk.", len(ev.Penalties.ComplianceGaps), ev.Penalties.RiskLevel)
	return b.String()
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
