package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kailas-cloud/tenderlens/internal/domain"
	"github.com/kailas-cloud/tenderlens/internal/metrics"
	"github.com/kailas-cloud/tenderlens/internal/retry"
	"github.com/kailas-cloud/tenderlens/internal/segment"
	"github.com/kailas-cloud/tenderlens/internal/transport/mock"
	"github.com/kailas-cloud/tenderlens/internal/usecase/classify"
	"github.com/kailas-cloud/tenderlens/internal/usecase/inference"
	"github.com/kailas-cloud/tenderlens/internal/usecase/job"
)

func TestMain(m *testing.M) {
	metrics.RegisterMetrics(nil)
	os.Exit(m.Run())
}

const rfpText = "Request for Proposal: Rural Clinic Connectivity.\n\n" +
	"The project connects 40 clinics to broadband. Budget ceiling is $1,250,000.\n\n" +
	"Proposals are due 2025-03-01. Work runs from 2025-04-01 to 2025-12-31.\n\n" +
	"Requirements: vendors must provide security monitoring and a network uptime SLA."

func newService(t *testing.T, gen *mock.Generator, emb *mock.Embedder, categories []string) *Service {
	t.Helper()
	return newServiceWithLogger(t, gen, emb, categories, nil)
}

func newServiceWithLogger(t *testing.T, gen *mock.Generator, emb *mock.Embedder, categories []string, l *zap.Logger) *Service {
	t.Helper()
	seg, err := segment.New(segment.WordCounter{}, 64, 8)
	require.NoError(t, err)
	gw, err := inference.NewGateway(gen, nil, inference.Config{
		Provider: "mock", Model: "mock", MaxInputTokens: 2048, MaxOutputTokens: 512,
	}, retry.Policy{MaxRetries: 1, InitialDelay: time.Millisecond, Sleep: func(context.Context, time.Duration) error { return nil }}, nil, nil)
	require.NoError(t, err)

	svc, err := New(job.Deps{
		Embedder:  emb,
		Segmenter: seg,
		Classify:  classify.Config{Dimensions: 6, Threshold: classify.DefaultThreshold},
		Logger:    l,
	}, gw, Config{TopK: 2, Concurrency: 3, RequirementCategories: categories})
	require.NoError(t, err)
	return svc
}

// replyFor answers by the extraction instruction in the prompt.
func replyFor(replies map[string]string) func(domain.GenerationRequest) (string, error) {
	return func(req domain.GenerationRequest) (string, error) {
		for marker, reply := range replies {
			if strings.Contains(req.Prompt, "Extract "+marker) {
				if reply == "ERROR" {
					return "", fmt.Errorf("%w: 400", domain.ErrTerminalProvider)
				}
				return reply, nil
			}
		}
		return `{"value": null}`, nil
	}
}

func TestExtract_AllFields(t *testing.T) {
	gen := &mock.Generator{Respond: replyFor(map[string]string{
		"the official title":         `{"value": "Rural Clinic Connectivity"}`,
		"a one or two sentence":      `{"value": "Broadband for 40 clinics."}`,
		"the project start and end":  `{"startDate": "2025-04-01", "endDate": "2025-12-31"}`,
		"the total budget":           `{"value": "$1,250,000"}`,
		"the proposal submission":    `{value: '2025-03-01'}`,
		"every distinct requirement": `{"items": ["Provide security monitoring", "Network uptime SLA", "provide security monitoring", " "]}`,
		"every evaluation criterion": `{"items": ["Price 40%"]}`,
		"special instructions":       `{"value": null}`,
	})}
	emb := mock.NewEmbedder(6, "security", "network", "price")
	svc := newService(t, gen, emb, []string{"security", "network"})

	res, err := svc.Extract(context.Background(), rfpText)
	require.NoError(t, err)

	require.NotNil(t, res.Title)
	assert.Equal(t, "Rural Clinic Connectivity", *res.Title)
	require.NotNil(t, res.Budget)
	assert.Equal(t, 1250000.0, *res.Budget)
	require.NotNil(t, res.SubmissionDeadline)
	assert.Equal(t, "2025-03-01", *res.SubmissionDeadline)
	require.NotNil(t, res.Timeline.EndDate)
	assert.Equal(t, "2025-12-31", *res.Timeline.EndDate)
	assert.Nil(t, res.SpecialInstructions)
	assert.Empty(t, res.Failed)

	assert.Equal(t, []string{"Provide security monitoring"}, res.Requirements.Categories["security"])
	assert.Equal(t, []string{"Network uptime SLA"}, res.Requirements.Categories["network"])
	assert.Equal(t, []string{"Price 40%"}, res.EvaluationMetrics.Uncategorized)

	require.Len(t, res.Fields, 8)
	assert.Equal(t, FieldTitle, res.Fields[0].Name)
	assert.True(t, res.Fields[0].Present)
	last := res.Fields[7]
	assert.Equal(t, FieldSpecialInstructions, last.Name)
	assert.False(t, last.Present)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"specialInstructions":null`)
}

func TestExtract_FailedAspectsDefaultAndAreRecorded(t *testing.T) {
	gen := &mock.Generator{Respond: replyFor(map[string]string{
		"the official title":      `{"value": "Clinic Connectivity"}`,
		"the total budget":        "I could not find a budget.",
		"the proposal submission": "ERROR",
	})}
	svc := newService(t, gen, mock.NewEmbedder(6), nil)

	res, err := svc.Extract(context.Background(), rfpText)
	require.NoError(t, err)

	assert.Equal(t, []string{FieldBudget, FieldSubmissionDeadline}, res.Failed)
	assert.Nil(t, res.Budget)
	assert.Nil(t, res.SubmissionDeadline)
	require.NotNil(t, res.Title)
	assert.NotNil(t, res.Requirements.Categories)
	assert.NotNil(t, res.Requirements.Uncategorized)
}

func TestExtract_EmptyInputMakesNoProviderCalls(t *testing.T) {
	gen := &mock.Generator{}
	emb := mock.NewEmbedder(6)
	svc := newService(t, gen, emb, []string{"security"})

	_, err := svc.Extract(context.Background(), "")
	require.ErrorIs(t, err, domain.ErrEmptyInput)

	single, batch := emb.Calls()
	assert.Zero(t, single+batch)
	assert.Empty(t, gen.Requests())
}

func TestMoneyValue(t *testing.T) {
	tests := map[string]float64{
		`125000`:           125000,
		`"$1,250,000.00"`:  1250000,
		`"1.2 million"`:    1200000,
		`"USD 40k"`:        40000,
		`"40,000 dollars"`: 40000,
	}
	for in, want := range tests {
		got, err := moneyValue(json.RawMessage(in))
		require.NoError(t, err, in)
		require.NotNil(t, got, in)
		assert.InDelta(t, want, *got, 1e-6, in)
	}

	got, err := moneyValue(json.RawMessage(`null`))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStringValue(t *testing.T) {
	s, err := stringValue(json.RawMessage(`"  Not specified "`))
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = stringValue(json.RawMessage(`2025`))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "2025", *s)

	_, err = stringValue(json.RawMessage(`{"a":1}`))
	require.ErrorIs(t, err, domain.ErrMalformedResponse)
}

func TestExtract_CancelledMidRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gen := &mock.Generator{Respond: func(domain.GenerationRequest) (string, error) {
		cancel()
		return "", context.Canceled
	}}
	core, logs := observer.New(zap.DebugLevel)
	svc := newServiceWithLogger(t, gen, mock.NewEmbedder(6, "security"), nil, zap.New(core))

	res, err := svc.Extract(ctx, rfpText)
	require.ErrorIs(t, err, context.Canceled)
	var je *domain.JobError
	require.ErrorAs(t, err, &je)
	assert.NotEmpty(t, je.JobID)
	assert.Equal(t, "extract", je.Key)
	assert.Empty(t, res.JobID, "no partial result on cancellation")

	released := logs.FilterMessage("Job index released").All()
	require.Len(t, released, 1)
	fields := released[0].ContextMap()
	assert.Positive(t, fields["chunks"])
	assert.EqualValues(t, 0, fields["remaining"])
}
