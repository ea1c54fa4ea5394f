package estimate

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/awa-labs/webauditor/internal/model"
)

// Summarizer produces a short prose explanation of an estimate.
type Summarizer interface {
	Summarize(ctx context.Context, audit *model.Audit, est *Estimate) (string, error)
}

const summaryModel = "claude-haiku-4-5-20251001"

const summarySystem = `You write one short paragraph (max 80 words) for a small-business
owner explaining what a website remediation estimate covers. Plain language,
no markdown, no greeting.`

// sdkSummarizer implements Summarizer on the Anthropic SDK.
type sdkSummarizer struct {
	client sdk.Client
}

// NewSummarizer creates an Anthropic-backed Summarizer.
func NewSummarizer(apiKey string) Summarizer {
	return &sdkSummarizer{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
	}
}

func (s *sdkSummarizer) Summarize(ctx context.Context, audit *model.Audit, est *Estimate) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Website %s scored %d/100 with %d issues. Estimate: %.2f hours at %.0f EUR/h = %.2f EUR.\n",
		audit.URL, audit.OverallScore, len(audit.Issues), est.TotalHours, est.HourlyRate, est.Total)
	for cat, item := range est.ByCategory {
		fmt.Fprintf(&sb, "- %s: %d issues, %.2f hours\n", cat, item.Issues, item.Hours)
	}

	msg, err := s.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     summaryModel,
		MaxTokens: 256,
		System: []sdk.TextBlockParam{
			{Text: summarySystem},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(sb.String())),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "estimate: create summary message")
	}

	var out strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return strings.TrimSpace(out.String()), nil
}

// Estimator combines the deterministic cost math with an optional prose
// summary. The summary never gates the numbers.
type Estimator struct {
	hourlyRate float64
	summarizer Summarizer
	log        *zap.Logger
}

// EstimatorOption configures an Estimator.
type EstimatorOption func(*Estimator)

// WithHourlyRate overrides the default remediation rate.
func WithHourlyRate(rate float64) EstimatorOption {
	return func(e *Estimator) {
		e.hourlyRate = rate
	}
}

// WithSummarizer enables prose summaries.
func WithSummarizer(s Summarizer) EstimatorOption {
	return func(e *Estimator) {
		e.summarizer = s
	}
}

// NewEstimator creates an Estimator.
func NewEstimator(opts ...EstimatorOption) *Estimator {
	e := &Estimator{
		hourlyRate: DefaultHourlyRate,
		log:        zap.L().With(zap.String("component", "estimate")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate computes the cost breakdown and, when a summarizer is configured,
// attaches a prose summary. Summary failures are logged and swallowed.
func (e *Estimator) Estimate(ctx context.Context, audit *model.Audit) (*Estimate, error) {
	est, err := Calculate(audit, e.hourlyRate)
	if err != nil {
		return nil, err
	}

	if e.summarizer != nil {
		summary, err := e.summarizer.Summarize(ctx, audit, est)
		if err != nil {
			e.log.Warn("estimate summary unavailable",
				zap.String("audit_id", audit.ID),
				zap.Error(err))
		} else {
			est.Summary = summary
		}
	}

	return est, nil
}
