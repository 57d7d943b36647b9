// Package briefing turns scenario results into a short plain-language
// briefing using OpenAI chat completions.
package briefing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/lox/urbanrisk/internal/risk"
)

const systemPrompt = `You write short briefings for city officials about risk intervention scenarios.
Use plain language, at most four sentences. Quote the probabilities you are given as percentages.
Do not invent figures that are not in the input.`

// Generator writes scenario briefings.
type Generator struct {
	client openai.Client
	model  openai.ChatModel
}

// NewGenerator returns an error when apiKey is empty so callers can treat
// briefings as disabled.
func NewGenerator(apiKey string) (*Generator, error) {
	if apiKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}
	return &Generator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  openai.ChatModelGPT4oMini,
	}, nil
}

func (g *Generator) Brief(ctx context.Context, res risk.ScenarioResult) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(BuildPrompt(res)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("briefing completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no briefing returned")
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty briefing returned")
	}
	log.Printf("briefing: generated for %s (%d chars)", res.City, len(text))
	return text, nil
}

// BuildPrompt lays out the scenario as the facts the model may use.
func BuildPrompt(res risk.ScenarioResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "City: %s\n", res.City)

	keys := res.InterventionsApplied.Keys()
	if len(keys) == 0 {
		b.WriteString("Interventions: none\n")
	} else {
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%g", k, res.InterventionsApplied[k]))
		}
		fmt.Fprintf(&b, "Interventions: %s\n", strings.Join(parts, ", "))
	}

	b.WriteString("Risk probabilities (baseline -> with intervention):\n")
	for _, d := range risk.Domains {
		fmt.Fprintf(&b, "- %s: %.0f%% (%s) -> %.0f%% (%s), improvement %.0f%%\n",
			d,
			res.BaselineRisks.Prob(d)*100, res.BaselineRisks.Level(d),
			res.InterventionRisks.Prob(d)*100, res.InterventionRisks.Level(d),
			res.Improvements[d])
	}
	fmt.Fprintf(&b, "Overall improvement: %.0f%%\n", res.OverallImprovement)
	fmt.Fprintf(&b, "Resilience: %.2f -> %.2f\n", res.BaselineRisks.ResilienceScore, res.InterventionRisks.ResilienceScore)

	if res.EconomicImpactEstimate != nil {
		fmt.Fprintf(&b, "Estimated economic impact: %.0f\n", *res.EconomicImpactEstimate)
	}
	if res.ROIEstimate != nil {
		fmt.Fprintf(&b, "Estimated ROI: %.0f%%\n", *res.ROIEstimate)
	}

	if len(res.InterventionRisks.CausalExplanations) > 0 {
		b.WriteString("Drivers:\n")
		for _, e := range res.InterventionRisks.CausalExplanations {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}
	return b.String()
}
