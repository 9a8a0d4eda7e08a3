package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"footyai/pkg/domain"
)

const predictionSystemInstruction = "You are an expert football analyst. Your task is to predict match outcomes based on provided stats. Your response must be in JSON format."

// predictionSchema constrains the model to the match prediction shape.
var predictionSchema = map[string]any{
	"type": "OBJECT",
	"properties": map[string]any{
		"predictedWinner": map[string]any{
			"type":        "STRING",
			"description": "The predicted winning team. Can be 'Draw' if no clear winner.",
		},
		"predictedScore": map[string]any{
			"type":        "STRING",
			"description": "The predicted final score, e.g., '2-1'.",
		},
		"analysis": map[string]any{
			"type":        "STRING",
			"description": "A brief analysis of the prediction, explaining the reasoning.",
		},
	},
	"required": []string{"predictedWinner", "predictedScore", "analysis"},
}

// JSONGenerator produces schema-constrained JSON completions. *Client
// satisfies it.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, model, systemPrompt, userPrompt string, schema any) (string, error)
}

// Predictor turns two teams' recent form into a structured match prediction.
type Predictor struct {
	gen   JSONGenerator
	model string
}

// NewPredictor constructs a predictor bound to a generation model.
func NewPredictor(gen JSONGenerator, model string) *Predictor {
	return &Predictor{gen: gen, model: model}
}

// Predict requests a prediction for a match between teamA and teamB.
func (p *Predictor) Predict(ctx context.Context, teamA, teamB domain.TeamStats) (domain.PredictionResult, error) {
	prompt := buildPredictionPrompt(teamA, teamB)
	raw, err := p.gen.GenerateJSON(ctx, p.model, predictionSystemInstruction, prompt, predictionSchema)
	if err != nil {
		return domain.PredictionResult{}, fmt.Errorf("generate prediction: %w", err)
	}
	var result domain.PredictionResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &result); err != nil {
		return domain.PredictionResult{}, fmt.Errorf("decode prediction: %w", err)
	}
	return result, nil
}

func buildPredictionPrompt(teamA, teamB domain.TeamStats) string {
	var sb strings.Builder
	sb.WriteString("Analyze the following football match stats and provide a prediction.\n\n")
	writeTeam(&sb, "Team A", teamA)
	sb.WriteString("\n")
	writeTeam(&sb, "Team B", teamB)
	sb.WriteString("\nBased on this data, predict the winner, the final score, and provide a short analysis of your reasoning.")
	return sb.String()
}

func writeTeam(sb *strings.Builder, label string, team domain.TeamStats) {
	fmt.Fprintf(sb, "%s: %s\n", label, team.Name)
	fmt.Fprintf(sb, "- Last 5 Games Form (W-D-L): %d-%d-%d\n", team.Wins, team.Draws, team.Losses)
	fmt.Fprintf(sb, "- Average Goals Scored per game: %.2f\n", team.AvgGoalsScored)
	fmt.Fprintf(sb, "- Average Goals Conceded per game: %.2f\n", team.AvgGoalsConceded)
}
