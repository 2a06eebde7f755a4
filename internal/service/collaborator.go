package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"counselor_training_backend/internal/model"
)

// Generator produces the simulated caller's next line.
type Generator interface {
	Reply(ctx context.Context, scenario *model.Scenario, transcript []model.TranscriptTurn) (string, error)
}

// Scorer grades a finished transcript.
type Scorer interface {
	Score(ctx context.Context, scenario *model.Scenario, transcript []model.TranscriptTurn) (*ScoreResult, error)
}

// LanguageModel is implemented by every provider client.
type LanguageModel interface {
	Generator
	Scorer
}

type ScoreFlag struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Details  string `json:"details"`
}

type ScoreResult struct {
	OverallScore   *float64        `json:"overallScore"`
	Feedback       json.RawMessage `json:"feedback"`
	Strengths      []string        `json:"strengths"`
	AreasToImprove []string        `json:"areasToImprove"`
	Flags          []ScoreFlag     `json:"flags"`
}

const callerInstruction = "You are role-playing the caller described below on a crisis line. " +
	"Stay in character, answer only as the caller, and keep replies to a few sentences."

const scoringInstruction = "You review crisis-line training transcripts. Grade the counselor and reply with JSON only: " +
	`{"overallScore": <0-100>, "feedback": {<criterion>: <comment>}, "strengths": [..], "areasToImprove": [..], ` +
	`"flags": [{"type": "..", "severity": "info|warning|critical", "details": ".."}]}`

// renderTranscript prints the dialogue with the counselor as "Counselor" and the
// simulated caller as "Caller".
func renderTranscript(turns []model.TranscriptTurn) string {
	var b strings.Builder
	for _, t := range turns {
		speaker := "Counselor"
		if t.Role == model.TurnRoleAssistant {
			speaker = "Caller"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, t.Content)
	}
	return b.String()
}

func scoringPrompt(scenario *model.Scenario, turns []model.TranscriptTurn) string {
	return fmt.Sprintf("Scenario: %s\n%s\n\nTranscript:\n%s", scenario.Title, scenario.Prompt, renderTranscript(turns))
}

// ParseScoreResult extracts the JSON object from a model response, tolerating code fences
// and surrounding prose.
func ParseScoreResult(raw string) (*ScoreResult, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, errors.New("score response contains no JSON object")
	}

	var result ScoreResult
	if err := json.Unmarshal([]byte(raw[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("decode score response: %w", err)
	}
	if result.OverallScore == nil {
		return nil, errors.New("score response is missing overallScore")
	}
	if math.IsNaN(*result.OverallScore) || math.IsInf(*result.OverallScore, 0) {
		return nil, errors.New("score response has a non-finite overallScore")
	}
	if len(result.Feedback) == 0 || string(result.Feedback) == "null" {
		result.Feedback = json.RawMessage("{}")
	}
	if result.Strengths == nil {
		result.Strengths = []string{}
	}
	if result.AreasToImprove == nil {
		result.AreasToImprove = []string{}
	}
	return &result, nil
}
