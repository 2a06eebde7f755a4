package service

import (
	"context"
	"counselor_training_backend/internal/config"
	"counselor_training_backend/internal/model"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GeminiService is the Gemini-backed LanguageModel.
type GeminiService struct {
	client *genai.Client
	model  string
}

func NewGeminiService(ctx context.Context, cfg config.AIConfig) (*GeminiService, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiService{client: client, model: cfg.Model}, nil
}

func (s *GeminiService) generate(ctx context.Context, system, prompt, mimeType string) (string, error) {
	result, err := s.client.Models.GenerateContent(
		ctx,
		s.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
			ResponseMIMEType:  mimeType,
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := result.Text()
	if text == "" {
		return "", errors.New("gemini returned no text")
	}
	return text, nil
}

// Reply sends the rendered dialogue as one user message; Gemini requires the first
// content to come from the user, while transcripts open with the caller.
func (s *GeminiService) Reply(ctx context.Context, scenario *model.Scenario, transcript []model.TranscriptTurn) (string, error) {
	prompt := renderTranscript(transcript) + "\nCaller:"
	return s.generate(ctx, callerInstruction+"\n\n"+scenario.Prompt, prompt, "text/plain")
}

func (s *GeminiService) Score(ctx context.Context, scenario *model.Scenario, transcript []model.TranscriptTurn) (*ScoreResult, error) {
	raw, err := s.generate(ctx, scoringInstruction, scoringPrompt(scenario, transcript), "application/json")
	if err != nil {
		return nil, err
	}
	return ParseScoreResult(raw)
}
