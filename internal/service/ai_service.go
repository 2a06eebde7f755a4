package service

import (
	"bytes"
	"context"
	"counselor_training_backend/internal/config"
	"counselor_training_backend/internal/model"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// AIService talks to an OpenAI-compatible /chat/completions endpoint.
type AIService struct {
	config config.AIConfig
	client *http.Client
}

func NewAIService(cfg config.AIConfig) *AIService {
	return &AIService{config: cfg, client: &http.Client{}}
}

type AIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []AIChatMessage `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type ChatCompletionResponse struct {
	Choices []struct {
		Message AIChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Reply keeps the transcript's roles: the simulated caller speaks as "assistant".
func (s *AIService) Reply(ctx context.Context, scenario *model.Scenario, transcript []model.TranscriptTurn) (string, error) {
	messages := []AIChatMessage{{
		Role:    "system",
		Content: callerInstruction + "\n\n" + scenario.Prompt,
	}}
	for _, t := range transcript {
		messages = append(messages, AIChatMessage{Role: string(t.Role), Content: t.Content})
	}
	return s.complete(ctx, ChatCompletionRequest{Model: s.config.Model, Messages: messages})
}

func (s *AIService) Score(ctx context.Context, scenario *model.Scenario, transcript []model.TranscriptTurn) (*ScoreResult, error) {
	raw, err := s.complete(ctx, ChatCompletionRequest{
		Model: s.config.Model,
		Messages: []AIChatMessage{
			{Role: "system", Content: scoringInstruction},
			{Role: "user", Content: scoringPrompt(scenario, transcript)},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, err
	}
	return ParseScoreResult(raw)
}

func (s *AIService) complete(ctx context.Context, reqBody ChatCompletionRequest) (string, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.config.BaseURL, "/")+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("AI API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ChatCompletionResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", err
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("AI API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", errors.New("AI API returned no choices")
	}
	return chatResp.Choices[0].Message.Content, nil
}
