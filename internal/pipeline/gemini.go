package pipeline

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const summaryPrompt = `You are a meeting assistant. Summarize the following meeting transcript in bullet points, highlight action items, key decisions, and follow-up tasks. Use clear English. Transcript:
%s`

// GeminiSummarizer generates meeting summaries with the Gemini API. Keywords
// are extracted locally from the transcript rather than asked of the model,
// which keeps them deterministic.
type GeminiSummarizer struct {
	apiKey string
	model  string
}

func NewGeminiSummarizer(apiKey, model string) *GeminiSummarizer {
	return &GeminiSummarizer{apiKey: apiKey, model: model}
}

func (g *GeminiSummarizer) Summarize(ctx context.Context, transcript string) (*Summary, error) {
	if strings.TrimSpace(transcript) == "" {
		return &Summary{}, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, transientErr("summarize", fmt.Errorf("create client: %v", err))
	}

	prompt := fmt.Sprintf(summaryPrompt, transcript)
	result, err := client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return nil, classifyGeminiErr(err)
	}

	var text string
	if result != nil && len(result.Candidates) > 0 && result.Candidates[0].Content != nil {
		for _, part := range result.Candidates[0].Content.Parts {
			if part.Text != "" {
				text += part.Text
			}
		}
	}
	if text == "" {
		return nil, transientErr("summarize", fmt.Errorf("empty response from Gemini"))
	}

	return &Summary{
		Summary:  strings.TrimSpace(text),
		Keywords: ExtractKeywords(transcript, defaultKeywordCount),
	}, nil
}

// classifyGeminiErr maps API failures onto the retry taxonomy. Rate limits,
// quota exhaustion and transport errors resolve on retry; a request the API
// rejects outright will not.
func classifyGeminiErr(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "400") || strings.Contains(msg, "INVALID_ARGUMENT") {
		return permanentErr("summarize", err)
	}
	return transientErr("summarize", err)
}
