package analysis

import (
	"context"
	"fmt"

	"prism/internal/types"
)

// ClassifyOutput is the full classification result stored on the record
type ClassifyOutput struct {
	Category   string   `json:"category"`   // Primary category (e.g., "technology", "finance")
	Topics     []string `json:"topics"`     // Finer-grained topic labels
	Confidence float64  `json:"confidence"` // Model confidence 0.0-1.0
	Reasoning  string   `json:"reasoning"`  // Short explanation of the choice
}

// ClassifyEvidence is the compact fragment downstream services consume
type ClassifyEvidence struct {
	Category string   `json:"category"`
	Topics   []string `json:"topics"`
}

// ClassifyService assigns a category and topic labels to an item.
// It has no dependencies and runs first in the chain.
type ClassifyService struct {
	client Completer
}

var _ Service = (*ClassifyService)(nil)

// NewClassifyService creates a classification service backed by the given client
func NewClassifyService(client Completer) *ClassifyService {
	return &ClassifyService{client: client}
}

func (s *ClassifyService) Type() types.ServiceType {
	return types.ServiceClassify
}

func (s *ClassifyService) Dependencies() []types.ServiceType {
	return nil
}

// Analyze classifies one item
func (s *ClassifyService) Analyze(ctx context.Context, item *types.Item, evidence types.EvidenceBag) (*Result, error) {
	prompt := s.buildClassifyPrompt(item)

	text, usage, err := s.client.Complete(ctx, "classify", prompt)
	if err != nil {
		return nil, fmt.Errorf("classify call failed: %w", err)
	}

	parseResult := Parse[ClassifyOutput](text, ParseOptions{Context: "classify response"})
	if !parseResult.Success {
		return nil, fmt.Errorf("classify response unparseable: %s", parseResult.Error)
	}
	output := parseResult.Data
	if output.Category == "" {
		return nil, fmt.Errorf("classify response missing category")
	}

	frag := ClassifyEvidence{
		Category: output.Category,
		Topics:   output.Topics,
	}
	return buildResult(output, frag, s.client.Cost(usage))
}

// buildClassifyPrompt builds the prompt for classifying an item
func (s *ClassifyService) buildClassifyPrompt(item *types.Item) string {
	return fmt.Sprintf(`You are a content analyst classifying an item from a content feed.

Title: %s

Summary:
%s

Body:
%s

Assign one primary category and up to five topic labels. Categories are short
lowercase nouns ("technology", "finance", "science", "politics", "culture",
"sports", "health", or another if none fit).

Please provide your classification as a JSON object with the following structure:
{
  "category": "technology",
  "topics": ["machine learning", "chips"],
  "confidence": 0.9,
  "reasoning": "One or two sentences explaining the choice"
}

IMPORTANT: Respond with ONLY raw JSON. Do NOT wrap it in markdown code fences (`+"`"+`). Just the JSON object.`,
		item.Title, item.Summary, item.Body)
}
