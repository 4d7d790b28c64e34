package analysis

import (
	"context"
	"fmt"
	"strings"

	"prism/internal/types"
)

// AssessOutput is the full quality assessment stored on the record
type AssessOutput struct {
	Quality     string  `json:"quality"`     // One of "high", "medium", "low"
	Relevance   float64 `json:"relevance"`   // Relevance to its category, 0.0-1.0
	Credibility float64 `json:"credibility"` // Apparent credibility, 0.0-1.0
	Reasoning   string  `json:"reasoning"`   // Short explanation of the scores
}

// AssessEvidence is the compact fragment downstream services consume
type AssessEvidence struct {
	Quality   string  `json:"quality"`
	Relevance float64 `json:"relevance"`
}

// AssessService scores an item's quality and relevance. It consumes the
// classification and entity fragments when present; when an upstream service
// failed, the prompt says so and the assessment proceeds on the raw text.
type AssessService struct {
	client Completer
}

var _ Service = (*AssessService)(nil)

// NewAssessService creates an assessment service backed by the given client
func NewAssessService(client Completer) *AssessService {
	return &AssessService{client: client}
}

func (s *AssessService) Type() types.ServiceType {
	return types.ServiceAssess
}

func (s *AssessService) Dependencies() []types.ServiceType {
	return []types.ServiceType{types.ServiceClassify, types.ServiceEntities}
}

// Analyze assesses one item
func (s *AssessService) Analyze(ctx context.Context, item *types.Item, evidence types.EvidenceBag) (*Result, error) {
	prompt := s.buildAssessPrompt(item, evidence)

	text, usage, err := s.client.Complete(ctx, "assess", prompt)
	if err != nil {
		return nil, fmt.Errorf("assess call failed: %w", err)
	}

	parseResult := Parse[AssessOutput](text, ParseOptions{Context: "assess response"})
	if !parseResult.Success {
		return nil, fmt.Errorf("assess response unparseable: %s", parseResult.Error)
	}
	output := parseResult.Data
	switch output.Quality {
	case "high", "medium", "low":
	default:
		return nil, fmt.Errorf("assess response has invalid quality %q", output.Quality)
	}

	frag := AssessEvidence{
		Quality:   output.Quality,
		Relevance: output.Relevance,
	}
	return buildResult(output, frag, s.client.Cost(usage))
}

// buildAssessPrompt builds the prompt for assessing an item, folding in
// upstream evidence where available
func (s *AssessService) buildAssessPrompt(item *types.Item, evidence types.EvidenceBag) string {
	classifySection := "Classification: not available (upstream analysis failed); judge category fit from the text itself."
	if frag, ok := decodeFragment[ClassifyEvidence](evidence, types.ServiceClassify); ok {
		classifySection = fmt.Sprintf("Classification: category %q, topics [%s]",
			frag.Category, strings.Join(frag.Topics, ", "))
	}

	entitiesSection := "Entities: not available (upstream analysis failed)."
	if frag, ok := decodeFragment[EntitiesEvidence](evidence, types.ServiceEntities); ok {
		entitiesSection = fmt.Sprintf("Entities: people [%s], organizations [%s]",
			strings.Join(frag.People, ", "), strings.Join(frag.Organizations, ", "))
	}

	return fmt.Sprintf(`You are a content analyst assessing the quality of an item.

Title: %s

Summary:
%s

Body:
%s

Upstream analysis:
- %s
- %s

Score the item's overall quality ("high", "medium", or "low"), its relevance
to its category (0.0-1.0), and its apparent credibility (0.0-1.0). Thin,
promotional, or incoherent text scores low.

Please provide your assessment as a JSON object with the following structure:
{
  "quality": "medium",
  "relevance": 0.8,
  "credibility": 0.7,
  "reasoning": "One or two sentences explaining the scores"
}

IMPORTANT: Respond with ONLY raw JSON. Do NOT wrap it in markdown code fences (`+"`"+`). Just the JSON object.`,
		item.Title, item.Summary, item.Body, classifySection, entitiesSection)
}
