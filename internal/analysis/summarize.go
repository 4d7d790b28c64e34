package analysis

import (
	"context"
	"fmt"

	"prism/internal/types"
)

// SummarizeOutput is the full summary stored on the record
type SummarizeOutput struct {
	Headline  string   `json:"headline"`   // One-line headline, max ~12 words
	Abstract  string   `json:"abstract"`   // 2-3 sentence abstract
	KeyPoints []string `json:"key_points"` // Up to five bullet points
}

// SummarizeEvidence is the compact fragment recorded for the summary
type SummarizeEvidence struct {
	Headline string `json:"headline"`
}

// SummarizeService produces a headline and abstract for an item. It consumes
// the classification and assessment fragments when present so the summary can
// reflect category and quality; absent fragments degrade the prompt, not the
// call.
type SummarizeService struct {
	client Completer
}

var _ Service = (*SummarizeService)(nil)

// NewSummarizeService creates a summarization service backed by the given client
func NewSummarizeService(client Completer) *SummarizeService {
	return &SummarizeService{client: client}
}

func (s *SummarizeService) Type() types.ServiceType {
	return types.ServiceSummarize
}

func (s *SummarizeService) Dependencies() []types.ServiceType {
	return []types.ServiceType{types.ServiceClassify, types.ServiceAssess}
}

// Analyze summarizes one item
func (s *SummarizeService) Analyze(ctx context.Context, item *types.Item, evidence types.EvidenceBag) (*Result, error) {
	prompt := s.buildSummarizePrompt(item, evidence)

	text, usage, err := s.client.Complete(ctx, "summarize", prompt)
	if err != nil {
		return nil, fmt.Errorf("summarize call failed: %w", err)
	}

	parseResult := Parse[SummarizeOutput](text, ParseOptions{Context: "summarize response"})
	if !parseResult.Success {
		return nil, fmt.Errorf("summarize response unparseable: %s", parseResult.Error)
	}
	output := parseResult.Data
	if output.Headline == "" || output.Abstract == "" {
		return nil, fmt.Errorf("summarize response missing headline or abstract")
	}

	frag := SummarizeEvidence{Headline: output.Headline}
	return buildResult(output, frag, s.client.Cost(usage))
}

// buildSummarizePrompt builds the prompt for summarizing an item, folding in
// upstream evidence where available
func (s *SummarizeService) buildSummarizePrompt(item *types.Item, evidence types.EvidenceBag) string {
	classifySection := "Classification: not available (upstream analysis failed)."
	if frag, ok := decodeFragment[ClassifyEvidence](evidence, types.ServiceClassify); ok {
		classifySection = fmt.Sprintf("Classification: category %q", frag.Category)
	}

	assessSection := "Assessment: not available (upstream analysis failed); summarize neutrally."
	if frag, ok := decodeFragment[AssessEvidence](evidence, types.ServiceAssess); ok {
		assessSection = fmt.Sprintf("Assessment: quality %q, relevance %.2f", frag.Quality, frag.Relevance)
	}

	return fmt.Sprintf(`You are a content analyst writing a summary of an item.

Title: %s

Summary:
%s

Body:
%s

Upstream analysis:
- %s
- %s

Write a headline of at most 12 words, an abstract of 2-3 sentences, and up to
five key points. Stay strictly within what the text says.

Please provide the summary as a JSON object with the following structure:
{
  "headline": "Short headline here",
  "abstract": "Two to three sentences.",
  "key_points": ["First point", "Second point"]
}

IMPORTANT: Respond with ONLY raw JSON. Do NOT wrap it in markdown code fences (`+"`"+`). Just the JSON object.`,
		item.Title, item.Summary, item.Body, classifySection, assessSection)
}
