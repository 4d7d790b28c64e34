package analysis

import (
	"context"
	"fmt"

	"prism/internal/types"
)

// EntitiesOutput is the full entity extraction result stored on the record
type EntitiesOutput struct {
	People        []string `json:"people"`        // Named people
	Organizations []string `json:"organizations"` // Companies, agencies, institutions
	Locations     []string `json:"locations"`     // Geographic places
	Keywords      []string `json:"keywords"`      // Salient non-entity terms
}

// EntitiesEvidence is the compact fragment downstream services consume
type EntitiesEvidence struct {
	People        []string `json:"people"`
	Organizations []string `json:"organizations"`
}

// EntitiesService extracts named entities from an item.
// It has no dependencies and can run alongside classification.
type EntitiesService struct {
	client Completer
}

var _ Service = (*EntitiesService)(nil)

// NewEntitiesService creates an entity extraction service backed by the given client
func NewEntitiesService(client Completer) *EntitiesService {
	return &EntitiesService{client: client}
}

func (s *EntitiesService) Type() types.ServiceType {
	return types.ServiceEntities
}

func (s *EntitiesService) Dependencies() []types.ServiceType {
	return nil
}

// Analyze extracts entities from one item
func (s *EntitiesService) Analyze(ctx context.Context, item *types.Item, evidence types.EvidenceBag) (*Result, error) {
	prompt := s.buildEntitiesPrompt(item)

	text, usage, err := s.client.Complete(ctx, "entities", prompt)
	if err != nil {
		return nil, fmt.Errorf("entities call failed: %w", err)
	}

	parseResult := Parse[EntitiesOutput](text, ParseOptions{Context: "entities response"})
	if !parseResult.Success {
		return nil, fmt.Errorf("entities response unparseable: %s", parseResult.Error)
	}
	output := parseResult.Data

	frag := EntitiesEvidence{
		People:        output.People,
		Organizations: output.Organizations,
	}
	return buildResult(output, frag, s.client.Cost(usage))
}

// buildEntitiesPrompt builds the prompt for extracting entities from an item
func (s *EntitiesService) buildEntitiesPrompt(item *types.Item) string {
	return fmt.Sprintf(`You are a content analyst extracting named entities from an item.

Title: %s

Summary:
%s

Body:
%s

Extract every named person, organization, and location mentioned in the text,
plus up to ten salient keywords. Use empty arrays when a category has no
entries. Do not invent entities that are not in the text.

Please provide the extraction as a JSON object with the following structure:
{
  "people": ["Ada Lovelace"],
  "organizations": ["Acme Corp"],
  "locations": ["Berlin"],
  "keywords": ["merger", "antitrust"]
}

IMPORTANT: Respond with ONLY raw JSON. Do NOT wrap it in markdown code fences (`+"`"+`). Just the JSON object.`,
		item.Title, item.Summary, item.Body)
}
