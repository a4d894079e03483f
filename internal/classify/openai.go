package classify

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIScorer scores content through the OpenAI moderation endpoint and
// maps its category scores onto the attribute keys the routing tables use.
// Attributes the endpoint does not model (SPAM, FLIRTATION) score zero; a
// deployment that needs them plugs in a different Scorer.
type OpenAIScorer struct {
	client openai.Client
}

// NewOpenAIScorer initializes a scorer using the OPENAI_API_KEY environment
// variable.
func NewOpenAIScorer() (*OpenAIScorer, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	return &OpenAIScorer{client: openai.NewClient(option.WithAPIKey(apiKey))}, nil
}

func (s *OpenAIScorer) ScoreText(ctx context.Context, text string) (map[string]float64, error) {
	res, err := s.client.Moderations.New(ctx, openai.ModerationNewParams{
		Model: openai.ModerationModelOmniModerationLatest,
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("moderation request failed: %w", err)
	}
	if len(res.Results) == 0 {
		return nil, fmt.Errorf("moderation returned no results")
	}
	cs := res.Results[0].CategoryScores
	return map[string]float64{
		AttrToxicity:       cs.Harassment,
		AttrSevereToxicity: cs.HarassmentThreatening,
		AttrIdentityAttack: cs.Hate,
		AttrInsult:         cs.Harassment,
		AttrThreat:         cs.Violence,
		AttrSexual:         cs.Sexual,
	}, nil
}

func (s *OpenAIScorer) ScoreImage(ctx context.Context, data []byte) (map[string]float64, error) {
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	res, err := s.client.Moderations.New(ctx, openai.ModerationNewParams{
		Model: openai.ModerationModelOmniModerationLatest,
		Input: openai.ModerationNewParamsInputUnion{
			OfModerationMultiModalArray: []openai.ModerationMultiModalInputUnionParam{
				{
					OfImageURL: &openai.ModerationImageURLInputParam{
						ImageURL: openai.ModerationImageURLInputImageURLParam{URL: dataURL},
					},
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("moderation request failed: %w", err)
	}
	if len(res.Results) == 0 {
		return nil, fmt.Errorf("moderation returned no results")
	}
	cs := res.Results[0].CategoryScores
	return map[string]float64{
		AttrImageAdult: cs.Sexual,
		AttrImageRacy:  cs.Sexual,
		AttrImageGore:  cs.ViolenceGraphic,
		AttrImageCSAM:  cs.SexualMinors,
	}, nil
}
