package testutil

import "context"

// StaticScorer is a classify.Scorer returning fixed score maps, keyed by the
// exact text or image hash.
type StaticScorer struct {
	TextScores  map[string]map[string]float64
	ImageScores map[string]map[string]float64
}

func (s *StaticScorer) ScoreText(ctx context.Context, text string) (map[string]float64, error) {
	if m, ok := s.TextScores[text]; ok {
		return m, nil
	}
	return map[string]float64{}, nil
}

func (s *StaticScorer) ScoreImage(ctx context.Context, data []byte) (map[string]float64, error) {
	if m, ok := s.ImageScores[string(data)]; ok {
		return m, nil
	}
	return map[string]float64{}, nil
}
