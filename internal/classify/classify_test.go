package classify

import (
	"context"
	"testing"

	"github.com/modflow/ModFlow/internal/models"
	"github.com/modflow/ModFlow/internal/report"
	"github.com/modflow/ModFlow/internal/store"
	"github.com/modflow/ModFlow/internal/testutil"
)

func TestEvaluateText(t *testing.T) {
	tests := []struct {
		name   string
		scores map[string]float64
		want   Verdict
	}{
		{
			"clean text",
			map[string]float64{AttrToxicity: 0.1},
			Verdict{},
		},
		{
			"explicit sexual",
			map[string]float64{AttrSexual: 0.95},
			Verdict{Flagged: true, Category: models.CategorySexual, Explicit: true},
		},
		{
			"explicit threat",
			map[string]float64{AttrThreat: 0.92},
			Verdict{Flagged: true, Category: models.CategoryViolence, Explicit: true},
		},
		{
			"explicit identity attack",
			map[string]float64{AttrIdentityAttack: 0.91},
			Verdict{Flagged: true, Category: models.CategoryHateful, Explicit: true},
		},
		{
			"severe toxicity explicit",
			map[string]float64{AttrSevereToxicity: 0.93},
			Verdict{Flagged: true, Category: models.CategoryHarass, Explicit: true},
		},
		{
			"flagged but not explicit",
			map[string]float64{AttrSexual: 0.8},
			Verdict{Flagged: true, Category: models.CategorySexual},
		},
		{
			"severe toxicity below explicit only offers support",
			map[string]float64{AttrSevereToxicity: 0.8},
			Verdict{SOS: true, Category: models.CategoryHarass},
		},
		{
			"toxicity routes to harassment",
			map[string]float64{AttrToxicity: 0.95},
			Verdict{Flagged: true, Category: models.CategoryHarass},
		},
		{
			"insult routes to harassment",
			map[string]float64{AttrInsult: 0.91},
			Verdict{Flagged: true, Category: models.CategoryHarass},
		},
		{
			"flirtation routes to harassment",
			map[string]float64{AttrFlirtation: 0.85},
			Verdict{Flagged: true, Category: models.CategoryHarass},
		},
		{
			"spam",
			map[string]float64{AttrSpam: 0.95},
			Verdict{Flagged: true, Category: models.CategorySpam},
		},
		{
			"uncertain offers support only",
			map[string]float64{AttrThreat: 0.7},
			Verdict{SOS: true, Category: models.CategoryViolence},
		},
		{
			"uncertain toxicity",
			map[string]float64{AttrToxicity: 0.7},
			Verdict{SOS: true, Category: models.CategoryHarass},
		},
		{
			"uncertain flirtation",
			map[string]float64{AttrFlirtation: 0.7},
			Verdict{SOS: true, Category: models.CategoryHarass},
		},
		{
			"uncertain insult",
			map[string]float64{AttrInsult: 0.75},
			Verdict{SOS: true, Category: models.CategoryHarass},
		},
		{
			"insult below its uncertain tier",
			map[string]float64{AttrInsult: 0.68},
			Verdict{},
		},
		{
			"uncertain spam",
			map[string]float64{AttrSpam: 0.8},
			Verdict{SOS: true, Category: models.CategorySpam},
		},
		{
			"just below uncertain",
			map[string]float64{AttrThreat: 0.65},
			Verdict{},
		},
		{
			"explicit wins over lower tiers",
			map[string]float64{AttrSexual: 0.95, AttrSpam: 0.99},
			Verdict{Flagged: true, Category: models.CategorySexual, Explicit: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateText(tt.scores); got != tt.want {
				t.Errorf("EvaluateText() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEvaluateImage(t *testing.T) {
	tests := []struct {
		name   string
		scores map[string]float64
		want   Verdict
	}{
		{"clean image", map[string]float64{AttrImageAdult: 0.2}, Verdict{}},
		{
			"csam dominates",
			map[string]float64{AttrImageCSAM: 0.74, AttrImageAdult: 0.99},
			Verdict{Flagged: true, Category: models.CategoryCSAM, Explicit: true},
		},
		{
			"adult",
			map[string]float64{AttrImageAdult: 0.9},
			Verdict{Flagged: true, Category: models.CategorySexual, Explicit: true},
		},
		{
			"gore",
			map[string]float64{AttrImageGore: 0.8},
			Verdict{Flagged: true, Category: models.CategoryViolence, Explicit: true},
		},
		{
			"racy is flagged but not masked",
			map[string]float64{AttrImageRacy: 0.85},
			Verdict{Flagged: true, Category: models.CategorySexual},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateImage(tt.scores); got != tt.want {
				t.Errorf("EvaluateImage() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestCheckImageHashShortCircuit(t *testing.T) {
	st := store.NewInMemoryStore()
	image := []byte("known-bad-image")
	if err := st.AddKnownImage(report.HashImage(image)); err != nil {
		t.Fatal(err)
	}

	// The scorer says the image is harmless; the hash list overrules it.
	c := New(&testutil.StaticScorer{}, st)
	v, err := c.CheckImage(context.Background(), image)
	if err != nil {
		t.Fatalf("CheckImage: %v", err)
	}
	if !v.Flagged || !v.KnownImage || v.Category != models.CategoryCSAM {
		t.Errorf("verdict = %+v, want known CSAM", v)
	}

	// Unknown images fall through to the scorer.
	v, err = c.CheckImage(context.Background(), []byte("other"))
	if err != nil {
		t.Fatal(err)
	}
	if v.Flagged || v.KnownImage {
		t.Errorf("verdict = %+v, want clean", v)
	}
}

func TestCheckText(t *testing.T) {
	scorer := &testutil.StaticScorer{
		TextScores: map[string]map[string]float64{
			"you are awful": {AttrToxicity: 0.95},
		},
	}
	c := New(scorer, nil)
	v, err := c.CheckText(context.Background(), "you are awful")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Flagged || v.Category != models.CategoryHarass {
		t.Errorf("verdict = %+v", v)
	}
}
