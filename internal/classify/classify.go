// Package classify is the scoring boundary of the moderation assistant. A
// Scorer turns text or an image into per-attribute scores in [0,1]; the
// routing tables in this file turn scores into verdicts. The thresholds are
// tuned constants; nothing outside this package compares scores.
package classify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/modflow/ModFlow/internal/models"
	"github.com/modflow/ModFlow/internal/report"
)

// Text attribute keys.
const (
	AttrToxicity       = "TOXICITY"
	AttrSevereToxicity = "SEVERE_TOXICITY"
	AttrIdentityAttack = "IDENTITY_ATTACK"
	AttrInsult         = "INSULT"
	AttrThreat         = "THREAT"
	AttrSexual         = "SEXUALLY_EXPLICIT"
	AttrFlirtation     = "FLIRTATION"
	AttrSpam           = "SPAM"
)

// Image attribute keys.
const (
	AttrImageAdult = "ADULT"
	AttrImageGore  = "GORE"
	AttrImageRacy  = "RACY"
	AttrImageCSAM  = "CSAM"
)

// Scorer scores content. Implementations must be safe for concurrent use.
type Scorer interface {
	ScoreText(ctx context.Context, text string) (map[string]float64, error)
	ScoreImage(ctx context.Context, data []byte) (map[string]float64, error)
}

// HashList answers whether an image is already known abusive material.
type HashList interface {
	IsKnownImage(hash string) (bool, error)
}

// Verdict is the routing decision for one piece of content.
type Verdict struct {
	// Flagged content enters a confirmation or review flow.
	Flagged  bool
	Category models.AbuseCategory
	// Explicit content is masked wherever it is re-rendered.
	Explicit bool
	// SOS marks borderline content: not flagged, but the author is
	// offered support and a reporting shortcut.
	SOS bool
	// KnownImage is set when the hash list matched; such content skips
	// confirmation and is reported directly.
	KnownImage bool
}

// severeTextAttrs maps the attributes with an explicit tier to their
// category. Scores above the explicit threshold mask the content.
var severeTextAttrs = []struct {
	attr     string
	category models.AbuseCategory
}{
	{AttrSexual, models.CategorySexual},
	{AttrSevereToxicity, models.CategoryHarass},
	{AttrThreat, models.CategoryViolence},
	{AttrIdentityAttack, models.CategoryHateful},
}

// flagTextAttrs are the attributes that flag at the lower tier without
// masking. Severe toxicity is absent: it only acts at the explicit tier.
var flagTextAttrs = []struct {
	attr     string
	category models.AbuseCategory
}{
	{AttrSexual, models.CategorySexual},
	{AttrThreat, models.CategoryViolence},
	{AttrIdentityAttack, models.CategoryHateful},
}

const (
	explicitThreshold = 0.9
	flagThreshold     = 0.75
	flirtThreshold    = 0.8
	spamThreshold     = 0.9

	uncertainThreshold       = 0.65
	uncertainInsultThreshold = 0.7
	uncertainSpamThreshold   = 0.75

	imageAdultThreshold = 0.85
	imageGoreThreshold  = 0.75
	imageRacyThreshold  = 0.8
	imageCSAMThreshold  = 0.73
)

// EvaluateText routes text scores to a verdict.
func EvaluateText(scores map[string]float64) Verdict {
	for _, sa := range severeTextAttrs {
		if scores[sa.attr] > explicitThreshold {
			return Verdict{Flagged: true, Category: sa.category, Explicit: true}
		}
	}
	for _, sa := range flagTextAttrs {
		if scores[sa.attr] > flagThreshold {
			return Verdict{Flagged: true, Category: sa.category}
		}
	}
	if scores[AttrToxicity] > explicitThreshold || scores[AttrInsult] > explicitThreshold {
		return Verdict{Flagged: true, Category: models.CategoryHarass}
	}
	if scores[AttrFlirtation] > flirtThreshold {
		return Verdict{Flagged: true, Category: models.CategoryHarass}
	}
	if scores[AttrSpam] > spamThreshold {
		return Verdict{Flagged: true, Category: models.CategorySpam}
	}
	for _, sa := range severeTextAttrs {
		if scores[sa.attr] > uncertainThreshold {
			return Verdict{SOS: true, Category: sa.category}
		}
	}
	switch {
	case scores[AttrToxicity] > uncertainThreshold, scores[AttrFlirtation] > uncertainThreshold:
		return Verdict{SOS: true, Category: models.CategoryHarass}
	case scores[AttrInsult] > uncertainInsultThreshold:
		return Verdict{SOS: true, Category: models.CategoryHarass}
	case scores[AttrSpam] > uncertainSpamThreshold:
		return Verdict{SOS: true, Category: models.CategorySpam}
	}
	return Verdict{}
}

// EvaluateImage routes image scores to a verdict.
func EvaluateImage(scores map[string]float64) Verdict {
	if scores[AttrImageCSAM] > imageCSAMThreshold {
		return Verdict{Flagged: true, Category: models.CategoryCSAM, Explicit: true}
	}
	if scores[AttrImageAdult] > imageAdultThreshold {
		return Verdict{Flagged: true, Category: models.CategorySexual, Explicit: true}
	}
	if scores[AttrImageGore] > imageGoreThreshold {
		return Verdict{Flagged: true, Category: models.CategoryViolence, Explicit: true}
	}
	if scores[AttrImageRacy] > imageRacyThreshold {
		return Verdict{Flagged: true, Category: models.CategorySexual}
	}
	return Verdict{}
}

// Classifier combines a scorer with the known-image hash list.
type Classifier struct {
	scorer Scorer
	hashes HashList
}

// New creates a classifier. hashes may be nil to disable the hash shortcut.
func New(scorer Scorer, hashes HashList) *Classifier {
	return &Classifier{scorer: scorer, hashes: hashes}
}

// CheckText scores and routes a text message.
func (c *Classifier) CheckText(ctx context.Context, text string) (Verdict, error) {
	scores, err := c.scorer.ScoreText(ctx, text)
	if err != nil {
		return Verdict{}, fmt.Errorf("scoring text: %w", err)
	}
	v := EvaluateText(scores)
	if v.Flagged {
		slog.Debug("text flagged", "category", v.Category, "explicit", v.Explicit)
	}
	return v, nil
}

// CheckImage routes an image: the hash list is consulted first, and a match
// short-circuits scoring entirely.
func (c *Classifier) CheckImage(ctx context.Context, data []byte) (Verdict, error) {
	if c.hashes != nil {
		known, err := c.hashes.IsKnownImage(report.HashImage(data))
		if err != nil {
			slog.Warn("hash list lookup failed", "error", err)
		} else if known {
			return Verdict{Flagged: true, Category: models.CategoryCSAM, Explicit: true, KnownImage: true}, nil
		}
	}
	scores, err := c.scorer.ScoreImage(ctx, data)
	if err != nil {
		return Verdict{}, fmt.Errorf("scoring image: %w", err)
	}
	return EvaluateImage(scores), nil
}
