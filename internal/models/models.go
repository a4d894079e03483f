// Package models defines the shared vocabulary of the moderation assistant:
// abuse categories, report statuses, urgency scoring, and the keyword sets
// recognized across conversational flows.
package models

import "strings"

// AbuseCategory identifies the kind of abuse a report concerns.
type AbuseCategory string

const (
	CategorySpam     AbuseCategory = "SPAM"
	CategoryHateful  AbuseCategory = "HATEFUL"
	CategorySexual   AbuseCategory = "SEXUAL"
	CategoryHarass   AbuseCategory = "HARASS"
	CategoryBullying AbuseCategory = "BULLYING"
	CategoryHarmful  AbuseCategory = "HARMFUL"
	CategoryViolence AbuseCategory = "VIOLENCE"
	CategoryCSAM     AbuseCategory = "CSAM"
)

// categoryDisplay maps each category to the label shown on report cards and
// in the intake menu.
var categoryDisplay = map[AbuseCategory]string{
	CategorySpam:     "Misinformation or Spam",
	CategoryHateful:  "Hateful Content",
	CategorySexual:   "Sexual Content",
	CategoryHarass:   "Harassment",
	CategoryBullying: "Bullying",
	CategoryHarmful:  "Harmful/Dangerous Content",
	CategoryViolence: "Promoting Violence or Terrorism",
	CategoryCSAM:     "Child Abuse",
}

// Display returns the human-readable label for the category.
func (c AbuseCategory) Display() string {
	if d, ok := categoryDisplay[c]; ok {
		return d
	}
	return string(c)
}

// Valid reports whether c is one of the known categories.
func (c AbuseCategory) Valid() bool {
	_, ok := categoryDisplay[c]
	return ok
}

// Categories lists all abuse categories in intake-menu order.
func Categories() []AbuseCategory {
	return []AbuseCategory{
		CategorySpam,
		CategoryHateful,
		CategorySexual,
		CategoryHarass,
		CategoryBullying,
		CategoryHarmful,
		CategoryViolence,
		CategoryCSAM,
	}
}

// categorySynonyms maps free-text keywords a reporter may type to a
// category, as an alternative to picking a number from the menu.
var categorySynonyms = map[AbuseCategory][]string{
	CategorySpam:     {"spam", "misinformation", "misinfo", "fake"},
	CategoryHateful:  {"hateful", "hate", "racism", "racist", "slur"},
	CategorySexual:   {"sexual", "sex", "nsfw", "porn", "nude", "nudity"},
	CategoryHarass:   {"harassment", "harass", "harassing"},
	CategoryBullying: {"bullying", "bully", "bullied"},
	CategoryHarmful:  {"harmful", "dangerous", "self-harm", "suicide"},
	CategoryViolence: {"violence", "violent", "terrorism", "threat"},
	CategoryCSAM:     {"child", "csam", "minor"},
}

// CategoryFromKeyword matches free text against each category's synonym
// list. The reply is split into words and any word may hit a synonym, so
// "it's spam I think" still resolves. Categories are tried in menu order;
// the second return is false when nothing matches.
func CategoryFromKeyword(text string) (AbuseCategory, bool) {
	words := strings.Fields(strings.ToLower(text))
	for _, c := range Categories() {
		for _, syn := range categorySynonyms[c] {
			for _, w := range words {
				if w == syn {
					return c, true
				}
			}
		}
	}
	return "", false
}

// ReportStatus tracks a report through its lifecycle.
type ReportStatus string

const (
	// StatusNew means the report is unclaimed and open for assignment.
	StatusNew ReportStatus = "NEW"
	// StatusPending means a moderator has claimed the report and a review
	// is in progress.
	StatusPending ReportStatus = "PENDING"
	// StatusResolved means review finished; the record is kept but all
	// interactive affordances are gone.
	StatusResolved ReportStatus = "RESOLVED"
)

// Urgency computes the priority of a report in [0,4] from its category and
// circumstances. victimIsReporter applies to harassment reports filed by the
// target themselves; urgent marks time-critical harmful or violent content.
func Urgency(category AbuseCategory, victimIsReporter, urgent bool) int {
	switch category {
	case CategorySpam:
		return 0
	case CategoryHateful, CategorySexual:
		return 1
	case CategoryHarass:
		if victimIsReporter {
			return 3
		}
		return 2
	case CategoryBullying:
		return 3
	case CategoryHarmful, CategoryViolence:
		if urgent {
			return 4
		}
		return 3
	case CategoryCSAM:
		return 4
	default:
		return 0
	}
}

// urgencyDisplay maps urgency scores to the labels rendered on report cards.
var urgencyDisplay = [5]string{"Very Low", "Low", "Moderate", "High", "Very High"}

// UrgencyDisplay returns the label for an urgency score, clamping
// out-of-range values.
func UrgencyDisplay(urgency int) string {
	if urgency < 0 {
		urgency = 0
	}
	if urgency > 4 {
		urgency = 4
	}
	return urgencyDisplay[urgency]
}

// Keyword sets recognized uniformly across flows. Matching is
// case-insensitive on the trimmed message text.
var (
	CancelKeywords = []string{"cancel", "quit", "exit"}
	HelpKeywords   = []string{"help", "?"}
	YesKeywords    = []string{"yes", "y", "yeah", "yup", "sure"}
	NoKeywords     = []string{"no", "n", "nah", "naw", "nope"}
	StartKeywords  = []string{"report"}
)

// MatchesKeyword reports whether text equals one of the keywords after
// trimming and lowercasing.
func MatchesKeyword(text string, keywords []string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	for _, k := range keywords {
		if t == k {
			return true
		}
	}
	return false
}
