package models

import "testing"

func TestUrgencyTable(t *testing.T) {
	tests := []struct {
		name             string
		category         AbuseCategory
		victimIsReporter bool
		urgent           bool
		want             int
	}{
		{"spam is very low", CategorySpam, false, false, 0},
		{"spam ignores flags", CategorySpam, true, true, 0},
		{"hateful", CategoryHateful, false, false, 1},
		{"sexual", CategorySexual, false, false, 1},
		{"harass third party", CategoryHarass, false, false, 2},
		{"harass self-reported", CategoryHarass, true, false, 3},
		{"bullying", CategoryBullying, false, false, 3},
		{"harmful", CategoryHarmful, false, false, 3},
		{"harmful urgent", CategoryHarmful, false, true, 4},
		{"violence", CategoryViolence, false, false, 3},
		{"violence urgent", CategoryViolence, false, true, 4},
		{"csam always max", CategoryCSAM, false, false, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Urgency(tt.category, tt.victimIsReporter, tt.urgent); got != tt.want {
				t.Errorf("Urgency(%s, %v, %v) = %d, want %d", tt.category, tt.victimIsReporter, tt.urgent, got, tt.want)
			}
		})
	}
}

func TestUrgencyDisplay(t *testing.T) {
	if got := UrgencyDisplay(Urgency(CategorySpam, false, false)); got != "Very Low" {
		t.Errorf("spam urgency display = %q, want %q", got, "Very Low")
	}
	if got := UrgencyDisplay(4); got != "Very High" {
		t.Errorf("UrgencyDisplay(4) = %q, want %q", got, "Very High")
	}
	if got := UrgencyDisplay(-1); got != "Very Low" {
		t.Errorf("UrgencyDisplay(-1) = %q, want %q", got, "Very Low")
	}
	if got := UrgencyDisplay(9); got != "Very High" {
		t.Errorf("UrgencyDisplay(9) = %q, want %q", got, "Very High")
	}
}

func TestMatchesKeyword(t *testing.T) {
	tests := []struct {
		text     string
		keywords []string
		want     bool
	}{
		{"yes", YesKeywords, true},
		{"YES", YesKeywords, true},
		{"  yup  ", YesKeywords, true},
		{"yessir", YesKeywords, false},
		{"cancel", CancelKeywords, true},
		{"Quit", CancelKeywords, true},
		{"?", HelpKeywords, true},
		{"nope", NoKeywords, true},
		{"report", StartKeywords, true},
		{"reporting", StartKeywords, false},
	}
	for _, tt := range tests {
		if got := MatchesKeyword(tt.text, tt.keywords); got != tt.want {
			t.Errorf("MatchesKeyword(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestCategoryFromKeyword(t *testing.T) {
	if c, ok := CategoryFromKeyword("Bullying"); !ok || c != CategoryBullying {
		t.Errorf("CategoryFromKeyword(Bullying) = %v, %v", c, ok)
	}
	if c, ok := CategoryFromKeyword("suicide"); !ok || c != CategoryHarmful {
		t.Errorf("CategoryFromKeyword(suicide) = %v, %v", c, ok)
	}
	if _, ok := CategoryFromKeyword("gibberish"); ok {
		t.Error("CategoryFromKeyword(gibberish) matched unexpectedly")
	}
	// A synonym anywhere in a longer reply still resolves.
	if c, ok := CategoryFromKeyword("it's spam I think"); !ok || c != CategorySpam {
		t.Errorf("CategoryFromKeyword(it's spam I think) = %v, %v", c, ok)
	}
	if c, ok := CategoryFromKeyword("someone keeps harassing me"); !ok || c != CategoryHarass {
		t.Errorf("CategoryFromKeyword(someone keeps harassing me) = %v, %v", c, ok)
	}
}

func TestCategoryDisplay(t *testing.T) {
	if got := CategorySpam.Display(); got != "Misinformation or Spam" {
		t.Errorf("CategorySpam.Display() = %q", got)
	}
	if got := CategoryCSAM.Display(); got != "Child Abuse" {
		t.Errorf("CategoryCSAM.Display() = %q", got)
	}
	if !CategoryHarass.Valid() {
		t.Error("CategoryHarass should be valid")
	}
	if AbuseCategory("BOGUS").Valid() {
		t.Error("BOGUS should not be valid")
	}
}
