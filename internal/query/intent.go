package query

import (
	"strings"

	"github.com/shubhsaxena/discovery-engine/internal/models"
)

// Classifier scores queries as transactional (purchase-ready) or
// exploratory (browsing). The result is advisory metadata attached to
// responses, never a hard filter.
type Classifier struct {
	brands      map[string]bool
	exploratory map[string]bool
}

func NewClassifier() *Classifier {
	return &Classifier{
		brands: map[string]bool{
			"apple": true, "samsung": true, "sony": true, "lg": true,
			"nike": true, "adidas": true, "puma": true, "dell": true,
			"hp": true, "lenovo": true, "asus": true, "oneplus": true,
			"xiaomi": true, "boat": true, "philips": true, "bosch": true,
		},
		exploratory: map[string]bool{
			"best": true, "cheap": true, "top": true, "trending": true,
			"under": true, "popular": true, "good": true, "latest": true,
			"ideas": true, "vs": true,
		},
	}
}

// Classify tokenizes the normalized query and returns the dominant intent
// with a confidence in [0,1]. An empty query is exploratory with
// confidence <= 0.5.
func (c *Classifier) Classify(normalized string) (models.Intent, float64) {
	tokens := Tokenize(normalized)
	if len(tokens) == 0 {
		return models.IntentExploratory, 0.5
	}

	var transactional, exploratory int

	hasDigitRun := false
	hasBrand := false
	hasExploratory := false
	for _, tok := range tokens {
		if containsDigitRun(tok) {
			hasDigitRun = true
		}
		if c.brands[tok] {
			hasBrand = true
		}
		if c.exploratory[tok] {
			hasExploratory = true
		}
	}

	if hasDigitRun {
		transactional += 40 // model numbers, storage sizes
	}
	if hasBrand {
		transactional += 30
	}
	if len(tokens) >= 3 && !hasExploratory {
		transactional += 20
	}

	if hasExploratory {
		exploratory += 50
	}
	if len(tokens) <= 2 && !hasDigitRun {
		exploratory += 30
	}

	intent := models.IntentExploratory
	score := exploratory
	if transactional > exploratory {
		intent = models.IntentTransactional
		score = transactional
	}

	confidence := float64(score) / 100
	if confidence > 1 {
		confidence = 1
	}
	return intent, confidence
}

// containsDigitRun reports whether the token has at least two consecutive
// digits.
func containsDigitRun(tok string) bool {
	run := 0
	for _, r := range tok {
		if r >= '0' && r <= '9' {
			run++
			if run >= 2 {
				return true
			}
		} else {
			run = 0
		}
	}
	return false
}

// IsExploratoryKeyword reports whether the token is one of the browsing
// markers used by Classify.
func (c *Classifier) IsExploratoryKeyword(tok string) bool {
	return c.exploratory[strings.ToLower(tok)]
}
