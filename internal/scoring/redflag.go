package scoring

import (
	"context"
	"strings"

	"github.com/Tangerg/ragguard/internal/docmodel"
)

// warningMarkers identify lines that document a dangerous action as a
// counter-example rather than recommend it ("never do X", "warning: ...").
// Only consulted when the document's category is golden.
var warningMarkers = []string{"never ", "warning:", "- never", "do not "}

// RedFlagScorer counts case-insensitive keyword-phrase hits against a
// category → phrase-list configuration, grouped into the five semantic
// categories named in the design notes (security-downgrade,
// dangerous-permissions, severity-downplay, unsafe-operations,
// social-engineering). The category names themselves are caller-supplied
// config, not hardcoded here.
type RedFlagScorer struct {
	categories   map[string][]string
	totalPhrases int
}

// NewRedFlagScorer builds a RedFlagScorer from a category → phrase mapping.
func NewRedFlagScorer(categories map[string][]string) *RedFlagScorer {
	total := 0
	for _, phrases := range categories {
		total += len(phrases)
	}
	return &RedFlagScorer{categories: categories, totalPhrases: total}
}

// Score implements Scorer.
func (r *RedFlagScorer) Score(_ context.Context, doc *docmodel.Document, _ []*docmodel.Document) (float64, error) {
	if r.totalPhrases == 0 {
		return 0.5, nil
	}

	content := doc.Content
	if doc.Metadata.Category == "golden" {
		content = stripWarningLines(content)
	}
	content = strings.ToLower(content)

	hits, categoriesHit := r.countHits(content)

	base := 1 - 1.5*float64(hits)/float64(r.totalPhrases)
	base = clip01(base)

	multiplier := 1.0
	switch {
	case categoriesHit >= 4:
		multiplier = 0.60
	case categoriesHit >= 3:
		multiplier = 0.70
	case categoriesHit >= 2:
		multiplier = 0.80
	}

	return clip01(base * multiplier), nil
}

func (r *RedFlagScorer) countHits(lowerContent string) (hits, categoriesHit int) {
	for _, phrases := range r.categories {
		categoryHits := 0
		for _, phrase := range phrases {
			categoryHits += strings.Count(lowerContent, strings.ToLower(phrase))
		}
		hits += categoryHits
		if categoryHits > 0 {
			categoriesHit++
		}
	}
	return hits, categoriesHit
}

func stripWarningLines(content string) string {
	lines := strings.Split(content, "\n")
	kept := lines[:0]
	for _, line := range lines {
		lower := strings.ToLower(line)
		flagged := false
		for _, marker := range warningMarkers {
			if strings.Contains(lower, marker) {
				flagged = true
				break
			}
		}
		if !flagged {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
