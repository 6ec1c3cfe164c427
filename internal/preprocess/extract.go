// Package preprocess is entity extraction and query preprocessing.
// Extraction is a pluggable Strategy rather than a single function so the
// design admits additional extractors (software names, versions) without
// touching the query-processing algorithm.
package preprocess

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// Strategy extracts a set of identifiers from text. Implementations must be
// pure: same text in, same identifiers out, regardless of case.
type Strategy interface {
	Extract(text string) []string
}

// cveExtractor is the primary, always-enabled strategy: CVE-style
// identifiers, normalized to upper case, duplicates removed, first-occurrence
// order preserved. Case-folding before comparison makes extraction stable
// regardless of how the source text capitalizes the identifier.
type cveExtractor struct {
	pattern *regexp.Regexp
}

var cvePattern = regexp.MustCompile(`(?i)CVE-\d{4}-\d{4,7}`)

func newCVEExtractor() *cveExtractor {
	return &cveExtractor{pattern: cvePattern}
}

func (e *cveExtractor) Extract(text string) []string {
	matches := e.pattern.FindAllString(text, -1)
	upper := make([]string, len(matches))
	for i, m := range matches {
		upper[i] = strings.ToUpper(m)
	}
	return lo.Uniq(upper)
}

// softwareVersionExtractor is a disabled-by-default extension point for a
// future strategy (e.g. "nginx/1.18.0") — named here so Extractor's strategy
// list has an obvious place to register it, not wired into the default
// pipeline since no canonical version-string pattern is normative yet.
type softwareVersionExtractor struct {
	pattern *regexp.Regexp
}

func newSoftwareVersionExtractor() *softwareVersionExtractor {
	return &softwareVersionExtractor{
		pattern: regexp.MustCompile(`(?i)[a-z][a-z0-9._-]*/\d+(?:\.\d+){1,3}`),
	}
}

func (e *softwareVersionExtractor) Extract(text string) []string {
	matches := e.pattern.FindAllString(text, -1)
	upper := make([]string, len(matches))
	for i, m := range matches {
		upper[i] = strings.ToUpper(m)
	}
	return lo.Uniq(upper)
}

// Extractor runs every enabled Strategy over text and merges the results,
// preserving first-occurrence order across strategies.
type Extractor struct {
	strategies []Strategy
}

// NewExtractor builds an Extractor with the default CVE strategy enabled.
// Additional strategies (e.g. the software/version extractor) can be added
// with WithStrategy.
func NewExtractor() *Extractor {
	return &Extractor{strategies: []Strategy{newCVEExtractor()}}
}

// WithStrategy registers an additional extraction strategy.
func (e *Extractor) WithStrategy(s Strategy) *Extractor {
	e.strategies = append(e.strategies, s)
	return e
}

// Extract returns every identifier found by any enabled strategy, duplicates
// removed, first-occurrence order preserved.
func (e *Extractor) Extract(text string) []string {
	var all []string
	for _, s := range e.strategies {
		all = append(all, s.Extract(text)...)
	}
	return lo.Uniq(all)
}
