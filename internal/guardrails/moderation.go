package guardrails

import (
	"regexp"
	"strings"
)

const (
	warningOffLabel = "*Off-label use discussions are for informational purposes. " +
		"Prescribing decisions should be made by licensed healthcare providers.*"
	warningSerious = "*This topic involves serious health conditions. " +
		"Information provided is for business analysis only.*"
	warningMentalHealth = "*Mental health is important. This analysis is for business purposes only.*"
	warningPopulation   = "*This topic involves a sensitive patient population. " +
		"Information provided is for business analysis only.*"
)

var offLabelPattern = regexp.MustCompile(`(?i)\boff[- ]label\b`)

type sensitiveArea struct {
	re      *regexp.Regexp
	warning string
}

// Checked in order; only the first matching area adds a note.
var sensitiveAreas = []sensitiveArea{
	{regexp.MustCompile(`(?i)\b(oncology|cancer|terminal)\b`), warningSerious},
	{regexp.MustCompile(`(?i)\bmental health\b`), warningMentalHealth},
	{regexp.MustCompile(`(?i)\b(pediatric|paediatric|reproductive|addiction|hiv|aids)\b`), warningPopulation},
}

// AddContextWarnings appends advisory notes driven by the original query.
func (g *Guardrails) AddContextWarnings(text, query string) string {
	var warnings []string

	if offLabelPattern.MatchString(query) {
		warnings = append(warnings, warningOffLabel)
	}
	for _, area := range sensitiveAreas {
		if area.re.MatchString(query) {
			warnings = append(warnings, area.warning)
			break
		}
	}

	if len(warnings) == 0 {
		return text
	}
	return text + "\n\n---\n" + strings.Join(warnings, "\n")
}

const (
	abuseWindow          = 10
	identicalThreshold   = 3
	similarThreshold     = 5
	similarOverlapFactor = 0.8
)

// CheckAbuse inspects the caller's most recent queries for repetition.
// It returns true with a user-facing message when the pattern looks abusive.
func (g *Guardrails) CheckAbuse(query string, recent []string) (bool, string) {
	if len(recent) > abuseWindow {
		recent = recent[len(recent)-abuseWindow:]
	}

	current := strings.ToLower(normalizeSpace(query))
	if current == "" {
		return false, ""
	}
	words := wordSet(current)

	identical, similar := 0, 0
	for _, r := range recent {
		prev := strings.ToLower(normalizeSpace(r))
		if prev == current {
			identical++
		}
		overlap := 0
		for w := range wordSet(prev) {
			if _, ok := words[w]; ok {
				overlap++
			}
		}
		if float64(overlap) > float64(len(words))*similarOverlapFactor {
			similar++
		}
	}

	if identical >= identicalThreshold {
		return true, MessageIdenticalQueries
	}
	if similar >= similarThreshold {
		return true, MessageUnusualPattern
	}
	return false, ""
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}
