// Package guardrails validates and sanitizes query text and filters generated output.
package guardrails

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// RiskLevel is ordered: a scan only ever raises it.
type RiskLevel string

const (
	RiskSafe    RiskLevel = "safe"
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskBlocked RiskLevel = "blocked"
)

var riskOrder = map[RiskLevel]int{
	RiskSafe: 0, RiskLow: 1, RiskMedium: 2, RiskHigh: 3, RiskBlocked: 4,
}

// Flags recorded on validation and output filtering.
const (
	FlagEmptyInput       = "empty_input"
	FlagTooShort         = "too_short"
	FlagTruncated        = "truncated"
	FlagBlockedContent   = "blocked_content"
	FlagSensitiveContent = "sensitive_content"
	FlagInjectionAttempt = "injection_attempt"
	FlagDisclaimerAdded  = "disclaimer_added"
)

const (
	MessageValid      = "Query validated successfully."
	MessageEmpty      = "Please enter a query."
	MessageTooShort   = "Query is too short. Please be more specific."
	MessageBlocked    = "I cannot assist with this type of request. Please ask about legitimate pharmaceutical business intelligence topics."
	MessageSensitive  = "Note: This query involves sensitive topics. Responses will include appropriate disclaimers."
	MessagePIIRemoved = "Personal information has been redacted for privacy."

	MessageIdenticalQueries = "Please avoid submitting identical queries repeatedly."
	MessageUnusualPattern   = "Unusual query pattern detected. Please slow down."

	Disclaimer = "\n\n---\n*Disclaimer: This information is for business intelligence purposes only. " +
		"Always consult healthcare professionals for medical advice.*"
)

var (
	blockedPatterns = compileAll(
		`\b(synthesiz|manufactur|make|creat|produc)\b.*(drug|narcotic|controlled substance)`,
		`\b(illegal|illicit)\b.*\b(drug|substance)`,
		`\bhow to (make|create|synthesize)\b`,
		`\b(suicide|self.?harm|overdose)\b.*\b(method|how|way)`,
		`\bpurchase.*(prescription|controlled)\b.*without`,
		`\b(fake|counterfeit|forged?)\b.*\b(prescription|medication)`,
	)

	sensitivePatterns = compileAll(
		`\b(off.?label|unapproved)\b.*use`,
		`\bexperimental\b.*treatment`,
		`\bcontrolled substance|schedule [iv]+\b`,
		`\badverse event|side effect|death\b`,
		`\brecall|warning letter|fda action\b`,
	)

	injectionPatterns = compileAll(
		`<\s*/?\s*script[^>]*>?`,
		`javascript:`,
		`\{\{.*?\}\}`,
		`\$\{.*?\}`,
		`<!--`,
		`-->`,
	)

	dosagePatterns = compileAll(
		`\b\d+\s*(mg|mcg|ml|g)\b`,
		`\b(take|administer|dose|dosage)\b`,
		`\btreatment\s+recommend`,
	)
)

type piiPattern struct {
	kind string
	re   *regexp.Regexp
}

// Card and SSN run before phone so long digit groups are not split into a phone match.
var piiPatterns = []piiPattern{
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"ssn", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"credit_card", regexp.MustCompile(`\b(?:\d{4}[-\s]?){3}\d{4}\b`)},
	{"phone", regexp.MustCompile(`\b(\+\d{1,3}[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
	{"patient_id", regexp.MustCompile(`(?i)\b(patient|mrn|medical record)[\s:#]*\d+\b`)},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

// ValidationResult is produced once per query and not modified afterwards.
type ValidationResult struct {
	IsValid       bool      `json:"isValid"`
	RiskLevel     RiskLevel `json:"riskLevel"`
	Message       string    `json:"message"`
	SanitizedText string    `json:"sanitizedText"`
	Flags         []string  `json:"flags"`
}

// HasFlag reports whether a detector fired.
func (r ValidationResult) HasFlag(flag string) bool {
	for _, f := range r.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

type Config struct {
	MinLength int
	MaxLength int
}

func DefaultConfig() Config {
	return Config{MinLength: 3, MaxLength: 2000}
}

// Guardrails holds the length limits; every method is a pure function of its input.
type Guardrails struct {
	cfg Config
}

func New(cfg Config) *Guardrails {
	if cfg.MinLength <= 0 {
		cfg.MinLength = DefaultConfig().MinLength
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = DefaultConfig().MaxLength
	}
	return &Guardrails{cfg: cfg}
}

type scan struct {
	risk  RiskLevel
	flags []string
}

func (s *scan) raise(to RiskLevel) {
	if riskOrder[to] > riskOrder[s.risk] {
		s.risk = to
	}
}

func (s *scan) flag(f string) {
	for _, existing := range s.flags {
		if existing == f {
			return
		}
	}
	s.flags = append(s.flags, f)
}

func (s *scan) result(valid bool, message, text string) ValidationResult {
	flags := s.flags
	if flags == nil {
		flags = []string{}
	}
	return ValidationResult{IsValid: valid, RiskLevel: s.risk, Message: message, SanitizedText: text, Flags: flags}
}

// Validate normalizes, bounds, screens and sanitizes a raw query.
func (g *Guardrails) Validate(query string) ValidationResult {
	s := &scan{risk: RiskSafe}
	text := normalizeSpace(query)

	if text == "" {
		s.flag(FlagEmptyInput)
		s.raise(RiskBlocked)
		return s.result(false, MessageEmpty, "")
	}
	if utf8.RuneCountInString(text) < g.cfg.MinLength {
		s.flag(FlagTooShort)
		s.raise(RiskBlocked)
		return s.result(false, MessageTooShort, text)
	}
	if utf8.RuneCountInString(text) > g.cfg.MaxLength {
		text = strings.TrimSpace(string([]rune(text)[:g.cfg.MaxLength]))
		s.flag(FlagTruncated)
		s.raise(RiskLow)
	}

	for _, re := range blockedPatterns {
		if re.MatchString(text) {
			s.flag(FlagBlockedContent)
			s.raise(RiskBlocked)
			return s.result(false, MessageBlocked, "")
		}
	}

	sensitive := false
	for _, re := range sensitivePatterns {
		if re.MatchString(text) {
			sensitive = true
			s.flag(FlagSensitiveContent)
			s.raise(RiskMedium)
			break
		}
	}

	redacted, kinds := redactPII(text)
	for _, kind := range kinds {
		s.flag("pii_" + kind)
		s.raise(RiskMedium)
	}
	text = redacted

	stripped := false
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			text = re.ReplaceAllString(text, "")
			stripped = true
		}
	}
	if stripped {
		s.flag(FlagInjectionAttempt)
		s.raise(RiskHigh)
		text = normalizeSpace(text)
		if text == "" {
			s.flag(FlagEmptyInput)
			s.raise(RiskBlocked)
			return s.result(false, MessageEmpty, "")
		}
	}

	message := MessageValid
	if sensitive {
		message = MessageSensitive
	}
	if len(kinds) > 0 {
		message = MessagePIIRemoved
	}
	return s.result(true, message, text)
}

// FilterOutput redacts leaked PII and appends the medical disclaimer when the
// text reads like dosing advice. Applying it to its own output is a no-op.
func (g *Guardrails) FilterOutput(text string) (string, []string) {
	flags := []string{}

	filtered, kinds := redactPII(text)
	for _, kind := range kinds {
		flags = append(flags, "output_pii_"+kind)
	}

	if hasDosageLanguage(filtered) && !strings.Contains(strings.ToLower(filtered), "disclaimer") {
		filtered += Disclaimer
		flags = append(flags, FlagDisclaimerAdded)
	}
	return filtered, flags
}

func hasDosageLanguage(text string) bool {
	for _, re := range dosagePatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// redactPII replaces every PII match with [REDACTED_<TYPE>] and reports the kinds found.
func redactPII(text string) (string, []string) {
	var kinds []string
	for _, p := range piiPatterns {
		if p.re.MatchString(text) {
			text = p.re.ReplaceAllString(text, "[REDACTED_"+strings.ToUpper(p.kind)+"]")
			kinds = append(kinds, p.kind)
		}
	}
	return text, kinds
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
