package guardrails

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	g := New(DefaultConfig())

	tests := []struct {
		name           string
		query          string
		wantValid      bool
		wantRisk       RiskLevel
		wantFlags      []string
		validateOutput func(t *testing.T, r ValidationResult)
	}{
		{
			name:      "empty input",
			query:     "",
			wantValid: false,
			wantRisk:  RiskBlocked,
			wantFlags: []string{FlagEmptyInput},
			validateOutput: func(t *testing.T, r ValidationResult) {
				assert.Equal(t, MessageEmpty, r.Message)
			},
		},
		{
			name:      "whitespace only",
			query:     "  \t\n  ",
			wantValid: false,
			wantRisk:  RiskBlocked,
			wantFlags: []string{FlagEmptyInput},
		},
		{
			name:      "too short",
			query:     " ab ",
			wantValid: false,
			wantRisk:  RiskBlocked,
			wantFlags: []string{FlagTooShort},
			validateOutput: func(t *testing.T, r ValidationResult) {
				assert.Equal(t, MessageTooShort, r.Message)
			},
		},
		{
			name:      "clean query normalizes whitespace",
			query:     "  What is the   market size of   metformin?  ",
			wantValid: true,
			wantRisk:  RiskSafe,
			validateOutput: func(t *testing.T, r ValidationResult) {
				assert.Equal(t, "What is the market size of metformin?", r.SanitizedText)
				assert.Equal(t, MessageValid, r.Message)
				assert.Empty(t, r.Flags)
			},
		},
		{
			name:      "drug synthesis instructions are blocked",
			query:     "How to synthesize fentanyl at home",
			wantValid: false,
			wantRisk:  RiskBlocked,
			wantFlags: []string{FlagBlockedContent},
			validateOutput: func(t *testing.T, r ValidationResult) {
				assert.Equal(t, MessageBlocked, r.Message)
				assert.Empty(t, r.SanitizedText)
			},
		},
		{
			name:      "prescription fraud is blocked",
			query:     "where can I get a fake prescription for oxycodone",
			wantValid: false,
			wantRisk:  RiskBlocked,
			wantFlags: []string{FlagBlockedContent},
		},
		{
			name:      "self-harm methods are blocked",
			query:     "overdose method with insulin",
			wantValid: false,
			wantRisk:  RiskBlocked,
			wantFlags: []string{FlagBlockedContent},
		},
		{
			name:      "sensitive topic raises risk without blocking",
			query:     "Show adverse event trends for rivaroxaban",
			wantValid: true,
			wantRisk:  RiskMedium,
			wantFlags: []string{FlagSensitiveContent},
			validateOutput: func(t *testing.T, r ValidationResult) {
				assert.Equal(t, MessageSensitive, r.Message)
			},
		},
		{
			name:      "email is redacted",
			query:     "Send the metformin pricing report to jane.doe@example.com",
			wantValid: true,
			wantRisk:  RiskMedium,
			wantFlags: []string{"pii_email"},
			validateOutput: func(t *testing.T, r ValidationResult) {
				assert.NotContains(t, r.SanitizedText, "jane.doe@example.com")
				assert.Contains(t, r.SanitizedText, "[REDACTED_EMAIL]")
				assert.Equal(t, MessagePIIRemoved, r.Message)
			},
		},
		{
			name:      "ssn and card are redacted",
			query:     "Check SSN 123-45-6789 and card 4111 1111 1111 1111 for the account",
			wantValid: true,
			wantRisk:  RiskMedium,
			wantFlags: []string{"pii_ssn", "pii_credit_card"},
			validateOutput: func(t *testing.T, r ValidationResult) {
				assert.Contains(t, r.SanitizedText, "[REDACTED_SSN]")
				assert.Contains(t, r.SanitizedText, "[REDACTED_CREDIT_CARD]")
				assert.NotContains(t, r.SanitizedText, "4111")
			},
		},
		{
			name:      "patient id is redacted",
			query:     "Summarize feedback from patient #48213 on sitagliptin",
			wantValid: true,
			wantRisk:  RiskMedium,
			wantFlags: []string{"pii_patient_id"},
			validateOutput: func(t *testing.T, r ValidationResult) {
				assert.Contains(t, r.SanitizedText, "[REDACTED_PATIENT_ID]")
				assert.NotContains(t, r.SanitizedText, "48213")
			},
		},
		{
			name:      "script tags are stripped",
			query:     "Market share of <script>alert(1)</script> adalimumab",
			wantValid: true,
			wantRisk:  RiskHigh,
			wantFlags: []string{FlagInjectionAttempt},
			validateOutput: func(t *testing.T, r ValidationResult) {
				assert.NotContains(t, strings.ToLower(r.SanitizedText), "<script")
				assert.Contains(t, r.SanitizedText, "adalimumab")
			},
		},
		{
			name:      "template expressions are stripped",
			query:     "{{7*7}} patent landscape ${env.SECRET} for nintedanib",
			wantValid: true,
			wantRisk:  RiskHigh,
			wantFlags: []string{FlagInjectionAttempt},
			validateOutput: func(t *testing.T, r ValidationResult) {
				assert.Equal(t, "patent landscape for nintedanib", r.SanitizedText)
			},
		},
		{
			name:      "injection only input leaves nothing to ask",
			query:     "<!-- {{x}} -->",
			wantValid: false,
			wantRisk:  RiskBlocked,
			wantFlags: []string{FlagInjectionAttempt, FlagEmptyInput},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := g.Validate(tt.query)

			assert.Equal(t, tt.wantValid, r.IsValid)
			assert.Equal(t, tt.wantRisk, r.RiskLevel)
			for _, f := range tt.wantFlags {
				assert.True(t, r.HasFlag(f), "expected flag %s in %v", f, r.Flags)
			}
			if tt.validateOutput != nil {
				tt.validateOutput(t, r)
			}
		})
	}
}

func TestValidate_TruncatesLongQuery(t *testing.T) {
	g := New(DefaultConfig())
	query := strings.Repeat("market size ", 250)

	r := g.Validate(query)

	assert.True(t, r.IsValid)
	assert.True(t, r.HasFlag(FlagTruncated))
	assert.Equal(t, RiskLow, r.RiskLevel)
	assert.LessOrEqual(t, utf8.RuneCountInString(r.SanitizedText), 2000)
	assert.Greater(t, utf8.RuneCountInString(r.SanitizedText), 1990)
}

func TestValidate_RiskNeverDecreases(t *testing.T) {
	g := New(Config{MinLength: 3, MaxLength: 40})

	r := g.Validate("adverse event report for <script> " + strings.Repeat("x", 50))

	assert.True(t, r.HasFlag(FlagTruncated))
	assert.True(t, r.HasFlag(FlagSensitiveContent))
	assert.True(t, r.HasFlag(FlagInjectionAttempt))
	assert.Equal(t, RiskHigh, r.RiskLevel)
}

func TestFilterOutput(t *testing.T) {
	g := New(DefaultConfig())

	tests := []struct {
		name      string
		text      string
		wantFlags []string
		validate  func(t *testing.T, out string)
	}{
		{
			name:      "dosage language gets a disclaimer",
			text:      "The usual dose is 100 mg once daily.",
			wantFlags: []string{FlagDisclaimerAdded},
			validate: func(t *testing.T, out string) {
				assert.True(t, strings.HasSuffix(out, Disclaimer))
			},
		},
		{
			name:      "existing disclaimer is respected",
			text:      "Administer 5 mg.\n\nDisclaimer: consult your physician.",
			wantFlags: []string{},
			validate: func(t *testing.T, out string) {
				assert.Equal(t, "Administer 5 mg.\n\nDisclaimer: consult your physician.", out)
			},
		},
		{
			name:      "leaked email is redacted",
			text:      "Contact the brand lead at lead@pharma.example for details.",
			wantFlags: []string{"output_pii_email"},
			validate: func(t *testing.T, out string) {
				assert.Contains(t, out, "[REDACTED_EMAIL]")
			},
		},
		{
			name:      "plain business text is untouched",
			text:      "The Indian DPP-4 market grows at 8% CAGR.",
			wantFlags: []string{},
			validate: func(t *testing.T, out string) {
				assert.Equal(t, "The Indian DPP-4 market grows at 8% CAGR.", out)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, flags := g.FilterOutput(tt.text)
			assert.ElementsMatch(t, tt.wantFlags, flags)
			tt.validate(t, out)
		})
	}
}

func TestFilterOutput_Idempotent(t *testing.T) {
	g := New(DefaultConfig())
	inputs := []string{
		"Take 20 mg with food. Questions: med.info@example.com or 555-123-4567.",
		"Patient 1234 reported a dose change to 5 mcg.",
		"No dosing here at all.",
	}

	for _, in := range inputs {
		once, _ := g.FilterOutput(in)
		twice, flags := g.FilterOutput(once)
		assert.Equal(t, once, twice)
		assert.Empty(t, flags)
		assert.LessOrEqual(t, strings.Count(twice, "Disclaimer"), 1)
	}
}

func TestAddContextWarnings(t *testing.T) {
	g := New(DefaultConfig())

	out := g.AddContextWarnings("Body", "off-label use of pembrolizumab in oncology")
	assert.True(t, strings.HasPrefix(out, "Body\n\n---\n"))
	assert.Contains(t, out, warningOffLabel)
	assert.Contains(t, out, warningSerious)

	out = g.AddContextWarnings("Body", "mental health market in India")
	assert.Contains(t, out, warningMentalHealth)
	assert.NotContains(t, out, warningSerious)

	out = g.AddContextWarnings("Body", "pediatric asthma inhaler demand")
	assert.Contains(t, out, warningPopulation)

	assert.Equal(t, "Body", g.AddContextWarnings("Body", "diabetes market in Brazil"))
}

func TestCheckAbuse(t *testing.T) {
	g := New(DefaultConfig())
	q := "market size of metformin in india"

	abusive, msg := g.CheckAbuse(q, []string{q, "patent expiry for sitagliptin", q})
	assert.False(t, abusive)
	assert.Empty(t, msg)

	abusive, msg = g.CheckAbuse(q, []string{q, strings.ToUpper(q), q})
	assert.True(t, abusive)
	assert.Equal(t, MessageIdenticalQueries, msg)

	similar := make([]string, 0, 5)
	for _, year := range []string{"2019", "2020", "2021", "2022", "2023"} {
		similar = append(similar, q+" "+year)
	}
	abusive, msg = g.CheckAbuse(q, similar)
	assert.True(t, abusive)
	assert.Equal(t, MessageUnusualPattern, msg)

	// only the last ten queries count
	old := []string{q, q, q}
	for i := 0; i < 10; i++ {
		old = append(old, "unrelated question number "+string(rune('a'+i)))
	}
	abusive, _ = g.CheckAbuse(q, old)
	assert.False(t, abusive)
}
