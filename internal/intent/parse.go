package intent

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"pharma-orchestrator/internal/common/validation"
	"pharma-orchestrator/internal/models"
)

var ErrUnparseable = errors.New("INTENT_PARSING_FAILED")

var llmResponseSchema = validation.MustCompile(`{
	"type": "object",
	"required": ["primary_intent"],
	"properties": {
		"primary_intent": {"type": "string", "enum": ` + mustJSON(intentNames()) + `},
		"secondary_intents": {"type": "array", "items": {"type": "string"}},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1},
		"entities": {"type": "object"},
		"requires_synthesis": {"type": "boolean"},
		"reasoning": {"type": "string"}
	}
}`)

func mustJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

type llmResponse struct {
	PrimaryIntent     Intent                     `json:"primary_intent"`
	SecondaryIntents  []Intent                   `json:"secondary_intents"`
	Confidence        *float64                   `json:"confidence"`
	Entities          map[string]json.RawMessage `json:"entities"`
	RequiresSynthesis *bool                      `json:"requires_synthesis"`
}

// entityKeys maps the prompt's entity keys to entity keys in lookup order: the
// singular key wins over its plural when a reply carries both.
var entityKeys = []struct {
	alias string
	key   string
}{
	{"molecule", models.EntityMolecule},
	{"molecules", models.EntityMolecule},
	{"therapy_area", models.EntityTherapyArea},
	{"therapy_areas", models.EntityTherapyArea},
	{"region", models.EntityRegion},
	{"regions", models.EntityRegion},
	{"company", models.EntityCompany},
	{"companies", models.EntityCompany},
}

// stripFences removes a surrounding ```json ... ``` block, if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.HasPrefix(strings.TrimSpace(rest[:nl]), "{") {
		rest = rest[nl+1:]
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// ParseLLMResponse turns a model reply into a Result. Any deviation from the
// expected shape is an error; callers substitute the default classification.
func ParseLLMResponse(raw string) (*Result, error) {
	body := []byte(stripFences(raw))

	if vr := llmResponseSchema.ValidateBytes(body); !vr.Valid {
		return nil, fmt.Errorf("%w: %s", ErrUnparseable, vr.Summary())
	}

	var resp llmResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	var agents []models.AgentType
	seen := map[models.AgentType]bool{}
	for _, i := range append([]Intent{resp.PrimaryIntent}, resp.SecondaryIntents...) {
		for _, a := range AgentsFor(i) {
			if !seen[a] {
				seen[a] = true
				agents = append(agents, a)
			}
		}
	}
	if len(agents) == 0 {
		agents = []models.AgentType{models.AgentGeneral}
	}

	confidence := 0.7
	if resp.Confidence != nil {
		confidence = *resp.Confidence
	}

	flagged := len(agents) > 1
	if resp.RequiresSynthesis != nil {
		flagged = *resp.RequiresSynthesis
	}

	return &Result{
		PrimaryIntent:      resp.PrimaryIntent,
		AgentsNeeded:       agents,
		Confidence:         confidence,
		Entities:           parseEntities(resp.Entities),
		RequiresSynthesis:  len(agents) > 1 && (resp.PrimaryIntent.IsCrossCutting() || flagged),
		SuggestedFollowups: followupsFor(resp.PrimaryIntent),
		Source:             SourceLLM,
	}, nil
}

// parseEntities keeps the first non-empty value per key, visiting aliases in
// entityKeys order. Values may be strings or lists of strings; anything else
// is ignored.
func parseEntities(in map[string]json.RawMessage) models.Entities {
	byAlias := make(map[string]json.RawMessage, len(in))
	names := make([]string, 0, len(in))
	for k := range in {
		names = append(names, k)
	}
	// keys differing only in case resolve to the lexically first spelling
	sort.Strings(names)
	for _, k := range names {
		lower := strings.ToLower(k)
		if _, seen := byAlias[lower]; !seen {
			byAlias[lower] = in[k]
		}
	}

	out := models.Entities{}
	for _, ek := range entityKeys {
		raw, ok := byAlias[ek.alias]
		if !ok || out[ek.key] != "" {
			continue
		}
		if v := firstValue(raw); v != "" {
			out[ek.key] = v
		}
	}
	return out
}

func firstValue(raw json.RawMessage) string {
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, v := range list {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
		return ""
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.TrimSpace(single)
	}
	return ""
}
