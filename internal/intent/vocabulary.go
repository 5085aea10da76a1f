package intent

import (
	"regexp"
	"strings"

	"pharma-orchestrator/internal/models"
)

// Term is one canonical entity value and the phrases that mention it.
// The value itself, lower-cased, always matches.
type Term struct {
	Value   string   `mapstructure:"value" json:"value"`
	Aliases []string `mapstructure:"aliases" json:"aliases,omitempty"`
}

// Vocabulary is the closed set of recognizable entities per entity key.
type Vocabulary struct {
	Molecules    []Term `mapstructure:"molecules"`
	TherapyAreas []Term `mapstructure:"therapy_areas"`
	Regions      []Term `mapstructure:"regions"`
	Companies    []Term `mapstructure:"companies"`
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Molecules: []Term{
			{Value: "Sitagliptin", Aliases: []string{"januvia"}},
			{Value: "Metformin", Aliases: []string{"glucophage"}},
			{Value: "Pembrolizumab", Aliases: []string{"keytruda"}},
			{Value: "Rivaroxaban", Aliases: []string{"xarelto"}},
			{Value: "Adalimumab", Aliases: []string{"humira"}},
			{Value: "Trastuzumab"},
			{Value: "Nivolumab"},
			{Value: "Atezolizumab"},
			{Value: "Fluticasone"},
			{Value: "Salmeterol"},
			{Value: "Budesonide"},
			{Value: "Pirfenidone"},
			{Value: "Nintedanib"},
			{Value: "Osimertinib"},
			{Value: "Imatinib"},
			{Value: "Lenvatinib"},
			{Value: "Semaglutide", Aliases: []string{"ozempic", "wegovy"}},
			{Value: "Tirzepatide", Aliases: []string{"mounjaro"}},
			{Value: "Escitalopram", Aliases: []string{"nexito"}},
			{Value: "Pantoprazole"},
			{Value: "Paracetamol", Aliases: []string{"dolo", "calpol", "acetaminophen"}},
			{Value: "Atorvastatin"},
			{Value: "Amlodipine"},
			{Value: "Azithromycin"},
			{Value: "Montelukast"},
			{Value: "Tiotropium"},
			{Value: "Lenalidomide"},
			{Value: "Insulin"},
		},
		TherapyAreas: []Term{
			{Value: "Oncology", Aliases: []string{"cancer", "tumor", "tumour", "carcinoma", "nsclc", "melanoma", "leukemia", "lymphoma"}},
			{Value: "Diabetes", Aliases: []string{"diabetic", "glucose", "insulin", "a1c", "hba1c", "glp-1"}},
			{Value: "Respiratory", Aliases: []string{"copd", "asthma", "ipf", "lung", "pulmonary"}},
			{Value: "Cardiovascular", Aliases: []string{"cardiac", "heart", "hypertension", "cholesterol", "anticoagulant"}},
			{Value: "Immunology", Aliases: []string{"autoimmune", "rheumatoid", "arthritis", "psoriasis"}},
			{Value: "Neurology", Aliases: []string{"neurological", "alzheimer", "parkinson", "ms", "multiple sclerosis", "depression"}},
			{Value: "Hepatology", Aliases: []string{"nash", "nafld", "mash", "fatty liver", "liver"}},
			{Value: "Gastrointestinal", Aliases: []string{"gerd", "acid reflux", "crohn", "colitis", "ibd"}},
		},
		Regions: []Term{
			{Value: "India", Aliases: []string{"indian"}},
			{Value: "US", Aliases: []string{"usa", "united states", "america", "american"}},
			{Value: "EU", Aliases: []string{"europe", "european"}},
			{Value: "China", Aliases: []string{"chinese"}},
			{Value: "Japan", Aliases: []string{"japanese"}},
			{Value: "Global", Aliases: []string{"worldwide", "international"}},
		},
		Companies: []Term{
			{Value: "Pfizer"},
			{Value: "Novartis"},
			{Value: "Merck", Aliases: []string{"msd"}},
			{Value: "Roche", Aliases: []string{"genentech"}},
			{Value: "AstraZeneca", Aliases: []string{"astra zeneca", "az"}},
			{Value: "Sanofi"},
			{Value: "GSK", Aliases: []string{"glaxosmithkline", "glaxo"}},
			{Value: "Eli Lilly", Aliases: []string{"lilly"}},
			{Value: "Novo Nordisk", Aliases: []string{"novo"}},
			{Value: "J&J", Aliases: []string{"johnson & johnson", "johnson and johnson", "janssen"}},
			{Value: "BMS", Aliases: []string{"bristol myers squibb", "bristol-myers squibb"}},
			{Value: "AbbVie"},
			{Value: "Bayer"},
			{Value: "Boehringer", Aliases: []string{"boehringer ingelheim"}},
			{Value: "Takeda"},
			{Value: "Sun Pharma", Aliases: []string{"sun pharmaceutical"}},
			{Value: "Cipla"},
			{Value: "Dr. Reddy's", Aliases: []string{"dr reddy", "dr. reddy", "reddy's"}},
			{Value: "Lupin"},
			{Value: "Zydus", Aliases: []string{"cadila"}},
			{Value: "Biocon"},
			{Value: "Gilead"},
			{Value: "Amgen"},
			{Value: "Teva"},
		},
	}
}

type phrase struct {
	re    *regexp.Regexp
	value string
}

// termMatcher finds one entity value in free text.
type termMatcher []phrase

// phrasePattern matches at word starts. Phrases of three runes or fewer must also
// end on a word boundary so "us" does not match "use".
func phrasePattern(p string) *regexp.Regexp {
	p = strings.ToLower(strings.TrimSpace(p))
	pat := `(?i)\b` + regexp.QuoteMeta(p)
	if len([]rune(p)) <= 3 {
		pat += `\b`
	}
	return regexp.MustCompile(pat)
}

func compileTerms(terms []Term) termMatcher {
	var m termMatcher
	for _, t := range terms {
		if strings.TrimSpace(t.Value) == "" {
			continue
		}
		m = append(m, phrase{re: phrasePattern(t.Value), value: t.Value})
		for _, a := range t.Aliases {
			if strings.TrimSpace(a) == "" {
				continue
			}
			m = append(m, phrase{re: phrasePattern(a), value: t.Value})
		}
	}
	return m
}

// find returns the value of the earliest mention, preferring the longest phrase
// among mentions that start at the same position.
func (m termMatcher) find(text string) (string, bool) {
	bestStart, bestLen := -1, 0
	value := ""
	for _, p := range m {
		loc := p.re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		start, length := loc[0], loc[1]-loc[0]
		if bestStart == -1 || start < bestStart || (start == bestStart && length > bestLen) {
			bestStart, bestLen, value = start, length, p.value
		}
	}
	return value, bestStart >= 0
}

// Extractor pulls entities out of free text using a Vocabulary.
type Extractor struct {
	matchers map[string]termMatcher
}

func NewExtractor(v Vocabulary) *Extractor {
	return &Extractor{matchers: map[string]termMatcher{
		models.EntityMolecule:    compileTerms(v.Molecules),
		models.EntityTherapyArea: compileTerms(v.TherapyAreas),
		models.EntityRegion:      compileTerms(v.Regions),
		models.EntityCompany:     compileTerms(v.Companies),
	}}
}

// Extract returns every entity detected in text. Keys are absent when nothing matched.
func (e *Extractor) Extract(text string) models.Entities {
	out := models.Entities{}
	for key, m := range e.matchers {
		if v, ok := m.find(text); ok {
			out[key] = v
		}
	}
	return out
}

// Find looks up a single entity key; agents use it to re-scan the raw query.
func (e *Extractor) Find(key, text string) string {
	v, _ := e.matchers[key].find(text)
	return v
}
