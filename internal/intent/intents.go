package intent

import "pharma-orchestrator/internal/models"

// Intent is a semantic query category.
type Intent string

const (
	MarketAnalysis          Intent = "market_analysis"
	PatentAnalysis          Intent = "patent_analysis"
	ClinicalResearch        Intent = "clinical_research"
	PatientInsights         Intent = "patient_insights"
	CompetitiveIntelligence Intent = "competitive_intelligence"
	SupplyChain             Intent = "supply_chain"
	InternalKnowledge       Intent = "internal_knowledge"
	CurrentEvents           Intent = "current_events"
	ComprehensiveAnalysis   Intent = "comprehensive_analysis"
	GeneralPharma           Intent = "general_pharma"
)

type definition struct {
	intent      Intent
	description string
	agents      []models.AgentType
	followups   []string
}

// taxonomy is ordered; the LLM prompt lists intents in this order.
var taxonomy = []definition{
	{
		intent:      MarketAnalysis,
		description: "Questions about market size, growth rates, competition levels, whitespace opportunities, CAGR, market share",
		agents:      []models.AgentType{models.AgentMarket},
		followups:   []string{"What about patent landscape?", "Show clinical trial activity"},
	},
	{
		intent:      PatentAnalysis,
		description: "Questions about patents, IP, patent expiry, freedom to operate, generic entry, patent landscape",
		agents:      []models.AgentType{models.AgentPatent},
		followups:   []string{"Check market opportunity", "Analyze competitor patents"},
	},
	{
		intent:      ClinicalResearch,
		description: "Questions about clinical trials, drug pipeline, phases, repurposing opportunities, trial data",
		agents:      []models.AgentType{models.AgentClinical},
		followups:   []string{"What's the competitive landscape?", "Check patent status"},
	},
	{
		intent:      PatientInsights,
		description: "Questions about patient sentiment, complaints, patient voice, social media analysis, patient needs",
		agents:      []models.AgentType{models.AgentPatient},
		followups:   []string{"Analyze market opportunity", "Check unmet needs"},
	},
	{
		intent:      CompetitiveIntelligence,
		description: "Questions about competitors, competitive strategy, war gaming, market positioning, competitive threats",
		agents:      []models.AgentType{models.AgentCompetitor},
		followups:   []string{"Check patent landscape", "Analyze market dynamics"},
	},
	{
		intent:      SupplyChain,
		description: "Questions about imports, exports, API sourcing, trade data, supply chain, pricing",
		agents:      []models.AgentType{models.AgentTrade},
		followups:   []string{"Check market data", "Analyze competitors"},
	},
	{
		intent:      InternalKnowledge,
		description: "Questions about internal documents, company strategy, past decisions, field reports",
		agents:      []models.AgentType{models.AgentInternal},
		followups:   []string{"Compare with market data", "Check latest developments"},
	},
	{
		intent:      CurrentEvents,
		description: "Questions about recent news, FDA approvals, announcements, current developments",
		agents:      []models.AgentType{models.AgentWeb},
		followups:   []string{"Analyze impact on market", "Check competitive implications"},
	},
	{
		intent:      ComprehensiveAnalysis,
		description: "Complex questions requiring multiple data sources and synthesis",
		agents:      []models.AgentType{models.AgentMarket, models.AgentPatent, models.AgentClinical, models.AgentCompetitor},
		followups:   []string{"Deep dive into specific area", "Check patient insights"},
	},
	{
		intent:      GeneralPharma,
		description: "General pharmaceutical questions, drug information, medical knowledge",
		agents:      []models.AgentType{models.AgentGeneral},
		followups: []string{
			"Would you like market analysis?",
			"Should I check the patent landscape?",
			"Want to see clinical trial data?",
		},
	},
}

func lookup(i Intent) (definition, bool) {
	for _, d := range taxonomy {
		if d.intent == i {
			return d, true
		}
	}
	return definition{}, false
}

// AgentsFor returns the agents an intent maps to, or nil for unknown intents.
func AgentsFor(i Intent) []models.AgentType {
	d, ok := lookup(i)
	if !ok {
		return nil
	}
	return append([]models.AgentType(nil), d.agents...)
}

// IsCrossCutting reports whether the intent always needs synthesis.
func (i Intent) IsCrossCutting() bool {
	return i == ComprehensiveAnalysis
}

func followupsFor(i Intent) []string {
	d, _ := lookup(i)
	return append([]string(nil), d.followups...)
}

func intentNames() []string {
	out := make([]string, len(taxonomy))
	for n, d := range taxonomy {
		out[n] = string(d.intent)
	}
	return out
}
