package models

import "fmt"

// AgentType is the closed set of data-retrieval agents.
type AgentType string

const (
	AgentMarket     AgentType = "market"
	AgentPatent     AgentType = "patent"
	AgentClinical   AgentType = "clinical"
	AgentPatient    AgentType = "patient"
	AgentCompetitor AgentType = "competitor"
	AgentTrade      AgentType = "trade"
	AgentInternal   AgentType = "internal"
	AgentWeb        AgentType = "web"
	AgentGeneral    AgentType = "general"
)

// AllAgentTypes lists every agent in declaration order.
var AllAgentTypes = []AgentType{
	AgentMarket, AgentPatent, AgentClinical, AgentPatient, AgentCompetitor,
	AgentTrade, AgentInternal, AgentWeb, AgentGeneral,
}

// Label is the display name used in agents_used and synthesis headings.
func (a AgentType) Label() string {
	switch a {
	case AgentMarket:
		return "Market"
	case AgentPatent:
		return "Patent"
	case AgentClinical:
		return "Clinical"
	case AgentPatient:
		return "Patient"
	case AgentCompetitor:
		return "Competitor"
	case AgentTrade:
		return "Trade"
	case AgentInternal:
		return "Internal"
	case AgentWeb:
		return "Web"
	case AgentGeneral:
		return "General"
	default:
		return string(a)
	}
}

// ParseAgentType rejects names outside the closed set.
func ParseAgentType(s string) (AgentType, error) {
	for _, a := range AllAgentTypes {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown agent type %q", s)
}

// Entity keys.
const (
	EntityMolecule    = "molecule"
	EntityTherapyArea = "therapy_area"
	EntityRegion      = "region"
	EntityCompany     = "company"
)

// Entities holds values extracted from a query; a key is present only when detected.
type Entities map[string]string

func (e Entities) Molecule() string    { return e[EntityMolecule] }
func (e Entities) TherapyArea() string { return e[EntityTherapyArea] }
func (e Entities) Region() string      { return e[EntityRegion] }
func (e Entities) Company() string     { return e[EntityCompany] }

// Merge fills keys missing from e with values from other and returns e.
func (e Entities) Merge(other Entities) Entities {
	for k, v := range other {
		if _, ok := e[k]; !ok && v != "" {
			e[k] = v
		}
	}
	return e
}

// AgentResponse is produced once per executed agent. Success=false implies
// an empty Content and a non-empty Error.
type AgentResponse struct {
	AgentType       AgentType `json:"agentType"`
	Content         string    `json:"content"`
	Success         bool      `json:"success"`
	ExecutionTimeMs int64     `json:"executionTimeMs"`
	Error           string    `json:"error,omitempty"`
	// QuotaExceeded marks a failure caused by a daily API quota denial.
	QuotaExceeded   bool      `json:"quotaExceeded,omitempty"`
}

// Message is one turn of conversation context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
