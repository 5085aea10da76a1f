package processquery

import "pharma-orchestrator/internal/models"

type Input struct {
	JobID   string           `json:"jobId,omitempty"`
	Query   string           `json:"query"`
	Context []models.Message `json:"context,omitempty"`
	UserID  string           `json:"userId,omitempty"`
	Role    string           `json:"role,omitempty"`
}

// Output is merged into the process variables.
type Output struct {
	JobID          string   `json:"jobId,omitempty"`
	Status         string   `json:"status"`
	Content        string   `json:"content"`
	AgentsUsed     []string `json:"agentsUsed"`
	WasSynthesized bool     `json:"wasSynthesized"`
	Error          string   `json:"error,omitempty"`
}

var inputSchema = `{
  "type": "object",
  "required": ["query"],
  "properties": {
    "jobId": {"type": "string"},
    "query": {"type": "string", "minLength": 1},
    "context": {"type": "array"},
    "userId": {"type": "string"},
    "role": {"type": "string"}
  }
}`
