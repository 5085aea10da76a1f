package api

import "pharma-orchestrator/internal/common/validation"

// Query length is enforced by guardrails so that a too-short or too-long query
// still gets the refusal response.
var queryBodySchema = validation.MustCompile(`{
  "type": "object",
  "required": ["query"],
  "properties": {
    "query": {"type": "string"},
    "context": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": {"type": "string", "enum": ["user", "assistant", "system"]},
          "content": {"type": "string"}
        }
      }
    }
  },
  "additionalProperties": false
}`)

var sessionBodySchema = validation.MustCompile(`{
  "type": "object",
  "required": ["userId"],
  "properties": {
    "userId": {"type": "string", "minLength": 1, "maxLength": 128},
    "username": {"type": "string", "maxLength": 256},
    "role": {"type": "string", "enum": ["analyst", "manager", "executive", "admin"]}
  },
  "additionalProperties": false
}`)
