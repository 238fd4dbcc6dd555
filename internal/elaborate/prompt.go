package elaborate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/procflow-ai/procflow/internal/cache"
	"github.com/procflow-ai/procflow/pkg/models"
)

// MalformedError reports an elaboration response that could not be parsed
// into the expected shape. It is permanent: the node fails without retry.
type MalformedError struct {
	Detail string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed elaboration: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("malformed elaboration: %s", e.Detail)
}

func (e *MalformedError) Unwrap() error { return e.Err }

const elaborationSystem = `You are a business process analyst. You enrich a single process step with structured metadata. You respond with exactly one JSON object and nothing else.`

const elaborationPrompt = `Enrich the following process step with structured detail.

Step: %s
Step type: %s%s%s

Respond with a single JSON object of this exact shape:
{"category": "short functional category", "priority": 1-5, "estimated_duration": "human estimate such as '2 hours' or '3 days'", "description": "2-4 sentence description of what this step involves and why it matters"}

Rules:
- priority 1 is most urgent, 5 is least.
- Ground the description in the step title and the surrounding context only. Do not invent specifics that are not implied.
- Output the JSON object only, with no surrounding prose or markdown fences.`

// DepSummary is a point-in-time copy of an elaborated dependency that gets
// folded into a dependent node's prompt. The scheduler snapshots these under
// its lock; BuildPrompt itself never reads mutable node state of other nodes.
type DepSummary struct {
	Title       string
	Description string
}

// BuildPrompt renders the elaboration prompt for a node, folding in its
// parent title and the supplied dependency summaries.
func BuildPrompt(doc *models.Document, n *models.ProcessNode, deps []DepSummary) string {
	var parentPart string
	if n.ParentID != "" {
		if parent := doc.Node(n.ParentID); parent != nil {
			parentPart = fmt.Sprintf("\nPart of: %s", parent.Title)
		}
	}

	var depPart string
	if len(deps) > 0 {
		lines := make([]string, 0, len(deps))
		for _, dep := range deps {
			lines = append(lines, fmt.Sprintf("- %s: %s", dep.Title, dep.Description))
		}
		depPart = "\nDepends on:\n" + strings.Join(lines, "\n")
	} else if n.DegradedContext {
		depPart = "\nNote: one or more prerequisite steps are unavailable; describe this step on its own terms."
	}

	return fmt.Sprintf(elaborationPrompt, n.Title, kindLabel(n.Kind), parentPart, depPart)
}

func kindLabel(k models.NodeKind) string {
	if k == models.KindSubProcess {
		return "sub-process"
	}
	return "top-level process"
}

type elaborationJSON struct {
	Category          string `json:"category"`
	Priority          int    `json:"priority"`
	EstimatedDuration string `json:"estimated_duration"`
	Description       string `json:"description"`
}

// ParseResponse extracts the elaboration object from raw model output. The
// model is asked for bare JSON but may wrap it in prose, so the first
// top-level object in the text is used.
func ParseResponse(fingerprint, raw string) (*cache.Entry, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return nil, &MalformedError{Detail: "no JSON object found in response"}
	}

	var parsed elaborationJSON
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, &MalformedError{Detail: "invalid JSON object", Err: err}
	}

	if strings.TrimSpace(parsed.Description) == "" {
		return nil, &MalformedError{Detail: "missing description"}
	}
	if parsed.Priority < 0 || parsed.Priority > 5 {
		return nil, &MalformedError{Detail: fmt.Sprintf("priority %d out of range", parsed.Priority)}
	}

	return &cache.Entry{
		Fingerprint:       fingerprint,
		Category:          strings.TrimSpace(parsed.Category),
		Priority:          parsed.Priority,
		EstimatedDuration: strings.TrimSpace(parsed.EstimatedDuration),
		Description:       strings.TrimSpace(parsed.Description),
	}, nil
}
