// Package decompose extracts a candidate process structure from raw text.
package decompose

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/procflow-ai/procflow/internal/genai"
	"github.com/procflow-ai/procflow/internal/ratelimit"
	"github.com/procflow-ai/procflow/pkg/models"
)

// Candidate is one unvalidated node proposed by the decomposition call.
// Titles are tentative: the resolver deduplicates them and translates the
// dependency title hints into node ids.
type Candidate struct {
	// Title is the proposed node title.
	Title string
	// Kind distinguishes processes from sub-processes.
	Kind models.NodeKind
	// Children are tentative sub-processes, only populated on processes.
	Children []Candidate
	// DependsOnTitles are tentative dependency hints, referencing other
	// candidates by title.
	DependsOnTitles []string
}

// MalformedError indicates the decomposition response did not parse into the
// candidate shape. It is not retried at this layer: decomposition failures
// usually indicate a need for different input, not transient flakiness.
type MalformedError struct {
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decompose: malformed decomposition: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("decompose: malformed decomposition: %s", e.Detail)
}

// Unwrap returns the underlying cause.
func (e *MalformedError) Unwrap() error { return e.Err }

// Config controls the decomposition call.
type Config struct {
	// Model selects the decomposition model. Empty uses the client default.
	Model string
	// MaxTopLevel caps the number of top-level processes. Zero means no cap.
	MaxTopLevel int
}

// Decomposer issues the decomposition call and parses the response.
type Decomposer struct {
	gen genai.Generator
	cfg Config
}

// New creates a Decomposer backed by the given generator.
func New(gen genai.Generator, cfg Config) *Decomposer {
	return &Decomposer{gen: gen, cfg: cfg}
}

// Decompose extracts the candidate process list from the source text with a
// single generation call.
func (d *Decomposer) Decompose(ctx context.Context, sourceText string) ([]Candidate, error) {
	resp, err := d.gen.Generate(ctx, genai.Request{
		Role:   ratelimit.RoleDecomposition,
		Model:  d.cfg.Model,
		System: decompositionSystem,
		Prompt: fmt.Sprintf(decompositionPrompt, maxTopLevelHint(d.cfg.MaxTopLevel), sourceText),
	})
	if err != nil {
		return nil, fmt.Errorf("decomposition call: %w", err)
	}

	candidates, err := ParseResponse(resp.Text)
	if err != nil {
		return nil, err
	}

	if d.cfg.MaxTopLevel > 0 && len(candidates) > d.cfg.MaxTopLevel {
		candidates = pruneTruncatedHints(candidates[:d.cfg.MaxTopLevel])
	}

	return candidates, nil
}

// pruneTruncatedHints drops dependency hints that reference processes removed
// by the top-level cap, so truncating a valid response cannot leave dangling
// references behind. Title matching is case-insensitive, like the resolver's.
func pruneTruncatedHints(candidates []Candidate) []Candidate {
	titles := make(map[string]bool)
	for _, c := range candidates {
		titles[strings.ToLower(c.Title)] = true
		for _, sub := range c.Children {
			titles[strings.ToLower(sub.Title)] = true
		}
	}

	for i := range candidates {
		candidates[i].DependsOnTitles = keepKnownTitles(candidates[i].DependsOnTitles, titles)
		for j := range candidates[i].Children {
			candidates[i].Children[j].DependsOnTitles = keepKnownTitles(candidates[i].Children[j].DependsOnTitles, titles)
		}
	}
	return candidates
}

func keepKnownTitles(hints []string, titles map[string]bool) []string {
	var out []string
	for _, hint := range hints {
		if titles[strings.ToLower(hint)] {
			out = append(out, hint)
		}
	}
	return out
}

// candidateJSON is the wire shape returned by the model for one process.
type candidateJSON struct {
	Title        string         `json:"title"`
	DependsOn    []string       `json:"depends_on"`
	SubProcesses []subPhaseJSON `json:"sub_processes"`
}

// subPhaseJSON is the wire shape for one sub-process.
type subPhaseJSON struct {
	Title     string   `json:"title"`
	DependsOn []string `json:"depends_on"`
}

// ParseResponse parses the model's JSON response into candidates. Any shape
// violation yields a *MalformedError.
func ParseResponse(response string) ([]Candidate, error) {
	jsonStart := strings.Index(response, "[")
	jsonEnd := strings.LastIndex(response, "]")
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd <= jsonStart {
		preview := response
		if len(preview) > 300 {
			preview = preview[:300] + "... (truncated)"
		}
		return nil, &MalformedError{Detail: fmt.Sprintf("no JSON array found in response %q", preview)}
	}
	jsonStr := response[jsonStart : jsonEnd+1]

	var parsed []candidateJSON
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return nil, &MalformedError{Detail: "unmarshal JSON array", Err: err}
	}
	if len(parsed) == 0 {
		return nil, &MalformedError{Detail: "empty process list"}
	}

	candidates := make([]Candidate, 0, len(parsed))
	for i, p := range parsed {
		if strings.TrimSpace(p.Title) == "" {
			return nil, &MalformedError{Detail: fmt.Sprintf("process %d has no title", i)}
		}
		c := Candidate{
			Title:           strings.TrimSpace(p.Title),
			Kind:            models.KindProcess,
			DependsOnTitles: cleanTitles(p.DependsOn),
		}
		for j, sub := range p.SubProcesses {
			if strings.TrimSpace(sub.Title) == "" {
				return nil, &MalformedError{Detail: fmt.Sprintf("sub-process %d of %q has no title", j, p.Title)}
			}
			c.Children = append(c.Children, Candidate{
				Title:           strings.TrimSpace(sub.Title),
				Kind:            models.KindSubProcess,
				DependsOnTitles: cleanTitles(sub.DependsOn),
			})
		}
		candidates = append(candidates, c)
	}

	return candidates, nil
}

// cleanTitles trims hint titles and drops empty entries.
func cleanTitles(titles []string) []string {
	var out []string
	for _, title := range titles {
		if t := strings.TrimSpace(title); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// maxTopLevelHint renders the process cap for the prompt.
func maxTopLevelHint(max int) string {
	if max <= 0 {
		return ""
	}
	return fmt.Sprintf("Extract at most %d top-level processes.\n", max)
}
