// Package export renders an assembled tree to its output formats.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/procflow-ai/procflow/pkg/models"
)

// Format selects an output encoding.
type Format string

const (
	// FormatYAML renders the tree as a YAML document.
	FormatYAML Format = "yaml"
	// FormatJSON renders the tree as indented JSON.
	FormatJSON Format = "json"
	// FormatMarkdown renders the tree as a human-readable outline.
	FormatMarkdown Format = "markdown"
)

// ParseFormat normalizes a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected yaml, json or markdown)", s)
	}
}

// Write renders tree to w in the given format.
func Write(w io.Writer, format Format, tree *models.Tree) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(tree); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(tree); err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}
		return nil
	case FormatMarkdown:
		return writeMarkdown(w, tree)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeMarkdown(w io.Writer, tree *models.Tree) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Process Breakdown (%s)\n", tree.RunID)

	for _, root := range tree.Roots {
		fmt.Fprintf(&b, "\n## %s\n\n", root.Title)
		writeNodeDetail(&b, root, "")
		for _, child := range root.Children {
			fmt.Fprintf(&b, "- **%s**\n", child.Title)
			writeNodeDetail(&b, child, "  ")
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeNodeDetail(b *strings.Builder, n *models.TreeNode, indent string) {
	if n.Status == models.StatusFailed {
		fmt.Fprintf(b, "%s- _elaboration failed (%s)_\n", indent, n.FailureReason)
		return
	}
	if n.Description != "" {
		fmt.Fprintf(b, "%s%s\n", indent, n.Description)
	}
	var meta []string
	if n.Category != "" {
		meta = append(meta, "category: "+n.Category)
	}
	if n.Priority > 0 {
		meta = append(meta, fmt.Sprintf("priority: %d", n.Priority))
	}
	if n.EstimatedDuration != "" {
		meta = append(meta, "duration: "+n.EstimatedDuration)
	}
	if len(meta) > 0 {
		fmt.Fprintf(b, "%s_%s_\n", indent, strings.Join(meta, ", "))
	}
}
