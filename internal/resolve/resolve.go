// Package resolve turns decomposition candidates into a validated document:
// stable ids, deduplicated siblings, translated dependency references and a
// cycle-checked graph. It is a pure transformation with no external calls.
package resolve

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/procflow-ai/procflow/internal/decompose"
	"github.com/procflow-ai/procflow/pkg/models"
)

// DanglingRef is one dependency hint whose title matches no node.
type DanglingRef struct {
	// NodeTitle is the title of the node carrying the hint.
	NodeTitle string
	// Ref is the unresolvable title.
	Ref string
}

// DanglingError reports dependency hints that reference unknown titles.
type DanglingError struct {
	Refs []DanglingRef
}

// Error implements the error interface.
func (e *DanglingError) Error() string {
	parts := make([]string, len(e.Refs))
	for i, r := range e.Refs {
		parts[i] = fmt.Sprintf("%q -> %q", r.NodeTitle, r.Ref)
	}
	return "resolve: dangling dependency: " + strings.Join(parts, ", ")
}

// CycleError reports a cycle in the combined parent/child + dependsOn graph.
// The resolver never auto-breaks cycles: arbitrary edge removal could
// silently corrupt the process model.
type CycleError struct {
	// IDs are the node ids along the cycle, in order, with the entry node
	// repeated at the end.
	IDs []string
	// Titles mirror IDs for readable messages.
	Titles []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return "resolve: dependency cycle: " + strings.Join(e.Titles, " -> ")
}

// newID returns a fresh node id. Overridable in tests for deterministic ids.
var newID = func() string { return uuid.New().String() }

// Resolve builds the document from candidates: ids assigned in decomposition
// order, case-insensitive duplicate siblings folded into one node (merging
// their children and hints), dependency titles translated document-wide, and
// the combined graph checked for cycles.
func Resolve(sourceText string, candidates []decompose.Candidate) (*models.Document, error) {
	doc := &models.Document{
		SourceText: sourceText,
		Nodes:      make(map[string]*models.ProcessNode),
	}

	// titleToID maps case-folded titles to ids across the whole document.
	// The first node registered under a title wins: later same-titled nodes
	// in other sibling scopes stay distinct nodes but are not separately
	// addressable by dependency hints.
	titleToID := make(map[string]string)
	// hints carries each node's tentative dependency titles until the whole
	// title map is built.
	hints := make(map[string][]string)

	for _, top := range foldSiblings(candidates) {
		node := &models.ProcessNode{
			ID:     newID(),
			Title:  top.Title,
			Kind:   models.KindProcess,
			Status: models.StatusPending,
		}
		doc.Nodes[node.ID] = node
		doc.RootIDs = append(doc.RootIDs, node.ID)
		register(titleToID, node)
		hints[node.ID] = top.DependsOnTitles

		for _, sub := range foldSiblings(top.Children) {
			child := &models.ProcessNode{
				ID:       newID(),
				Title:    sub.Title,
				Kind:     models.KindSubProcess,
				ParentID: node.ID,
				Status:   models.StatusPending,
			}
			doc.Nodes[child.ID] = child
			node.ChildIDs = append(node.ChildIDs, child.ID)
			register(titleToID, child)
			hints[child.ID] = sub.DependsOnTitles
		}
	}

	// Translate title hints into ids.
	var dangling []DanglingRef
	doc.Walk(func(n *models.ProcessNode) {
		seen := make(map[string]bool)
		for _, ref := range hints[n.ID] {
			depID, ok := titleToID[strings.ToLower(ref)]
			if !ok {
				dangling = append(dangling, DanglingRef{NodeTitle: n.Title, Ref: ref})
				continue
			}
			if depID == n.ID || seen[depID] {
				continue
			}
			seen[depID] = true
			n.DependsOn = append(n.DependsOn, depID)
		}
	})
	if len(dangling) > 0 {
		return nil, &DanglingError{Refs: dangling}
	}

	if err := checkCycles(doc); err != nil {
		return nil, err
	}

	return doc, nil
}

// foldSiblings merges candidates that share a case-insensitive title within
// one sibling scope, concatenating their children and dependency hints.
// Order follows the first occurrence.
func foldSiblings(siblings []decompose.Candidate) []decompose.Candidate {
	var folded []decompose.Candidate
	index := make(map[string]int)

	for _, c := range siblings {
		key := strings.ToLower(c.Title)
		if i, ok := index[key]; ok {
			folded[i].Children = append(folded[i].Children, c.Children...)
			folded[i].DependsOnTitles = append(folded[i].DependsOnTitles, c.DependsOnTitles...)
			continue
		}
		index[key] = len(folded)
		folded = append(folded, c)
	}

	return folded
}

// register records a node's title in the document-wide title map unless the
// title is already claimed.
func register(titleToID map[string]string, n *models.ProcessNode) {
	key := strings.ToLower(n.Title)
	if _, ok := titleToID[key]; !ok {
		titleToID[key] = n.ID
	}
}

// checkCycles runs a depth-first search over the combined parent/child and
// dependsOn edges, reporting the first cycle found with its node ids.
func checkCycles(doc *models.Document) error {
	// 0 = unvisited, 1 = on the current path, 2 = done.
	state := make(map[string]int, len(doc.Nodes))

	edges := func(id string) []string {
		n := doc.Nodes[id]
		out := make([]string, 0, len(n.ChildIDs)+len(n.DependsOn))
		out = append(out, n.DependsOn...)
		out = append(out, n.ChildIDs...)
		return out
	}

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		if state[id] == 2 {
			return nil
		}
		if state[id] == 1 {
			start := 0
			for i, p := range path {
				if p == id {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), id)
			titles := make([]string, len(cycle))
			for i, cid := range cycle {
				titles[i] = doc.Nodes[cid].Title
			}
			return &CycleError{IDs: cycle, Titles: titles}
		}

		state[id] = 1
		for _, next := range edges(id) {
			if err := visit(next, append(path, id)); err != nil {
				return err
			}
		}
		state[id] = 2
		return nil
	}

	for id := range doc.Nodes {
		if state[id] == 0 {
			if err := visit(id, nil); err != nil {
				return err
			}
		}
	}

	return nil
}
