// Package assemble turns an elaborated document into the final ordered tree.
package assemble

import "github.com/procflow-ai/procflow/pkg/models"

// Build assembles the output tree from a document. Node order follows the
// decomposition order recorded on the document, not the order elaborations
// finished in, so identical inputs produce identically ordered trees.
func Build(runID string, doc *models.Document) *models.Tree {
	tree := &models.Tree{RunID: runID}
	for _, rootID := range doc.RootIDs {
		if root := doc.Node(rootID); root != nil {
			tree.Roots = append(tree.Roots, buildNode(doc, root))
		}
	}
	return tree
}

func buildNode(doc *models.Document, n *models.ProcessNode) *models.TreeNode {
	out := &models.TreeNode{
		ID:                n.ID,
		Title:             n.Title,
		Kind:              n.Kind,
		Category:          n.Category,
		Priority:          n.Priority,
		EstimatedDuration: n.EstimatedDuration,
		Description:       n.Description,
		Status:            n.Status,
		FailureReason:     n.FailureReason,
		DegradedContext:   n.DegradedContext,
		Attempts:          n.Attempts,
	}
	if len(n.DependsOn) > 0 {
		out.DependsOn = append([]string(nil), n.DependsOn...)
	}
	for _, childID := range n.ChildIDs {
		if child := doc.Node(childID); child != nil {
			out.Children = append(out.Children, buildNode(doc, child))
		}
	}
	return out
}
