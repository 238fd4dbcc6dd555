package models

// TreeNode is a node of the assembled output tree. Children mirror the
// original parent/child structure; DependsOn edges are carried as auxiliary
// id references, never duplicated subtrees.
type TreeNode struct {
	ID                string        `json:"id" yaml:"id"`
	Title             string        `json:"title" yaml:"title"`
	Kind              NodeKind      `json:"kind" yaml:"kind"`
	Category          string        `json:"category,omitempty" yaml:"category,omitempty"`
	Priority          int           `json:"priority,omitempty" yaml:"priority,omitempty"`
	EstimatedDuration string        `json:"estimated_duration,omitempty" yaml:"estimated_duration,omitempty"`
	Description       string        `json:"description,omitempty" yaml:"description,omitempty"`
	Status            NodeStatus    `json:"status" yaml:"status"`
	FailureReason     FailureReason `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
	DegradedContext   bool          `json:"degraded_context,omitempty" yaml:"degraded_context,omitempty"`
	Attempts          int           `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	DependsOn         []string      `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Children          []*TreeNode   `json:"children,omitempty" yaml:"children,omitempty"`
}

// Tree is the final ordered result of a run. Node order follows the original
// decomposition order regardless of elaboration completion order.
type Tree struct {
	RunID string      `json:"run_id" yaml:"run_id"`
	Roots []*TreeNode `json:"roots" yaml:"roots"`
}

// Counts returns the number of done and failed nodes in the tree.
func (t *Tree) Counts() (done, failed int) {
	var visit func(n *TreeNode)
	visit = func(n *TreeNode) {
		switch n.Status {
		case StatusDone:
			done++
		case StatusFailed:
			failed++
		}
		for _, c := range n.Children {
			visit(c)
		}
	}
	for _, r := range t.Roots {
		visit(r)
	}
	return done, failed
}

// Complete returns true when every node in the tree ended done.
func (t *Tree) Complete() bool {
	complete := true
	var visit func(n *TreeNode)
	visit = func(n *TreeNode) {
		if n.Status != StatusDone {
			complete = false
		}
		for _, c := range n.Children {
			visit(c)
		}
	}
	for _, r := range t.Roots {
		visit(r)
	}
	return complete
}
