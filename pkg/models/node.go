// Package models defines the shared data model for process extraction runs.
package models

import "strings"

// NodeKind distinguishes top-level processes from nested sub-processes.
type NodeKind string

const (
	// KindProcess is a top-level unit of work extracted from the document.
	KindProcess NodeKind = "process"
	// KindSubProcess is a child unit nested under a process.
	KindSubProcess NodeKind = "sub_process"
)

// Valid returns true if the kind is a known value.
func (k NodeKind) Valid() bool {
	return k == KindProcess || k == KindSubProcess
}

// NodeStatus represents the elaboration state of a node.
type NodeStatus string

const (
	// StatusPending indicates the node has not been elaborated yet.
	StatusPending NodeStatus = "pending"
	// StatusElaborating indicates an elaboration call is in flight or retrying.
	StatusElaborating NodeStatus = "elaborating"
	// StatusDone indicates elaboration completed successfully.
	StatusDone NodeStatus = "done"
	// StatusFailed indicates elaboration failed terminally.
	StatusFailed NodeStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s NodeStatus) Valid() bool {
	switch s {
	case StatusPending, StatusElaborating, StatusDone, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true once the node can no longer change state.
func (s NodeStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// FailureReason explains why a node ended in StatusFailed.
type FailureReason string

const (
	// FailureRetriesExhausted indicates the transient-failure retry cap was hit.
	FailureRetriesExhausted FailureReason = "retries_exhausted"
	// FailureMalformedElaboration indicates the generation response did not
	// parse or validate into the elaboration shape. Not retried.
	FailureMalformedElaboration FailureReason = "malformed_elaboration"
)

// ProcessNode is a single process or sub-process in the resolved document.
// Nodes are created by the resolver, mutated by the elaboration scheduler
// (status, attempts, elaborated fields) and never deleted: failed nodes
// persist in the final tree as a signal to the caller.
type ProcessNode struct {
	// ID is the stable unique identifier assigned by the resolver.
	ID string `json:"id"`
	// Title is the short human-readable name. Unique case-insensitively
	// within a sibling scope.
	Title string `json:"title"`
	// Kind marks the node as a process or sub-process.
	Kind NodeKind `json:"kind"`
	// ParentID references the owning process. Empty for top-level processes.
	ParentID string `json:"parent_id,omitempty"`
	// ChildIDs lists owned sub-processes in decomposition order.
	ChildIDs []string `json:"child_ids,omitempty"`
	// DependsOn lists cross-reference node ids that are not parent/child
	// edges. May span siblings or different branches.
	DependsOn []string `json:"depends_on,omitempty"`

	// Category, Priority, EstimatedDuration and Description are populated
	// only after successful elaboration.
	Category          string `json:"category,omitempty"`
	Priority          int    `json:"priority,omitempty"`
	EstimatedDuration string `json:"estimated_duration,omitempty"`
	Description       string `json:"description,omitempty"`

	// Status is the elaboration state. Transitions are monotonic:
	// pending -> elaborating -> done|failed.
	Status NodeStatus `json:"status"`
	// FailureReason is set when Status is StatusFailed.
	FailureReason FailureReason `json:"failure_reason,omitempty"`
	// DegradedContext marks a node elaborated while one of its dependencies
	// had already failed, so its prompt lacked that dependency's description.
	DegradedContext bool `json:"degraded_context,omitempty"`
	// Attempts counts elaboration calls issued for this node.
	Attempts int `json:"attempts,omitempty"`
}

// Document is the top-level aggregate produced by the resolver.
type Document struct {
	// SourceText is the immutable input text.
	SourceText string `json:"source_text"`
	// Nodes maps id to node. Insertion order is irrelevant.
	Nodes map[string]*ProcessNode `json:"nodes"`
	// RootIDs lists top-level process ids in decomposition order.
	RootIDs []string `json:"root_ids"`
}

// Node returns the node with the given id, or nil.
func (d *Document) Node(id string) *ProcessNode {
	return d.Nodes[id]
}

// Walk visits every node reachable from RootIDs in decomposition order,
// parents before children.
func (d *Document) Walk(fn func(n *ProcessNode)) {
	var visit func(id string)
	visit = func(id string) {
		n := d.Nodes[id]
		if n == nil {
			return
		}
		fn(n)
		for _, childID := range n.ChildIDs {
			visit(childID)
		}
	}
	for _, rootID := range d.RootIDs {
		visit(rootID)
	}
}

// Validate checks the document's structural invariants: every referenced id
// exists, the parent/child relation is a forest, and no two siblings share a
// case-insensitive title.
func (d *Document) Validate() error {
	for _, rootID := range d.RootIDs {
		if d.Nodes[rootID] == nil {
			return &ReferenceError{From: "root_ids", To: rootID}
		}
	}

	seenChild := make(map[string]string) // child id -> parent id
	for id, n := range d.Nodes {
		if n.ID != id {
			return &ReferenceError{From: id, To: n.ID}
		}
		titles := make(map[string]bool, len(n.ChildIDs))
		for _, childID := range n.ChildIDs {
			child := d.Nodes[childID]
			if child == nil {
				return &ReferenceError{From: id, To: childID}
			}
			if prev, claimed := seenChild[childID]; claimed && prev != id {
				return &ForestError{NodeID: childID}
			}
			seenChild[childID] = id
			if child.ParentID != id {
				return &ForestError{NodeID: childID}
			}
			key := strings.ToLower(child.Title)
			if titles[key] {
				return &SiblingTitleError{ParentID: id, Title: child.Title}
			}
			titles[key] = true
		}
		for _, depID := range n.DependsOn {
			if d.Nodes[depID] == nil {
				return &ReferenceError{From: id, To: depID}
			}
		}
	}

	rootTitles := make(map[string]bool, len(d.RootIDs))
	for _, rootID := range d.RootIDs {
		root := d.Nodes[rootID]
		if root.ParentID != "" {
			return &ForestError{NodeID: rootID}
		}
		key := strings.ToLower(root.Title)
		if rootTitles[key] {
			return &SiblingTitleError{ParentID: "", Title: root.Title}
		}
		rootTitles[key] = true
	}

	return nil
}

// ReferenceError indicates an id referenced by the document does not exist.
type ReferenceError struct {
	From string
	To   string
}

func (e *ReferenceError) Error() string {
	return "models: " + e.From + " references unknown node " + e.To
}

// ForestError indicates the parent/child relation is not a forest.
type ForestError struct {
	NodeID string
}

func (e *ForestError) Error() string {
	return "models: node " + e.NodeID + " violates the parent/child forest"
}

// SiblingTitleError indicates two siblings share a case-insensitive title.
type SiblingTitleError struct {
	ParentID string
	Title    string
}

func (e *SiblingTitleError) Error() string {
	scope := e.ParentID
	if scope == "" {
		scope = "top level"
	}
	return "models: duplicate sibling title " + e.Title + " under " + scope
}
