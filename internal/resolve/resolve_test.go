package resolve

import (
	"errors"
	"fmt"
	"testing"

	"github.com/procflow-ai/procflow/internal/decompose"
	"github.com/procflow-ai/procflow/pkg/models"
)

// stubIDs makes node ids deterministic for the duration of a test.
func stubIDs(t *testing.T) {
	t.Helper()
	orig := newID
	n := 0
	newID = func() string {
		n++
		return fmt.Sprintf("n%02d", n)
	}
	t.Cleanup(func() { newID = orig })
}

func process(title string, deps []string, children ...decompose.Candidate) decompose.Candidate {
	return decompose.Candidate{Title: title, Kind: models.KindProcess, DependsOnTitles: deps, Children: children}
}

func step(title string, deps ...string) decompose.Candidate {
	return decompose.Candidate{Title: title, Kind: models.KindSubProcess, DependsOnTitles: deps}
}

func TestResolve_Basic(t *testing.T) {
	stubIDs(t)

	doc, err := Resolve("text", []decompose.Candidate{
		process("Step A", nil),
		process("Step B", []string{"Step A"}),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if len(doc.RootIDs) != 2 {
		t.Fatalf("got %d roots, want 2", len(doc.RootIDs))
	}
	a := doc.Node(doc.RootIDs[0])
	b := doc.Node(doc.RootIDs[1])
	if a.Title != "Step A" || b.Title != "Step B" {
		t.Fatalf("root order = %q, %q", a.Title, b.Title)
	}
	if len(b.DependsOn) != 1 || b.DependsOn[0] != a.ID {
		t.Errorf("B.DependsOn = %v, want [%s]", b.DependsOn, a.ID)
	}
	if b.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", b.Status)
	}
	if err := doc.Validate(); err != nil {
		t.Errorf("resolved document invalid: %v", err)
	}
}

func TestResolve_ChildOrderAndParent(t *testing.T) {
	stubIDs(t)

	doc, err := Resolve("text", []decompose.Candidate{
		process("Build", nil, step("Compile"), step("Link", "Compile")),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	root := doc.Node(doc.RootIDs[0])
	if len(root.ChildIDs) != 2 {
		t.Fatalf("got %d children, want 2", len(root.ChildIDs))
	}
	compile := doc.Node(root.ChildIDs[0])
	link := doc.Node(root.ChildIDs[1])
	if compile.Title != "Compile" || link.Title != "Link" {
		t.Fatalf("child order = %q, %q", compile.Title, link.Title)
	}
	if link.ParentID != root.ID || compile.ParentID != root.ID {
		t.Error("children must reference their parent")
	}
	if len(link.DependsOn) != 1 || link.DependsOn[0] != compile.ID {
		t.Errorf("Link.DependsOn = %v, want [%s]", link.DependsOn, compile.ID)
	}
}

func TestResolve_FoldsDuplicateSiblings(t *testing.T) {
	stubIDs(t)

	doc, err := Resolve("text", []decompose.Candidate{
		process("Setup", nil, step("Install")),
		process("SETUP", []string{"Review"}, step("Configure")),
		process("Review", nil),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if len(doc.RootIDs) != 2 {
		t.Fatalf("got %d roots, want 2 after folding", len(doc.RootIDs))
	}
	setup := doc.Node(doc.RootIDs[0])
	if setup.Title != "Setup" {
		t.Fatalf("folded title = %q, want first occurrence", setup.Title)
	}
	if len(setup.ChildIDs) != 2 {
		t.Errorf("folded node has %d children, want merged 2", len(setup.ChildIDs))
	}
	// The duplicate's dependency hint survives the fold.
	review := doc.Node(doc.RootIDs[1])
	if len(setup.DependsOn) != 1 || setup.DependsOn[0] != review.ID {
		t.Errorf("folded DependsOn = %v, want [%s]", setup.DependsOn, review.ID)
	}
}

func TestResolve_SameTitleDifferentParents(t *testing.T) {
	stubIDs(t)

	doc, err := Resolve("text", []decompose.Candidate{
		process("Assembly", nil, step("Quality Check")),
		process("Packaging", nil, step("Quality Check")),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	first := doc.Node(doc.Node(doc.RootIDs[0]).ChildIDs[0])
	second := doc.Node(doc.Node(doc.RootIDs[1]).ChildIDs[0])
	if first.ID == second.ID {
		t.Error("same-titled nodes under different parents must keep distinct ids")
	}
}

func TestResolve_DanglingDependency(t *testing.T) {
	stubIDs(t)

	_, err := Resolve("text", []decompose.Candidate{
		process("Deploy", []string{"Approval Gate"}),
	})

	var dangling *DanglingError
	if !errors.As(err, &dangling) {
		t.Fatalf("Resolve = %v, want *DanglingError", err)
	}
	if len(dangling.Refs) != 1 || dangling.Refs[0].Ref != "Approval Gate" {
		t.Errorf("Refs = %v", dangling.Refs)
	}
}

func TestResolve_DependencyCycle(t *testing.T) {
	stubIDs(t)

	_, err := Resolve("text", []decompose.Candidate{
		process("A", []string{"C"}),
		process("B", []string{"A"}),
		process("C", []string{"B"}),
	})

	var cycle *CycleError
	if !errors.As(err, &cycle) {
		t.Fatalf("Resolve = %v, want *CycleError", err)
	}
	// The cycle names the offending ids with the entry repeated at the end.
	if len(cycle.IDs) != 4 || cycle.IDs[0] != cycle.IDs[len(cycle.IDs)-1] {
		t.Errorf("cycle IDs = %v", cycle.IDs)
	}
}

func TestResolve_SelfReferenceIgnored(t *testing.T) {
	stubIDs(t)

	doc, err := Resolve("text", []decompose.Candidate{
		process("Loop", []string{"Loop"}),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if n := doc.Node(doc.RootIDs[0]); len(n.DependsOn) != 0 {
		t.Errorf("self dependency should be dropped, got %v", n.DependsOn)
	}
}

func TestResolve_DuplicateHintsDeduplicated(t *testing.T) {
	stubIDs(t)

	doc, err := Resolve("text", []decompose.Candidate{
		process("A", nil),
		process("B", []string{"A", "a", "A"}),
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if n := doc.Node(doc.RootIDs[1]); len(n.DependsOn) != 1 {
		t.Errorf("DependsOn = %v, want a single entry", n.DependsOn)
	}
}
