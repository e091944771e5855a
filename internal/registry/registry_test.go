package registry

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/schatt/dbs/internal/node"
)

func mustAdd(t *testing.T, r *Registry, n *node.Node) {
	t.Helper()
	if err := r.Add(n); err != nil {
		t.Fatalf("Add(%s): %v", n.Name, err)
	}
}

func TestAddDuplicate(t *testing.T) {
	r := New()
	a := node.New("A", node.Task, nil)
	mustAdd(t, r, a)
	b := node.New("A", node.Task, nil)
	if err := r.Add(b); err == nil {
		t.Fatal("expected duplicate error, got nil")
	} else if _, ok := err.(*DuplicateError); !ok {
		t.Fatalf("expected *DuplicateError, got %T: %v", err, err)
	}
}

func TestGetByNameAndArgs(t *testing.T) {
	r := New()
	a := node.New("A", node.Task, map[string]string{"x": "1"})
	mustAdd(t, r, a)
	got, ok := r.GetByNameAndArgs("A", map[string]string{"x": "1"})
	if !ok || got != a {
		t.Fatalf("GetByNameAndArgs: got %v, %v want %v, true", got, ok, a)
	}
	if _, ok := r.GetByNameAndArgs("A", map[string]string{"x": "2"}); ok {
		t.Fatal("expected no match for different args")
	}
}

// TestNoCycleBetweenUnrelatedNodes exercises the Union-Find fast path: two
// nodes in separate components can never close a cycle.
func TestNoCycleBetweenUnrelatedNodes(t *testing.T) {
	r := New()
	a := node.New("A", node.Task, nil)
	b := node.New("B", node.Task, nil)
	mustAdd(t, r, a)
	mustAdd(t, r, b)
	if cyc, _ := r.WouldCreateCycle(a, b); cyc {
		t.Fatal("expected no cycle between unrelated nodes")
	}
}

// TestSelfDependencyIsCycle covers a direct self-edge.
func TestSelfDependencyIsCycle(t *testing.T) {
	r := New()
	a := node.New("A", node.Task, nil)
	mustAdd(t, r, a)
	if cyc, _ := r.WouldCreateCycle(a, a); !cyc {
		t.Fatal("expected self-dependency to be detected as a cycle")
	}
}

// TestTwoNodeCycle mirrors spec.md scenario S6: A depends on B, B depends
// on A.
func TestTwoNodeCycle(t *testing.T) {
	r := New()
	a := node.New("A", node.Task, nil)
	b := node.New("B", node.Task, nil)
	mustAdd(t, r, a)
	mustAdd(t, r, b)

	a.ExternalDependencies = append(a.ExternalDependencies, b)
	if err := r.AddDependency(a, b); err != nil {
		t.Fatalf("A -> B should not be a cycle yet: %v", err)
	}

	b.ExternalDependencies = append(b.ExternalDependencies, a)
	err := r.AddDependency(b, a)
	if err == nil {
		t.Fatal("expected CycleDetected for B -> A after A -> B")
	}
	cd, ok := err.(*CycleDetected)
	if !ok {
		t.Fatalf("expected *CycleDetected, got %T: %v", err, err)
	}
	want := []string{"B", "A", "B"}
	if diff := cmp.Diff(want, cd.Witness); diff != "" {
		t.Fatalf("witness path mismatch (-want +got):\n%s", diff)
	}
}

// TestThreeNodeCycle checks the directed-reachability fallback on a longer
// cycle (A -> B -> C -> A): Union-Find only says C and A share a component,
// and the BFS must find the actual path to build the witness.
func TestThreeNodeCycle(t *testing.T) {
	r := New()
	a := node.New("A", node.Task, nil)
	b := node.New("B", node.Task, nil)
	c := node.New("C", node.Task, nil)
	mustAdd(t, r, a)
	mustAdd(t, r, b)
	mustAdd(t, r, c)

	a.ExternalDependencies = append(a.ExternalDependencies, b)
	if err := r.AddDependency(a, b); err != nil {
		t.Fatalf("A -> B: %v", err)
	}
	b.ExternalDependencies = append(b.ExternalDependencies, c)
	if err := r.AddDependency(b, c); err != nil {
		t.Fatalf("B -> C: %v", err)
	}
	c.ExternalDependencies = append(c.ExternalDependencies, a)
	err := r.AddDependency(c, a)
	if err == nil {
		t.Fatal("expected cycle for C -> A closing A -> B -> C -> A")
	}
	cd, ok := err.(*CycleDetected)
	if !ok {
		t.Fatalf("expected *CycleDetected, got %T: %v", err, err)
	}
	want := []string{"C", "A", "B", "C"}
	if diff := cmp.Diff(want, cd.Witness); diff != "" {
		t.Fatalf("witness path mismatch (-want +got):\n%s", diff)
	}
}

// TestDiamondIsNotACycle checks that converging paths (fan-in) are not
// mistaken for cycles: A -> B -> D, A -> C -> D.
func TestDiamondIsNotACycle(t *testing.T) {
	r := New()
	a := node.New("A", node.Task, nil)
	b := node.New("B", node.Task, nil)
	c := node.New("C", node.Task, nil)
	d := node.New("D", node.Task, nil)
	for _, n := range []*node.Node{a, b, c, d} {
		mustAdd(t, r, n)
	}
	a.ExternalDependencies = append(a.ExternalDependencies, b)
	if err := r.AddDependency(a, b); err != nil {
		t.Fatalf("A -> B: %v", err)
	}
	a.ExternalDependencies = append(a.ExternalDependencies, c)
	if err := r.AddDependency(a, c); err != nil {
		t.Fatalf("A -> C: %v", err)
	}
	b.ExternalDependencies = append(b.ExternalDependencies, d)
	if err := r.AddDependency(b, d); err != nil {
		t.Fatalf("B -> D: %v", err)
	}
	c.ExternalDependencies = append(c.ExternalDependencies, d)
	if err := r.AddDependency(c, d); err != nil {
		t.Fatalf("C -> D (diamond fan-in) should not be a cycle: %v", err)
	}
}
