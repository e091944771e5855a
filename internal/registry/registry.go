// Package registry owns every node in a build graph, keyed by canonical
// identity, and detects cycles before an edge is committed. It is the
// "Node Registry" of spec.md §4.1, grounded on cmd/distri/batch.go's use of
// gonum's simple.DirectedGraph + topo.Sort for the same job in the teacher
// repository.
package registry

import (
	"fmt"
	"strings"

	"github.com/schatt/dbs/internal/node"
	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// DuplicateError is returned by Add when a node with the same canonical key
// already exists.
type DuplicateError struct {
	Key string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("registry: duplicate canonical key %q", e.Key)
}

// CycleDetected is returned when committing an edge would close a cycle. It
// carries a witness path of node labels, src first and last (e.g.
// "A → B → A").
type CycleDetected struct {
	Witness []string
}

func (e *CycleDetected) Error() string {
	return fmt.Sprintf("registry: dependency cycle detected: %s", strings.Join(e.Witness, " → "))
}

// Registry stores every node of a build by canonical key, provides
// name+args lookup for deduplication, and checks whether a candidate edge
// would close a cycle using a Union-Find skeleton plus a directed
// reachability check.
type Registry struct {
	byCanonical map[string]*node.Node
	byIdentity  map[string]*node.Node // first node registered under an identity key (dedup target)
	order       []*node.Node

	uf *unionFind

	mirror   *simple.DirectedGraph
	nextID   int64
	idOfNode map[string]int64 // canonical key -> gonum node ID
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byCanonical: make(map[string]*node.Node),
		byIdentity:  make(map[string]*node.Node),
		uf:          newUnionFind(),
		mirror:      simple.NewDirectedGraph(),
		idOfNode:    make(map[string]int64),
	}
}

// Add inserts n keyed by its canonical key. It fails with *DuplicateError
// if the key is already present.
func (r *Registry) Add(n *node.Node) error {
	if _, ok := r.byCanonical[n.CanonicalKey]; ok {
		return &DuplicateError{Key: n.CanonicalKey}
	}
	r.nextID++
	n.SetID(r.nextID)
	r.byCanonical[n.CanonicalKey] = n
	r.idOfNode[n.CanonicalKey] = n.ID()
	r.order = append(r.order, n)
	r.uf.add(n.CanonicalKey)
	r.mirror.AddNode(n)
	if _, ok := r.byIdentity[n.IdentityKey]; !ok {
		r.byIdentity[n.IdentityKey] = n
	}
	return nil
}

// GetByKey returns the node with the given canonical key, if any.
func (r *Registry) GetByKey(key string) (*node.Node, bool) {
	n, ok := r.byCanonical[key]
	return n, ok
}

// GetByNameAndArgs returns the dedup representative for (name, args), if
// one has been registered.
func (r *Registry) GetByNameAndArgs(name string, args map[string]string) (*node.Node, bool) {
	n, ok := r.byIdentity[node.ComputeIdentityKey(name, args)]
	return n, ok
}

// AllNodes returns every node in insertion order, for deterministic
// reporting.
func (r *Registry) AllNodes() []*node.Node {
	out := make([]*node.Node, len(r.order))
	copy(out, r.order)
	return out
}

// outgoing returns n's edges in the "dependency graph" sense of spec.md
// §3.3: internal_dependencies ∪ external_dependencies ∪ parent→child.
func outgoing(n *node.Node) []*node.Node {
	out := make([]*node.Node, 0, len(n.Children)+len(n.InternalDependencies)+len(n.ExternalDependencies))
	out = append(out, n.Children...)
	out = append(out, n.InternalDependencies...)
	out = append(out, n.ExternalDependencies...)
	return out
}

// WouldCreateCycle reports whether adding a directed edge src → dst to the
// dependency graph (src depends on/is a parent of dst) would close a cycle,
// i.e. whether dst can already reach src. On a cycle it also returns a
// witness path starting and ending at src.
func (r *Registry) WouldCreateCycle(src, dst *node.Node) (bool, []string) {
	if src.CanonicalKey == dst.CanonicalKey {
		return true, []string{src.String(), src.String()}
	}
	// Union-Find fast-path: if src and dst live in different undirected
	// components so far, no path between them can exist yet, so the new
	// edge cannot close a cycle. This is the O(α(n)) common case.
	if r.uf.find(src.CanonicalKey) != r.uf.find(dst.CanonicalKey) {
		return false, nil
	}

	// Same component: fall back to a directed BFS from dst looking for
	// src, to distinguish an actual path from a false positive of the
	// undirected approximation.
	type frame struct {
		n    *node.Node
		from *node.Node
	}
	visited := map[string]bool{dst.CanonicalKey: true}
	pred := map[string]*node.Node{}
	queue := []*node.Node{dst}
	found := false
	for len(queue) > 0 && !found {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range outgoing(cur) {
			if visited[next.CanonicalKey] {
				continue
			}
			visited[next.CanonicalKey] = true
			pred[next.CanonicalKey] = cur
			if next.CanonicalKey == src.CanonicalKey {
				found = true
				break
			}
			queue = append(queue, next)
		}
	}
	if !found {
		return false, nil
	}
	// Reconstruct dst ⇝ src, then present the full cycle src → dst → … → src.
	var path []*node.Node
	cur := src
	path = append(path, cur)
	for cur.CanonicalKey != dst.CanonicalKey {
		p := pred[cur.CanonicalKey]
		path = append(path, p)
		cur = p
	}
	// path is currently [src, …, dst]; reverse to [dst, …, src].
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	witness := make([]string, 0, len(path)+1)
	witness = append(witness, src.String())
	for _, n := range path {
		witness = append(witness, n.String())
	}
	return true, witness
}

// RecordEdge merges src and dst into the same Union-Find component and
// mirrors the edge into the gonum graph used for diagnostics
// (--print-build-order, --print-build-order-json). Callers must have
// already committed the edge to the relevant Node slice and confirmed
// WouldCreateCycle returned false.
func (r *Registry) RecordEdge(src, dst *node.Node) {
	r.uf.union(src.CanonicalKey, dst.CanonicalKey)
	if r.mirror.Node(src.ID()) == nil {
		r.mirror.AddNode(src)
	}
	if r.mirror.Node(dst.ID()) == nil {
		r.mirror.AddNode(dst)
	}
	r.mirror.SetEdge(r.mirror.NewEdge(src, dst))
}

// AddDependency wires dst as a dependency edge from src (src → dst in the
// dependency-graph sense), failing with *CycleDetected if doing so would
// close a cycle. It only maintains registry-level bookkeeping; callers
// still append to src.InternalDependencies/ExternalDependencies themselves
// so they can classify the dependency first.
func (r *Registry) AddDependency(src, dst *node.Node) error {
	if cyc, witness := r.WouldCreateCycle(src, dst); cyc {
		return &CycleDetected{Witness: witness}
	}
	r.RecordEdge(src, dst)
	return nil
}

// TopoOrder returns a topological order of every registered node using the
// gonum mirror graph, for --print-build-order and friends. It returns an
// error wrapping gonum's topo.Unorderable if the mirror (which should be
// kept acyclic by construction) is somehow cyclic — a registry bug, not a
// user error.
func (r *Registry) TopoOrder() ([]*node.Node, error) {
	sorted, err := topo.Sort(r.mirror)
	if err != nil {
		return nil, xerrors.Errorf("registry: BUG: mirror graph is cyclic: %w", err)
	}
	out := make([]*node.Node, 0, len(sorted))
	for _, gn := range sorted {
		if n, ok := gn.(*node.Node); ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// ExecutionOrder returns the mirror graph's topological order reversed:
// since mirror edges point parent → child and dependent → dependency (the
// "dependency graph" direction of spec.md §3.3), the reverse of a
// topological sort puts each node after everything it structurally depends
// on — the order --print-build-order reports.
func (r *Registry) ExecutionOrder() ([]*node.Node, error) {
	sorted, err := r.TopoOrder()
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}
	return sorted, nil
}
