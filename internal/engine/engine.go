// Package engine implements the Execution Engine (spec.md §4.4): the
// three-queue (RPP/GR/READY) scheduler that drains a node graph built by
// internal/builder. Grounded on cmd/distri/batch.go's worker-pool-over-a-
// dependency-graph loop, generalized from distri's single pending/done
// model to the spec's three-phase coordination/preparation/execution
// split, sequential and parallel sibling windows, and conditional
// notification gating.
package engine

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/schatt/dbs/internal/node"
	"github.com/schatt/dbs/internal/status"
)

// Runner executes a single node and returns the status it reached. Engine
// implementations never interpret command text themselves; that is the
// Runner's job (see ShellRunner for real execution, and ValidateRunner and
// DryRunRunner for the validate and dry-run modes).
type Runner interface {
	Run(ctx context.Context, n *node.Node) status.Status
}

// Engine drains a node graph rooted at a single target, honoring
// dependency-group gating, sequential/parallel sibling windows, and
// conditional notifications.
type Engine struct {
	nodes  []*node.Node
	byKey  map[string]*node.Node
	status *status.Manager
	runner Runner

	rpp   map[string]*node.Node
	gr    map[string]bool
	ready []*node.Node

	// Stalled holds the canonical keys still pending when the progress
	// guard gives up. Populated by Run.
	Stalled []string
}

// New prepares an Engine over every node reachable from root (nodes must
// already be fully wired by internal/builder). statusMgr must be fresh
// (nothing yet Init'd) or already primed with the same keys; New is
// idempotent either way.
func New(allNodes []*node.Node, statusMgr *status.Manager, runner Runner) *Engine {
	e := &Engine{
		nodes:  allNodes,
		byKey:  make(map[string]*node.Node, len(allNodes)),
		status: statusMgr,
		runner: runner,
		rpp:    make(map[string]*node.Node, len(allNodes)),
		gr:     make(map[string]bool, len(allNodes)),
	}
	for _, n := range allNodes {
		e.byKey[n.CanonicalKey] = n
		statusMgr.Init(n.CanonicalKey, n.String())
		e.rpp[n.CanonicalKey] = n
	}
	return e
}

// Run drains RPP/READY until both are empty, the runaway guard (2×|nodes|
// iterations) trips, or three consecutive no-progress iterations occur.
// It returns the final build summary; Engine.Stalled lists any node left
// pending.
func (e *Engine) Run(ctx context.Context) status.Summary {
	maxIter := 2 * len(e.nodes)
	if maxIter == 0 {
		maxIter = 1
	}
	noProgress := 0
	for iter := 0; iter < maxIter && (len(e.rpp) > 0 || len(e.ready) > 0); iter++ {
		progressed := e.phase1()
		if e.phase2() {
			progressed = true
		}
		if e.phase3(ctx) {
			progressed = true
		}
		if !progressed {
			noProgress++
			if noProgress >= 3 {
				log.Printf("engine: no progress for 3 consecutive iterations, %d node(s) stalled", len(e.rpp))
				break
			}
		} else {
			noProgress = 0
		}
	}
	for key := range e.rpp {
		e.Stalled = append(e.Stalled, key)
	}
	return e.status.GetBuildSummary()
}

// phase1 is Coordination: RPP → GR.
func (e *Engine) phase1() bool {
	progressed := false
	for key, n := range e.rpp {
		if e.status.GetStatus(key) != status.Pending || e.gr[key] {
			continue
		}
		if !e.externalDepsSatisfied(n) {
			continue
		}
		if !e.shouldCoordinateNext(n) {
			continue
		}
		e.gr[key] = true
		progressed = true
		if dg := depGroupChild(n); dg != nil && e.status.GetStatus(dg.CanonicalKey) == status.Pending && !e.gr[dg.CanonicalKey] {
			e.gr[dg.CanonicalKey] = true
		}
	}
	return progressed
}

// phase2 is Execution Preparation: RPP → READY.
func (e *Engine) phase2() bool {
	progressed := false
	for key, n := range e.rpp {
		if !e.gr[key] || e.status.GetStatus(key) != status.Pending {
			continue
		}
		if !e.computeReady(n) {
			continue
		}
		delete(e.rpp, key)
		e.ready = append(e.ready, n)
		e.status.SetStatus(key, status.Ready)
		progressed = true
	}
	return progressed
}

// phase3 is Execution: drain READY. Per spec.md §5, a faithful engine may
// dispatch a batch of ready nodes onto worker goroutines rather than one at
// a time, provided status mutations and queue writes stay serialized on the
// main loop. Phase 2 already admits no more nodes into READY at once than
// each parent's parallel window allows, so dispatching the whole current
// batch concurrently respects parallel_count without any extra bookkeeping
// here: the Running/terminal status writes happen strictly before dispatch
// and strictly after every goroutine in the batch has returned.
func (e *Engine) phase3(ctx context.Context) bool {
	if len(e.ready) == 0 {
		return false
	}
	batch := e.ready
	e.ready = nil

	for _, n := range batch {
		if cur := e.status.GetStatus(n.CanonicalKey); cur.IsSuccess() {
			log.Fatalf("engine: BUG: queue-management invariant violated: %s dequeued from READY already in successful terminal status %s", n, cur)
		}
		e.status.SetStatus(n.CanonicalKey, status.Running)
	}

	results := make([]status.Status, len(batch))
	var g errgroup.Group
	for i, n := range batch {
		i, n := i, n
		g.Go(func() error {
			results[i] = e.runner.Run(ctx, n)
			return nil
		})
	}
	_ = g.Wait() // Runner.Run never itself returns an error; failures surface as status.Failed

	for i, n := range batch {
		e.transition(n, results[i])
	}
	return true
}

func (e *Engine) externalDepsSatisfied(n *node.Node) bool {
	for _, d := range n.ExternalDependencies {
		if !e.status.GetStatus(d.CanonicalKey).IsSuccess() {
			return false
		}
	}
	return true
}

func depGroupChild(n *node.Node) *node.Node {
	for _, c := range n.Children {
		if order, ok := c.ChildOrder(n); ok && order == node.DependencyGroupChildOrder {
			return c
		}
	}
	return nil
}

func parentWindow(p *node.Node) int {
	if p.ParallelCount > 0 {
		return p.ParallelCount
	}
	return 1
}

// terminalCount counts p's *regular* (non-dependency-group) children
// considered "done enough" to unblock the next sibling: successful-terminal
// only, unless continue_on_error is set, in which case any terminal status
// (including failed) counts — see DESIGN.md open-question decision 3. The
// synthetic dependency-group child is excluded: its own completion already
// gates entry into this comparison one level up in shouldCoordinateNext, so
// counting it here too would inflate a parallel group's window by one.
func (e *Engine) terminalCount(p *node.Node) int {
	n := 0
	for _, c := range p.Children {
		if order, ok := c.ChildOrder(p); ok && order == node.DependencyGroupChildOrder {
			continue
		}
		s := e.status.GetStatus(c.CanonicalKey)
		if p.ContinueOnError {
			if s.IsTerminal() {
				n++
			}
		} else if s.IsSuccess() {
			n++
		}
	}
	return n
}

// shouldCoordinateNext implements spec.md §4.4.1.
func (e *Engine) shouldCoordinateNext(n *node.Node) bool {
	if len(n.Parents) == 0 {
		return true
	}
	for _, p := range n.Parents {
		if !e.gr[p.CanonicalKey] {
			continue
		}
		if order, ok := n.ChildOrder(p); ok && order == node.DependencyGroupChildOrder {
			return true
		}

		parentIsDepGroupChild := false
		for _, pp := range p.Parents {
			if order, ok := p.ChildOrder(pp); ok && order == node.DependencyGroupChildOrder {
				parentIsDepGroupChild = true
				break
			}
		}
		if !parentIsDepGroupChild {
			dg := depGroupChild(p)
			if dg == nil || !e.status.GetStatus(dg.CanonicalKey).IsSuccess() {
				continue
			}
		}

		c := e.terminalCount(p)
		k, ok := n.ChildOrder(p)
		if !ok {
			continue
		}
		pw := parentWindow(p)
		if p.IsSequential() {
			// Real child order is 1-based (order 0 is reserved for the
			// dependency group); c counts only real terminal siblings, so
			// the Kth real child waits for exactly K-1 of them.
			if k-1 == c {
				return true
			}
		} else if k <= c+pw {
			return true
		}
	}
	return false
}

// computeReady implements spec.md §4.4.2's override composed with the
// general readiness rule of Phase 2.
func (e *Engine) computeReady(n *node.Node) bool {
	ready := false
	if len(n.Parents) == 0 {
		ready = true
	} else {
		for _, p := range n.Parents {
			if !e.gr[p.CanonicalKey] {
				continue
			}
			if order, ok := n.ChildOrder(p); ok && order == node.DependencyGroupChildOrder {
				ready = true
				break
			}
			dg := depGroupChild(p)
			if dg != nil && e.status.GetStatus(dg.CanonicalKey).IsSuccess() {
				ready = true
				break
			}
		}
	}
	if ready && len(n.Children) > 0 {
		for _, c := range n.Children {
			if !e.status.GetStatus(c.CanonicalKey).IsSuccess() {
				ready = false
				break
			}
		}
	}
	if n.Conditional {
		ready = conditionalReady(n)
	}
	return ready
}

func conditionalReady(n *node.Node) bool {
	allLeft := true
	anyMet := false
	for _, e := range n.SuccessNotify {
		if e.State == node.NotRun {
			allLeft = false
		}
		if e.State == node.Met {
			anyMet = true
		}
	}
	for _, e := range n.FailureNotify {
		if e.State == node.NotRun {
			allLeft = false
		}
		if e.State == node.Met {
			anyMet = true
		}
	}
	return allLeft && anyMet
}

// transition implements spec.md §4.4.4.
func (e *Engine) transition(n *node.Node, newStatus status.Status) {
	e.status.SetStatus(n.CanonicalKey, newStatus)

	if !newStatus.IsTerminal() {
		return
	}

	for key, blocked := range n.Blocks {
		delete(blocked.BlockedBy, n.CanonicalKey)
		delete(n.Blocks, key)
	}

	if !newStatus.IsSuccess() {
		delete(e.gr, n.CanonicalKey)
	}

	for _, target := range n.NotifiesOnSuccess {
		for _, entry := range target.SuccessNotify {
			if entry.Notifier == n {
				if newStatus.IsSuccess() {
					entry.State = node.Met
				} else {
					entry.State = node.NotMet
				}
			}
		}
	}
	for _, target := range n.NotifiesOnFailure {
		for _, entry := range target.FailureNotify {
			if entry.Notifier == n {
				if newStatus == status.Failed {
					entry.State = node.Met
				} else {
					entry.State = node.NotMet
				}
			}
		}
	}
}
