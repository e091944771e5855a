// Package builder implements the Graph Builder (spec.md §4.3): a
// worklist-driven expander that resolves config entries into nodes,
// deduplicates dependency/notification targets while leaving ordinary
// children undeduplicated, synthesizes each node's dependency group, and
// registers conditional notifications — checking for cycles on every edge
// it commits.
package builder

import (
	"fmt"
	"log"
	"strings"

	"github.com/schatt/dbs/internal/args"
	"github.com/schatt/dbs/internal/config"
	"github.com/schatt/dbs/internal/node"
	"github.com/schatt/dbs/internal/registry"
	"golang.org/x/xerrors"
)

// relKind mirrors the "kind" column of process_relationship's table in
// spec.md §4.3.
type relKind int

const (
	relDependency relKind = iota
	relNotify
	relNotifyOnSuccess
	relNotifyOnFailure
)

// Builder expands a single configuration into a node.Node graph stored in a
// registry.Registry. It is not safe for concurrent use; a build is a single
// worklist pass.
type Builder struct {
	cfg             *config.Config
	reg             *registry.Registry
	globals         map[string]interface{}
	defaultParallel int

	tasksByName     map[string]*config.TaskConfig
	platformsByName map[string]*config.PlatformConfig
	groupsByName    map[string]*config.GroupConfig

	entryOf map[string]interface{} // canonical key -> *TaskConfig/*PlatformConfig/*GroupConfig

	dedupIndex       map[string]*node.Node // identity key -> node, for dependency/notify targets only
	instanceCounters map[string]int        // identity key -> next auto-instance suffix, for regular children

	worklist []*node.Node
	visited  map[string]bool
}

// New builds the name→entry lookup tables from cfg and returns a Builder
// ready to expand targets into reg. defaultParallel is the project-wide
// parallel capacity used when a group sets `parallel: true` without an
// explicit integer cap.
func New(cfg *config.Config, reg *registry.Registry, defaultParallel int) *Builder {
	b := &Builder{
		cfg:              cfg,
		reg:              reg,
		defaultParallel:  defaultParallel,
		tasksByName:      make(map[string]*config.TaskConfig),
		platformsByName:  make(map[string]*config.PlatformConfig),
		groupsByName:     make(map[string]*config.GroupConfig),
		entryOf:          make(map[string]interface{}),
		dedupIndex:       make(map[string]*node.Node),
		instanceCounters: make(map[string]int),
		visited:          make(map[string]bool),
	}
	for i := range cfg.Tasks {
		b.tasksByName[cfg.Tasks[i].Name] = &cfg.Tasks[i]
	}
	for i := range cfg.Platforms {
		b.platformsByName[cfg.Platforms[i].Name] = &cfg.Platforms[i]
	}
	for name := range cfg.BuildGroups {
		g := cfg.BuildGroups[name]
		b.groupsByName[name] = &g
	}
	b.globals = buildGlobalsTree(cfg.GlobalVars, cfg.ExcludeFromGlobals)
	if defaultParallel <= 0 {
		b.defaultParallel = 4
	}
	return b
}

// Build resolves rootName (with optional rootArgs) to a node, then expands
// the worklist until every reachable node has had its relationships
// attached exactly once, returning the root node.
func (b *Builder) Build(rootName string, rootArgs interface{}) (*node.Node, error) {
	root, err := b.getOrCreate(rootName, rootArgs, nil, false, "")
	if err != nil {
		return nil, xerrors.Errorf("resolving root target %q: %w", rootName, err)
	}
	for len(b.worklist) > 0 {
		n := b.worklist[0]
		b.worklist = b.worklist[1:]
		if b.visited[n.CanonicalKey] {
			continue
		}
		b.visited[n.CanonicalKey] = true
		if err := b.attach(n); err != nil {
			return nil, xerrors.Errorf("attaching relationships for %s: %w", n, err)
		}
	}
	return root, nil
}

func (b *Builder) resolveEntry(name string) (interface{}, node.Kind, error) {
	if t, ok := b.tasksByName[name]; ok {
		return t, node.Task, nil
	}
	if p, ok := b.platformsByName[name]; ok {
		return p, node.Platform, nil
	}
	if g, ok := b.groupsByName[name]; ok {
		return g, node.Group, nil
	}
	return nil, 0, fmt.Errorf("target %q not found in configuration", name)
}

func commandOf(entry interface{}) string {
	switch e := entry.(type) {
	case *config.TaskConfig:
		return e.Command
	case *config.PlatformConfig:
		return e.BuildCommand
	default:
		return ""
	}
}

// getOrCreate resolves (name, rawArgs) against the configuration and
// returns a node for it, creating one if necessary. When dedupe is true
// (dependency and notification targets), a prior node with the same
// resolved identity is reused, producing fan-in; regular children
// (dedupe=false) always get a fresh node, disambiguated with an
// auto-incrementing instance suffix if its identity key is already taken.
func (b *Builder) getOrCreate(name string, rawArgs interface{}, parent *node.Node, dedupe bool, explicitInstance string) (*node.Node, error) {
	entry, kind, err := b.resolveEntry(name)
	if err != nil {
		return nil, err
	}

	nodeArgs := args.ReadArgs(rawArgs)
	var parentArgs map[string]string
	if parent != nil {
		parentArgs = parent.Args
	}
	merged := args.MergeArgs(commandOf(entry), nodeArgs, parentArgs, b.globals)
	identity := node.ComputeIdentityKey(name, merged)

	if dedupe {
		if existing, ok := b.dedupIndex[identity]; ok {
			return existing, nil
		}
		if existing, ok := b.reg.GetByNameAndArgs(name, merged); ok {
			return existing, nil
		}
	}

	canonical := node.ComputeCanonicalKey(identity, explicitInstance, dedupe)
	if !dedupe && explicitInstance == "" {
		if _, exists := b.reg.GetByKey(canonical); exists {
			b.instanceCounters[identity]++
			canonical = node.ComputeCanonicalKey(identity, fmt.Sprintf("auto%d", b.instanceCounters[identity]), false)
		}
	}

	n := node.New(name, kind, merged)
	n.CanonicalKey = canonical
	n.IdentityKey = identity
	populateFromEntry(n, entry, b.cfg.ContinueOnError, b.defaultParallel)

	if err := b.checkMissingArgs(n); err != nil {
		return nil, err
	}

	if err := b.reg.Add(n); err != nil {
		return nil, err
	}
	b.entryOf[n.CanonicalKey] = entry
	if dedupe {
		b.dedupIndex[identity] = n
	}
	b.worklist = append(b.worklist, n)
	return n, nil
}

func populateFromEntry(n *node.Node, entry interface{}, projectContinueOnError bool, defaultParallel int) {
	switch e := entry.(type) {
	case *config.TaskConfig:
		n.Command = e.Command
		n.ArgsOptional = toSet(e.ArgsOptional)
		n.RequiredArgs = toSet(e.RequiredArgs)
		n.Inputs = e.Inputs
		n.Outputs = e.Outputs
		n.AlwaysRun = e.AlwaysRun
	case *config.PlatformConfig:
		n.Command = e.BuildCommand
	case *config.GroupConfig:
		if e.ContinueOnError != nil {
			n.ContinueOnError = *e.ContinueOnError
		} else {
			n.ContinueOnError = projectContinueOnError
		}
		n.ParallelCount = resolveParallel(e.Parallel, defaultParallel)
	}
}

// checkMissingArgs implements spec.md §7's "Missing argument" diagnostic: a
// task command referencing ${x} where x didn't resolve during merge_args
// warns unless x is listed in args_optional, and is a fatal configuration
// error instead when x is listed in required_args.
func (b *Builder) checkMissingArgs(n *node.Node) error {
	if n.Kind != node.Task || n.Command == "" {
		return nil
	}
	for _, name := range args.ReferencedArgNames(n.Command) {
		if _, ok := n.Args[name]; ok {
			continue
		}
		if n.RequiredArgs[name] {
			return fmt.Errorf("task %s: missing required argument %q", n, name)
		}
		if n.ArgsOptional[name] {
			continue
		}
		log.Printf("builder: %s: command references unresolved argument %q", n, name)
	}
	return nil
}

func resolveParallel(p config.ParallelValue, defaultParallel int) int {
	if !p.Set || !p.Enabled {
		return 0
	}
	if p.Capacity > 0 {
		return p.Capacity
	}
	return defaultParallel
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, i := range items {
		out[i] = true
	}
	return out
}

// makeDependencyGroup synthesizes parent's dependency-group child: name
// "<parent>_dependency_group", parallel, continue_on_error=true, inheriting
// parent's args for command-expansion context (it has no command of its
// own). Its canonical key is derived from parent.CanonicalKey, not a fresh
// identity computed from name+args: regular (non-deduplicated) children are
// allowed to collide on name+args across parents (or within one parent's
// targets list), in which case getOrCreate already disambiguates the
// parent itself with an auto-instance suffix — recomputing identity here
// from name+args alone would collapse two such parents' dependency groups
// onto the same key and fail the second Add as a duplicate.
func (b *Builder) makeDependencyGroup(parent *node.Node) (*node.Node, error) {
	name := parent.Name + "_dependency_group"
	canonical := parent.CanonicalKey + "_dependency_group"
	n := node.New(name, node.Group, parent.Args)
	n.CanonicalKey = canonical
	n.IdentityKey = canonical
	n.ContinueOnError = true
	n.ParallelCount = b.defaultParallel
	if err := b.reg.Add(n); err != nil {
		return nil, err
	}
	return n, nil
}

// wireChild appends child to parent.Children at the given child-order,
// records the symmetric parent link, and mirrors the edge into the
// registry for topological reporting. Regular (non-dedup) children are
// freshly created nodes, so this can never introduce a cycle; dependency-
// group children go through processRelationship(relDependency) separately,
// which does check for cycles.
func (b *Builder) wireChild(parent, child *node.Node, order int) {
	parent.Children = append(parent.Children, child)
	child.Parents = append(child.Parents, parent)
	child.ChildOrderByParent[parent.CanonicalKey] = order
	b.reg.RecordEdge(parent, child)
}

// isDescendant reports whether candidate is reachable from ancestor via
// structural (regular) children, used to classify a declared dependency as
// internal vs external (spec.md §3.1).
func isDescendant(ancestor, candidate *node.Node) bool {
	visited := map[string]bool{}
	var walk func(n *node.Node) bool
	walk = func(n *node.Node) bool {
		if visited[n.CanonicalKey] {
			return false
		}
		visited[n.CanonicalKey] = true
		for _, c := range n.Children {
			if c.CanonicalKey == candidate.CanonicalKey {
				return true
			}
			if walk(c) {
				return true
			}
		}
		return false
	}
	return walk(ancestor)
}

// processRelationship implements the process_relationship(src, dst, kind)
// table of spec.md §4.3.
func (b *Builder) processRelationship(src, dst *node.Node, kind relKind) error {
	switch kind {
	case relDependency:
		if isDescendant(src, dst) {
			src.InternalDependencies = append(src.InternalDependencies, dst)
		} else {
			src.ExternalDependencies = append(src.ExternalDependencies, dst)
		}
		return b.reg.AddDependency(src, dst)

	case relNotify:
		// "dst depends on src": src must complete before dst, wired as a
		// hard dependency owned by dst, plus src's display list and
		// blocker propagation.
		if isDescendant(dst, src) {
			dst.InternalDependencies = append(dst.InternalDependencies, src)
		} else {
			dst.ExternalDependencies = append(dst.ExternalDependencies, src)
		}
		if err := b.reg.AddDependency(dst, src); err != nil {
			return err
		}
		src.Notifies = append(src.Notifies, dst)
		for key, blocker := range src.BlockedBy {
			dst.BlockedBy[key] = blocker
			blocker.Blocks[dst.CanonicalKey] = dst
		}
		return nil

	case relNotifyOnSuccess:
		src.NotifiesOnSuccess = append(src.NotifiesOnSuccess, dst)
		dst.SuccessNotify = append(dst.SuccessNotify, &node.NotifyEntry{Notifier: src, State: node.NotRun})
		dst.Conditional = true
		return nil

	case relNotifyOnFailure:
		src.NotifiesOnFailure = append(src.NotifiesOnFailure, dst)
		dst.FailureNotify = append(dst.FailureNotify, &node.NotifyEntry{Notifier: src, State: node.NotRun})
		dst.Conditional = true
		return nil
	}
	return fmt.Errorf("builder: unknown relationship kind %d", kind)
}

// attach wires n's dependency group, (for groups) its regular children, and
// every notification n's config entry declares. Called exactly once per
// node, in worklist order.
func (b *Builder) attach(n *node.Node) error {
	entry := b.entryOf[n.CanonicalKey]

	depGroup, err := b.makeDependencyGroup(n)
	if err != nil {
		return err
	}
	b.wireChild(n, depGroup, node.DependencyGroupChildOrder)
	// Display-only: the dep group's completion is what actually gates n's
	// other children (engine §4.4.1), not a conditional array entry — see
	// DESIGN.md for why this does not call processRelationship.
	depGroup.NotifiesOnSuccess = append(depGroup.NotifiesOnSuccess, n)

	declaredDeps := append(append([]config.TargetRef{}, dependenciesOf(entry)...), requiresExecutionOfOf(entry)...)
	for idx, dep := range declaredDeps {
		depChild, err := b.getOrCreate(dep.Name, dep.Args, n, true, dep.Instance)
		if err != nil {
			return err
		}
		b.wireChild(depGroup, depChild, idx+1)
		if err := b.processRelationship(n, depChild, relDependency); err != nil {
			return err
		}
		if err := b.applyTargetRefExtras(depChild, dep); err != nil {
			return err
		}
	}

	if n.Kind == node.Group {
		group, ok := entry.(*config.GroupConfig)
		if !ok {
			return fmt.Errorf("BUG: group node %s has non-group entry %T", n, entry)
		}
		var prev *node.Node
		for idx, ref := range group.Targets {
			child, err := b.getOrCreate(ref.Name, ref.Args, n, false, ref.Instance)
			if err != nil {
				return err
			}
			b.wireChild(n, child, idx+1)
			if err := b.applyTargetRefExtras(child, ref); err != nil {
				return err
			}
			if n.IsSequential() && prev != nil {
				if n.ContinueOnError {
					prev.Notifies = append(prev.Notifies, child)
				} else {
					prev.NotifiesOnSuccess = append(prev.NotifiesOnSuccess, child)
				}
			}
			prev = child
		}
	}

	notifies, onSuccess, onFailure := notifyListsOf(entry)
	for _, nr := range notifies {
		target, err := b.getOrCreate(nr.Name, nr.Args, n, true, "")
		if err != nil {
			return err
		}
		if err := b.processRelationship(n, target, relNotify); err != nil {
			return err
		}
	}
	for _, nr := range onSuccess {
		target, err := b.getOrCreate(nr.Name, nr.Args, n, true, "")
		if err != nil {
			return err
		}
		if err := b.processRelationship(n, target, relNotifyOnSuccess); err != nil {
			return err
		}
	}
	for _, nr := range onFailure {
		target, err := b.getOrCreate(nr.Name, nr.Args, n, true, "")
		if err != nil {
			return err
		}
		if err := b.processRelationship(n, target, relNotifyOnFailure); err != nil {
			return err
		}
	}
	return nil
}

// applyTargetRefExtras wires the inline notify_on_success/notify_on_failure/
// requires_execution_of overrides a single targets[]/dependencies[] entry
// may carry, with source the node that entry resolved to.
func (b *Builder) applyTargetRefExtras(source *node.Node, ref config.TargetRef) error {
	for _, nr := range ref.NotifyOnSuccess {
		target, err := b.getOrCreate(nr.Name, nr.Args, source, true, "")
		if err != nil {
			return err
		}
		if err := b.processRelationship(source, target, relNotifyOnSuccess); err != nil {
			return err
		}
	}
	for _, nr := range ref.NotifyOnFailure {
		target, err := b.getOrCreate(nr.Name, nr.Args, source, true, "")
		if err != nil {
			return err
		}
		if err := b.processRelationship(source, target, relNotifyOnFailure); err != nil {
			return err
		}
	}
	for _, name := range ref.RequiresExecutionOf {
		target, err := b.getOrCreate(name, nil, source, true, "")
		if err != nil {
			return err
		}
		if err := b.processRelationship(source, target, relDependency); err != nil {
			return err
		}
	}
	return nil
}

func dependenciesOf(entry interface{}) []config.TargetRef {
	switch e := entry.(type) {
	case *config.TaskConfig:
		return e.Dependencies
	case *config.PlatformConfig:
		return e.Dependencies
	case *config.GroupConfig:
		return e.Dependencies
	default:
		return nil
	}
}

// requiresExecutionOfOf returns a config entry's top-level
// requires_execution_of list (currently only tasks carry one; a target
// reference's own inline requires_execution_of is handled separately by
// applyTargetRefExtras).
func requiresExecutionOfOf(entry interface{}) []config.TargetRef {
	if t, ok := entry.(*config.TaskConfig); ok {
		return t.RequiresExecutionOf
	}
	return nil
}

func notifyListsOf(entry interface{}) (notifies, onSuccess, onFailure []config.NotifyRef) {
	switch e := entry.(type) {
	case *config.TaskConfig:
		return e.Notifies, e.NotifiesOnSuccess, e.NotifiesOnFailure
	case *config.PlatformConfig:
		return e.Notifies, e.NotifiesOnSuccess, e.NotifiesOnFailure
	case *config.GroupConfig:
		return e.Notifies, e.NotifiesOnSuccess, e.NotifiesOnFailure
	default:
		return nil, nil, nil
	}
}

// buildGlobalsTree turns the top-level global_vars list into a nested
// map[string]interface{} tree (dotted names create nesting), skipping any
// name present in exclude.
func buildGlobalsTree(vars []config.GlobalVar, exclude []string) map[string]interface{} {
	excluded := make(map[string]bool, len(exclude))
	for _, e := range exclude {
		excluded[e] = true
	}
	tree := make(map[string]interface{})
	for _, gv := range vars {
		if excluded[gv.Name] {
			continue
		}
		setNested(tree, strings.Split(gv.Name, "."), gv.Value)
	}
	return tree
}

func setNested(tree map[string]interface{}, parts []string, value interface{}) {
	cur := tree
	for i, part := range parts {
		if i == len(parts)-1 {
			cur[part] = value
			return
		}
		next, ok := cur[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			cur[part] = next
		}
		cur = next
	}
}
