// Command batchc is the command-line wrapper around the graph builder and
// execution engine: it loads a YAML configuration, resolves a target, and
// either validates, dry-runs, or executes the resulting node graph.
// Grounded on distri's cmd/distri/main.go for its flag-parsing and
// log.Fatalf-on-fatal-error idiom, adapted from distri's verb-subcommand
// dispatch to a single flag set since this invocation surface (spec.md
// §6.2) has no subcommands of its own.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/schatt/dbs"
	"github.com/schatt/dbs/internal/builder"
	"github.com/schatt/dbs/internal/config"
	"github.com/schatt/dbs/internal/engine"
	"github.com/schatt/dbs/internal/node"
	"github.com/schatt/dbs/internal/registry"
	"github.com/schatt/dbs/internal/session"
	"github.com/schatt/dbs/internal/status"
)

const sampleConfig = `# Sample batchc configuration.
tasks:
  - name: build
    command: echo building
build_groups:
  root:
    targets:
      - build
default_target: root
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	fs := flag.NewFlagSet("batchc", flag.ContinueOnError)
	var (
		target                    = fs.String("target", "", "target name to build")
		validate                  = fs.Bool("validate", false, "validate the graph without executing commands")
		display                   = fs.String("display", "", "validate and print the resolved graph for the named target (implies --validate)")
		configPath                = fs.String("config", "batchc.yaml", "path to the YAML configuration file")
		buildRoot                 = fs.String("build-root", ".", "directory under which logs/ is created for this build")
		quiet                     = fs.Bool("quiet", false, "redirect all command output to per-node log files only")
		verbose                   = fs.Bool("verbose", false, "tee command output to both log files and the terminal")
		debug                     = fs.Bool("debug", false, "like --verbose, plus log each expanded command before running it")
		dryRun                    = fs.Bool("dry-run", false, "report what would run without executing any command")
		simulateFailure           = fs.String("simulate-failure", "", "comma-separated task names to report as failed instead of executing")
		generateSampleConfig      = fs.Bool("generate-sample-config", false, "print a minimal sample configuration and exit")
		printBuildOrder           = fs.Bool("print-build-order", false, "print the resolved execution order and exit")
		printBuildOrderJSON       = fs.Bool("print-build-order-json", false, "print the resolved execution order as JSON and exit")
		noSummary                 = fs.Bool("no-summary", false, "suppress the end-of-build summary")
		summary                   = fs.Bool("summary", false, "force the end-of-build summary even in quiet mode")
		listTargets               = fs.Bool("list-targets", false, "print every configured target name and exit")
		validateNotificationGraph = fs.Bool("validate-notification-graph", false, "validate notification wiring (every notify target resolves) and exit")
	)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: batchc --target <name> [flags]\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(argv); err != nil {
		return 2
	}

	if *generateSampleConfig {
		fmt.Print(sampleConfig)
		return 0
	}

	if *target != "" && (*validate || *display != "") {
		fmt.Fprintln(os.Stderr, "batchc: --target is mutually exclusive with --validate/--display")
		return 2
	}
	if *display != "" {
		*validate = true
		*target = *display
	}

	data, err := os.ReadFile(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchc: reading config: %v\n", err)
		return 1
	}
	cfg, err := config.Parse(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchc: %v\n", err)
		return 1
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "batchc: %v\n", e)
		}
		return 1
	}

	if *listTargets {
		printTargetList(cfg)
		return 0
	}

	rootName := *target
	if rootName == "" {
		rootName = cfg.DefaultTarget
	}
	if rootName == "" {
		fmt.Fprintln(os.Stderr, "batchc: no --target given and no default_target configured")
		return 2
	}

	reg := registry.New()
	b := builder.New(cfg, reg, 4)
	root, err := b.Build(rootName, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "batchc: %v\n", err)
		return 1
	}

	if *validateNotificationGraph {
		// The builder already resolved and dedup-registered every
		// notification target while walking the worklist; reaching this
		// point without an error means every notify/notifies_on_success/
		// notifies_on_failure reference resolved cleanly.
		fmt.Println("notification graph OK")
		return 0
	}

	if *printBuildOrder || *printBuildOrderJSON {
		order, err := reg.ExecutionOrder()
		if err != nil {
			fmt.Fprintf(os.Stderr, "batchc: %v\n", err)
			return 1
		}
		if *printBuildOrderJSON {
			printBuildOrderAsJSON(order)
		} else {
			for _, n := range order {
				fmt.Println(n.String())
			}
		}
		return 0
	}

	ctx, cancel := dbs.InterruptibleContext()
	defer cancel()

	var runner engine.Runner
	var sess *session.Session
	switch {
	case *validate:
		runner = engine.ValidateRunner{}
	case *dryRun:
		runner = engine.DryRunRunner{}
	default:
		sess = session.New(*buildRoot, time.Now(), os.Getpid())
		verbosity := engine.Quiet
		if *verbose {
			verbosity = engine.Verbose
		}
		if *debug {
			verbosity = engine.Debug
		}
		shellRunner := engine.NewShellRunner(sess, verbosity)
		if *simulateFailure != "" {
			shellRunner.SimulateFailure = toSet(strings.Split(*simulateFailure, ","))
		}
		runner = shellRunner
		dbs.RegisterAtExit(func() error {
			// renameio already makes each node log write crash-safe and
			// COMMAND_EXECUTION.log is synced on every append; fsync the
			// directory itself too so a new log file's directory entry
			// survives a crash right after it was created.
			dir, err := sess.Dir()
			if err != nil {
				return nil
			}
			f, err := os.Open(dir)
			if err != nil {
				return err
			}
			defer f.Close()
			return f.Sync()
		})
	}

	statusMgr := status.NewManager()
	eng := engine.New(reg.AllNodes(), statusMgr, runner)
	sum := eng.Run(ctx)

	failed := sum.Failed > 0 || len(eng.Stalled) > 0
	if !*noSummary && (!*quiet || *summary) {
		fmt.Printf("target: %s\n", root)
		printSummary(sum, eng.Stalled)
	}

	if err := dbs.RunAtExit(); err != nil {
		fmt.Fprintf(os.Stderr, "batchc: at-exit: %v\n", err)
	}

	if failed {
		return 1
	}
	return 0
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, i := range items {
		trimmed := strings.TrimSpace(i)
		if trimmed != "" {
			out[trimmed] = true
		}
	}
	return out
}

func printTargetList(cfg *config.Config) {
	var names []string
	for _, p := range cfg.Platforms {
		names = append(names, p.Name)
	}
	for _, t := range cfg.Tasks {
		names = append(names, t.Name)
	}
	for name := range cfg.BuildGroups {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Println(n)
	}
}

// buildOrderEntry is the JSON shape of one --print-build-order-json element:
// enough to identify a node and reconstruct its arguments without exposing
// internal pointer identity.
type buildOrderEntry struct {
	Name         string            `json:"name"`
	CanonicalKey string            `json:"canonical_key"`
	Args         map[string]string `json:"args,omitempty"`
}

func printBuildOrderAsJSON(order []*node.Node) {
	entries := make([]buildOrderEntry, len(order))
	for i, n := range order {
		entries[i] = buildOrderEntry{Name: n.Name, CanonicalKey: n.CanonicalKey, Args: n.Args}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		fmt.Fprintf(os.Stderr, "batchc: encoding build order: %v\n", err)
	}
}

func printSummary(sum status.Summary, stalled []string) {
	fmt.Printf("build summary: %d total, %d done, %d failed, %d skipped, %d validated, %d dry-run, %d pending\n",
		sum.Total, sum.Done, sum.Failed, sum.Skipped, sum.Validated, sum.DryRun, sum.Pending)
	if len(stalled) > 0 {
		fmt.Printf("stalled (%d): %s\n", len(stalled), strings.Join(stalled, ", "))
	}
}
