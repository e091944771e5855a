package engine

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/schatt/dbs/internal/args"
	"github.com/schatt/dbs/internal/node"
	"github.com/schatt/dbs/internal/session"
	"github.com/schatt/dbs/internal/status"
	"github.com/schatt/dbs/internal/term"
)

// Verbosity controls Phase 3 output routing for ShellRunner, per spec.md
// §4.4.3.
type Verbosity int

const (
	// Quiet redirects stdout+stderr to the per-node log file only.
	Quiet Verbosity = iota
	// Verbose tees output to both the log file and the terminal.
	Verbose
	// Debug behaves like Verbose but ShellRunner also logs the expanded
	// command line before spawning it.
	Debug
)

// ValidateRunner implements the "validate" mode of spec.md §4.4.3: it logs
// a would-execute record and reports status Validate without spawning
// anything.
type ValidateRunner struct{}

func (ValidateRunner) Run(_ context.Context, n *node.Node) status.Status {
	if n.Command != "" {
		log.Printf("would execute %s: %s", n, args.Expand(n.Command, n.Args))
	}
	return status.Validate
}

// DryRunRunner implements the "dry-run" mode: identical reporting to
// ValidateRunner but yields status DryRun, so build-summary reporting can
// tell the two modes apart.
type DryRunRunner struct{}

func (DryRunRunner) Run(_ context.Context, n *node.Node) status.Status {
	if n.Command != "" {
		log.Printf("dry-run %s: %s", n, args.Expand(n.Command, n.Args))
	}
	return status.DryRun
}

// SimulateFailure, when non-nil on a ShellRunner, reports failure for any
// node whose name is in the set instead of spawning its command — the
// `--simulate-failure` invocation flag of spec.md §6.2, used to exercise
// conditional/continue-on-error wiring without a real failing command.
type ShellRunner struct {
	Sess            *session.Session
	Verbosity       Verbosity
	SimulateFailure map[string]bool

	exitCodesMu sync.Mutex
	exitCodes   map[string]int
}

// NewShellRunner returns a ShellRunner bound to sess, with no simulated
// failures.
func NewShellRunner(sess *session.Session, v Verbosity) *ShellRunner {
	return &ShellRunner{
		Sess:      sess,
		Verbosity: v,
		exitCodes: make(map[string]int),
	}
}

// ExitCode returns the real exit code ShellRunner observed for a node's
// most recent execution, if any.
func (r *ShellRunner) ExitCode(canonicalKey string) (int, bool) {
	r.exitCodesMu.Lock()
	defer r.exitCodesMu.Unlock()
	code, ok := r.exitCodes[canonicalKey]
	return code, ok
}

func (r *ShellRunner) setExitCode(canonicalKey string, code int) {
	r.exitCodesMu.Lock()
	defer r.exitCodesMu.Unlock()
	r.exitCodes[canonicalKey] = code
}

// isUpToDate reports whether n's declared outputs all exist and are no
// older than any declared input, so Run can skip a node whose command would
// be a no-op. Grounded on cmd/distri/batch.go's "already built, skip"
// pattern, adapted from content-digest comparison to mtime comparison per
// spec.md's Non-goals line ("incremental rebuild via content hashing beyond
// input/output mtime comparison"). A node with no outputs, or always_run
// set, is never considered up to date.
func isUpToDate(n *node.Node) bool {
	if n.AlwaysRun || len(n.Outputs) == 0 {
		return false
	}
	var oldestOutput time.Time
	for i, p := range n.Outputs {
		info, err := os.Stat(p)
		if err != nil {
			return false
		}
		if i == 0 || info.ModTime().Before(oldestOutput) {
			oldestOutput = info.ModTime()
		}
	}
	for _, p := range n.Inputs {
		info, err := os.Stat(p)
		if err != nil {
			continue // an unreadable input can't prove staleness
		}
		if info.ModTime().After(oldestOutput) {
			return false
		}
	}
	return true
}

// Run implements the "real" mode of spec.md §4.4.3.
func (r *ShellRunner) Run(ctx context.Context, n *node.Node) status.Status {
	start := time.Now()
	expanded := args.Expand(n.Command, n.Args)

	if isUpToDate(n) {
		if r.Verbosity == Debug {
			log.Printf("skipping %s: outputs up to date", n)
		}
		r.record(n, expanded, session.ResultSkipped)
		return status.Skipped
	}

	if r.SimulateFailure[n.Name] {
		r.record(n, expanded, session.ResultFailed)
		r.setExitCode(n.CanonicalKey, 1)
		return status.Failed
	}

	if expanded == "" {
		r.record(n, expanded, session.ResultDone)
		return status.Done
	}

	if r.Verbosity == Debug {
		log.Printf("executing %s: %s", n, expanded)
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", expanded)
	var captured bytes.Buffer
	var out io.Writer = &captured
	if r.Verbosity != Quiet && term.IsTerminal(os.Stdout) {
		out = io.MultiWriter(&captured, os.Stdout)
	}
	cmd.Stdout = out
	cmd.Stderr = out

	runErr := cmd.Run()
	if r.Sess != nil {
		if err := r.Sess.WriteNodeLog(n.Name, captured.Bytes()); err != nil {
			log.Printf("session: %v", err)
		}
	}

	exitCode := 0
	result := session.ResultDone
	newStatus := status.Done
	if runErr != nil {
		newStatus = status.Failed
		result = session.ResultFailed
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}
	r.setExitCode(n.CanonicalKey, exitCode)
	if r.Verbosity == Debug {
		log.Printf("%s finished in %s, exit=%d", n, time.Since(start), exitCode)
	}
	r.record(n, expanded, result)
	return newStatus
}

func (r *ShellRunner) record(n *node.Node, expanded string, result session.Result) {
	if r.Sess == nil {
		return
	}
	logPath, err := r.Sess.NodeLogPath(n.Name)
	if err != nil {
		log.Printf("session: %v", err)
		return
	}
	if err := r.Sess.RecordExecution(n.Name, expanded, logPath, result, time.Now()); err != nil {
		log.Printf("session: %v", err)
	}
}
