package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/schatt/dbs/internal/node"
	"github.com/schatt/dbs/internal/status"
)

func touch(t *testing.T, path string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("Chtimes(%s): %v", path, err)
	}
}

func TestIsUpToDateNoOutputsNeverSkips(t *testing.T) {
	n := node.New("t", node.Task, nil)
	if isUpToDate(n) {
		t.Fatal("expected a node with no declared outputs to never be up to date")
	}
}

func TestIsUpToDateAlwaysRunNeverSkips(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out")
	touch(t, out, time.Now())
	n := node.New("t", node.Task, nil)
	n.Outputs = []string{out}
	n.AlwaysRun = true
	if isUpToDate(n) {
		t.Fatal("expected always_run to defeat the freshness check")
	}
}

func TestIsUpToDateMissingOutputIsStale(t *testing.T) {
	dir := t.TempDir()
	n := node.New("t", node.Task, nil)
	n.Outputs = []string{filepath.Join(dir, "does-not-exist")}
	if isUpToDate(n) {
		t.Fatal("expected a missing output to be treated as stale")
	}
}

func TestIsUpToDateOutputNewerThanInput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	base := time.Now()
	touch(t, in, base)
	touch(t, out, base.Add(time.Hour))
	n := node.New("t", node.Task, nil)
	n.Inputs = []string{in}
	n.Outputs = []string{out}
	if !isUpToDate(n) {
		t.Fatal("expected an output newer than its input to be up to date")
	}
}

func TestIsUpToDateInputNewerThanOutput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	base := time.Now()
	touch(t, out, base)
	touch(t, in, base.Add(time.Hour))
	n := node.New("t", node.Task, nil)
	n.Inputs = []string{in}
	n.Outputs = []string{out}
	if isUpToDate(n) {
		t.Fatal("expected an input newer than its output to be stale")
	}
}

func TestShellRunnerSkipsUpToDateNode(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in")
	out := filepath.Join(dir, "out")
	base := time.Now()
	touch(t, in, base)
	touch(t, out, base.Add(time.Hour))

	n := node.New("t", node.Task, nil)
	n.Command = "touch " + out
	n.Inputs = []string{in}
	n.Outputs = []string{out}

	r := NewShellRunner(nil, Quiet)
	got := r.Run(context.Background(), n)
	if got != status.Skipped {
		t.Fatalf("expected status.Skipped, got %s", got)
	}
}
