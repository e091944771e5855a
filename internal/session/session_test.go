package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSanitizeReplacesDisallowedCharacters(t *testing.T) {
	got := Sanitize("release/linux amd64:build")
	if strings.ContainsAny(got, "/ :") {
		t.Fatalf("expected no disallowed characters, got %q", got)
	}
}

func TestSessionDirIsLazy(t *testing.T) {
	root := t.TempDir()
	s := New(root, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), 4242)

	logsDir := filepath.Join(root, "logs")
	if _, err := os.Stat(logsDir); !os.IsNotExist(err) {
		t.Fatalf("expected logs/ not to exist before first use, stat err=%v", err)
	}

	dir, err := s.Dir()
	if err != nil {
		t.Fatalf("Dir: %v", err)
	}
	if !strings.Contains(dir, "build_20260102_030405_4242") {
		t.Fatalf("expected session dir to encode timestamp and pid, got %s", dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected session dir to exist after Dir(), got %v", err)
	}
}

func TestWriteNodeLogAndRecordExecution(t *testing.T) {
	root := t.TempDir()
	s := New(root, time.Now(), 1)

	if err := s.WriteNodeLog("release/build", []byte("hello\n")); err != nil {
		t.Fatalf("WriteNodeLog: %v", err)
	}
	logPath, err := s.NodeLogPath("release/build")
	if err != nil {
		t.Fatalf("NodeLogPath: %v", err)
	}
	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading node log: %v", err)
	}
	if string(content) != "hello\n" {
		t.Fatalf("expected %q, got %q", "hello\n", content)
	}

	if err := s.RecordExecution("release/build", "echo hi", logPath, ResultDone, time.Now()); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}
	dir, _ := s.Dir()
	execLog, err := os.ReadFile(filepath.Join(dir, "COMMAND_EXECUTION.log"))
	if err != nil {
		t.Fatalf("reading COMMAND_EXECUTION.log: %v", err)
	}
	for _, want := range []string{"EXECUTING release/build", "COMMAND: echo hi", "RESULT: DONE"} {
		if !strings.Contains(string(execLog), want) {
			t.Fatalf("expected execution log to contain %q, got:\n%s", want, execLog)
		}
	}
}
