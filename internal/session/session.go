// Package session manages the on-disk layout a build run writes to
// (spec.md §6.3): a lazily-created session directory holding one sanitized
// log file per executed node plus a single append-only
// COMMAND_EXECUTION.log. Grounded on cmd/distri/batch.go's per-package log
// file handling, using github.com/google/renameio for crash-safe writes
// the way distri uses it for package-store metadata, and
// github.com/google/uuid to name the session independent of wall-clock
// collisions within the same second.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

var sanitizeRe = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// Sanitize replaces every character outside [A-Za-z0-9._-] with an
// underscore, per spec.md §6.3.
func Sanitize(name string) string {
	return sanitizeRe.ReplaceAllString(name, "_")
}

// Session owns one build run's log directory, created lazily on first
// write so a --validate-only invocation never touches disk.
type Session struct {
	buildRoot string
	dirName   string
	id        uuid.UUID

	mu      sync.Mutex
	dir     string // buildRoot/logs/dirName, empty until first use
	cmdLog  *os.File
	started bool
}

// New names a session directory as
// logs/build_<yyyymmdd_HHMMSS>_<pid>; the session's own uuid is kept for
// callers that need a collision-proof identifier (e.g. a per-invocation
// correlation ID in structured output) independent of the directory name's
// second-granularity timestamp.
func New(buildRoot string, now time.Time, pid int) *Session {
	return &Session{
		buildRoot: buildRoot,
		dirName:   fmt.Sprintf("build_%s_%d", now.Format("20060102_150405"), pid),
		id:        uuid.New(),
	}
}

// ID returns the session's collision-proof identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Dir returns the session directory path, creating it (and its parent
// logs/ directory) on first call.
func (s *Session) Dir() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirLocked()
}

func (s *Session) dirLocked() (string, error) {
	if s.dir != "" {
		return s.dir, nil
	}
	dir := filepath.Join(s.buildRoot, "logs", s.dirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", xerrors.Errorf("session: creating %s: %w", dir, err)
	}
	s.dir = dir
	return dir, nil
}

// NodeLogPath returns the per-node log file path for nodeName, ensuring
// the session directory exists.
func (s *Session) NodeLogPath(nodeName string) (string, error) {
	dir, err := s.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, Sanitize(nodeName)+".log"), nil
}

// WriteNodeLog crash-safely (over)writes a node's full captured output via
// renameio, matching distri's use of the same library for its own
// metadata writes.
func (s *Session) WriteNodeLog(nodeName string, content []byte) error {
	path, err := s.NodeLogPath(nodeName)
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(path, content, 0o644); err != nil {
		return xerrors.Errorf("session: writing node log %s: %w", path, err)
	}
	return nil
}

// Result is the outcome recorded in an execution-log entry.
type Result string

const (
	ResultDone    Result = "DONE"
	ResultFailed  Result = "FAILED"
	ResultSkipped Result = "SKIPPED"
)

// RecordExecution appends one chronological entry to COMMAND_EXECUTION.log:
// an "[ts] EXECUTING" line, the command, the log file path, the result,
// and an 80-dash separator. The file is opened, appended to, flushed, and
// closed on every call so a crash mid-build never loses or truncates
// earlier entries.
func (s *Session) RecordExecution(nodeName, command, logPath string, result Result, ts time.Time) error {
	dir, err := s.Dir()
	if err != nil {
		return err
	}
	path := filepath.Join(dir, "COMMAND_EXECUTION.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return xerrors.Errorf("session: opening %s: %w", path, err)
	}
	defer f.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] EXECUTING %s\n", ts.Format(time.RFC3339), nodeName)
	fmt.Fprintf(&b, "COMMAND: %s\n", command)
	fmt.Fprintf(&b, "LOG_FILE: %s\n", logPath)
	fmt.Fprintf(&b, "RESULT: %s\n", result)
	b.WriteString(strings.Repeat("-", 80))
	b.WriteString("\n")

	if _, err := f.WriteString(b.String()); err != nil {
		return xerrors.Errorf("session: appending to %s: %w", path, err)
	}
	return f.Sync()
}
