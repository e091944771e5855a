package term

import (
	"os"
	"testing"
)

func TestIsTerminalFalseForRegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-tty")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	defer f.Close()

	if IsTerminal(f) {
		t.Fatal("expected a regular file to not report as a terminal")
	}
}
