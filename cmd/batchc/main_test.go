package main

import (
	"os"
	"reflect"
	"testing"
)

func TestToSetTrimsAndDropsEmpty(t *testing.T) {
	got := toSet([]string{"a", " b ", "", "c"})
	want := map[string]bool{"a": true, "b": true, "c": true}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestRunGenerateSampleConfigExitsZero(t *testing.T) {
	if code := run([]string{"--generate-sample-config"}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestRunRejectsTargetAndValidateTogether(t *testing.T) {
	if code := run([]string{"--target", "root", "--validate"}); code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}

func TestRunListTargets(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/batchc.yaml"
	data := []byte(`
tasks:
  - name: build
    command: echo hi
build_groups:
  root:
    targets: [build]
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if code := run([]string{"--config", path, "--list-targets"}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}

func TestRunPrintBuildOrderJSON(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/batchc.yaml"
	data := []byte(`
tasks:
  - name: build
    command: echo hi
build_groups:
  root:
    targets: [build]
default_target: root
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if code := run([]string{"--config", path, "--print-build-order-json"}); code != 0 {
		t.Fatalf("expected exit code 0, got %d", code)
	}
}
