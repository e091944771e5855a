package config

import "testing"

func TestParseResolvesStringAndMapTargetRefs(t *testing.T) {
	data := []byte(`
tasks:
  - name: build
    command: echo hi
build_groups:
  root:
    targets:
      - build
      - name: build
        args: {flavor: debug}
        instance: debug-build
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	targets := cfg.BuildGroups["root"].Targets
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(targets))
	}
	if targets[0].Name != "build" || targets[0].Args != nil {
		t.Fatalf("expected bare-string target, got %+v", targets[0])
	}
	if targets[1].Name != "build" || targets[1].Instance != "debug-build" {
		t.Fatalf("expected map-form target with instance, got %+v", targets[1])
	}
}

func TestParseResolvesParallelBoolOrInt(t *testing.T) {
	data := []byte(`
build_groups:
  seq:
    targets: [a]
  par:
    targets: [a]
    parallel: true
  capped:
    targets: [a]
    parallel: 3
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if g := cfg.BuildGroups["seq"]; g.Parallel.Set {
		t.Fatalf("expected seq's parallel field unset, got %+v", g.Parallel)
	}
	if g := cfg.BuildGroups["par"]; !g.Parallel.Enabled || g.Parallel.Capacity != 0 {
		t.Fatalf("expected par enabled with no explicit capacity, got %+v", g.Parallel)
	}
	if g := cfg.BuildGroups["capped"]; !g.Parallel.Enabled || g.Parallel.Capacity != 3 {
		t.Fatalf("expected capped enabled with capacity 3, got %+v", g.Parallel)
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("tasks: [")); err == nil {
		t.Fatal("expected a parse error for malformed YAML")
	}
}
