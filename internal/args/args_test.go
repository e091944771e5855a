package args

import (
	"reflect"
	"testing"
)

func TestReadArgsSequence(t *testing.T) {
	got := ReadArgs([]interface{}{"foo", "bar"})
	want := map[string]string{"arg1": "foo", "arg2": "bar"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestReadArgsScalar(t *testing.T) {
	got := ReadArgs("hello")
	want := map[string]string{"arg1": "hello"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestReadArgsNestedMapFlattens(t *testing.T) {
	got := ReadArgs(map[string]interface{}{
		"a": map[string]interface{}{
			"b": map[string]interface{}{
				"c": "leaf",
			},
		},
		"list": []interface{}{"z", "a", "m"},
	})
	want := map[string]string{
		"a_b_c": "leaf",
		"list":  "[a,m,z]",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestReferencedGlobals(t *testing.T) {
	got := ReferencedGlobals("echo ${name} ${name} ${version} hi")
	want := []string{"name", "version"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestMergeArgsNodeWinsOverParent(t *testing.T) {
	merged := MergeArgs("echo hi", map[string]string{"x": "node"}, map[string]string{"x": "parent", "y": "parent"}, nil)
	if merged["x"] != "node" {
		t.Fatalf("expected node arg to win, got %q", merged["x"])
	}
	if merged["y"] != "parent" {
		t.Fatalf("expected parent arg to carry through, got %q", merged["y"])
	}
}

func TestMergeArgsSelectiveGlobals(t *testing.T) {
	globals := map[string]interface{}{
		"version": "1.2.3",
		"unused":  "should-not-appear",
	}
	merged := MergeArgs("build --ver=${version}", nil, nil, globals)
	if merged["version"] != "1.2.3" {
		t.Fatalf("expected referenced global to be pulled in, got %v", merged)
	}
	if _, ok := merged["unused"]; ok {
		t.Fatalf("unreferenced global leaked into merged args: %v", merged)
	}
}

func TestMergeArgsDottedGlobal(t *testing.T) {
	globals := map[string]interface{}{
		"a": map[string]interface{}{
			"b": map[string]interface{}{
				"c": "leaf",
			},
		},
	}
	merged := MergeArgs("run ${a.b.c}", nil, nil, globals)
	if merged["a_b_c"] != "leaf" {
		t.Fatalf("expected flattened key a_b_c, got %v", merged)
	}
}

func TestExpandNamedAndPositional(t *testing.T) {
	got := Expand("build ${name}-${version} $arg1 $arg2", map[string]string{
		"name": "foo", "version": "1.0", "arg1": "x", "arg2": "y",
	})
	want := "build foo-1.0 x y"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestExpandUnboundCollapsesEmpty(t *testing.T) {
	got := Expand("build ${missing}", nil)
	if got != "build " {
		t.Fatalf("got %q", got)
	}
}

func TestReferencedArgNamesFlattensAndDedups(t *testing.T) {
	got := ReferencedArgNames("build ${a.b} ${a.b} ${target}")
	want := []string{"a_b", "target"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
