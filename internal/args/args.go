// Package args implements the Argument Resolver (spec.md §4.5) and Command
// Expander (spec.md §4.6): normalizing arbitrary config argument shapes,
// flattening nested maps, and performing command-directed selective merging
// of globals so that canonical keys stay minimal and stable.
package args

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ReadArgs normalizes an arbitrary config value into a flat
// string-to-string map the way spec.md §4.5 describes:
//   - an ordered sequence becomes {arg1, arg2, …}
//   - a scalar becomes {arg1: scalar}
//   - a mapping is flattened using underscore-joined paths, with nested
//     arrays serialized as "[sorted,csv]"
func ReadArgs(value interface{}) map[string]string {
	out := make(map[string]string)
	switch v := value.(type) {
	case nil:
		return out
	case map[string]interface{}:
		flatten("", v, out)
	case []interface{}:
		for i, item := range v {
			out[fmt.Sprintf("arg%d", i+1)] = scalarString(item)
		}
	default:
		out["arg1"] = scalarString(v)
	}
	return out
}

func flatten(prefix string, m map[string]interface{}, out map[string]string) {
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}
		switch vv := v.(type) {
		case map[string]interface{}:
			flatten(key, vv, out)
		case []interface{}:
			items := make([]string, len(vv))
			for i, item := range vv {
				items[i] = scalarString(item)
			}
			sort.Strings(items)
			out[key] = "[" + strings.Join(items, ",") + "]"
		default:
			out[key] = scalarString(v)
		}
	}
}

func scalarString(v interface{}) string {
	switch vv := v.(type) {
	case string:
		return vv
	case bool:
		return strconv.FormatBool(vv)
	case int:
		return strconv.Itoa(vv)
	case int64:
		return strconv.FormatInt(vv, 10)
	case float64:
		// YAML numbers decode as float64; print integral values without a
		// trailing ".0" to keep expanded commands readable.
		if vv == float64(int64(vv)) {
			return strconv.FormatInt(int64(vv), 10)
		}
		return strconv.FormatFloat(vv, 'g', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", vv)
	}
}

// placeholderRe matches ${name} and ${a.b.c} tokens in a command string.
var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z0-9_.]+)\}`)

// ReferencedGlobals scans command for ${name} placeholders and returns the
// distinct dotted paths referenced, in first-occurrence order.
func ReferencedGlobals(command string) []string {
	matches := placeholderRe.FindAllStringSubmatch(command, -1)
	seen := make(map[string]bool)
	var out []string
	for _, m := range matches {
		path := m[1]
		if seen[path] {
			continue
		}
		seen[path] = true
		out = append(out, path)
	}
	return out
}

// FlattenKey converts a dotted global path ("a.b.c") to the underscore-
// joined key ("a_b_c") used in a node's Args map.
func FlattenKey(path string) string {
	return strings.ReplaceAll(path, ".", "_")
}

// LookupGlobal traverses globals (a tree of nested maps, as produced by
// ReadArgs/flatten's inputs before flattening, or a flat map keyed by
// flattened names) by dotted path. It accepts either shape: if globals is
// already flat (keyed by "a_b_c"), the flattened key is tried directly;
// otherwise globals is walked level by level.
func LookupGlobal(globals map[string]interface{}, path string) (interface{}, bool) {
	if v, ok := globals[FlattenKey(path)]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	var cur interface{} = globals
	for _, part := range parts {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		v, ok := m[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// MergeArgs implements spec.md §4.5's merge_args: start with nodeArgs,
// overlay parentArgs only where nodeArgs doesn't already define the key
// (node wins), then scan command for ${path} occurrences and pull in only
// the referenced globals, under their flattened key name, without
// overwriting a key already present.
func MergeArgs(command string, nodeArgs, parentArgs map[string]string, globals map[string]interface{}) map[string]string {
	merged := make(map[string]string, len(nodeArgs)+len(parentArgs))
	for k, v := range parentArgs {
		merged[k] = v
	}
	for k, v := range nodeArgs { // node wins over parent
		merged[k] = v
	}
	for _, path := range ReferencedGlobals(command) {
		key := FlattenKey(path)
		if _, ok := merged[key]; ok {
			continue // node/parent arg already supplies this key
		}
		if v, ok := LookupGlobal(globals, path); ok {
			merged[key] = flattenScalarOrNested(v)
		}
	}
	return merged
}

// flattenScalarOrNested stringifies a global value looked up for a single
// placeholder: scalars pass through scalarString; a nested map at this
// point means the command referenced an intermediate path rather than a
// leaf, which expands to empty per spec.md §4.6 (unbound placeholders
// collapse to "").
func flattenScalarOrNested(v interface{}) string {
	switch v.(type) {
	case map[string]interface{}:
		return ""
	default:
		return scalarString(v)
	}
}
