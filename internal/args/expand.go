package args

import "regexp"

var (
	namedPlaceholderRe = regexp.MustCompile(`\$\{([A-Za-z0-9_.]+)\}`)
	positionalRe       = regexp.MustCompile(`\$arg([0-9]|1[0-9]|20)\b`)
)

// ReferencedArgNames returns the flattened key for every ${name} placeholder
// command references, in first-occurrence order, for the missing-argument
// check of spec.md §7 (FlattenKey matches how MergeArgs stores globals and
// how a node's Args map is keyed, so this can be compared directly against
// a node's resolved Args).
func ReferencedArgNames(command string) []string {
	matches := namedPlaceholderRe.FindAllStringSubmatch(command, -1)
	seen := make(map[string]bool)
	var out []string
	for _, m := range matches {
		key := FlattenKey(m[1])
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, key)
	}
	return out
}

// Expand substitutes ${name} with argsMap[name] and $arg1..$arg20 with the
// value stored under the corresponding "argN" key, per spec.md §4.6.
// Unbound placeholders collapse to the empty string. Expansion is not
// recursive: a substituted value is never itself re-scanned for
// placeholders.
func Expand(command string, argsMap map[string]string) string {
	out := namedPlaceholderRe.ReplaceAllStringFunc(command, func(tok string) string {
		m := namedPlaceholderRe.FindStringSubmatch(tok)
		return argsMap[FlattenKey(m[1])]
	})
	out = positionalRe.ReplaceAllStringFunc(out, func(tok string) string {
		m := positionalRe.FindStringSubmatch(tok)
		return argsMap["arg"+m[1]]
	})
	return out
}
