package config

import "fmt"

// Error is a configuration error: a missing/duplicate name, a missing
// required field, or an empty array where a non-empty one is required
// (spec.md §7). Unknown targets are reported by the graph builder with its
// own error instead. These are surfaced before
// execution and abort the build with a non-zero exit; they are never
// fatal-process-bug errors the way a *registry.CycleDetected or a queue
// invariant violation is.
type Error struct {
	Context string // e.g. "tasks[2]", "build_groups[release]"
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Context, e.Message)
}

// Validate performs the structural checks spec.md §7 assigns to
// configuration loading: duplicate/missing names, empty arrays where a
// non-empty one is required, and missing required fields. It does not
// resolve notification targets against each other — that cross-reference
// check belongs to the graph builder, which already walks every target by
// construction (spec.md §4.3) and is better placed to report a precise
// "unknown notification target" error with the referencing node in
// context.
func Validate(cfg *Config) []error {
	var errs []error
	seen := make(map[string]bool)

	checkName := func(ctx, name string) {
		if name == "" {
			errs = append(errs, &Error{Context: ctx, Message: "missing required field \"name\""})
			return
		}
		if seen[name] {
			errs = append(errs, &Error{Context: ctx, Message: fmt.Sprintf("duplicate target name %q", name)})
			return
		}
		seen[name] = true
	}

	for i, p := range cfg.Platforms {
		ctx := fmt.Sprintf("platforms[%d]", i)
		checkName(ctx, p.Name)
		if p.BuildCommand == "" {
			errs = append(errs, &Error{Context: ctx, Message: "missing required field \"build_command\""})
		}
		errs = append(errs, checkNotEmptyIfPresent(ctx, "dependencies", p.Dependencies)...)
		errs = append(errs, checkNotEmptyIfPresent(ctx, "notifies", p.Notifies)...)
		errs = append(errs, checkNotEmptyIfPresent(ctx, "notifies_on_success", p.NotifiesOnSuccess)...)
		errs = append(errs, checkNotEmptyIfPresent(ctx, "notifies_on_failure", p.NotifiesOnFailure)...)
	}
	for i, t := range cfg.Tasks {
		ctx := fmt.Sprintf("tasks[%d]", i)
		checkName(ctx, t.Name)
		errs = append(errs, checkNotEmptyIfPresent(ctx, "dependencies", t.Dependencies)...)
		errs = append(errs, checkNotEmptyIfPresent(ctx, "notifies", t.Notifies)...)
		errs = append(errs, checkNotEmptyIfPresent(ctx, "notifies_on_success", t.NotifiesOnSuccess)...)
		errs = append(errs, checkNotEmptyIfPresent(ctx, "notifies_on_failure", t.NotifiesOnFailure)...)
	}
	for name, g := range cfg.BuildGroups {
		ctx := fmt.Sprintf("build_groups[%s]", name)
		if name == "" {
			errs = append(errs, &Error{Context: ctx, Message: "build group key must not be empty"})
		} else if seen[name] {
			errs = append(errs, &Error{Context: ctx, Message: fmt.Sprintf("duplicate target name %q", name)})
		} else {
			seen[name] = true
		}
		if len(g.Targets) == 0 {
			errs = append(errs, &Error{Context: ctx, Message: "targets must not be empty"})
		}
		for j, target := range g.Targets {
			if target.Name == "" {
				errs = append(errs, &Error{Context: fmt.Sprintf("%s.targets[%d]", ctx, j), Message: "target reference missing name"})
			}
		}
		errs = append(errs, checkNotEmptyIfPresent(ctx, "dependencies", g.Dependencies)...)
		errs = append(errs, checkNotEmptyIfPresent(ctx, "notifies", g.Notifies)...)
		errs = append(errs, checkNotEmptyIfPresent(ctx, "notifies_on_success", g.NotifiesOnSuccess)...)
		errs = append(errs, checkNotEmptyIfPresent(ctx, "notifies_on_failure", g.NotifiesOnFailure)...)
	}
	for i, gv := range cfg.GlobalVars {
		if gv.Name == "" {
			errs = append(errs, &Error{Context: fmt.Sprintf("global_vars[%d]", i), Message: "missing required field \"name\""})
		}
	}
	return errs
}

// checkNotEmptyIfPresent reports a validation error when field was given
// explicitly as an empty array. A field left out of the YAML document
// entirely decodes to a nil slice, not an empty one, so omitting an
// optional array is never an error here — only writing `field: []` is
// (spec.md §6.1: "Empty arrays are a validation error").
func checkNotEmptyIfPresent[T any](ctx, field string, items []T) []error {
	if items != nil && len(items) == 0 {
		return []error{&Error{Context: ctx, Message: fmt.Sprintf("%q must not be empty when present", field)}}
	}
	return nil
}

// GetConfigValue looks up key in the configurations map, returning def if
// absent, per spec.md §6.1's get_config_value(key, default) contract.
func GetConfigValue(cfg *Config, key string, def interface{}) interface{} {
	if cfg.Configurations == nil {
		return def
	}
	if v, ok := cfg.Configurations[key]; ok {
		return v
	}
	return def
}
