// Package config parses and represents the build configuration consumed by
// the graph builder (spec.md §6.1). Configuration parsing and schema
// validation are explicitly out of the core's scope (spec.md §1) — this
// package is the external collaborator the core is built against, not part
// of the scheduling/coordination model itself.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Platforms          []PlatformConfig       `yaml:"platforms"`
	Tasks              []TaskConfig           `yaml:"tasks"`
	BuildGroups        map[string]GroupConfig `yaml:"build_groups"`
	DefaultTarget      string                 `yaml:"default_target"`
	ContinueOnError    bool                   `yaml:"continue_on_error"`
	ValidateOnBuild    bool                   `yaml:"validate_on_build"`
	GlobalVars         []GlobalVar            `yaml:"global_vars"`
	ExcludeFromGlobals []string               `yaml:"exclude_from_globals"`
	Configurations     map[string]interface{} `yaml:"configurations"`
	Artifacts          ArtifactsConfig        `yaml:"artifacts"`
}

// GlobalVar is one entry of the top-level global_vars list.
type GlobalVar struct {
	Name  string      `yaml:"name"`
	Value interface{} `yaml:"value"`
}

// PlatformConfig declares a platform-scoped build command.
type PlatformConfig struct {
	Name              string      `yaml:"name"`
	BuildCommand      string      `yaml:"build_command"`
	ArtifactDir       string      `yaml:"artifact_dir"`
	ArtifactPatterns  []string    `yaml:"artifact_patterns"`
	Scheme            string      `yaml:"scheme"`
	Dependencies      []TargetRef `yaml:"dependencies"`
	Notifies          []NotifyRef `yaml:"notifies"`
	NotifiesOnSuccess []NotifyRef `yaml:"notifies_on_success"`
	NotifiesOnFailure []NotifyRef `yaml:"notifies_on_failure"`
}

// TaskConfig declares a shell-command task.
type TaskConfig struct {
	Name                string      `yaml:"name"`
	Command             string      `yaml:"command"`
	Args                interface{} `yaml:"args"`
	ArgsOptional        []string    `yaml:"args_optional"`
	RequiredArgs        []string    `yaml:"required_args"`
	Inputs              []string    `yaml:"inputs"`
	Outputs             []string    `yaml:"outputs"`
	AlwaysRun           bool        `yaml:"always_run"`
	Dependencies        []TargetRef `yaml:"dependencies"`
	Notifies            []NotifyRef `yaml:"notifies"`
	NotifiesOnSuccess   []NotifyRef `yaml:"notifies_on_success"`
	NotifiesOnFailure   []NotifyRef `yaml:"notifies_on_failure"`
	RequiresExecutionOf []TargetRef `yaml:"requires_execution_of"`
}

// GroupConfig declares a named build group: an ordered or parallel
// collection of other targets.
type GroupConfig struct {
	Targets           []TargetRef   `yaml:"targets"`
	ContinueOnError   *bool         `yaml:"continue_on_error"`
	Parallel          ParallelValue `yaml:"parallel"`
	Dependencies      []TargetRef   `yaml:"dependencies"`
	Notifies          []NotifyRef   `yaml:"notifies"`
	NotifiesOnSuccess []NotifyRef   `yaml:"notifies_on_success"`
	NotifiesOnFailure []NotifyRef   `yaml:"notifies_on_failure"`
}

// TargetRef is a reference to a target from a build group's targets list or
// a dependencies/requires_execution_of list. It is either a bare string
// (name only) or a mapping with name/args/notify overrides (spec.md §6.1).
type TargetRef struct {
	Name                string
	Args                interface{}
	NotifyOnSuccess     []NotifyRef
	NotifyOnFailure     []NotifyRef
	RequiresExecutionOf []string
	Instance            string
}

// UnmarshalYAML implements the string-or-map union for TargetRef.
func (t *TargetRef) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		t.Name = n.Value
		return nil
	}
	var raw struct {
		Name                string      `yaml:"name"`
		Args                interface{} `yaml:"args"`
		NotifyOnSuccess     []NotifyRef `yaml:"notify_on_success"`
		NotifyOnFailure     []NotifyRef `yaml:"notify_on_failure"`
		RequiresExecutionOf []string    `yaml:"requires_execution_of"`
		Instance            string      `yaml:"instance"`
	}
	if err := n.Decode(&raw); err != nil {
		return fmt.Errorf("decoding target reference: %w", err)
	}
	t.Name = raw.Name
	t.Args = raw.Args
	t.NotifyOnSuccess = raw.NotifyOnSuccess
	t.NotifyOnFailure = raw.NotifyOnFailure
	t.RequiresExecutionOf = raw.RequiresExecutionOf
	t.Instance = raw.Instance
	return nil
}

// NotifyRef is a reference used in notifies/notifies_on_success/
// notifies_on_failure lists: either a bare string or a mapping with
// name/args/args_from.
type NotifyRef struct {
	Name     string
	Args     interface{}
	ArgsFrom string // "self" or empty
}

// UnmarshalYAML implements the string-or-map union for NotifyRef.
func (nr *NotifyRef) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		nr.Name = n.Value
		return nil
	}
	var raw struct {
		Name     string      `yaml:"name"`
		Args     interface{} `yaml:"args"`
		ArgsFrom string      `yaml:"args_from"`
	}
	if err := n.Decode(&raw); err != nil {
		return fmt.Errorf("decoding notify reference: %w", err)
	}
	nr.Name = raw.Name
	nr.Args = raw.Args
	nr.ArgsFrom = raw.ArgsFrom
	return nil
}

// ParallelValue is a group's parallel setting: false/absent (sequential),
// true (parallel at the project default capacity), or a positive integer
// capacity cap.
type ParallelValue struct {
	Set      bool
	Enabled  bool
	Capacity int // 0 unless Enabled and an explicit integer was given
}

// UnmarshalYAML implements the bool-or-int union for ParallelValue.
func (p *ParallelValue) UnmarshalYAML(n *yaml.Node) error {
	p.Set = true
	var asBool bool
	if err := n.Decode(&asBool); err == nil {
		p.Enabled = asBool
		return nil
	}
	var asInt int
	if err := n.Decode(&asInt); err == nil {
		p.Enabled = asInt > 0
		p.Capacity = asInt
		return nil
	}
	return fmt.Errorf("parallel: expected bool or integer, got %q", n.Value)
}

// ArtifactsConfig is the artifact management policy. It is entirely
// external to the core per spec.md §1 (filesystem artifact collection,
// archiving, and retention cleanup are out of scope) but is still parsed so
// downstream tooling (not part of this core) has a contract to build
// against.
type ArtifactsConfig struct {
	ArchiveEnabled      bool            `yaml:"archive_enabled"`
	ArchiveFormat       string          `yaml:"archive_format"`
	ArchiveNameTemplate string          `yaml:"archive_name_template"`
	CleanupEnabled      bool            `yaml:"cleanup_enabled"`
	Retention           RetentionConfig `yaml:"retention"`
}

// RetentionConfig selects one of three retention strategies.
type RetentionConfig struct {
	Type         string              `yaml:"type"`
	Simple       *SimpleRetention    `yaml:"simple"`
	Hierarchical *HierarchicalPolicy `yaml:"hierarchical"`
	Bucketed     *BucketedPolicy     `yaml:"bucketed"`
}

type SimpleRetention struct {
	Days int `yaml:"days"`
}

type HierarchicalPolicy struct {
	Intervals []string `yaml:"intervals"`
}

type BucketedPolicy struct {
	Buckets []string `yaml:"buckets"`
}

// Parse decodes a YAML document into a Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}
