// Package config loads action definitions from YAML or JSON and process
// settings from the environment.
package config

import (
	"fmt"
	"strings"
)

// ActionSet is a collection of action definitions loaded from config.
type ActionSet struct {
	Version  int                `json:"version" yaml:"version"`
	Actions  []ActionDefinition `json:"actions" yaml:"actions"`
	Defaults ActionDefaults     `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// Validate performs structural validation over every definition.
func (s ActionSet) Validate() error {
	for idx, def := range s.Actions {
		if err := def.Validate(); err != nil {
			return fmt.Errorf("action[%d]: %w", idx, err)
		}
	}
	return nil
}

// ActionDefaults apply to definitions that leave the field unset.
type ActionDefaults struct {
	ExecutionMode     string `json:"execution_mode,omitempty" yaml:"execution_mode,omitempty"`
	Priority          string `json:"priority,omitempty" yaml:"priority,omitempty"`
	TimeoutSeconds    int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	MaxRetries        int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	RetryDelaySeconds int    `json:"retry_delay_seconds,omitempty" yaml:"retry_delay_seconds,omitempty"`
}

// ActionDefinition describes one configured action.
type ActionDefinition struct {
	Name              string                `json:"name" yaml:"name"`
	Handler           string                `json:"handler" yaml:"handler"`
	Configuration     map[string]any        `json:"configuration" yaml:"configuration"`
	EventTypes        []string              `json:"event_types" yaml:"event_types"`
	Conditions        []ConditionDefinition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	ContextFilters    map[string]any        `json:"context_filters,omitempty" yaml:"context_filters,omitempty"`
	ExecutionMode     string                `json:"execution_mode,omitempty" yaml:"execution_mode,omitempty"`
	Priority          string                `json:"priority,omitempty" yaml:"priority,omitempty"`
	TimeoutSeconds    int                   `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	MaxRetries        int                   `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	RetryDelaySeconds int                   `json:"retry_delay_seconds,omitempty" yaml:"retry_delay_seconds,omitempty"`
	Tenant            string                `json:"tenant,omitempty" yaml:"tenant,omitempty"`
	Disabled          bool                  `json:"disabled,omitempty" yaml:"disabled,omitempty"`
}

// Validate checks the required definition fields.
func (d ActionDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(d.Handler) == "" {
		return fmt.Errorf("handler is required for action %s", d.Name)
	}
	for idx, cond := range d.Conditions {
		if err := cond.Validate(); err != nil {
			return fmt.Errorf("action %s condition[%d]: %w", d.Name, idx, err)
		}
	}
	return nil
}

// ConditionDefinition is the config form of one predicate.
type ConditionDefinition struct {
	Field    string `json:"field" yaml:"field"`
	Operator string `json:"operator" yaml:"operator"`
	Value    any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// Validate checks required condition fields; operator validity is enforced
// by the condition constructor at build time.
func (c ConditionDefinition) Validate() error {
	if strings.TrimSpace(c.Field) == "" {
		return fmt.Errorf("field is required")
	}
	if strings.TrimSpace(c.Operator) == "" {
		return fmt.Errorf("operator is required for field %s", c.Field)
	}
	return nil
}
