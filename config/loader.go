package config

import (
	"fmt"
	"os"

	trigger "github.com/goliatone/go-trigger"
	"gopkg.in/yaml.v3"
)

// ParseActionSet attempts to parse JSON or YAML into an ActionSet.
func ParseActionSet(data []byte) (ActionSet, error) {
	var set ActionSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		// yaml can handle JSON too, so a single attempt is fine
		return set, err
	}
	return set, set.Validate()
}

// LoadActionSet reads and parses an action set file.
func LoadActionSet(path string) (ActionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ActionSet{}, fmt.Errorf("read action set %s: %w", path, err)
	}
	set, err := ParseActionSet(data)
	if err != nil {
		return ActionSet{}, fmt.Errorf("parse action set %s: %w", path, err)
	}
	return set, nil
}

// BuildActions constructs actions from the set, applying defaults.
func BuildActions(set ActionSet) ([]*trigger.Action, error) {
	if err := set.Validate(); err != nil {
		return nil, err
	}
	actions := make([]*trigger.Action, 0, len(set.Actions))
	for _, def := range set.Actions {
		action, err := buildAction(set.Defaults, def)
		if err != nil {
			return nil, fmt.Errorf("build action %s: %w", def.Name, err)
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func buildAction(defaults ActionDefaults, def ActionDefinition) (*trigger.Action, error) {
	var opts []trigger.ActionOption

	if mode := firstNonEmpty(def.ExecutionMode, defaults.ExecutionMode); mode != "" {
		opts = append(opts, trigger.WithExecutionMode(trigger.ExecutionMode(mode)))
	}
	if priority := firstNonEmpty(def.Priority, defaults.Priority); priority != "" {
		p := trigger.Priority(priority)
		if !p.Valid() {
			return nil, fmt.Errorf("unknown priority %q", priority)
		}
		opts = append(opts, trigger.WithPriority(p))
	}
	if timeout := firstPositive(def.TimeoutSeconds, defaults.TimeoutSeconds); timeout > 0 {
		opts = append(opts, trigger.WithTimeout(timeout))
	}
	retries := firstPositive(def.MaxRetries, defaults.MaxRetries)
	delay := firstPositive(def.RetryDelaySeconds, defaults.RetryDelaySeconds)
	if retries > 0 || delay > 0 {
		opts = append(opts, trigger.WithRetry(retries, delay))
	}
	if def.Tenant != "" {
		opts = append(opts, trigger.WithTenant(def.Tenant))
	}
	if len(def.ContextFilters) > 0 {
		opts = append(opts, trigger.WithContextFilters(def.ContextFilters))
	}
	if len(def.Conditions) > 0 {
		conditions := make([]trigger.Condition, 0, len(def.Conditions))
		for _, c := range def.Conditions {
			cond, err := trigger.NewCondition(c.Field, trigger.Operator(c.Operator), c.Value)
			if err != nil {
				return nil, err
			}
			conditions = append(conditions, cond)
		}
		opts = append(opts, trigger.WithConditions(conditions...))
	}

	action, err := trigger.NewAction(def.Name, trigger.HandlerType(def.Handler), def.Configuration, def.EventTypes, opts...)
	if err != nil {
		return nil, err
	}
	if def.Disabled {
		action.Enabled = false
	}
	return action, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
