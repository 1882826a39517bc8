package agent

import (
	"regexp"
	"strings"
	"sync"
)

var hintPattern = regexp.MustCompile(`\$[A-Za-z0-9_.-]+`)

// ProgressiveView narrows the tool schemas advertised to the model.
// Until any hint has been seen, every tool is advertised so the model
// can discover the surface; afterwards only tools it has named with a
// $hint are included, which keeps the per-turn token cost proportional
// to what the model actually uses.
type ProgressiveView struct {
	mu       sync.Mutex
	registry *Registry
	expanded map[string]bool
}

// NewProgressiveView wraps a registry with an empty expanded set.
func NewProgressiveView(registry *Registry) *ProgressiveView {
	return &ProgressiveView{
		registry: registry,
		expanded: map[string]bool{},
	}
}

// ActivateHints scans text for $name tokens and expands each one that
// case-insensitively matches a registered tool. Returns the newly
// added names.
func (v *ProgressiveView) ActivateHints(text string) []string {
	matches := hintPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return nil
	}

	byLower := map[string]string{}
	for _, name := range v.registry.Names() {
		byLower[strings.ToLower(name)] = name
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	var added []string
	for _, match := range matches {
		hint := strings.ToLower(strings.TrimPrefix(match, "$"))
		name, ok := byLower[hint]
		if !ok || v.expanded[name] {
			continue
		}
		v.expanded[name] = true
		added = append(added, name)
	}
	return added
}

// Definitions returns the tool schemas to advertise this turn: all of
// them while the expanded set is empty, only the expanded ones after.
func (v *ProgressiveView) Definitions() []ToolDefinition {
	all := v.registry.Definitions()

	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.expanded) == 0 {
		return all
	}
	out := make([]ToolDefinition, 0, len(v.expanded))
	for _, def := range all {
		if v.expanded[def.Name] {
			out = append(out, def)
		}
	}
	return out
}

// Reset clears the expanded set.
func (v *ProgressiveView) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.expanded = map[string]bool{}
}
