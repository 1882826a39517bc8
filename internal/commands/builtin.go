package commands

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/crabclaw/crabclaw/internal/skills"
	"github.com/crabclaw/crabclaw/internal/tape"
	"github.com/crabclaw/crabclaw/pkg/models"
)

// ToolCatalog exposes the registered tools to the ,tools and ,tool.describe
// commands.
type ToolCatalog interface {
	Descriptors() []models.ToolDescriptor
	Schema(name string) (json.RawMessage, bool)
}

// SkillCatalog exposes discovered skills to the ,skills commands.
type SkillCatalog interface {
	List() []skills.Skill
	Get(slug string) (skills.Skill, bool)
}

// Env carries the session state internal commands operate on.
type Env struct {
	Tape   *tape.Store
	Tools  ToolCatalog
	Skills SkillCatalog
}

// Result is the outcome of one internal command.
type Result struct {
	Success       bool
	Output        string
	ExitRequested bool
}

func failure(format string, args ...any) Result {
	return Result{Success: false, Output: fmt.Sprintf(format, args...)}
}

func success(format string, args ...any) Result {
	return Result{Success: true, Output: fmt.Sprintf(format, args...)}
}

const helpText = `Commands (prefix with ,):
  help                      show this listing
  quit                      end the session
  tape | tape.info          tape summary
  tape.reset [--archive]    clear the tape, optionally archiving the file
  tape.search <query>       search tape entries
  anchors                   list anchors
  handoff [name]            write an anchor and truncate the context window
  tools                     list available tools
  tool.describe <name>      show a tool's description and schema
  skills                    list discovered skills
  skills.describe <name>    show a skill
Any other ,<line> runs <line> in the workspace shell.`

// Run executes an internal command against the session environment.
func Run(env *Env, cmd *Parsed) Result {
	args := ParseArgs(cmd.Args)
	switch cmd.Name {
	case "help":
		return success("%s", helpText)
	case "quit":
		return Result{Success: true, ExitRequested: true}
	case "tape", "tape.info":
		return runTapeInfo(env)
	case "tape.reset":
		return runTapeReset(env, args.Flags["archive"])
	case "tape.search":
		return runTapeSearch(env, strings.Join(cmd.Args, " "))
	case "anchors":
		return runAnchors(env)
	case "handoff":
		return runHandoff(env, strings.Join(args.Positional, " "))
	case "tools":
		return runTools(env)
	case "tool.describe":
		return runToolDescribe(env, args.Positional)
	case "skills":
		return runSkills(env)
	case "skills.describe":
		return runSkillsDescribe(env, args.Positional)
	}
	return failure("unknown command: %s", cmd.Name)
}

func runTapeInfo(env *Env) Result {
	payload, err := json.MarshalIndent(env.Tape.Info(), "", "  ")
	if err != nil {
		return failure("encode tape info: %v", err)
	}
	return success("%s", payload)
}

func runTapeReset(env *Env, archive bool) Result {
	archivePath, err := env.Tape.Reset(archive)
	if err != nil {
		return failure("tape reset failed: %v", err)
	}
	if archivePath != "" {
		return success("tape reset, archived to %s", archivePath)
	}
	return success("tape reset")
}

func runTapeSearch(env *Env, query string) Result {
	if strings.TrimSpace(query) == "" {
		return failure("usage: tape.search <query>")
	}
	matches := env.Tape.Search(query)
	if len(matches) == 0 {
		return success("no matches for %q", query)
	}
	var b strings.Builder
	for _, e := range matches {
		fmt.Fprintf(&b, "[%s] %s #%d: %s\n", e.Timestamp, e.Kind, e.ID, preview(string(e.Payload), 80))
	}
	return success("%s", strings.TrimRight(b.String(), "\n"))
}

func runAnchors(env *Env) Result {
	anchors := env.Tape.AnchorEntries()
	if len(anchors) == 0 {
		return success("no anchors")
	}
	var b strings.Builder
	for _, e := range anchors {
		var payload tape.AnchorPayload
		name := "?"
		if err := json.Unmarshal(e.Payload, &payload); err == nil {
			name = payload.Name
		}
		fmt.Fprintf(&b, "[%s] #%d %s\n", e.Timestamp, e.ID, name)
	}
	return success("%s", strings.TrimRight(b.String(), "\n"))
}

func runHandoff(env *Env, name string) Result {
	if strings.TrimSpace(name) == "" {
		name = "handoff"
	}
	info := env.Tape.Info()
	state := map[string]any{
		"owner":          "human",
		"type":           "handoff",
		"entries_before": info.Entries,
	}
	if info.LastAnchorName != "" {
		state["previous_anchor"] = info.LastAnchorName
	}
	entry, err := env.Tape.Anchor(name, state)
	if err != nil {
		return failure("handoff failed: %v", err)
	}
	return success("anchor %q written (#%d); context window starts here", name, entry.ID)
}

func runTools(env *Env) Result {
	if env.Tools == nil {
		return success("no tools registered")
	}
	descriptors := env.Tools.Descriptors()
	if len(descriptors) == 0 {
		return success("no tools registered")
	}
	var b strings.Builder
	for _, d := range descriptors {
		fmt.Fprintf(&b, "%-16s %s [%s]\n", d.Name, d.Description, d.Source)
	}
	return success("%s", strings.TrimRight(b.String(), "\n"))
}

func runToolDescribe(env *Env, positional []string) Result {
	if len(positional) == 0 {
		return failure("usage: tool.describe <name>")
	}
	name := positional[0]
	if env.Tools == nil {
		return failure("tool not found: %s", name)
	}
	for _, d := range env.Tools.Descriptors() {
		if d.Name != name {
			continue
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%s (%s)\n%s", d.Name, d.Source, d.Description)
		if schema, ok := env.Tools.Schema(name); ok {
			var pretty map[string]any
			if err := json.Unmarshal(schema, &pretty); err == nil {
				if out, err := json.MarshalIndent(pretty, "", "  "); err == nil {
					fmt.Fprintf(&b, "\n%s", out)
				}
			}
		}
		return success("%s", b.String())
	}
	return failure("tool not found: %s", name)
}

func runSkills(env *Env) Result {
	if env.Skills == nil {
		return success("no skills discovered")
	}
	list := env.Skills.List()
	if len(list) == 0 {
		return success("no skills discovered")
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Slug < list[j].Slug })
	var b strings.Builder
	for _, s := range list {
		fmt.Fprintf(&b, "skill.%-12s %s [%s]\n", s.Slug, s.Description, s.Source)
	}
	return success("%s", strings.TrimRight(b.String(), "\n"))
}

func runSkillsDescribe(env *Env, positional []string) Result {
	if len(positional) == 0 {
		return failure("usage: skills.describe <name>")
	}
	name := strings.TrimPrefix(positional[0], "skill.")
	if env.Skills == nil {
		return failure("skill not found: %s", name)
	}
	skill, ok := env.Skills.Get(name)
	if !ok {
		return failure("skill not found: %s", name)
	}
	return success("%s (%s)\n%s\n\n%s", skill.Name, skill.Source, skill.Description, skill.Body)
}

func preview(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
